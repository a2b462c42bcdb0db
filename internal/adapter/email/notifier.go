// Package email implements a notifier.Notifier delivering action lifecycle
// notifications over SMTP.
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strconv"
	"time"

	"github.com/tillerhq/tiller/internal/port/notifier"
)

const providerName = "email"

// Config holds the SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	From     string
	Password string
	To       string
}

// Notifier sends notifications as plain-text email.
type Notifier struct {
	cfg  Config
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewNotifier creates an email notifier.
func NewNotifier(cfg Config) *Notifier {
	return &Notifier{cfg: cfg, send: smtp.SendMail}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{
		RichFormatting: false,
		Threads:        false,
	}
}

func (n *Notifier) Send(_ context.Context, notification notifier.Notification) error {
	if n.cfg.Host == "" || n.cfg.From == "" || n.cfg.To == "" {
		return notifier.ErrNotConfigured
	}

	body := notification.Message
	if notification.ActionID != "" {
		body += fmt.Sprintf("\n\nAction: %s", notification.ActionID)
	}
	if notification.UndoDeadline != nil {
		body += fmt.Sprintf("\nUndo until: %s", notification.UndoDeadline.Format(time.RFC3339))
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: [%s] %s\r\n\r\n%s",
		n.cfg.From, n.cfg.To, notification.Level, notification.Title, body)

	var auth smtp.Auth
	if n.cfg.Password != "" {
		auth = smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	if err := n.send(addr, auth, n.cfg.From, []string{n.cfg.To}, []byte(msg)); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	return nil
}

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		port, err := strconv.Atoi(config["port"])
		if err != nil {
			port = 587
		}
		return NewNotifier(Config{
			Host:     config["host"],
			Port:     port,
			From:     config["from"],
			Password: config["password"],
			To:       config["to"],
		}), nil
	})
}
