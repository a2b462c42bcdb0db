// Package notifier defines the notification port (interface) and capabilities.
// Notifications inform the human principal of action state changes; they are
// fire-and-forget and never gate a state transition.
package notifier

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Event names carried in Notification.Source.
const (
	EventPendingApproval = "action.pending_approval"
	EventExecuted        = "action.executed"
	EventUndone          = "action.undone"
	EventFailed          = "action.failed"
)

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`  // "info", "success", "warning", "error"
	Source  string `json:"source"` // e.g. "action.pending_approval"

	ActionID string `json:"action_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`

	// UndoDeadline is set on action.executed notifications for actions
	// that remain reversible, so the principal knows how long they have.
	UndoDeadline *time.Time `json:"undo_deadline,omitempty"`
}

// Capabilities declares which features a notifier supports.
type Capabilities struct {
	RichFormatting bool `json:"rich_formatting"`
	Threads        bool `json:"threads"`
}

// Notifier is the port interface for sending notifications.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "discord").
	Name() string

	// Capabilities returns what this notifier supports.
	Capabilities() Capabilities

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
