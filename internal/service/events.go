package service

import (
	"fmt"

	"github.com/tillerhq/tiller/internal/domain/action"
	"github.com/tillerhq/tiller/internal/port/notifier"
)

// eventPayload is the shape published to the queue and broadcast to
// connected clients for every lifecycle event.
func eventPayload(a *action.Action) map[string]any {
	p := map[string]any{
		"action_id":   a.ID,
		"user_id":     a.UserID,
		"agent":       a.Agent,
		"action_type": a.ActionType,
		"category":    string(a.Category),
		"risk_level":  string(a.RiskLevel),
		"status":      string(a.Status),
		"mode":        a.Mode,
		"title":       a.Title,
	}
	if a.Result != nil && a.Result.Error != "" {
		p["error"] = a.Result.Error
	}
	return p
}

func pendingNotification(a *action.Action) notifier.Notification {
	return notifier.Notification{
		Title:    fmt.Sprintf("Approval needed: %s", a.Title),
		Message:  a.Description,
		Level:    "warning",
		Source:   notifier.EventPendingApproval,
		ActionID: a.ID,
		UserID:   a.UserID,
	}
}

func executedNotification(a *action.Action) notifier.Notification {
	return notifier.Notification{
		Title:    fmt.Sprintf("Executed: %s", a.Title),
		Message:  a.Description,
		Level:    "success",
		Source:   notifier.EventExecuted,
		ActionID: a.ID,
		UserID:   a.UserID,
	}
}

func failedNotification(a *action.Action) notifier.Notification {
	msg := a.Description
	if a.Result != nil && a.Result.Error != "" {
		msg = a.Result.Error
	}
	return notifier.Notification{
		Title:    fmt.Sprintf("Failed: %s", a.Title),
		Message:  msg,
		Level:    "error",
		Source:   notifier.EventFailed,
		ActionID: a.ID,
		UserID:   a.UserID,
	}
}

func undoneNotification(a *action.Action, revErr error) notifier.Notification {
	n := notifier.Notification{
		Title:    fmt.Sprintf("Undone: %s", a.Title),
		Message:  "The action was reversed at your request.",
		Level:    "info",
		Source:   notifier.EventUndone,
		ActionID: a.ID,
		UserID:   a.UserID,
	}
	if revErr != nil {
		n.Level = "error"
		n.Message = fmt.Sprintf("Undo was recorded but reversal failed: %v", revErr)
	}
	return n
}
