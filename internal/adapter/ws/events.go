package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants mirror the queue subjects so clients can handle
// both transports with one switch.
const (
	EventActionSubmitted = "actions.submitted"
	EventActionApproved  = "actions.approved"
	EventActionRejected  = "actions.rejected"
	EventActionExecuted  = "actions.executed"
	EventActionFailed    = "actions.failed"
	EventActionUndone    = "actions.undone"
	EventActionFinalized = "actions.finalized"
)

// BroadcastEvent marshals a typed event and broadcasts it. It satisfies
// the broadcast port.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
