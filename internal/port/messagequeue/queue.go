// Package messagequeue defines the message queue port (interface).
// Tiller publishes action lifecycle events for downstream consumers
// (audit trails, analytics); publishing is best-effort and never blocks
// or rolls back a state transition.
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for action lifecycle events.
const (
	SubjectActionSubmitted = "actions.submitted"
	SubjectActionApproved  = "actions.approved"
	SubjectActionRejected  = "actions.rejected"
	SubjectActionExecuted  = "actions.executed"
	SubjectActionFailed    = "actions.failed"
	SubjectActionUndone    = "actions.undone"
	SubjectActionFinalized = "actions.finalized"
)
