// Package undo defines the bounded undo window opened after an
// execute-and-notify action runs. An entry is completed exactly once:
// either a user-initiated undo request wins, or the sweeper finalizes it
// after the deadline. No third path exists.
package undo

import (
	"errors"
	"time"
)

// ErrNoEntry is returned when no undo buffer entry exists for an action
// (it was auto-executed, or already finalized and removed).
var ErrNoEntry = errors.New("no undo entry for action")

// ErrExpired is returned when an undo request arrives after the deadline.
var ErrExpired = errors.New("undo window has expired")

// ErrAlreadyRequested is returned when an undo was already requested for
// the entry, including when a concurrent requester won the race.
var ErrAlreadyRequested = errors.New("undo already requested")

// BufferEntry tracks one executed action's undo window.
type BufferEntry struct {
	ActionID string    `json:"action_id"`
	UserID   string    `json:"user_id"`
	Deadline time.Time `json:"undo_deadline"`

	// Requested flips to true exactly once, via a conditional update
	// against the durable entry. The sweeper's finalize path only runs
	// when it is still false.
	Requested bool `json:"undo_requested"`

	// Snapshot is the reversal data copied from the action payload at
	// execution time.
	Snapshot map[string]any `json:"reversal_snapshot,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the window has passed at the given instant.
func (e *BufferEntry) Expired(now time.Time) bool {
	return now.After(e.Deadline)
}

// Result reports the outcome of an undo request to the caller.
type Result struct {
	ActionID string `json:"action_id"`

	// Reversed is true when the reversal strategy fully unwound the
	// effect. An override trust event is recorded either way: the undo
	// itself signals the decision to act was wrong.
	Reversed bool `json:"reversed"`

	Detail string `json:"detail,omitempty"`
}
