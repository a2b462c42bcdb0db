// Package action defines the Action domain entity and its state machine.
// An Action is a mutation proposed by an autonomous agent on behalf of a
// human principal; it moves forward through a fixed set of statuses and
// never revisits a terminal one.
package action

import (
	"errors"
	"time"
)

// Status represents the current state of an action.
type Status string

const (
	StatusPending      Status = "pending"
	StatusApproved     Status = "approved"
	StatusAutoApproved Status = "auto_approved"
	StatusRejected     Status = "rejected"
	StatusExecuting    Status = "executing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// ErrNotPending is returned when approve/reject is attempted on an action
// that is no longer pending. Callers treat it as a safe no-op signal.
var ErrNotPending = errors.New("action is not pending")

// ErrNotApproved is returned when execute is attempted on an action that
// has not passed through an approval state.
var ErrNotApproved = errors.New("action is not approved")

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusFailed
}

// Executable reports whether an action in this status may be executed.
func (s Status) Executable() bool {
	return s == StatusApproved || s == StatusAutoApproved
}

// CanTransition reports whether the state machine permits moving from s to
// next. Every execution passes through an approval state; there is no
// pending to executing edge.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusAutoApproved || next == StatusRejected
	case StatusApproved, StatusAutoApproved:
		return next == StatusExecuting
	case StatusExecuting:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Action represents a proposed mutation submitted by an agent.
type Action struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	Agent      string    `json:"agent"`
	ActionType string    `json:"action_type"`
	Category   Category  `json:"category"`
	RiskLevel  RiskLevel `json:"risk_level"`
	RiskScore  float64   `json:"risk_score"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Reasoning   string `json:"reasoning,omitempty"`

	// Payload is opaque to the core except for reversal bookkeeping: for
	// mutating types it must carry enough state (e.g. "previous_state")
	// to reverse the effect.
	Payload map[string]any `json:"payload,omitempty"`

	Status Status `json:"status"`

	// Mode is the execution mode the policy chose at submission time.
	Mode string `json:"mode"`

	Result *Result `json:"result,omitempty"`

	RejectReason string `json:"reject_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Result holds the outcome of running an action through the effector.
type Result struct {
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`

	// ExternallyCommitted means a downstream system has taken irreversible
	// ownership of the effect (e.g. a mail provider accepted the message).
	ExternallyCommitted bool `json:"externally_committed,omitempty"`
}

// PreviousState returns the reversal snapshot captured in the payload,
// or nil when the agent did not capture one.
func (a *Action) PreviousState() map[string]any {
	if a.Payload == nil {
		return nil
	}
	prev, _ := a.Payload["previous_state"].(map[string]any)
	return prev
}

// SubmitRequest holds the fields an agent provides when proposing an action.
type SubmitRequest struct {
	UserID      string         `json:"user_id"`
	Agent       string         `json:"agent"`
	ActionType  string         `json:"action_type"`
	RiskLevel   RiskLevel      `json:"risk_level"`
	RiskScore   *float64       `json:"risk_score,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Reasoning   string         `json:"reasoning,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}
