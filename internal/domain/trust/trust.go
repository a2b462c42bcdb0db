// Package trust defines the per-(user, category) trust record.
package trust

import (
	"time"

	"github.com/tillerhq/tiller/internal/domain/action"
)

// Default bounds and deltas. Only two events ever move a score: a success
// raises it by a small step, an override lowers it by a larger one.
const (
	DefaultScore  = 0.5
	MinScore      = 0.0
	MaxScore      = 1.0
	SuccessDelta  = 0.02
	OverrideDelta = -0.10
)

// Record holds the trust score for one (user, category) pair. Records are
// created lazily at the neutral default on first read.
type Record struct {
	UserID    string          `json:"user_id"`
	Category  action.Category `json:"category"`
	Score     float64         `json:"trust_score"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Event classifies the two signals that may adjust a trust score.
type Event string

const (
	// EventSuccess is an autonomous decision that stood: the action
	// completed and the window (if any) closed without an undo.
	EventSuccess Event = "success"

	// EventOverride is a human signal that the decision was wrong:
	// a rejection while pending, or an undo inside the window.
	EventOverride Event = "override"
)

// Delta returns the signed score adjustment for the event.
func (e Event) Delta() float64 {
	if e == EventOverride {
		return OverrideDelta
	}
	return SuccessDelta
}

// Clamp bounds a score to the legal range.
func Clamp(score float64) float64 {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
