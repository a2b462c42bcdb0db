// Package reversal holds the per-action-type reversal strategies.
// A strategy decides whether an executed action can be unwound and, when it
// can, delegates the physical unwinding to the effector. Unregistered types
// fail closed: an unrecognized type is never assumed safe to "undo" by
// doing nothing.
package reversal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tillerhq/tiller/internal/domain/action"
	"github.com/tillerhq/tiller/internal/port/effector"
)

// ErrIrreversible means the effect genuinely happened and cannot be
// unwound. The action's completed status stands; only the trust signal
// records that the decision was judged wrong.
var ErrIrreversible = errors.New("action is irreversible")

// Request carries what a strategy needs to reverse one action.
type Request struct {
	Action *action.Action

	// Snapshot is the reversal data captured at execution time.
	Snapshot map[string]any
}

// Strategy reverses one category of effect.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string

	// Reverse unwinds the action's effect via the effector, or returns
	// an error wrapping ErrIrreversible when it cannot.
	Reverse(ctx context.Context, eff effector.Effector, req Request) error
}

// Registry maps action types to their reversal strategy.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates a registry pre-populated with the built-in
// strategies for the known action types.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	r.Register("research", noop{})
	r.Register("lead_gen", noop{})
	r.Register("email_draft", emailDraft{})
	r.Register("crm_update", crmUpdate{})
	r.Register("meeting_prep", artifactRemoval{})
	return r
}

// Register adds or replaces the strategy for an action type.
func (r *Registry) Register(actionType string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[actionType] = s
}

// Reverse dispatches to the strategy registered for the action's type.
func (r *Registry) Reverse(ctx context.Context, eff effector.Effector, req Request) error {
	r.mu.RLock()
	s, ok := r.strategies[req.Action.ActionType]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: no reversal strategy for type %q", ErrIrreversible, req.Action.ActionType)
	}
	return s.Reverse(ctx, eff, req)
}
