// Package effector defines the port to the systems an action mutates.
// The core never knows how a mutation is performed; it branches only on
// the outcome and the externally-committed flag.
package effector

import (
	"context"

	"github.com/tillerhq/tiller/internal/domain/action"
)

// Outcome is the result of applying an action in the outside world.
type Outcome struct {
	Output map[string]any

	// ExternallyCommitted means a downstream system took irreversible
	// ownership of the effect; reversal strategies must refuse to undo.
	ExternallyCommitted bool
}

// Effector performs and reverses real-world mutations.
type Effector interface {
	// Apply performs the mutation implied by the action's type and
	// payload. A returned error means the mechanics failed; the action
	// moves to failed and no trust update happens.
	Apply(ctx context.Context, a *action.Action) (*Outcome, error)

	// Revert physically unwinds an applied action using the reversal
	// snapshot captured at execution time. It is only called after a
	// reversal strategy has decided the action is reversible.
	Revert(ctx context.Context, a *action.Action, snapshot map[string]any) error
}
