// Package ledger defines the durable action ledger port (interface).
// The ledger backs the action state machine, the undo buffer, and the
// trust records. Conditional updates are part of the contract: the undo
// paths rely on compare-and-set against the persisted row, not on
// in-process locks, because the sweeper and a live user request may run
// in different processes.
package ledger

import (
	"context"
	"time"

	"github.com/tillerhq/tiller/internal/domain/action"
	"github.com/tillerhq/tiller/internal/domain/trust"
	"github.com/tillerhq/tiller/internal/domain/undo"
)

// Store is the port interface for the durable ledger.
type Store interface {
	// Actions
	CreateAction(ctx context.Context, a *action.Action) error
	GetAction(ctx context.Context, id, userID string) (*action.Action, error)
	ListActions(ctx context.Context, userID string, status action.Status) ([]action.Action, error)
	CountPending(ctx context.Context, userID string) (int, error)

	// TransitionAction moves an action from one status to another and
	// applies the given field updates. It returns domain.ErrConflict when
	// the action is no longer in the expected status, leaving the row
	// untouched.
	TransitionAction(ctx context.Context, id string, from, to action.Status, upd ActionUpdate) (*action.Action, error)

	// Undo buffer
	CreateUndoEntry(ctx context.Context, e *undo.BufferEntry) error
	GetUndoEntry(ctx context.Context, actionID string) (*undo.BufferEntry, error)

	// MarkUndoRequested sets undo_requested=true only if it is currently
	// false. Returns domain.ErrConflict when the flag was already set:
	// the caller lost the race against another requester or the sweeper.
	MarkUndoRequested(ctx context.Context, actionID string) error

	// CloseUndoEntry removes a finalized entry only if undo_requested is
	// still false and the deadline has passed. Returns domain.ErrConflict
	// when an undo request got there first.
	CloseUndoEntry(ctx context.Context, actionID string, deadlineBefore time.Time) error

	// ListExpiredUndoEntries returns open entries whose deadline passed
	// before the given instant and whose undo_requested flag is false.
	ListExpiredUndoEntries(ctx context.Context, before time.Time, limit int) ([]undo.BufferEntry, error)

	// PurgeRequestedUndoEntries deletes entries whose undo was requested
	// and whose deadline passed before the given instant. Requested rows
	// must survive until then: they back the repeat-undo conflict. Returns
	// the number of rows removed.
	PurgeRequestedUndoEntries(ctx context.Context, before time.Time) (int64, error)

	// Trust
	GetTrust(ctx context.Context, userID string, category action.Category) (*trust.Record, error)

	// AdjustTrust applies a relative delta with clamping as a single
	// atomic operation on the store, creating the record at the neutral
	// default first when missing. It returns the new score.
	AdjustTrust(ctx context.Context, userID string, category action.Category, delta, min, max float64) (float64, error)
}

// ActionUpdate carries the optional field updates applied during a status
// transition. Nil fields are left unchanged.
type ActionUpdate struct {
	ApprovedAt   *time.Time
	ExecutedAt   *time.Time
	CompletedAt  *time.Time
	Result       *action.Result
	RejectReason *string
	Mode         *string
}
