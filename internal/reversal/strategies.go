package reversal

import (
	"context"
	"fmt"

	"github.com/tillerhq/tiller/internal/port/effector"
)

// noop covers read-only action types: there is nothing to undo.
type noop struct{}

func (noop) Name() string { return "noop" }

func (noop) Reverse(_ context.Context, _ effector.Effector, _ Request) error {
	return nil
}

// emailDraft deletes the draft the action created, unless a mail provider
// has already taken ownership of the artifact.
type emailDraft struct{}

func (emailDraft) Name() string { return "email_draft" }

func (emailDraft) Reverse(ctx context.Context, eff effector.Effector, req Request) error {
	if res := req.Action.Result; res != nil && res.ExternallyCommitted {
		return fmt.Errorf("%w: draft was externally committed by the mail provider", ErrIrreversible)
	}
	if err := eff.Revert(ctx, req.Action, req.Snapshot); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// crmUpdate restores the record to the previous_state snapshot captured at
// submission time. Without the snapshot the prior value is unknown and the
// update cannot be reverted.
type crmUpdate struct{}

func (crmUpdate) Name() string { return "crm_update" }

func (crmUpdate) Reverse(ctx context.Context, eff effector.Effector, req Request) error {
	prev, _ := req.Snapshot["previous_state"].(map[string]any)
	if prev == nil {
		return fmt.Errorf("%w: no previous_state snapshot captured", ErrIrreversible)
	}
	if err := eff.Revert(ctx, req.Action, prev); err != nil {
		return fmt.Errorf("restore previous state: %w", err)
	}
	return nil
}

// artifactRemoval removes the artifact the action created, e.g. a
// scheduled calendar entry from meeting prep.
type artifactRemoval struct{}

func (artifactRemoval) Name() string { return "artifact_removal" }

func (artifactRemoval) Reverse(ctx context.Context, eff effector.Effector, req Request) error {
	if err := eff.Revert(ctx, req.Action, req.Snapshot); err != nil {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}
