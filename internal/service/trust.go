package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tillerhq/tiller/internal/config"
	"github.com/tillerhq/tiller/internal/domain/action"
	"github.com/tillerhq/tiller/internal/domain/trust"
	"github.com/tillerhq/tiller/internal/port/ledger"
)

// TrustService applies the trust update rules for (user, category) pairs.
// Updates are relative deltas applied atomically by the store; the service
// never does read-modify-write in memory, so concurrent completions in the
// same category cannot lose updates.
type TrustService struct {
	store ledger.Store
	cfg   config.Trust
}

// NewTrustService creates a TrustService with the given update rules.
func NewTrustService(store ledger.Store, cfg config.Trust) *TrustService {
	return &TrustService{store: store, cfg: cfg}
}

// Score returns the current trust score for the pair, creating the record
// at the neutral default when missing.
func (s *TrustService) Score(ctx context.Context, userID string, category action.Category) (float64, error) {
	rec, err := s.store.GetTrust(ctx, userID, category)
	if err != nil {
		return 0, fmt.Errorf("get trust %s/%s: %w", userID, category, err)
	}
	return rec.Score, nil
}

// Record applies the delta for the given event and returns the new score.
// A transient store failure is retried once; a second failure is returned
// to the caller, who logs it without failing the action's own transition.
func (s *TrustService) Record(ctx context.Context, userID string, category action.Category, event trust.Event) (float64, error) {
	delta := s.delta(event)

	score, err := s.store.AdjustTrust(ctx, userID, category, delta, s.cfg.Min, s.cfg.Max)
	if err != nil {
		slog.Warn("trust adjust failed, retrying",
			"user_id", userID,
			"category", category,
			"event", event,
			"error", err,
		)
		score, err = s.store.AdjustTrust(ctx, userID, category, delta, s.cfg.Min, s.cfg.Max)
		if err != nil {
			return 0, fmt.Errorf("adjust trust %s/%s: %w", userID, category, err)
		}
	}

	slog.Debug("trust adjusted",
		"user_id", userID,
		"category", category,
		"event", event,
		"score", score,
	)
	return score, nil
}

func (s *TrustService) delta(event trust.Event) float64 {
	if event == trust.EventOverride {
		return s.cfg.OverrideDelta
	}
	return s.cfg.SuccessDelta
}
