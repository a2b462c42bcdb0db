package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tillerhq/tiller/internal/domain/action"
	"github.com/tillerhq/tiller/internal/domain/trust"
)

func (s *Store) GetTrust(ctx context.Context, userID string, category action.Category) (*trust.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, category, score, updated_at
		 FROM trust_records WHERE user_id = $1 AND category = $2`, userID, category)

	var rec trust.Record
	err := row.Scan(&rec.UserID, &rec.Category, &rec.Score, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Missing pairs read as the neutral default without creating
			// a row; the first adjustment materializes it.
			return &trust.Record{UserID: userID, Category: category, Score: trust.DefaultScore}, nil
		}
		return nil, fmt.Errorf("get trust %s/%s: %w", userID, category, err)
	}
	return &rec, nil
}

// AdjustTrust applies the delta with clamping in a single statement.
// Concurrent adjustments to the same pair serialize on the row, so no
// update is lost to a read-modify-write race.
func (s *Store) AdjustTrust(ctx context.Context, userID string, category action.Category, delta, min, max float64) (float64, error) {
	var score float64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO trust_records (user_id, category, score, updated_at)
		 VALUES ($1, $2, LEAST(GREATEST($3 + $4, $5), $6), now())
		 ON CONFLICT (user_id, category) DO UPDATE
		 SET score = LEAST(GREATEST(trust_records.score + $4, $5), $6), updated_at = now()
		 RETURNING score`,
		userID, category, trust.DefaultScore, delta, min, max).Scan(&score)
	if err != nil {
		return 0, fmt.Errorf("adjust trust %s/%s: %w", userID, category, err)
	}
	return score, nil
}
