package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tillerhq/tiller/internal/domain"
	"github.com/tillerhq/tiller/internal/domain/action"
	"github.com/tillerhq/tiller/internal/port/ledger"
)

// Store implements ledger.Store using PostgreSQL. All conditional
// transitions compare against the persisted row inside the UPDATE itself,
// so correctness does not depend on in-process locks.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

const actionColumns = `id, user_id, agent, action_type, category, risk_level, risk_score,
	title, description, reasoning, payload, status, mode, result, reject_reason,
	created_at, approved_at, executed_at, completed_at`

func (s *Store) CreateAction(ctx context.Context, a *action.Action) error {
	payloadJSON, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO actions (id, user_id, agent, action_type, category, risk_level, risk_score,
		                      title, description, reasoning, payload, status, mode, created_at, approved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		a.ID, a.UserID, a.Agent, a.ActionType, a.Category, a.RiskLevel, a.RiskScore,
		a.Title, a.Description, a.Reasoning, payloadJSON, a.Status, a.Mode, a.CreatedAt, a.ApprovedAt)
	if err != nil {
		return fmt.Errorf("create action: %w", err)
	}
	return nil
}

func (s *Store) GetAction(ctx context.Context, id, userID string) (*action.Action, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE id = $1 AND user_id = $2`, id, userID)

	a, err := scanAction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get action %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get action %s: %w", id, err)
	}
	return &a, nil
}

func (s *Store) ListActions(ctx context.Context, userID string, status action.Status) ([]action.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var actions []action.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (s *Store) CountPending(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM actions WHERE user_id = $1 AND status = $2`,
		userID, action.StatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func (s *Store) TransitionAction(ctx context.Context, id string, from, to action.Status, upd ledger.ActionUpdate) (*action.Action, error) {
	set := "status = $3"
	args := []any{id, from, to}

	addArg := func(clause string, v any) {
		args = append(args, v)
		set += fmt.Sprintf(", %s = $%d", clause, len(args))
	}
	if upd.ApprovedAt != nil {
		addArg("approved_at", *upd.ApprovedAt)
	}
	if upd.ExecutedAt != nil {
		addArg("executed_at", *upd.ExecutedAt)
	}
	if upd.CompletedAt != nil {
		addArg("completed_at", *upd.CompletedAt)
	}
	if upd.RejectReason != nil {
		addArg("reject_reason", *upd.RejectReason)
	}
	if upd.Mode != nil {
		addArg("mode", *upd.Mode)
	}
	if upd.Result != nil {
		resultJSON, err := json.Marshal(upd.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		addArg("result", resultJSON)
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE actions SET `+set+` WHERE id = $1 AND status = $2 RETURNING `+actionColumns, args...)

	a, err := scanAction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.transitionMiss(ctx, id)
		}
		return nil, fmt.Errorf("transition action %s: %w", id, err)
	}
	return &a, nil
}

// transitionMiss distinguishes a missing row from a row that is no longer
// in the expected status.
func (s *Store) transitionMiss(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM actions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("transition action %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("transition action %s: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("transition action %s: %w", id, domain.ErrConflict)
}

func scanAction(row scannable) (action.Action, error) {
	var a action.Action
	var payloadJSON, resultJSON []byte

	err := row.Scan(
		&a.ID, &a.UserID, &a.Agent, &a.ActionType, &a.Category, &a.RiskLevel, &a.RiskScore,
		&a.Title, &a.Description, &a.Reasoning, &payloadJSON, &a.Status, &a.Mode, &resultJSON,
		&a.RejectReason, &a.CreatedAt, &a.ApprovedAt, &a.ExecutedAt, &a.CompletedAt,
	)
	if err != nil {
		return action.Action{}, err
	}

	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &a.Payload); err != nil {
			return action.Action{}, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		a.Result = &action.Result{}
		if err := json.Unmarshal(resultJSON, a.Result); err != nil {
			return action.Action{}, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return a, nil
}
