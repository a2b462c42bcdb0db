package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tillerhq/tiller/internal/domain"
	"github.com/tillerhq/tiller/internal/domain/undo"
)

// The undo buffer relies on conditional updates against the persisted
// row: MarkUndoRequested flips the flag only while it is unset, and
// CloseUndoEntry deletes only entries that were never requested. A live
// undo request and the sweeper can therefore race freely; exactly one
// of them observes a row change.

func (s *Store) CreateUndoEntry(ctx context.Context, e *undo.BufferEntry) error {
	snapshotJSON, err := json.Marshal(e.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO undo_buffer (action_id, user_id, deadline, requested, snapshot, created_at)
		 VALUES ($1, $2, $3, false, $4, $5)`,
		e.ActionID, e.UserID, e.Deadline, snapshotJSON, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("create undo entry: %w", err)
	}
	return nil
}

func (s *Store) GetUndoEntry(ctx context.Context, actionID string) (*undo.BufferEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT action_id, user_id, deadline, requested, snapshot, created_at
		 FROM undo_buffer WHERE action_id = $1`, actionID)

	var e undo.BufferEntry
	var snapshotJSON []byte
	err := row.Scan(&e.ActionID, &e.UserID, &e.Deadline, &e.Requested, &snapshotJSON, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get undo entry %s: %w", actionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get undo entry %s: %w", actionID, err)
	}

	if len(snapshotJSON) > 0 {
		if err := json.Unmarshal(snapshotJSON, &e.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
	}
	return &e, nil
}

func (s *Store) MarkUndoRequested(ctx context.Context, actionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE undo_buffer SET requested = true WHERE action_id = $1 AND requested = false`,
		actionID)
	if err != nil {
		return fmt.Errorf("mark undo requested %s: %w", actionID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM undo_buffer WHERE action_id = $1)`, actionID).Scan(&exists); err != nil {
			return fmt.Errorf("mark undo requested %s: %w", actionID, err)
		}
		if !exists {
			return fmt.Errorf("mark undo requested %s: %w", actionID, domain.ErrNotFound)
		}
		return fmt.Errorf("mark undo requested %s: %w", actionID, domain.ErrConflict)
	}
	return nil
}

func (s *Store) CloseUndoEntry(ctx context.Context, actionID string, deadlineBefore time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM undo_buffer
		 WHERE action_id = $1 AND requested = false AND deadline < $2`,
		actionID, deadlineBefore)
	if err != nil {
		return fmt.Errorf("close undo entry %s: %w", actionID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM undo_buffer WHERE action_id = $1)`, actionID).Scan(&exists); err != nil {
			return fmt.Errorf("close undo entry %s: %w", actionID, err)
		}
		if !exists {
			return fmt.Errorf("close undo entry %s: %w", actionID, domain.ErrNotFound)
		}
		return fmt.Errorf("close undo entry %s: %w", actionID, domain.ErrConflict)
	}
	return nil
}

func (s *Store) PurgeRequestedUndoEntries(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM undo_buffer WHERE requested = true AND deadline < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge requested undo entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListExpiredUndoEntries(ctx context.Context, before time.Time, limit int) ([]undo.BufferEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT action_id, user_id, deadline, requested, snapshot, created_at
		 FROM undo_buffer
		 WHERE requested = false AND deadline < $1
		 ORDER BY deadline ASC
		 LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired undo entries: %w", err)
	}
	defer rows.Close()

	var entries []undo.BufferEntry
	for rows.Next() {
		var e undo.BufferEntry
		var snapshotJSON []byte
		if err := rows.Scan(&e.ActionID, &e.UserID, &e.Deadline, &e.Requested, &snapshotJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(snapshotJSON) > 0 {
			if err := json.Unmarshal(snapshotJSON, &e.Snapshot); err != nil {
				return nil, fmt.Errorf("unmarshal snapshot: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
