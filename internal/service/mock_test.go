package service

import (
	"context"
	"errors"
	"maps"
	"math"
	"sync"
	"time"

	"github.com/tillerhq/tiller/internal/domain"
	"github.com/tillerhq/tiller/internal/domain/action"
	"github.com/tillerhq/tiller/internal/domain/trust"
	"github.com/tillerhq/tiller/internal/domain/undo"
	"github.com/tillerhq/tiller/internal/port/effector"
	"github.com/tillerhq/tiller/internal/port/ledger"
	"github.com/tillerhq/tiller/internal/port/messagequeue"
	"github.com/tillerhq/tiller/internal/port/notifier"
)

// mockLedger is an in-memory Store with the same conditional-update
// semantics the real store provides.
type mockLedger struct {
	mu      sync.Mutex
	actions map[string]*action.Action
	entries map[string]*undo.BufferEntry
	trust   map[string]float64

	failAdjustTrust int // remaining AdjustTrust calls to fail
	failGetAction   int // remaining GetAction calls to fail
	adjustCalls     int
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		actions: make(map[string]*action.Action),
		entries: make(map[string]*undo.BufferEntry),
		trust:   make(map[string]float64),
	}
}

// near compares scores derived from summed deltas, where exact float
// equality against a constant-folded expression can spuriously fail.
func near(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func trustKey(userID string, category action.Category) string {
	return userID + "/" + string(category)
}

func (m *mockLedger) CreateAction(_ context.Context, a *action.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actions[a.ID]; ok {
		return domain.ErrConflict
	}
	cp := *a
	m.actions[a.ID] = &cp
	return nil
}

func (m *mockLedger) GetAction(_ context.Context, id, userID string) (*action.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGetAction > 0 {
		m.failGetAction--
		return nil, errors.New("store unavailable")
	}
	a, ok := m.actions[id]
	if !ok || a.UserID != userID {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockLedger) ListActions(_ context.Context, userID string, status action.Status) ([]action.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []action.Action
	for _, a := range m.actions {
		if a.UserID != userID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (m *mockLedger) CountPending(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.actions {
		if a.UserID == userID && a.Status == action.StatusPending {
			n++
		}
	}
	return n, nil
}

func (m *mockLedger) TransitionAction(_ context.Context, id string, from, to action.Status, upd ledger.ActionUpdate) (*action.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if a.Status != from {
		return nil, domain.ErrConflict
	}
	a.Status = to
	if upd.ApprovedAt != nil {
		a.ApprovedAt = upd.ApprovedAt
	}
	if upd.ExecutedAt != nil {
		a.ExecutedAt = upd.ExecutedAt
	}
	if upd.CompletedAt != nil {
		a.CompletedAt = upd.CompletedAt
	}
	if upd.Result != nil {
		a.Result = upd.Result
	}
	if upd.RejectReason != nil {
		a.RejectReason = *upd.RejectReason
	}
	if upd.Mode != nil {
		a.Mode = *upd.Mode
	}
	cp := *a
	return &cp, nil
}

func (m *mockLedger) CreateUndoEntry(_ context.Context, e *undo.BufferEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.ActionID]; ok {
		return domain.ErrConflict
	}
	cp := *e
	cp.Snapshot = maps.Clone(e.Snapshot)
	m.entries[e.ActionID] = &cp
	return nil
}

func (m *mockLedger) GetUndoEntry(_ context.Context, actionID string) (*undo.BufferEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[actionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockLedger) MarkUndoRequested(_ context.Context, actionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[actionID]
	if !ok {
		return domain.ErrNotFound
	}
	if e.Requested {
		return domain.ErrConflict
	}
	e.Requested = true
	return nil
}

func (m *mockLedger) CloseUndoEntry(_ context.Context, actionID string, deadlineBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[actionID]
	if !ok {
		return domain.ErrNotFound
	}
	if e.Requested || !e.Deadline.Before(deadlineBefore) {
		return domain.ErrConflict
	}
	delete(m.entries, actionID)
	return nil
}

func (m *mockLedger) ListExpiredUndoEntries(_ context.Context, before time.Time, limit int) ([]undo.BufferEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []undo.BufferEntry
	for _, e := range m.entries {
		if !e.Requested && e.Deadline.Before(before) {
			out = append(out, *e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockLedger) PurgeRequestedUndoEntries(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.entries {
		if e.Requested && e.Deadline.Before(before) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

func (m *mockLedger) GetTrust(_ context.Context, userID string, category action.Category) (*trust.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := trustKey(userID, category)
	score, ok := m.trust[key]
	if !ok {
		score = trust.DefaultScore
		m.trust[key] = score
	}
	return &trust.Record{UserID: userID, Category: category, Score: score}, nil
}

func (m *mockLedger) AdjustTrust(_ context.Context, userID string, category action.Category, delta, min, max float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adjustCalls++
	if m.failAdjustTrust > 0 {
		m.failAdjustTrust--
		return 0, domain.ErrConflict
	}
	key := trustKey(userID, category)
	score, ok := m.trust[key]
	if !ok {
		score = trust.DefaultScore
	}
	score += delta
	if score < min {
		score = min
	}
	if score > max {
		score = max
	}
	m.trust[key] = score
	return score, nil
}

func (m *mockLedger) setTrust(userID string, category action.Category, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trust[trustKey(userID, category)] = score
}

func (m *mockLedger) trustScore(userID string, category action.Category) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trust[trustKey(userID, category)]
}

var _ effector.Effector = (*mockEffector)(nil)

// mockEffector records calls and returns configured outcomes.
type mockEffector struct {
	mu          sync.Mutex
	applied     []string
	reverted    []string
	applyErr    error
	revertErr   error
	committed   bool
	applyOutput map[string]any
}

func (m *mockEffector) Apply(_ context.Context, a *action.Action) (*effector.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, a.ID)
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	return &effector.Outcome{Output: m.applyOutput, ExternallyCommitted: m.committed}, nil
}

func (m *mockEffector) Revert(_ context.Context, a *action.Action, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reverted = append(m.reverted, a.ID)
	return m.revertErr
}

func (m *mockEffector) applyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.applied)
}

func (m *mockEffector) revertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reverted)
}

// mockNotifier captures sent notifications.
type mockNotifier struct {
	mu   sync.Mutex
	sent []notifier.Notification
	err  error
}

func (m *mockNotifier) Name() string { return "mock" }

func (m *mockNotifier) Capabilities() notifier.Capabilities { return notifier.Capabilities{} }

func (m *mockNotifier) Send(_ context.Context, n notifier.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return m.err
}

func (m *mockNotifier) sources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, n := range m.sent {
		out[i] = n.Source
	}
	return out
}

// mockQueue captures published subjects.
type mockQueue struct {
	mu        sync.Mutex
	published []string
}

func (m *mockQueue) Publish(_ context.Context, subject string, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, subject)
	return nil
}

func (m *mockQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return true }

func (m *mockQueue) subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.published...)
}
