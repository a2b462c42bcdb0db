package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tillerhq/tiller/internal/config"
	"github.com/tillerhq/tiller/internal/domain"
	"github.com/tillerhq/tiller/internal/domain/action"
	"github.com/tillerhq/tiller/internal/domain/policy"
	"github.com/tillerhq/tiller/internal/domain/trust"
	"github.com/tillerhq/tiller/internal/domain/undo"
	"github.com/tillerhq/tiller/internal/port/notifier"
	"github.com/tillerhq/tiller/internal/reversal"
)

const testWindow = 5 * time.Minute

type engineFixture struct {
	engine   *ActionEngine
	store    *mockLedger
	effector *mockEffector
	notifier *mockNotifier
	queue    *mockQueue
	clock    time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:    newMockLedger(),
		effector: &mockEffector{},
		notifier: &mockNotifier{},
		queue:    &mockQueue{},
		clock:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}

	trustCfg := config.Trust{
		SuccessDelta:  trust.SuccessDelta,
		OverrideDelta: trust.OverrideDelta,
		Min:           trust.MinScore,
		Max:           trust.MaxScore,
	}
	f.engine = NewActionEngine(
		f.store,
		f.effector,
		NewTrustService(f.store, trustCfg),
		reversal.NewRegistry(),
		NewNotificationService([]notifier.Notifier{f.notifier}, nil),
		testWindow,
	)
	f.engine.SetQueue(f.queue)
	f.engine.now = func() time.Time { return f.clock }
	return f
}

func (f *engineFixture) submit(t *testing.T, req action.SubmitRequest) *action.Action {
	t.Helper()
	a, err := f.engine.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return a
}

func draftRequest() action.SubmitRequest {
	return action.SubmitRequest{
		UserID:     "u1",
		Agent:      "assistant",
		ActionType: "email_draft",
		RiskLevel:  action.RiskMedium,
		Title:      "Draft reply to Acme",
		Payload:    map[string]any{"to": "acme@example.com"},
	}
}

func researchRequest() action.SubmitRequest {
	return action.SubmitRequest{
		UserID:     "u1",
		Agent:      "assistant",
		ActionType: "research",
		RiskLevel:  action.RiskLow,
		Title:      "Look up Acme filings",
	}
}

func TestSubmitAutoExecute(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryResearch, 0.9)

	a := f.submit(t, researchRequest())

	if a.Status != action.StatusCompleted {
		t.Fatalf("status = %s, want %s", a.Status, action.StatusCompleted)
	}
	if a.Mode != string(policy.ModeAutoExecute) {
		t.Errorf("mode = %s, want %s", a.Mode, policy.ModeAutoExecute)
	}
	if a.ApprovedAt == nil || !a.ApprovedAt.Equal(a.CreatedAt) {
		t.Errorf("auto-approved action should carry approved_at equal to created_at")
	}
	if f.effector.applyCount() != 1 {
		t.Errorf("effector applied %d times, want 1", f.effector.applyCount())
	}

	// Immediate success credit: no undo window for auto_execute.
	want := 0.9 + trust.SuccessDelta
	if got := f.store.trustScore("u1", action.CategoryResearch); !near(got, want) {
		t.Errorf("trust = %v, want %v", got, want)
	}
	if _, err := f.store.GetUndoEntry(context.Background(), a.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("auto_execute should not open an undo window")
	}
}

func TestSubmitExecuteAndNotifyOpensWindow(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryCommunication, 0.7)

	a := f.submit(t, draftRequest())

	if a.Status != action.StatusCompleted {
		t.Fatalf("status = %s, want %s", a.Status, action.StatusCompleted)
	}
	if a.Mode != string(policy.ModeExecuteAndNotify) {
		t.Fatalf("mode = %s, want %s", a.Mode, policy.ModeExecuteAndNotify)
	}

	entry, err := f.store.GetUndoEntry(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetUndoEntry: %v", err)
	}
	if want := f.clock.Add(testWindow); !entry.Deadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", entry.Deadline, want)
	}
	if entry.Snapshot["to"] != "acme@example.com" {
		t.Errorf("snapshot missing payload: %v", entry.Snapshot)
	}

	// Success credit is deferred until the window finalizes.
	if got := f.store.trustScore("u1", action.CategoryCommunication); got != 0.7 {
		t.Errorf("trust = %v, want unchanged 0.7", got)
	}

	var deadline *time.Time
	for _, n := range f.notifier.sent {
		if n.Source == notifier.EventExecuted {
			deadline = n.UndoDeadline
		}
	}
	if deadline == nil {
		t.Errorf("executed notification should carry the undo deadline")
	}
}

func TestSubmitLowTrustGoesPending(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryCommunication, 0.1)

	a := f.submit(t, draftRequest())

	if a.Status != action.StatusPending {
		t.Fatalf("status = %s, want %s", a.Status, action.StatusPending)
	}
	if a.Mode != string(policy.ModeApprovePlan) {
		t.Errorf("mode = %s, want %s", a.Mode, policy.ModeApprovePlan)
	}
	if f.effector.applyCount() != 0 {
		t.Errorf("pending action must not reach the effector")
	}

	found := false
	for _, src := range f.notifier.sources() {
		if src == notifier.EventPendingApproval {
			found = true
		}
	}
	if !found {
		t.Errorf("pending action should notify the principal, got %v", f.notifier.sources())
	}
}

func TestSubmitUnknownUserUsesNeutralDefault(t *testing.T) {
	f := newEngineFixture(t)

	// trust 0.5, risk 0.4 lands in execute_and_notify.
	a := f.submit(t, draftRequest())
	if a.Mode != string(policy.ModeExecuteAndNotify) {
		t.Errorf("mode = %s, want %s", a.Mode, policy.ModeExecuteAndNotify)
	}
}

func TestSubmitInvalidRequest(t *testing.T) {
	f := newEngineFixture(t)
	req := draftRequest()
	req.Title = ""

	if _, err := f.engine.Submit(context.Background(), req); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestApproveExecutesPendingAction(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryCommunication, 0.1)
	a := f.submit(t, draftRequest())

	before := f.store.trustScore("u1", action.CategoryCommunication)
	approved, err := f.engine.Approve(context.Background(), a.ID, "u1")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != action.StatusCompleted {
		t.Fatalf("status = %s, want %s", approved.Status, action.StatusCompleted)
	}
	if f.effector.applyCount() != 1 {
		t.Errorf("effector applied %d times, want 1", f.effector.applyCount())
	}

	// Human-approved executions have no undo window and credit immediately.
	if got := f.store.trustScore("u1", action.CategoryCommunication); !near(got, before+trust.SuccessDelta) {
		t.Errorf("trust = %v, want %v", got, before+trust.SuccessDelta)
	}
}

func TestApproveNonPending(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryCommunication, 0.1)
	a := f.submit(t, draftRequest())

	if _, err := f.engine.Approve(context.Background(), a.ID, "u1"); err != nil {
		t.Fatalf("first Approve: %v", err)
	}
	if _, err := f.engine.Approve(context.Background(), a.ID, "u1"); !errors.Is(err, action.ErrNotPending) {
		t.Fatalf("second Approve err = %v, want ErrNotPending", err)
	}
}

func TestApproveUnknownAction(t *testing.T) {
	f := newEngineFixture(t)
	if _, err := f.engine.Approve(context.Background(), "nope", "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestApproveWrongUser(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryCommunication, 0.1)
	a := f.submit(t, draftRequest())

	if _, err := f.engine.Approve(context.Background(), a.ID, "u2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for foreign user", err)
	}
}

func TestRejectRecordsOverride(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryCommunication, 0.1)
	a := f.submit(t, draftRequest())
	if a.Status != action.StatusPending {
		t.Fatalf("status = %s, want %s", a.Status, action.StatusPending)
	}

	rejected, err := f.engine.Reject(context.Background(), a.ID, "u1", "wrong recipient")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != action.StatusRejected {
		t.Fatalf("status = %s, want %s", rejected.Status, action.StatusRejected)
	}
	if rejected.RejectReason != "wrong recipient" {
		t.Errorf("reason = %q", rejected.RejectReason)
	}
	if got := f.store.trustScore("u1", action.CategoryCommunication); got != trust.MinScore {
		t.Errorf("trust = %v, want clamped to %v", got, trust.MinScore)
	}
	if f.effector.applyCount() != 0 {
		t.Errorf("rejected action must not execute")
	}

	if _, err := f.engine.Reject(context.Background(), a.ID, "u1", "again"); !errors.Is(err, action.ErrNotPending) {
		t.Fatalf("double reject err = %v, want ErrNotPending", err)
	}
}

func TestBatchApproveSkipsNonPending(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryCommunication, 0.1)

	a1 := f.submit(t, draftRequest())
	a2 := f.submit(t, draftRequest())
	if _, err := f.engine.Reject(context.Background(), a2.ID, "u1", "no"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	approved, err := f.engine.BatchApprove(context.Background(), []string{a1.ID, a2.ID, "missing"}, "u1")
	if err != nil {
		t.Fatalf("BatchApprove: %v", err)
	}
	if len(approved) != 1 || approved[0].ID != a1.ID {
		t.Fatalf("approved = %v, want just %s", approved, a1.ID)
	}
}

func TestExecuteFailureNoTrustUpdate(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryResearch, 0.9)
	f.effector.applyErr = errors.New("upstream timeout")

	a := f.submit(t, researchRequest())

	if a.Status != action.StatusFailed {
		t.Fatalf("status = %s, want %s", a.Status, action.StatusFailed)
	}
	if a.Result == nil || a.Result.Error != "upstream timeout" {
		t.Errorf("result = %+v, want effector error detail", a.Result)
	}
	if got := f.store.trustScore("u1", action.CategoryResearch); got != 0.9 {
		t.Errorf("trust = %v, want unchanged 0.9", got)
	}

	foundFailed := false
	for _, src := range f.notifier.sources() {
		if src == notifier.EventFailed {
			foundFailed = true
		}
	}
	if !foundFailed {
		t.Errorf("failure should notify, got %v", f.notifier.sources())
	}
}

func TestRequestUndoReversesAndRecordsOverride(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryCommunication, 0.7)
	a := f.submit(t, draftRequest())

	res, err := f.engine.RequestUndo(context.Background(), a.ID, "u1")
	if err != nil {
		t.Fatalf("RequestUndo: %v", err)
	}
	if !res.Reversed {
		t.Fatalf("result = %+v, want reversed", res)
	}
	if f.effector.revertCount() != 1 {
		t.Errorf("revert called %d times, want 1", f.effector.revertCount())
	}
	if got := f.store.trustScore("u1", action.CategoryCommunication); !near(got, 0.7+trust.OverrideDelta) {
		t.Errorf("trust = %v, want %v", got, 0.7+trust.OverrideDelta)
	}

	if _, err := f.engine.RequestUndo(context.Background(), a.ID, "u1"); !errors.Is(err, undo.ErrAlreadyRequested) {
		t.Fatalf("second undo err = %v, want ErrAlreadyRequested", err)
	}
}

func TestRequestUndoRetriesAfterLoadFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryCommunication, 0.7)
	a := f.submit(t, draftRequest())

	// A load failure must surface before the entry is consumed, so the
	// window stays open and nothing is lost.
	f.store.failGetAction = 1
	if _, err := f.engine.RequestUndo(context.Background(), a.ID, "u1"); err == nil {
		t.Fatal("expected error while the store is unavailable")
	}
	if f.effector.revertCount() != 0 {
		t.Fatalf("revert called %d times before a successful undo", f.effector.revertCount())
	}
	if got := f.store.trustScore("u1", action.CategoryCommunication); got != 0.7 {
		t.Errorf("trust = %v, want unchanged 0.7 after failed load", got)
	}

	// The retry wins the window and performs both side effects.
	res, err := f.engine.RequestUndo(context.Background(), a.ID, "u1")
	if err != nil {
		t.Fatalf("retry RequestUndo: %v", err)
	}
	if !res.Reversed {
		t.Fatalf("result = %+v, want reversed", res)
	}
	if got := f.store.trustScore("u1", action.CategoryCommunication); !near(got, 0.7+trust.OverrideDelta) {
		t.Errorf("trust = %v, want %v", got, 0.7+trust.OverrideDelta)
	}
}

func TestRequestUndoExternallyCommitted(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryCommunication, 0.7)
	f.effector.committed = true
	a := f.submit(t, draftRequest())

	res, err := f.engine.RequestUndo(context.Background(), a.ID, "u1")
	if err != nil {
		t.Fatalf("RequestUndo: %v", err)
	}
	if res.Reversed {
		t.Fatalf("an externally committed draft must not report reversed")
	}
	if res.Detail == "" {
		t.Errorf("result should explain why reversal failed")
	}
	// The override still lands: the undo itself is the signal.
	if got := f.store.trustScore("u1", action.CategoryCommunication); !near(got, 0.7+trust.OverrideDelta) {
		t.Errorf("trust = %v, want %v", got, 0.7+trust.OverrideDelta)
	}
}

func TestRequestUndoExpired(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryCommunication, 0.7)
	a := f.submit(t, draftRequest())

	f.clock = f.clock.Add(testWindow + time.Second)
	if _, err := f.engine.RequestUndo(context.Background(), a.ID, "u1"); !errors.Is(err, undo.ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
	if f.effector.revertCount() != 0 {
		t.Errorf("expired undo must not revert")
	}
}

func TestRequestUndoNoEntry(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryResearch, 0.9)
	a := f.submit(t, researchRequest())

	if _, err := f.engine.RequestUndo(context.Background(), a.ID, "u1"); !errors.Is(err, undo.ErrNoEntry) {
		t.Fatalf("err = %v, want ErrNoEntry for auto_execute action", err)
	}
}

func TestRequestUndoWrongUser(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryCommunication, 0.7)
	a := f.submit(t, draftRequest())

	if _, err := f.engine.RequestUndo(context.Background(), a.ID, "u2"); !errors.Is(err, undo.ErrNoEntry) {
		t.Fatalf("err = %v, want ErrNoEntry for foreign user", err)
	}
}

func TestFinalizeCreditsDeferredSuccess(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryCommunication, 0.7)
	a := f.submit(t, draftRequest())

	f.clock = f.clock.Add(testWindow + time.Second)
	entry, err := f.store.GetUndoEntry(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetUndoEntry: %v", err)
	}
	if err := f.engine.Finalize(context.Background(), entry); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if got := f.store.trustScore("u1", action.CategoryCommunication); !near(got, 0.7+trust.SuccessDelta) {
		t.Errorf("trust = %v, want %v", got, 0.7+trust.SuccessDelta)
	}
	if _, err := f.store.GetUndoEntry(context.Background(), a.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("finalized entry should be closed")
	}
	// Finalizing again is a silent no-op.
	if err := f.engine.Finalize(context.Background(), entry); err != nil {
		t.Fatalf("repeat Finalize: %v", err)
	}
}

func TestUndoAndFinalizeExactlyOnce(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryCommunication, 0.7)
	a := f.submit(t, draftRequest())

	entry, err := f.store.GetUndoEntry(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetUndoEntry: %v", err)
	}
	f.clock = f.clock.Add(testWindow + time.Second)

	baseCalls := f.store.adjustCalls

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.engine.RequestUndo(context.Background(), a.ID, "u1")
	}()
	go func() {
		defer wg.Done()
		_ = f.engine.Finalize(context.Background(), entry)
	}()
	wg.Wait()

	// Exactly one of the two paths may perform its trust side effect.
	if got := f.store.adjustCalls - baseCalls; got != 1 {
		t.Fatalf("trust adjustments = %d, want exactly 1", got)
	}
	score := f.store.trustScore("u1", action.CategoryCommunication)
	if !near(score, 0.7+trust.SuccessDelta) && !near(score, 0.7+trust.OverrideDelta) {
		t.Fatalf("trust = %v, want exactly one applied delta", score)
	}
}

func TestPendingCountUsesCache(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryCommunication, 0.1)
	f.submit(t, draftRequest())

	c := &mockCache{data: map[string][]byte{}}
	f.engine.SetPendingCache(c, time.Minute)

	n, err := f.engine.PendingCount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}

	// A second submission invalidates the cached value.
	f.submit(t, draftRequest())
	n, err = f.engine.PendingCount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("count after invalidation = %d, want 2", n)
	}
}

func TestQueueFiltersByStatus(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryCommunication, 0.1)
	f.store.setTrust("u1", action.CategoryResearch, 0.9)

	pending := f.submit(t, draftRequest())
	f.submit(t, researchRequest())

	got, err := f.engine.Queue(context.Background(), "u1", action.StatusPending)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(got) != 1 || got[0].ID != pending.ID {
		t.Fatalf("queue = %v, want only the pending action", got)
	}

	all, err := f.engine.Queue(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("Queue all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
}

func TestLifecycleEventsPublished(t *testing.T) {
	f := newEngineFixture(t)
	f.store.setTrust("u1", action.CategoryCommunication, 0.7)
	a := f.submit(t, draftRequest())
	if _, err := f.engine.RequestUndo(context.Background(), a.ID, "u1"); err != nil {
		t.Fatalf("RequestUndo: %v", err)
	}

	want := map[string]bool{
		"actions.submitted": false,
		"actions.executed":  false,
		"actions.undone":    false,
	}
	for _, s := range f.queue.subjects() {
		if _, ok := want[s]; ok {
			want[s] = true
		}
	}
	for subject, seen := range want {
		if !seen {
			t.Errorf("subject %s was never published", subject)
		}
	}
}

// mockCache is a minimal cache.Cache for the pending count path.
type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
