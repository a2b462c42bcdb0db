package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/google/uuid"

	tilotel "github.com/tillerhq/tiller/internal/adapter/otel"
	"github.com/tillerhq/tiller/internal/domain"
	"github.com/tillerhq/tiller/internal/domain/action"
	"github.com/tillerhq/tiller/internal/domain/policy"
	"github.com/tillerhq/tiller/internal/domain/trust"
	"github.com/tillerhq/tiller/internal/domain/undo"
	"github.com/tillerhq/tiller/internal/port/broadcast"
	"github.com/tillerhq/tiller/internal/port/cache"
	"github.com/tillerhq/tiller/internal/port/effector"
	"github.com/tillerhq/tiller/internal/port/ledger"
	"github.com/tillerhq/tiller/internal/port/messagequeue"
	"github.com/tillerhq/tiller/internal/resilience"
	"github.com/tillerhq/tiller/internal/reversal"
)

// ActionEngine orchestrates the action lifecycle: policy evaluation at
// submission, the approval state machine, execution through the effector,
// the undo window, and the trust feedback loop.
type ActionEngine struct {
	store     ledger.Store
	effector  effector.Effector
	trust     *TrustService
	reversals *reversal.Registry
	notify    *NotificationService

	breaker    *resilience.Breaker
	queue      messagequeue.Queue
	hub        broadcast.Broadcaster
	cache      cache.Cache
	metrics    *tilotel.Metrics
	undoWindow time.Duration
	pendingTTL time.Duration

	now func() time.Time
}

// NewActionEngine creates an ActionEngine with its required dependencies.
// Optional collaborators (queue, hub, cache, metrics, breaker) are attached
// with the Set methods.
func NewActionEngine(
	store ledger.Store,
	eff effector.Effector,
	trustSvc *TrustService,
	reversals *reversal.Registry,
	notify *NotificationService,
	undoWindow time.Duration,
) *ActionEngine {
	return &ActionEngine{
		store:      store,
		effector:   eff,
		trust:      trustSvc,
		reversals:  reversals,
		notify:     notify,
		undoWindow: undoWindow,
		now:        time.Now,
	}
}

// SetQueue attaches a message queue for lifecycle event publishing.
func (e *ActionEngine) SetQueue(q messagequeue.Queue) { e.queue = q }

// SetBroadcaster attaches a hub for real-time event pushes.
func (e *ActionEngine) SetBroadcaster(h broadcast.Broadcaster) { e.hub = h }

// SetBreaker attaches a circuit breaker protecting effector calls.
func (e *ActionEngine) SetBreaker(b *resilience.Breaker) { e.breaker = b }

// SetMetrics attaches metric instruments.
func (e *ActionEngine) SetMetrics(m *tilotel.Metrics) { e.metrics = m }

// SetPendingCache attaches a read cache for pending counts with the given TTL.
func (e *ActionEngine) SetPendingCache(c cache.Cache, ttl time.Duration) {
	e.cache = c
	e.pendingTTL = ttl
}

// Submit validates and persists a proposed action, decides its execution
// mode from the principal's trust and the action's risk, and, when the
// mode is auto-authorizing, executes it in the same operation. From the
// caller's point of view an auto-authorized action is never observably
// pending.
func (e *ActionEngine) Submit(ctx context.Context, req action.SubmitRequest) (*action.Action, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	category := action.CategoryOf(req.ActionType)
	riskScore := action.ResolveRiskScore(req.RiskLevel, req.RiskScore)

	trustScore, err := e.trust.Score(ctx, req.UserID, category)
	if err != nil {
		// A trust read failure must not make submission unavailable;
		// fall back to the neutral default and keep going.
		slog.Warn("trust read failed, using neutral default", "user_id", req.UserID, "error", err)
		trustScore = trust.DefaultScore
	}

	mode := policy.Decide(trustScore, riskScore)
	now := e.now()

	a := &action.Action{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Agent:       req.Agent,
		ActionType:  req.ActionType,
		Category:    category,
		RiskLevel:   req.RiskLevel,
		RiskScore:   riskScore,
		Title:       req.Title,
		Description: req.Description,
		Reasoning:   req.Reasoning,
		Payload:     req.Payload,
		Status:      action.StatusPending,
		Mode:        string(mode),
		CreatedAt:   now,
	}

	if mode.AutoAuthorizing() {
		a.Status = action.StatusAutoApproved
		a.ApprovedAt = &now
	}

	if err := e.store.CreateAction(ctx, a); err != nil {
		return nil, fmt.Errorf("create action: %w", err)
	}

	e.count(ctx, countSubmitted)
	e.publish(ctx, messagequeue.SubjectActionSubmitted, a)

	slog.Info("action submitted",
		"action_id", a.ID,
		"user_id", a.UserID,
		"type", a.ActionType,
		"mode", mode,
		"trust", trustScore,
		"risk", riskScore,
	)

	if mode.AutoAuthorizing() {
		return e.execute(ctx, a)
	}

	e.invalidatePending(ctx, a.UserID)
	e.notify.Notify(ctx, pendingNotification(a))
	return a, nil
}

// Approve moves a pending action to approved and executes it. A non-pending
// action is a safe no-op and reports ErrNotPending; an unknown id reports
// ErrNotFound.
func (e *ActionEngine) Approve(ctx context.Context, id, userID string) (*action.Action, error) {
	a, err := e.getOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	a, err = e.store.TransitionAction(ctx, id, action.StatusPending, action.StatusApproved,
		ledger.ActionUpdate{ApprovedAt: &now})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, action.ErrNotPending
		}
		return nil, fmt.Errorf("approve action %s: %w", id, err)
	}

	e.invalidatePending(ctx, userID)
	e.publish(ctx, messagequeue.SubjectActionApproved, a)

	return e.execute(ctx, a)
}

// BatchApprove approves and executes every listed action that is still
// pending for the user, silently skipping the rest.
func (e *ActionEngine) BatchApprove(ctx context.Context, ids []string, userID string) ([]action.Action, error) {
	approved := make([]action.Action, 0, len(ids))
	for _, id := range ids {
		a, err := e.Approve(ctx, id, userID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) || errors.Is(err, action.ErrNotPending) {
				continue
			}
			return approved, err
		}
		approved = append(approved, *a)
	}
	return approved, nil
}

// Reject moves a pending action to rejected and records an override
// against the category's trust: an explicit rejection is a human signal
// that the autonomous proposal was wrong. Repeated rejections are safe
// no-ops reporting ErrNotPending.
func (e *ActionEngine) Reject(ctx context.Context, id, userID, reason string) (*action.Action, error) {
	a, err := e.getOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	a, err = e.store.TransitionAction(ctx, id, action.StatusPending, action.StatusRejected,
		ledger.ActionUpdate{RejectReason: &reason})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, action.ErrNotPending
		}
		return nil, fmt.Errorf("reject action %s: %w", id, err)
	}

	e.recordTrust(ctx, a, trust.EventOverride)
	e.count(ctx, countRejected)
	e.invalidatePending(ctx, userID)
	e.publish(ctx, messagequeue.SubjectActionRejected, a)

	slog.Info("action rejected", "action_id", id, "user_id", userID, "reason", reason)
	return a, nil
}

// Execute runs an action that has passed through an approval state.
// Any other status reports ErrNotApproved.
func (e *ActionEngine) Execute(ctx context.Context, id, userID string) (*action.Action, error) {
	a, err := e.getOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if !a.Status.Executable() {
		return nil, action.ErrNotApproved
	}
	return e.execute(ctx, a)
}

// execute drives an approved action through executing to completed or
// failed. Effector failures do not surface as Go errors: the returned
// action carries status failed and the effector's detail in its result,
// and no trust update happens; a mechanical failure says nothing about
// whether the decision to act was wise.
func (e *ActionEngine) execute(ctx context.Context, a *action.Action) (*action.Action, error) {
	ctx, span := tilotel.StartExecuteSpan(ctx, a.ID, a.ActionType, a.Mode)
	defer span.End()

	now := e.now()
	a, err := e.store.TransitionAction(ctx, a.ID, a.Status, action.StatusExecuting,
		ledger.ActionUpdate{ExecutedAt: &now})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, action.ErrNotApproved
		}
		return nil, fmt.Errorf("transition to executing: %w", err)
	}

	started := e.now()
	outcome, applyErr := e.apply(ctx, a)
	e.observeDuration(ctx, e.now().Sub(started))

	if applyErr != nil {
		return e.completeFailed(ctx, a, applyErr)
	}
	return e.completeSucceeded(ctx, a, outcome)
}

// apply invokes the effector, through the breaker when one is attached.
// There is no cancellation of an in-flight call: once the effector starts,
// it runs to completion or failure.
func (e *ActionEngine) apply(ctx context.Context, a *action.Action) (*effector.Outcome, error) {
	if e.breaker == nil {
		return e.effector.Apply(ctx, a)
	}

	var outcome *effector.Outcome
	err := e.breaker.Execute(func() error {
		var applyErr error
		outcome, applyErr = e.effector.Apply(ctx, a)
		return applyErr
	})
	return outcome, err
}

func (e *ActionEngine) completeFailed(ctx context.Context, a *action.Action, applyErr error) (*action.Action, error) {
	now := e.now()
	result := &action.Result{Error: applyErr.Error()}

	a, err := e.store.TransitionAction(ctx, a.ID, action.StatusExecuting, action.StatusFailed,
		ledger.ActionUpdate{Result: result, CompletedAt: &now})
	if err != nil {
		return nil, fmt.Errorf("transition to failed: %w", err)
	}

	e.count(ctx, countFailed)
	e.publish(ctx, messagequeue.SubjectActionFailed, a)
	e.notify.Notify(ctx, failedNotification(a))

	slog.Warn("action execution failed", "action_id", a.ID, "error", applyErr)
	return a, nil
}

func (e *ActionEngine) completeSucceeded(ctx context.Context, a *action.Action, outcome *effector.Outcome) (*action.Action, error) {
	now := e.now()
	result := &action.Result{}
	if outcome != nil {
		result.Output = outcome.Output
		result.ExternallyCommitted = outcome.ExternallyCommitted
	}

	withWindow := a.Mode == string(policy.ModeExecuteAndNotify)
	var deadline time.Time

	if withWindow {
		// The undo entry must exist before the action reads as completed,
		// so a caller who sees "completed" can always still undo.
		deadline = now.Add(e.undoWindow)
		entry := &undo.BufferEntry{
			ActionID:  a.ID,
			UserID:    a.UserID,
			Deadline:  deadline,
			Snapshot:  maps.Clone(a.Payload),
			CreatedAt: now,
		}
		if err := e.store.CreateUndoEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("create undo entry: %w", err)
		}
	}

	a, err := e.store.TransitionAction(ctx, a.ID, action.StatusExecuting, action.StatusCompleted,
		ledger.ActionUpdate{Result: result, CompletedAt: &now})
	if err != nil {
		return nil, fmt.Errorf("transition to completed: %w", err)
	}

	if !withWindow {
		// No undo window means the decision already stood; credit it now.
		// With a window the success update is deferred to finalization.
		e.recordTrust(ctx, a, trust.EventSuccess)
	}

	e.count(ctx, countExecuted)
	e.publish(ctx, messagequeue.SubjectActionExecuted, a)

	n := executedNotification(a)
	if withWindow {
		n.UndoDeadline = &deadline
	}
	e.notify.Notify(ctx, n)

	slog.Info("action executed",
		"action_id", a.ID,
		"user_id", a.UserID,
		"type", a.ActionType,
		"undo_window", withWindow,
	)
	return a, nil
}

// RequestUndo reverses an executed action while its window is open. The
// conditional flag update against the durable entry decides the race with
// the sweeper: whichever side's update succeeds performs the trust side
// effect, the loser observes the precondition failure and does nothing.
// An override is recorded even when the reversal mechanics fail: the undo
// itself says the decision was wrong.
func (e *ActionEngine) RequestUndo(ctx context.Context, actionID, userID string) (*undo.Result, error) {
	ctx, span := tilotel.StartUndoSpan(ctx, actionID)
	defer span.End()

	entry, err := e.store.GetUndoEntry(ctx, actionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, undo.ErrNoEntry
		}
		return nil, fmt.Errorf("get undo entry: %w", err)
	}
	if entry.UserID != userID {
		return nil, undo.ErrNoEntry
	}
	if entry.Requested {
		return nil, undo.ErrAlreadyRequested
	}
	if entry.Expired(e.now()) {
		return nil, undo.ErrExpired
	}

	// Load the action before consuming the entry. Once the conditional
	// update below wins, the override must land and the reversal must be
	// attempted; a load failure here leaves the entry intact for a retry.
	a, err := e.getOwned(ctx, actionID, userID)
	if err != nil {
		return nil, err
	}

	if err := e.store.MarkUndoRequested(ctx, actionID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Lost the race against another requester or the sweeper.
			return nil, undo.ErrAlreadyRequested
		}
		return nil, fmt.Errorf("mark undo requested: %w", err)
	}

	revErr := e.reversals.Reverse(ctx, e.effector, reversal.Request{
		Action:   a,
		Snapshot: entry.Snapshot,
	})

	e.recordTrust(ctx, a, trust.EventOverride)
	e.count(ctx, countUndone)
	e.publish(ctx, messagequeue.SubjectActionUndone, a)
	e.notify.Notify(ctx, undoneNotification(a, revErr))

	result := &undo.Result{ActionID: actionID, Reversed: revErr == nil}
	if revErr != nil {
		result.Detail = revErr.Error()
		slog.Warn("reversal failed, override still recorded", "action_id", actionID, "error", revErr)
	} else {
		slog.Info("action undone", "action_id", actionID, "user_id", userID)
	}
	return result, nil
}

// Finalize closes one undo window after its deadline. If the undo path got
// there first the conditional close fails and finalize does nothing; the
// two paths are mutually exclusive completions and exactly one wins.
func (e *ActionEngine) Finalize(ctx context.Context, entry *undo.BufferEntry) error {
	if err := e.store.CloseUndoEntry(ctx, entry.ActionID, e.now()); err != nil {
		if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("close undo entry %s: %w", entry.ActionID, err)
	}

	a, err := e.store.GetAction(ctx, entry.ActionID, entry.UserID)
	if err != nil {
		return fmt.Errorf("load action %s: %w", entry.ActionID, err)
	}

	e.recordTrust(ctx, a, trust.EventSuccess)
	e.count(ctx, countFinalized)
	e.publish(ctx, messagequeue.SubjectActionFinalized, a)

	slog.Debug("undo window finalized", "action_id", entry.ActionID)
	return nil
}

// Queue returns the user's actions, optionally filtered by status.
func (e *ActionEngine) Queue(ctx context.Context, userID string, status action.Status) ([]action.Action, error) {
	return e.store.ListActions(ctx, userID, status)
}

// Get returns one action owned by the user.
func (e *ActionEngine) Get(ctx context.Context, id, userID string) (*action.Action, error) {
	return e.getOwned(ctx, id, userID)
}

// PendingCount returns the number of actions awaiting approval. The count
// is served from the read cache when one is attached; staleness is bounded
// by the cache TTL.
func (e *ActionEngine) PendingCount(ctx context.Context, userID string) (int, error) {
	key := pendingKey(userID)
	if e.cache != nil {
		if data, ok, err := e.cache.Get(ctx, key); err == nil && ok {
			if n, convErr := strconv.Atoi(string(data)); convErr == nil {
				return n, nil
			}
		}
	}

	n, err := e.store.CountPending(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}

	if e.cache != nil {
		_ = e.cache.Set(ctx, key, []byte(strconv.Itoa(n)), e.pendingTTL)
	}
	return n, nil
}

// --- helpers ---

func (e *ActionEngine) getOwned(ctx context.Context, id, userID string) (*action.Action, error) {
	a, err := e.store.GetAction(ctx, id, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get action %s: %w", id, err)
	}
	return a, nil
}

// recordTrust applies a trust event best-effort: the action's own
// transition is the primary guarantee, trust is a secondary signal.
func (e *ActionEngine) recordTrust(ctx context.Context, a *action.Action, event trust.Event) {
	if _, err := e.trust.Record(ctx, a.UserID, a.Category, event); err != nil {
		slog.Error("trust update lost",
			"action_id", a.ID,
			"user_id", a.UserID,
			"category", a.Category,
			"event", event,
			"error", err,
		)
		return
	}
	e.count(ctx, countTrust)
}

func (e *ActionEngine) publish(ctx context.Context, subject string, a *action.Action) {
	payload := eventPayload(a)

	if e.queue != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			slog.Error("marshal lifecycle event", "subject", subject, "error", err)
		} else if err := e.queue.Publish(ctx, subject, data); err != nil {
			slog.Warn("lifecycle event publish failed", "subject", subject, "error", err)
		}
	}

	if e.hub != nil {
		e.hub.BroadcastEvent(ctx, subject, payload)
	}
}

func (e *ActionEngine) invalidatePending(ctx context.Context, userID string) {
	if e.cache != nil {
		_ = e.cache.Delete(ctx, pendingKey(userID))
	}
}

func pendingKey(userID string) string { return "pending:" + userID }

type counterKind int

const (
	countSubmitted counterKind = iota
	countExecuted
	countFailed
	countRejected
	countUndone
	countFinalized
	countTrust
)

func (e *ActionEngine) count(ctx context.Context, kind counterKind) {
	if e.metrics == nil {
		return
	}
	switch kind {
	case countSubmitted:
		e.metrics.ActionsSubmitted.Add(ctx, 1)
	case countExecuted:
		e.metrics.ActionsExecuted.Add(ctx, 1)
	case countFailed:
		e.metrics.ActionsFailed.Add(ctx, 1)
	case countRejected:
		e.metrics.ActionsRejected.Add(ctx, 1)
	case countUndone:
		e.metrics.UndosRequested.Add(ctx, 1)
	case countFinalized:
		e.metrics.WindowsFinalized.Add(ctx, 1)
	case countTrust:
		e.metrics.TrustAdjustments.Add(ctx, 1)
	}
}

func (e *ActionEngine) observeDuration(ctx context.Context, d time.Duration) {
	if e.metrics != nil {
		e.metrics.ExecuteDuration.Record(ctx, d.Seconds())
	}
}
