package http

import (
	"context"
	"net/http"

	"github.com/tillerhq/tiller/internal/domain/action"
	"github.com/tillerhq/tiller/internal/port/messagequeue"
	"github.com/tillerhq/tiller/internal/service"
)

// Pinger reports storage liveness; satisfied by pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Engine *service.ActionEngine
	Trust  *service.TrustService
	Queue  messagequeue.Queue
	DB     Pinger
}

// --- Actions ---

func (h *Handlers) SubmitAction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[action.SubmitRequest](w, r)
	if !ok {
		return
	}

	a, err := h.Engine.Submit(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "action not found")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handlers) GetAction(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !requireField(w, userID, "user_id") {
		return
	}

	a, err := h.Engine.Get(r.Context(), urlParam(r, "id"), userID)
	if err != nil {
		writeDomainError(w, err, "action not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handlers) ListActions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !requireField(w, userID, "user_id") {
		return
	}

	status := action.Status(r.URL.Query().Get("status"))
	actions, err := h.Engine.Queue(r.Context(), userID, status)
	if err != nil {
		writeDomainError(w, err, "actions not found")
		return
	}
	if actions == nil {
		actions = []action.Action{}
	}
	writeJSON(w, http.StatusOK, actions)
}

func (h *Handlers) PendingCount(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !requireField(w, userID, "user_id") {
		return
	}

	n, err := h.Engine.PendingCount(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err, "count failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pending": n})
}

type decisionRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handlers) ApproveAction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[decisionRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") {
		return
	}

	a, err := h.Engine.Approve(r.Context(), urlParam(r, "id"), req.UserID)
	if err != nil {
		writeDomainError(w, err, "action not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handlers) RejectAction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[decisionRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") {
		return
	}

	a, err := h.Engine.Reject(r.Context(), urlParam(r, "id"), req.UserID, req.Reason)
	if err != nil {
		writeDomainError(w, err, "action not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type batchApproveRequest struct {
	UserID    string   `json:"user_id"`
	ActionIDs []string `json:"action_ids"`
}

func (h *Handlers) BatchApprove(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[batchApproveRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") {
		return
	}
	if len(req.ActionIDs) == 0 {
		writeError(w, http.StatusBadRequest, "action_ids is required")
		return
	}

	approved, err := h.Engine.BatchApprove(r.Context(), req.ActionIDs, req.UserID)
	if err != nil {
		writeDomainError(w, err, "batch approve failed")
		return
	}
	if approved == nil {
		approved = []action.Action{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"approved": approved,
		"skipped":  len(req.ActionIDs) - len(approved),
	})
}

func (h *Handlers) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[decisionRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") {
		return
	}

	a, err := h.Engine.Execute(r.Context(), urlParam(r, "id"), req.UserID)
	if err != nil {
		writeDomainError(w, err, "action not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handlers) UndoAction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[decisionRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") {
		return
	}

	result, err := h.Engine.RequestUndo(r.Context(), urlParam(r, "id"), req.UserID)
	if err != nil {
		writeDomainError(w, err, "action not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Trust ---

func (h *Handlers) GetTrust(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !requireField(w, userID, "user_id") {
		return
	}
	category := action.Category(r.URL.Query().Get("category"))
	if !requireField(w, string(category), "category") {
		return
	}

	score, err := h.Trust.Score(r.Context(), userID, category)
	if err != nil {
		writeDomainError(w, err, "trust record not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"category": category,
		"score":    score,
	})
}

// --- Health ---

func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady reports readiness: storage reachable and, when a queue is
// configured, connected.
func (h *Handlers) HealthReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		} else {
			checks["postgres"] = "ok"
		}
	}
	if h.Queue != nil {
		if h.Queue.IsConnected() {
			checks["nats"] = "ok"
		} else {
			checks["nats"] = "disconnected"
			healthy = false
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, checks)
}
