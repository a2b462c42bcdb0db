// Package webhook provides an HTTP effector that forwards action execution
// to a downstream executor service.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tillerhq/tiller/internal/config"
	"github.com/tillerhq/tiller/internal/domain/action"
	"github.com/tillerhq/tiller/internal/port/effector"
)

// Effector performs mutations by POSTing them to an executor endpoint.
// The executor owns the actual side effects; this adapter only relays
// the action and interprets the outcome.
type Effector struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewEffector creates an Effector for the configured executor.
func NewEffector(cfg config.Effector) *Effector {
	return &Effector{
		baseURL: cfg.URL,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type applyRequest struct {
	ActionID   string         `json:"action_id"`
	UserID     string         `json:"user_id"`
	ActionType string         `json:"action_type"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type applyResponse struct {
	Output              map[string]any `json:"output,omitempty"`
	ExternallyCommitted bool           `json:"externally_committed,omitempty"`
}

type revertRequest struct {
	ActionID   string         `json:"action_id"`
	UserID     string         `json:"user_id"`
	ActionType string         `json:"action_type"`
	Payload    map[string]any `json:"payload,omitempty"`
	Snapshot   map[string]any `json:"snapshot,omitempty"`
}

// Apply forwards the action to the executor's /apply endpoint.
func (e *Effector) Apply(ctx context.Context, a *action.Action) (*effector.Outcome, error) {
	body, err := json.Marshal(applyRequest{
		ActionID:   a.ID,
		UserID:     a.UserID,
		ActionType: a.ActionType,
		Payload:    a.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal apply: %w", err)
	}

	data, err := e.doRequest(ctx, "/apply", body)
	if err != nil {
		return nil, fmt.Errorf("apply %s: %w", a.ActionType, err)
	}

	var resp applyResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal outcome: %w", err)
		}
	}
	return &effector.Outcome{
		Output:              resp.Output,
		ExternallyCommitted: resp.ExternallyCommitted,
	}, nil
}

// Revert asks the executor to unwind an applied action using the snapshot
// captured at execution time.
func (e *Effector) Revert(ctx context.Context, a *action.Action, snapshot map[string]any) error {
	body, err := json.Marshal(revertRequest{
		ActionID:   a.ID,
		UserID:     a.UserID,
		ActionType: a.ActionType,
		Payload:    a.Payload,
		Snapshot:   snapshot,
	})
	if err != nil {
		return fmt.Errorf("marshal revert: %w", err)
	}

	if _, err := e.doRequest(ctx, "/revert", body); err != nil {
		return fmt.Errorf("revert %s: %w", a.ActionType, err)
	}
	return nil
}

func (e *Effector) doRequest(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("executor error %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}
