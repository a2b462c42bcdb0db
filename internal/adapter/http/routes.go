package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	r.Get("/health/ready", h.HealthReady)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Actions
		r.Post("/actions", h.SubmitAction)
		r.Get("/actions", h.ListActions)
		r.Get("/actions/pending/count", h.PendingCount)
		r.Post("/actions/batch-approve", h.BatchApprove)
		r.Get("/actions/{id}", h.GetAction)
		r.Post("/actions/{id}/approve", h.ApproveAction)
		r.Post("/actions/{id}/reject", h.RejectAction)
		r.Post("/actions/{id}/execute", h.ExecuteAction)
		r.Post("/actions/{id}/undo", h.UndoAction)

		// Trust
		r.Get("/trust", h.GetTrust)
	})
}
