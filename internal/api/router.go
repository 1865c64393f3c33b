// Package api wires the HTTP surface: the worker-facing RPA endpoints and
// the dashboard-facing batch lifecycle endpoints.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/ellipsesearch/visibility/internal/api/middleware"
	"github.com/ellipsesearch/visibility/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth        *mw.Auth
	WebhookAuth *mw.WebhookAuth
	RateLimit   *mw.RateLimit

	HealthHandler http.HandlerFunc

	// Worker fleet surface.
	ListJobsHandler     http.HandlerFunc
	ClaimJobsHandler    http.HandlerFunc
	WorkerResultHandler http.HandlerFunc
	RegisterBatch       http.HandlerFunc
	HeartbeatHandler    http.HandlerFunc
	RemoveWorker        http.HandlerFunc
	AvailabilityHandler http.HandlerFunc

	// Dashboard surface.
	CreateBatchHandler http.HandlerFunc
	GetBatchHandler    http.HandlerFunc
	CancelBatchHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Worker fleet routes: shared-secret or HMAC auth, never API keys.
	r.Group(func(r chi.Router) {
		r.Use(deps.WebhookAuth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/rpa/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Post("/api/rpa/jobs/claim", orNotImplemented(deps.ClaimJobsHandler))

		r.Post("/api/rpa/results", orNotImplemented(deps.WorkerResultHandler))
		r.Put("/api/rpa/results", orNotImplemented(deps.RegisterBatch))

		r.Post("/api/rpa/heartbeat", orNotImplemented(deps.HeartbeatHandler))
		r.Delete("/api/rpa/heartbeat", orNotImplemented(deps.RemoveWorker))
		r.Get("/api/rpa/status", orNotImplemented(deps.AvailabilityHandler))
	})

	// Dashboard routes: API-key auth.
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/batches", orNotImplemented(deps.CreateBatchHandler))
		r.Get("/api/v1/batches/{batchID}", orNotImplemented(deps.GetBatchHandler))
		r.Post("/api/v1/batches/{batchID}/cancel", orNotImplemented(deps.CancelBatchHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
