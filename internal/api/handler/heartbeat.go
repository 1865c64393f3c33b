package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ellipsesearch/visibility/internal/api/response"
	"github.com/ellipsesearch/visibility/pkg/models"
)

// WorkerRegistry is the registry subset the heartbeat endpoints depend on.
type WorkerRegistry interface {
	Heartbeat(ctx context.Context, rec models.WorkerRecord) error
	Remove(ctx context.Context, workerID string) error
	Availability(ctx context.Context, engine string) (models.Availability, error)
}

type heartbeatRequest struct {
	WorkerID        string   `json:"worker_id"`
	ChromeConnected bool     `json:"chrome_connected"`
	EnginesReady    []string `json:"engines_ready"`
	JobsProcessed   int      `json:"jobs_processed"`
	JobsFailed      int      `json:"jobs_failed"`
}

// NewHeartbeatHandler returns the handler for POST /api/rpa/heartbeat.
// A first heartbeat registers the worker; there is no separate signup call.
func NewHeartbeatHandler(reg WorkerRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req heartbeatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.WorkerID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"worker_id is required", nil)
			return
		}

		err := reg.Heartbeat(r.Context(), models.WorkerRecord{
			WorkerID:        req.WorkerID,
			ChromeConnected: req.ChromeConnected,
			EnginesReady:    req.EnginesReady,
			JobsProcessed:   req.JobsProcessed,
			JobsFailed:      req.JobsFailed,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to record heartbeat", nil)
			return
		}

		response.JSON(w, map[string]any{"registered": true, "worker_id": req.WorkerID})
	}
}

// NewRemoveWorkerHandler returns the handler for DELETE /api/rpa/heartbeat.
// Best-effort deregistration on clean shutdown; the TTL covers the rest.
func NewRemoveWorkerHandler(reg WorkerRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workerID := r.URL.Query().Get("worker_id")
		if workerID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"worker_id is required", nil)
			return
		}

		if err := reg.Remove(r.Context(), workerID); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to remove worker", nil)
			return
		}

		response.JSON(w, map[string]any{"removed": true, "worker_id": workerID})
	}
}

// NewAvailabilityHandler returns the handler for GET /api/rpa/status.
func NewAvailabilityHandler(reg WorkerRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engine := r.URL.Query().Get("engine")
		if engine != "" && !models.IsKnownEngine(engine) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Unknown engine", map[string]any{"engine": engine})
			return
		}

		availability, err := reg.Availability(r.Context(), engine)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to read worker availability", nil)
			return
		}

		response.JSON(w, availability)
	}
}
