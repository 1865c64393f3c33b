// Package handler contains the HTTP handlers for worker-facing and
// dashboard-facing endpoints.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	mw "github.com/ellipsesearch/visibility/internal/api/middleware"
	"github.com/ellipsesearch/visibility/internal/api/response"
	"github.com/ellipsesearch/visibility/pkg/models"
)

// JobStore is the store subset the distribution endpoint depends on.
type JobStore interface {
	ListPendingJobs(ctx context.Context, engine string, limit int) ([]models.PendingJob, error)
	ClaimSimulations(ctx context.Context, ids []uuid.UUID, workerID string) (int, error)
}

// NewListJobsHandler returns the handler for GET /api/rpa/jobs. The fleet is
// specialized per engine, so pollers filter to the engines they can drive.
func NewListJobsHandler(st JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		engine := r.URL.Query().Get("engine")
		if engine != "" && !models.IsKnownEngine(engine) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Unknown engine", map[string]any{"engine": engine})
			return
		}

		limit := 10
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"limit must be a positive integer", nil)
				return
			}
			limit = n
		}

		jobs, err := st.ListPendingJobs(r.Context(), engine, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list pending jobs", nil)
			return
		}
		if jobs == nil {
			jobs = []models.PendingJob{}
		}

		response.JSON(w, map[string]any{"jobs": jobs})
	}
}

type claimRequest struct {
	SimulationIDs []uuid.UUID `json:"simulation_ids"`
	WorkerID      string      `json:"worker_id"`
}

// NewClaimJobsHandler returns the handler for POST /api/rpa/jobs/claim.
// The conditional update means two pollers racing on the same listing can
// never both win a job; the returned count is what this caller actually got.
func NewClaimJobsHandler(st JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req claimRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if len(req.SimulationIDs) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"simulation_ids is required", nil)
			return
		}

		workerID := req.WorkerID
		if workerID == "" {
			workerID, _ = mw.GetWorkerID(r)
		}

		claimed, err := st.ClaimSimulations(r.Context(), req.SimulationIDs, workerID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to claim jobs", nil)
			return
		}

		response.JSON(w, map[string]any{"claimed": claimed})
	}
}
