package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ellipsesearch/visibility/internal/api/response"
	"github.com/ellipsesearch/visibility/internal/store"
	"github.com/ellipsesearch/visibility/pkg/models"
)

// BatchLauncher creates a batch and routes its simulations. Satisfied by
// scheduler.Launcher.
type BatchLauncher interface {
	Launch(ctx context.Context, brandID uuid.UUID, promptIDs []uuid.UUID, engines []string, language, region string, runID *string) (*models.AnalysisBatch, error)
}

// BatchStore is the store subset the batch lifecycle endpoints use.
type BatchStore interface {
	GetBrand(ctx context.Context, id uuid.UUID) (*models.Brand, error)
	GetBatch(ctx context.Context, id uuid.UUID) (*models.AnalysisBatch, error)
	ListSimulationsByBatch(ctx context.Context, batchID uuid.UUID) ([]*models.Simulation, error)
	CancelBatch(ctx context.Context, id uuid.UUID, reason string) error
}

type createBatchRequest struct {
	BrandID   uuid.UUID   `json:"brand_id"`
	PromptIDs []uuid.UUID `json:"prompt_ids"`
	Engines   []string    `json:"engines"`
	Language  string      `json:"language"`
	Region    string      `json:"region"`
}

// NewCreateBatchHandler returns the handler for POST /api/v1/batches.
func NewCreateBatchHandler(st BatchStore, launcher BatchLauncher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		problems := map[string]string{}
		if req.BrandID == uuid.Nil {
			problems["brand_id"] = "required"
		}
		if len(req.Engines) == 0 {
			problems["engines"] = "at least one engine is required"
		}
		for _, e := range req.Engines {
			if !models.IsKnownEngine(e) {
				problems["engines"] = fmt.Sprintf("unknown engine %q", e)
			}
		}
		if len(problems) > 0 {
			response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED",
				"Payload failed validation", problems)
			return
		}

		ctx := r.Context()
		if _, err := st.GetBrand(ctx, req.BrandID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Brand not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load brand", nil)
			return
		}

		batch, err := launcher.Launch(ctx, req.BrandID, req.PromptIDs, req.Engines,
			req.Language, req.Region, nil)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to create batch", nil)
			return
		}
		if batch == nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED",
				"Payload failed validation", map[string]string{"prompt_ids": "no active prompts in scope"})
			return
		}

		response.Created(w, batch)
	}
}

// NewGetBatchHandler returns the handler for GET /api/v1/batches/{batchID}:
// the batch row plus every child simulation, the shape the dashboard polls.
func NewGetBatchHandler(st BatchStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID, err := uuid.Parse(chi.URLParam(r, "batchID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid batch id", nil)
			return
		}

		ctx := r.Context()
		batch, err := st.GetBatch(ctx, batchID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Batch not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load batch", nil)
			return
		}

		sims, err := st.ListSimulationsByBatch(ctx, batchID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load simulations", nil)
			return
		}
		if sims == nil {
			sims = []*models.Simulation{}
		}

		response.JSON(w, map[string]any{
			"batch":       batch,
			"simulations": sims,
		})
	}
}

type cancelBatchRequest struct {
	Reason string `json:"reason"`
}

// NewCancelBatchHandler returns the handler for POST /api/v1/batches/{batchID}/cancel.
// Cancellation is terminal for the batch and every non-terminal child.
func NewCancelBatchHandler(st BatchStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID, err := uuid.Parse(chi.URLParam(r, "batchID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid batch id", nil)
			return
		}

		var req cancelBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Reason == "" {
			req.Reason = "cancelled by user"
		}

		err = st.CancelBatch(r.Context(), batchID, req.Reason)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Batch not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to cancel batch", nil)
			return
		}

		response.JSON(w, map[string]any{"cancelled": true, "batch_id": batchID})
	}
}
