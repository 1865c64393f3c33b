package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/ellipsesearch/visibility/internal/api/response"
	"github.com/ellipsesearch/visibility/internal/enrich"
	"github.com/ellipsesearch/visibility/internal/store"
	"github.com/ellipsesearch/visibility/pkg/models"
)

// Webhook event kinds accepted from the remote-worker fleet.
const (
	eventPromptCompleted = "prompt_completed"
	eventRunCompleted    = "run_completed"
)

// ResultStore is the store subset webhook ingestion uses.
type ResultStore interface {
	GetSimulation(ctx context.Context, id uuid.UUID) (*models.Simulation, error)
	GetBatch(ctx context.Context, id uuid.UUID) (*models.AnalysisBatch, error)
	GetBrand(ctx context.Context, id uuid.UUID) (*models.Brand, error)
	StoreWorkerResult(ctx context.Context, params store.WorkerResultParams) (*models.Simulation, bool, error)
	CompleteSimulation(ctx context.Context, id uuid.UUID, status string, opts ...store.SimulationOption) (bool, error)
	CompleteBatchFromSummary(ctx context.Context, id uuid.UUID, total, successful int) error
	ActivePrompts(ctx context.Context, brandID uuid.UUID, promptIDs []uuid.UUID) ([]*models.Prompt, error)
	CreateBatch(ctx context.Context, params store.CreateBatchParams) (*models.AnalysisBatch, []*models.Simulation, error)
	MarkBatchDispatched(ctx context.Context, id uuid.UUID, status string) error
}

// Enricher dispatches async LLM signal extraction. Satisfied by enrich.Service.
type Enricher interface {
	EnrichAsync(simulationID uuid.UUID)
}

// BatchNotifier schedules batch finalization. Satisfied by finalize.Finalizer.
type BatchNotifier interface {
	Poke(batchID uuid.UUID)
}

// workerResultRequest mirrors the fleet's delivery envelope: per-prompt fields
// ride inside "result", run aggregates inside "summary", and the owning batch
// is "analysis_batch_id" at the top level.
type workerResultRequest struct {
	Event           string        `json:"event"`
	RunID           string        `json:"run_id"`
	SimulationID    *uuid.UUID    `json:"simulation_id"`
	BrandID         *uuid.UUID    `json:"brand_id"`
	AnalysisBatchID *uuid.UUID    `json:"analysis_batch_id"`
	Language        string        `json:"language"`
	Region          string        `json:"region"`
	Result          *promptResult `json:"result"`
	Summary         *runSummary   `json:"summary"`
}

type promptResult struct {
	Success      bool       `json:"success"`
	Engine       string     `json:"engine"`
	PromptID     *uuid.UUID `json:"prompt_id"`
	PromptText   string     `json:"prompt_text"`
	ResponseHTML string     `json:"response_html"`
	ResponseText string     `json:"response_text"`
	Sources      []string   `json:"sources"`
	IsVisible    *bool      `json:"is_visible"`
	ErrorMessage string     `json:"error_message"`
}

type runSummary struct {
	TotalPrompts   int     `json:"total_prompts"`
	Successful     int     `json:"successful"`
	VisibleCount   int     `json:"visible_count"`
	VisibilityRate float64 `json:"visibility_rate"`
}

// validate checks the payload shape before anything touches the database.
// Returns a field-level error map; an empty map means the payload is sound.
func (r *workerResultRequest) validate() map[string]string {
	problems := map[string]string{}

	switch r.Event {
	case eventPromptCompleted:
		res := r.Result
		if res == nil {
			problems["result"] = "required for prompt_completed"
			return problems
		}
		if r.SimulationID == nil {
			// Without a simulation id the upsert key must be complete.
			if r.AnalysisBatchID == nil {
				problems["analysis_batch_id"] = "required when simulation_id is absent"
			}
			if res.PromptID == nil {
				problems["result.prompt_id"] = "required when simulation_id is absent"
			}
			if res.Engine == "" {
				problems["result.engine"] = "required when simulation_id is absent"
			}
			if res.Success && res.PromptText == "" {
				problems["result.prompt_text"] = "required when simulation_id is absent"
			}
		}
		if res.Engine != "" && !models.IsKnownEngine(res.Engine) {
			problems["result.engine"] = "unknown engine"
		}
		if res.Success && res.ResponseText == "" {
			problems["result.response_text"] = "required for successful results"
		}
		if !res.Success && res.ErrorMessage == "" {
			problems["result.error_message"] = "required for failed results"
		}
	case eventRunCompleted:
		if r.AnalysisBatchID == nil {
			problems["analysis_batch_id"] = "required for run_completed"
		}
		if r.Summary == nil {
			problems["summary"] = "required for run_completed"
		} else if r.Summary.TotalPrompts < 0 || r.Summary.Successful < 0 ||
			r.Summary.Successful > r.Summary.TotalPrompts {
			problems["summary.successful"] = "must satisfy 0 <= successful <= total_prompts"
		}
	case "":
		problems["event"] = "required"
	default:
		problems["event"] = fmt.Sprintf("unknown event %q", r.Event)
	}

	return problems
}

type workerResultResponse struct {
	Success      bool       `json:"success"`
	SimulationID *uuid.UUID `json:"simulation_id,omitempty"`
	Stored       bool       `json:"stored"`
	Message      string     `json:"message,omitempty"`
}

// NewWorkerResultHandler returns the handler for POST /api/rpa/results. The
// body size cap and authentication run in middleware before this executes.
func NewWorkerResultHandler(st ResultStore, enricher Enricher, notifier BatchNotifier, minContentLen int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req workerResultRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if problems := req.validate(); len(problems) > 0 {
			response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED",
				"Payload failed validation", problems)
			return
		}

		switch req.Event {
		case eventRunCompleted:
			handleRunCompleted(w, r, st, &req)
		default:
			handlePromptCompleted(w, r, st, enricher, notifier, &req, minContentLen)
		}
	}
}

func handleRunCompleted(w http.ResponseWriter, r *http.Request, st ResultStore, req *workerResultRequest) {
	err := st.CompleteBatchFromSummary(r.Context(), *req.AnalysisBatchID,
		req.Summary.TotalPrompts, req.Summary.Successful)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Batch not found", nil)
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Failed to finalize batch", nil)
		return
	}

	slog.Info("batch completed from worker summary",
		"batch_id", *req.AnalysisBatchID,
		"run_id", req.RunID,
		"total", req.Summary.TotalPrompts,
		"successful", req.Summary.Successful)
	response.JSON(w, workerResultResponse{Success: true, Stored: true})
}

func handlePromptCompleted(w http.ResponseWriter, r *http.Request, st ResultStore, enricher Enricher, notifier BatchNotifier, req *workerResultRequest, minContentLen int) {
	ctx := r.Context()

	// Resolve the target simulation before any write so a replayed delivery
	// for an already-settled simulation is a clean no-op.
	var sim *models.Simulation
	if req.SimulationID != nil {
		var err error
		sim, err = st.GetSimulation(ctx, *req.SimulationID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Simulation not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load simulation", nil)
			return
		}
		if sim.IsTerminal() {
			response.JSON(w, workerResultResponse{
				Success:      true,
				SimulationID: &sim.ID,
				Stored:       false,
				Message:      "simulation already finalized",
			})
			return
		}
	}

	params, ok := resolveResultParams(w, ctx, st, sim, req)
	if !ok {
		return
	}

	// A worker-reported failure counts toward batch progress just like a
	// success; the batch must not wait on a job that already gave up.
	if !req.Result.Success {
		failWorkerResult(w, ctx, st, notifier, params, req.Result.ErrorMessage)
		return
	}

	text := enrich.Sanitize(req.Result.ResponseText)
	if len(text) < minContentLen {
		// A login page or error screen captured as "the answer" is shorter
		// than any plausible model response. Treat it as a failed attempt.
		failWorkerResult(w, ctx, st, notifier, params,
			fmt.Sprintf("content too short (%d chars, minimum %d)", len(text), minContentLen))
		return
	}
	params.ResponseText = text
	params.Sources = req.Result.Sources

	brand, err := st.GetBrand(ctx, params.BrandID)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Brand not found", nil)
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Failed to load brand", nil)
		return
	}
	params.IsVisible = enrich.CheckVisibility(text, req.Result.Sources, brand)

	stored, storedOK, err := st.StoreWorkerResult(ctx, params)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Simulation not found", nil)
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Failed to store result", nil)
		return
	}
	if !storedOK {
		response.JSON(w, workerResultResponse{
			Success:      true,
			SimulationID: &stored.ID,
			Stored:       false,
			Message:      "simulation already finalized",
		})
		return
	}

	// The slow LLM pass runs off the request path; the worker gets its ack
	// as soon as the raw capture is durable.
	enricher.EnrichAsync(stored.ID)

	response.JSON(w, workerResultResponse{
		Success:      true,
		SimulationID: &stored.ID,
		Stored:       true,
		Message:      "result stored, enrichment scheduled",
	})
}

// resolveResultParams merges request fields with the resolved simulation (id
// path) or the owning batch (upsert path). Returns ok=false after writing an
// error response.
func resolveResultParams(w http.ResponseWriter, ctx context.Context, st ResultStore, sim *models.Simulation, req *workerResultRequest) (store.WorkerResultParams, bool) {
	if sim != nil {
		return store.WorkerResultParams{
			SimulationID: &sim.ID,
			BatchID:      sim.BatchID,
			BrandID:      sim.BrandID,
			PromptID:     sim.PromptID,
			PromptText:   sim.PromptText,
			Engine:       sim.Engine,
			Language:     sim.Language,
			Region:       sim.Region,
		}, true
	}

	// Upsert path: the batch must already exist, registered over PUT or
	// created by the batch API, and it supplies the brand and locale.
	batch, err := st.GetBatch(ctx, *req.AnalysisBatchID)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Batch not found", nil)
		return store.WorkerResultParams{}, false
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Failed to load batch", nil)
		return store.WorkerResultParams{}, false
	}
	if batch.IsTerminal() {
		response.JSON(w, workerResultResponse{
			Success: true,
			Stored:  false,
			Message: "batch already finalized",
		})
		return store.WorkerResultParams{}, false
	}

	language := req.Language
	if language == "" {
		language = batch.Language
	}
	region := req.Region
	if region == "" {
		region = batch.Region
	}

	return store.WorkerResultParams{
		BatchID:    req.AnalysisBatchID,
		BrandID:    batch.BrandID,
		PromptID:   *req.Result.PromptID,
		PromptText: req.Result.PromptText,
		Engine:     req.Result.Engine,
		Language:   language,
		Region:     region,
	}, true
}

func failWorkerResult(w http.ResponseWriter, ctx context.Context, st ResultStore, notifier BatchNotifier, params store.WorkerResultParams, reason string) {
	simID := params.SimulationID

	// Without a pre-existing row, persist the upsert key first so the failure
	// has a simulation to land on.
	if simID == nil {
		sim, _, err := st.StoreWorkerResult(ctx, params)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Simulation not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to store result", nil)
			return
		}
		simID = &sim.ID
	}

	counted, err := st.CompleteSimulation(ctx, *simID, models.SimulationStatusFailed,
		store.WithSimulationError(reason),
		store.WithEnrichmentStatus(models.EnrichmentFailed))
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Simulation not found", nil)
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Failed to record failure", nil)
		return
	}
	if counted && params.BatchID != nil {
		notifier.Poke(*params.BatchID)
	}

	response.JSON(w, workerResultResponse{
		Success:      true,
		SimulationID: simID,
		Stored:       counted,
		Message:      "failure recorded",
	})
}

type batchRegistrationRequest struct {
	BrandID   uuid.UUID   `json:"brand_id"`
	PromptIDs []uuid.UUID `json:"prompt_ids"`
	Engines   []string    `json:"engines"`
	Language  string      `json:"language"`
	Region    string      `json:"region"`
	RunID     *string     `json:"run_id"`
}

// NewBatchRegistrationHandler returns the handler for PUT /api/rpa/results:
// a worker announces a run it is executing end to end, so the batch exists
// before its prompt_completed events start arriving. Every engine stays on
// the remote-worker path because the registering worker runs them itself.
func NewBatchRegistrationHandler(st ResultStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRegistrationRequest
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

		prompts, err := st.ActivePrompts(ctx, req.BrandID, req.PromptIDs)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to resolve prompts", nil)
			return
		}
		if len(prompts) == 0 {
			response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED",
				"Payload failed validation", map[string]string{"prompt_ids": "no active prompts in scope"})
			return
		}

		rpaEngines := make(map[string]bool, len(req.Engines))
		for _, e := range req.Engines {
			rpaEngines[e] = true
		}

		batch, _, err := st.CreateBatch(ctx, store.CreateBatchParams{
			BrandID:    req.BrandID,
			Prompts:    prompts,
			Engines:    req.Engines,
			RPAEngines: rpaEngines,
			Language:   req.Language,
			Region:     req.Region,
			RunID:      req.RunID,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to create batch", nil)
			return
		}
		// Registered batches are all-RPA: they wait on the registering worker.
		if err := st.MarkBatchDispatched(ctx, batch.ID, models.BatchStatusAwaitingRPA); err != nil {
			slog.Warn("mark batch dispatched failed", "batch_id", batch.ID, "error", err)
		}

		slog.Info("worker registered batch",
			"batch_id", batch.ID,
			"brand_id", req.BrandID,
			"total_simulations", batch.TotalSimulations,
			"run_id", req.RunID)
		response.Created(w, map[string]any{
			"batch_id":          batch.ID,
			"total_simulations": batch.TotalSimulations,
		})
	}
}
