// Package enrich runs the asynchronous enrichment step: extracting structured
// selection signals from a captured answer with the LLM provider, and, for
// engines with no remote-worker coverage, executing the whole simulation
// against the hosted API.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ellipsesearch/visibility/internal/cache"
	"github.com/ellipsesearch/visibility/internal/config"
	"github.com/ellipsesearch/visibility/internal/finalize"
	"github.com/ellipsesearch/visibility/internal/llm"
	"github.com/ellipsesearch/visibility/internal/store"
	"github.com/ellipsesearch/visibility/pkg/models"
)

const statusCacheTTL = 30 * time.Minute

// Service orchestrates enrichment. Every code path ends in an explicit
// terminal write: a bad LLM response can fail a simulation, but it can never
// strand a batch short of its total.
type Service struct {
	store     store.Store
	cache     cache.Cache
	provider  models.LLMProvider
	caller    *llm.Caller
	finalizer *finalize.Finalizer

	signalTimeout time.Duration
	answerTimeout time.Duration
	minContentLen int
}

// NewService creates an enrichment Service.
func NewService(st store.Store, ca cache.Cache, provider models.LLMProvider, caller *llm.Caller, fin *finalize.Finalizer, cfg config.LLMConfig, minContentLen int) *Service {
	return &Service{
		store:         st,
		cache:         ca,
		provider:      provider,
		caller:        caller,
		finalizer:     fin,
		signalTimeout: cfg.SignalTimeout,
		answerTimeout: cfg.AnswerTimeout,
		minContentLen: minContentLen,
	}
}

// EnrichAsync dispatches enrichment in a background goroutine and returns
// immediately, so webhook handlers never block on an LLM call.
func (s *Service) EnrichAsync(simulationID uuid.UUID) {
	go s.run(simulationID, s.enrich)
}

// ExecuteAsync dispatches direct-API execution: the hosted model answers the
// prompt in place of a browser session, then the answer is enriched.
func (s *Service) ExecuteAsync(simulationID uuid.UUID) {
	go s.run(simulationID, s.execute)
}

// run recovers from panics and guarantees the simulation ends terminal.
func (s *Service) run(simulationID uuid.UUID, fn func(ctx context.Context, simulationID uuid.UUID) error) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in enrichment", "error", r, "simulation_id", simulationID)
			s.fail(ctx, simulationID, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := fn(ctx, simulationID); err != nil {
		slog.Warn("enrichment failed", "simulation_id", simulationID, "error", err)
		s.fail(ctx, simulationID, err.Error())
	}
}

func (s *Service) enrich(ctx context.Context, simulationID uuid.UUID) error {
	sim, err := s.store.GetSimulation(ctx, simulationID)
	if err != nil {
		return fmt.Errorf("load simulation: %w", err)
	}
	if sim.IsTerminal() {
		// Cancelled or already settled while this was queued; nothing to do.
		return nil
	}
	if sim.ResponseText == nil || *sim.ResponseText == "" {
		return fmt.Errorf("no response text to enrich")
	}

	brand, err := s.store.GetBrand(ctx, sim.BrandID)
	if err != nil {
		return fmt.Errorf("load brand: %w", err)
	}

	_ = s.store.SetEnrichmentStatus(ctx, sim.ID, models.EnrichmentProcessing)

	var result models.SignalResult
	key := llm.BreakerKey(s.provider.Name(), s.provider.Model())
	err = s.caller.Do(ctx, key, s.signalTimeout, func(callCtx context.Context) error {
		var callErr error
		result, callErr = s.provider.ExtractSignals(callCtx, models.SignalRequest{
			PromptText:   sim.PromptText,
			ResponseText: *sim.ResponseText,
			BrandName:    brand.Name,
			BrandDomain:  brand.Domain,
			BrandAliases: brand.Aliases,
			Sources:      sim.Sources,
		})
		return callErr
	})
	if err != nil {
		return fmt.Errorf("extract signals: %w", err)
	}

	signals, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}

	visible := result.BrandMentioned || result.BrandCited
	if sim.IsVisible != nil && *sim.IsVisible {
		// The local pre-check already found the brand; the LLM pass refines
		// but never downgrades visibility.
		visible = true
	}

	counted, err := s.store.CompleteSimulation(ctx, sim.ID, models.SimulationStatusCompleted,
		store.WithSelectionSignals(signals),
		store.WithVisibility(visible),
		store.WithEnrichmentStatus(models.EnrichmentCompleted))
	if err != nil {
		return fmt.Errorf("complete simulation: %w", err)
	}
	_ = s.cache.SetSimulationStatus(ctx, sim.ID, models.SimulationStatusCompleted, statusCacheTTL)

	if counted && sim.BatchID != nil {
		s.finalizer.Poke(*sim.BatchID)
	}
	return nil
}

func (s *Service) execute(ctx context.Context, simulationID uuid.UUID) error {
	sim, err := s.store.GetSimulation(ctx, simulationID)
	if err != nil {
		return fmt.Errorf("load simulation: %w", err)
	}
	if sim.IsTerminal() {
		return nil
	}

	_ = s.cache.SetSimulationStatus(ctx, sim.ID, models.SimulationStatusProcessing, statusCacheTTL)

	var answer string
	key := llm.BreakerKey(s.provider.Name(), s.provider.Model())
	err = s.caller.Do(ctx, key, s.answerTimeout, func(callCtx context.Context) error {
		var callErr error
		answer, callErr = s.provider.AnswerPrompt(callCtx, sim.PromptText)
		return callErr
	})
	if err != nil {
		return fmt.Errorf("answer prompt: %w", err)
	}

	answer = Sanitize(answer)
	if len(answer) < s.minContentLen {
		// Same floor the webhook applies: an implausibly short answer is a
		// failure outcome, not a stored result.
		return fmt.Errorf("answer too short (%d chars)", len(answer))
	}

	brand, err := s.store.GetBrand(ctx, sim.BrandID)
	if err != nil {
		return fmt.Errorf("load brand: %w", err)
	}

	_, _, err = s.store.StoreWorkerResult(ctx, store.WorkerResultParams{
		SimulationID: &sim.ID,
		BrandID:      sim.BrandID,
		PromptID:     sim.PromptID,
		PromptText:   sim.PromptText,
		Engine:       sim.Engine,
		Language:     sim.Language,
		Region:       sim.Region,
		ResponseText: answer,
		IsVisible:    CheckVisibility(answer, nil, brand),
	})
	if err != nil {
		return fmt.Errorf("store answer: %w", err)
	}

	return s.enrich(ctx, simulationID)
}

// fail writes the terminal failed state. Failed attempts still count toward
// batch progress, "done" from the batch's point of view.
func (s *Service) fail(ctx context.Context, simulationID uuid.UUID, reason string) {
	counted, err := s.store.CompleteSimulation(ctx, simulationID, models.SimulationStatusFailed,
		store.WithSimulationError(reason),
		store.WithEnrichmentStatus(models.EnrichmentFailed))
	if err != nil {
		slog.Error("failed to mark simulation failed", "simulation_id", simulationID, "error", err)
		return
	}
	_ = s.cache.SetSimulationStatus(ctx, simulationID, models.SimulationStatusFailed, statusCacheTTL)

	if !counted {
		return
	}
	sim, err := s.store.GetSimulation(ctx, simulationID)
	if err == nil && sim.BatchID != nil {
		s.finalizer.Poke(*sim.BatchID)
	}
}
