package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ellipsesearch/visibility/internal/registry"
	"github.com/ellipsesearch/visibility/internal/store"
	"github.com/ellipsesearch/visibility/pkg/models"
)

// Executor dispatches a direct-API simulation. Satisfied by enrich.Service.
type Executor interface {
	ExecuteAsync(simulationID uuid.UUID)
}

// Launcher creates batches and routes each engine to the remote-worker path
// or the direct-API path based on current fleet availability. Shared by the
// scheduler tick and the batch lifecycle API, so both take identical routing
// decisions.
type Launcher struct {
	store    store.Store
	registry *registry.Registry
	executor Executor
}

// NewLauncher creates a Launcher.
func NewLauncher(st store.Store, reg *registry.Registry, exec Executor) *Launcher {
	return &Launcher{store: st, registry: reg, executor: exec}
}

// Launch creates the batch with all child simulations persisted up front,
// then kicks off direct-API simulations. Remote-worker simulations wait in
// awaiting_rpa for the fleet to poll them. An empty prompt scope returns
// (nil, nil): no zero-work batches.
func (l *Launcher) Launch(ctx context.Context, brandID uuid.UUID, promptIDs []uuid.UUID, engines []string, language, region string, runID *string) (*models.AnalysisBatch, error) {
	prompts, err := l.store.ActivePrompts(ctx, brandID, promptIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve prompts: %w", err)
	}
	if len(prompts) == 0 {
		return nil, nil
	}

	// Degrade gracefully to API-only mode when the fleet is offline rather
	// than queuing work that will never be claimed.
	coverage, err := l.registry.EngineCoverage(ctx)
	if err != nil {
		slog.Warn("worker registry unavailable, routing all engines to API", "error", err)
		coverage = map[string]bool{}
	}
	rpaEngines := make(map[string]bool, len(engines))
	for _, e := range engines {
		if coverage[e] {
			rpaEngines[e] = true
		}
	}

	batch, sims, err := l.store.CreateBatch(ctx, store.CreateBatchParams{
		BrandID:    brandID,
		Prompts:    prompts,
		Engines:    engines,
		RPAEngines: rpaEngines,
		Language:   language,
		Region:     region,
		RunID:      runID,
	})
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	// With every engine on the remote-worker path nothing runs until a worker
	// polls, so the batch waits in awaiting_rpa rather than claiming progress.
	dispatchStatus := models.BatchStatusProcessing
	if len(rpaEngines) == len(engines) {
		dispatchStatus = models.BatchStatusAwaitingRPA
	}
	if err := l.store.MarkBatchDispatched(ctx, batch.ID, dispatchStatus); err != nil {
		slog.Warn("mark batch dispatched failed", "batch_id", batch.ID, "error", err)
	}
	batch.Status = dispatchStatus

	for _, sim := range sims {
		if sim.Status == models.SimulationStatusPending {
			l.executor.ExecuteAsync(sim.ID)
		}
	}

	slog.Info("batch launched",
		"batch_id", batch.ID,
		"brand_id", brandID,
		"total_simulations", batch.TotalSimulations,
		"rpa_engines", len(rpaEngines),
		"api_engines", len(engines)-len(rpaEngines))
	return batch, nil
}
