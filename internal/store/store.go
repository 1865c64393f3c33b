package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ellipsesearch/visibility/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error

	CreateBrand(ctx context.Context, brand *models.Brand) error
	GetBrand(ctx context.Context, id uuid.UUID) (*models.Brand, error)
	CreatePrompt(ctx context.Context, prompt *models.Prompt) error
	ActivePrompts(ctx context.Context, brandID uuid.UUID, promptIDs []uuid.UUID) ([]*models.Prompt, error)

	// CreateBatch persists the batch and every child simulation in one
	// transaction before any external call begins, so the progress counter
	// always has a known denominator.
	CreateBatch(ctx context.Context, params CreateBatchParams) (*models.AnalysisBatch, []*models.Simulation, error)
	GetBatch(ctx context.Context, id uuid.UUID) (*models.AnalysisBatch, error)
	ListSimulationsByBatch(ctx context.Context, batchID uuid.UUID) ([]*models.Simulation, error)
	// CancelBatch is terminal: batch goes failed with the supplied reason and
	// every non-terminal child simulation goes failed with it.
	CancelBatch(ctx context.Context, id uuid.UUID, reason string) error
	// MarkBatchDispatched moves a queued batch to processing or, when every
	// child simulation is parked on the remote-worker path, awaiting_rpa.
	MarkBatchDispatched(ctx context.Context, id uuid.UUID, status string) error
	// FinalizeBatch flips the batch to completed only when
	// completed_simulations >= total_simulations and the batch is still
	// non-terminal. Returns whether this call performed the flip.
	FinalizeBatch(ctx context.Context, id uuid.UUID) (bool, error)
	// CompleteBatchFromSummary is the run_completed fallback path: marks the
	// batch completed directly from worker-reported aggregate counts.
	CompleteBatchFromSummary(ctx context.Context, id uuid.UUID, total, successful int) error
	// FailStaleBatches terminates batches stuck non-terminal past the cutoff,
	// failing their outstanding simulations. Returns the number of batches hit.
	FailStaleBatches(ctx context.Context, olderThan time.Duration) (int, error)

	GetSimulation(ctx context.Context, id uuid.UUID) (*models.Simulation, error)
	// ListPendingJobs returns awaiting_rpa simulations oldest first, filtered
	// to one engine, joined with the brand fields remote workers need.
	ListPendingJobs(ctx context.Context, engine string, limit int) ([]models.PendingJob, error)
	// ClaimSimulations conditionally transitions awaiting_rpa -> processing.
	// The returned count is how many of the requested ids this caller won;
	// two pollers racing on the same list can never both win the same row.
	ClaimSimulations(ctx context.Context, ids []uuid.UUID, workerID string) (int, error)
	// StoreWorkerResult records a successful worker capture as a non-terminal
	// processing row awaiting enrichment. Resolves by simulation id when given,
	// otherwise upserts on (batch_id, prompt_id, engine). Never overwrites a
	// terminal simulation; stored=false signals an idempotent replay no-op.
	StoreWorkerResult(ctx context.Context, params WorkerResultParams) (sim *models.Simulation, stored bool, err error)
	// CompleteSimulation writes the terminal state exactly once. When the row
	// actually transitions, the owning batch's completed_simulations counter
	// is incremented in the same transaction, so a replayed delivery can
	// never double-count. counted=false means the row was already terminal.
	CompleteSimulation(ctx context.Context, id uuid.UUID, status string, opts ...SimulationOption) (counted bool, err error)
	SetEnrichmentStatus(ctx context.Context, id uuid.UUID, status string) error

	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledAnalysis, error)
	CreateSchedule(ctx context.Context, s *models.ScheduledAnalysis) error
	AdvanceSchedule(ctx context.Context, id uuid.UUID, nextRun, ranAt time.Time) error
}

// CreateBatchParams is the scope of a new batch. Each prompt is crossed with
// each engine; RPAEngines lists the subset routed to the remote-worker path.
type CreateBatchParams struct {
	BrandID    uuid.UUID
	Prompts    []*models.Prompt
	Engines    []string
	RPAEngines map[string]bool
	Language   string
	Region     string
	RunID      *string
}

// WorkerResultParams carries the sanitized outcome of one remote capture.
type WorkerResultParams struct {
	SimulationID *uuid.UUID
	BatchID      *uuid.UUID
	BrandID      uuid.UUID
	PromptID     uuid.UUID
	PromptText   string
	Engine       string
	Language     string
	Region       string
	ResponseText string
	Sources      []string
	IsVisible    bool
}

type simulationParams struct {
	ErrorMessage *string
	Signals      json.RawMessage
	IsVisible    *bool
	Enrichment   *string
}

// SimulationOption customizes a terminal simulation write.
type SimulationOption func(*simulationParams)

func WithSimulationError(msg string) SimulationOption {
	return func(p *simulationParams) {
		p.ErrorMessage = &msg
	}
}

func WithSelectionSignals(signals json.RawMessage) SimulationOption {
	return func(p *simulationParams) {
		p.Signals = signals
	}
}

func WithVisibility(visible bool) SimulationOption {
	return func(p *simulationParams) {
		p.IsVisible = &visible
	}
}

func WithEnrichmentStatus(status string) SimulationOption {
	return func(p *simulationParams) {
		p.Enrichment = &status
	}
}
