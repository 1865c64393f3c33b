package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ellipsesearch/visibility/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

// --- Brands & Prompts ---

func (s *PostgresStore) CreateBrand(ctx context.Context, brand *models.Brand) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO brands (id, name, domain, aliases, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		brand.ID, brand.Name, brand.Domain, brand.Aliases, brand.CreatedAt, brand.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create brand: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBrand(ctx context.Context, id uuid.UUID) (*models.Brand, error) {
	var b models.Brand
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, domain, aliases, created_at, updated_at FROM brands WHERE id = $1`, id,
	).Scan(&b.ID, &b.Name, &b.Domain, &b.Aliases, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get brand: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) CreatePrompt(ctx context.Context, prompt *models.Prompt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prompts (id, brand_id, text, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		prompt.ID, prompt.BrandID, prompt.Text, prompt.IsActive, prompt.CreatedAt)
	if err != nil {
		return fmt.Errorf("create prompt: %w", err)
	}
	return nil
}

func (s *PostgresStore) ActivePrompts(ctx context.Context, brandID uuid.UUID, promptIDs []uuid.UUID) ([]*models.Prompt, error) {
	query := `SELECT id, brand_id, text, is_active, created_at
	          FROM prompts WHERE brand_id = $1 AND is_active`
	args := []any{brandID}
	if len(promptIDs) > 0 {
		query += ` AND id = ANY($2)`
		args = append(args, uuidStrings(promptIDs))
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active prompts: %w", err)
	}
	defer rows.Close()

	var prompts []*models.Prompt
	for rows.Next() {
		var p models.Prompt
		if err := rows.Scan(&p.ID, &p.BrandID, &p.Text, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		prompts = append(prompts, &p)
	}
	return prompts, rows.Err()
}

// --- Batches ---

func (s *PostgresStore) CreateBatch(ctx context.Context, params CreateBatchParams) (*models.AnalysisBatch, []*models.Simulation, error) {
	total := len(params.Prompts) * len(params.Engines)
	now := time.Now().UTC()

	batch := &models.AnalysisBatch{
		ID:               uuid.New(),
		BrandID:          params.BrandID,
		Engines:          params.Engines,
		Language:         params.Language,
		Region:           params.Region,
		TotalSimulations: total,
		Status:           models.BatchStatusQueued,
		RunID:            params.RunID,
		StartedAt:        &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin create batch: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO analysis_batches
		   (id, brand_id, engines, language, region, total_simulations, status, run_id, started_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		batch.ID, batch.BrandID, batch.Engines, batch.Language, batch.Region,
		batch.TotalSimulations, batch.Status, batch.RunID, batch.StartedAt,
		batch.CreatedAt, batch.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert batch: %w", err)
	}

	var sims []*models.Simulation
	for _, prompt := range params.Prompts {
		for _, engine := range params.Engines {
			status := models.SimulationStatusPending
			if params.RPAEngines[engine] {
				status = models.SimulationStatusAwaitingRPA
			}
			sim := &models.Simulation{
				ID:               uuid.New(),
				BatchID:          &batch.ID,
				BrandID:          params.BrandID,
				PromptID:         prompt.ID,
				PromptText:       prompt.Text,
				Engine:           engine,
				Language:         params.Language,
				Region:           params.Region,
				Status:           status,
				EnrichmentStatus: models.EnrichmentPending,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			_, err = tx.Exec(ctx,
				`INSERT INTO simulations
				   (id, batch_id, brand_id, prompt_id, prompt_text, engine, language, region,
				    status, enrichment_status, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				sim.ID, sim.BatchID, sim.BrandID, sim.PromptID, sim.PromptText, sim.Engine,
				sim.Language, sim.Region, sim.Status, sim.EnrichmentStatus, sim.CreatedAt, sim.UpdatedAt)
			if err != nil {
				return nil, nil, fmt.Errorf("insert simulation: %w", err)
			}
			sims = append(sims, sim)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit create batch: %w", err)
	}
	return batch, sims, nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, id uuid.UUID) (*models.AnalysisBatch, error) {
	var b models.AnalysisBatch
	err := s.pool.QueryRow(ctx,
		`SELECT id, brand_id, engines, language, region, total_simulations, completed_simulations,
		        successful_simulations, status, error_message, run_id, started_at, completed_at,
		        created_at, updated_at
		 FROM analysis_batches WHERE id = $1`, id,
	).Scan(&b.ID, &b.BrandID, &b.Engines, &b.Language, &b.Region, &b.TotalSimulations,
		&b.CompletedSimulations, &b.SuccessfulSimulations, &b.Status, &b.ErrorMessage, &b.RunID,
		&b.StartedAt, &b.CompletedAt, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return &b, nil
}

const simulationColumns = `id, batch_id, brand_id, prompt_id, prompt_text, engine, language, region,
	status, enrichment_status, selection_signals, response_text, sources, is_visible,
	error_message, claimed_by, claimed_at, completed_at, created_at, updated_at`

func scanSimulation(row pgx.Row) (*models.Simulation, error) {
	var sim models.Simulation
	err := row.Scan(&sim.ID, &sim.BatchID, &sim.BrandID, &sim.PromptID, &sim.PromptText,
		&sim.Engine, &sim.Language, &sim.Region, &sim.Status, &sim.EnrichmentStatus,
		&sim.SelectionSignals, &sim.ResponseText, &sim.Sources, &sim.IsVisible,
		&sim.ErrorMessage, &sim.ClaimedBy, &sim.ClaimedAt, &sim.CompletedAt,
		&sim.CreatedAt, &sim.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sim, nil
}

func (s *PostgresStore) ListSimulationsByBatch(ctx context.Context, batchID uuid.UUID) ([]*models.Simulation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+simulationColumns+` FROM simulations WHERE batch_id = $1 ORDER BY created_at`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list simulations: %w", err)
	}
	defer rows.Close()

	var sims []*models.Simulation
	for rows.Next() {
		sim, err := scanSimulation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan simulation: %w", err)
		}
		sims = append(sims, sim)
	}
	return sims, rows.Err()
}

func (s *PostgresStore) CancelBatch(ctx context.Context, id uuid.UUID, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin cancel batch: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE analysis_batches
		 SET status = 'failed', error_message = $2, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`, id, reason)
	if err != nil {
		return fmt.Errorf("cancel batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either unknown or already terminal; distinguish for the caller.
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM analysis_batches WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check batch exists: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return nil
	}

	// Outstanding children go failed immediately so the finalizer and UI see
	// a consistent terminal batch without waiting for stragglers.
	_, err = tx.Exec(ctx,
		`UPDATE simulations
		 SET status = 'failed', error_message = $2, completed_at = NOW(), updated_at = NOW()
		 WHERE batch_id = $1 AND status NOT IN ('completed', 'failed')`, id, reason)
	if err != nil {
		return fmt.Errorf("cancel simulations: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) MarkBatchDispatched(ctx context.Context, id uuid.UUID, status string) error {
	if status != models.BatchStatusProcessing && status != models.BatchStatusAwaitingRPA {
		return fmt.Errorf("mark batch dispatched: %q is not a dispatch status", status)
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE analysis_batches SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'queued'`, id, status)
	if err != nil {
		return fmt.Errorf("mark batch dispatched: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinalizeBatch(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_batches
		 SET status = 'completed', completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1
		   AND status NOT IN ('completed', 'failed')
		   AND completed_simulations >= total_simulations`, id)
	if err != nil {
		return false, fmt.Errorf("finalize batch: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) CompleteBatchFromSummary(ctx context.Context, id uuid.UUID, total, successful int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_batches
		 SET status = 'completed',
		     completed_simulations = LEAST($2, total_simulations),
		     successful_simulations = LEAST($3, total_simulations),
		     completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`, id, total, successful)
	if err != nil {
		return fmt.Errorf("complete batch from summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM analysis_batches WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check batch exists: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (s *PostgresStore) FailStaleBatches(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin fail stale batches: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`UPDATE analysis_batches
		 SET status = 'failed', error_message = 'batch timed out', completed_at = NOW(), updated_at = NOW()
		 WHERE status NOT IN ('completed', 'failed') AND created_at < $1
		 RETURNING id`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stale batches: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan stale batch id: %w", err)
		}
		ids = append(ids, id.String())
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if len(ids) > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE simulations
			 SET status = 'failed', error_message = 'batch timed out', completed_at = NOW(), updated_at = NOW()
			 WHERE batch_id = ANY($1) AND status NOT IN ('completed', 'failed')`, ids)
		if err != nil {
			return 0, fmt.Errorf("fail stale simulations: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// --- Simulations ---

func (s *PostgresStore) GetSimulation(ctx context.Context, id uuid.UUID) (*models.Simulation, error) {
	sim, err := scanSimulation(s.pool.QueryRow(ctx,
		`SELECT `+simulationColumns+` FROM simulations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get simulation: %w", err)
	}
	return sim, nil
}

func (s *PostgresStore) ListPendingJobs(ctx context.Context, engine string, limit int) ([]models.PendingJob, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	query := `SELECT s.id, s.prompt_id, s.prompt_text, s.engine, s.language, s.region,
	                 s.batch_id, s.brand_id, b.domain, b.name, b.aliases
	          FROM simulations s
	          JOIN brands b ON b.id = s.brand_id
	          WHERE s.status = 'awaiting_rpa'`
	args := []any{}
	if engine != "" {
		query += ` AND s.engine = $1`
		args = append(args, engine)
	}
	query += fmt.Sprintf(` ORDER BY s.created_at LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.PendingJob
	for rows.Next() {
		var j models.PendingJob
		if err := rows.Scan(&j.SimulationID, &j.PromptID, &j.PromptText, &j.Engine,
			&j.Language, &j.Region, &j.BatchID, &j.BrandID,
			&j.BrandDomain, &j.BrandName, &j.BrandAliases); err != nil {
			return nil, fmt.Errorf("scan pending job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) ClaimSimulations(ctx context.Context, ids []uuid.UUID, workerID string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE simulations
		 SET status = 'processing', claimed_by = $2, claimed_at = NOW(), updated_at = NOW()
		 WHERE id = ANY($1) AND status = 'awaiting_rpa'`,
		uuidStrings(ids), workerID)
	if err != nil {
		return 0, fmt.Errorf("claim simulations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) StoreWorkerResult(ctx context.Context, params WorkerResultParams) (*models.Simulation, bool, error) {
	if params.SimulationID != nil {
		tag, err := s.pool.Exec(ctx,
			`UPDATE simulations
			 SET status = 'processing', enrichment_status = 'pending',
			     response_text = $2, sources = $3, is_visible = $4, updated_at = NOW()
			 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
			*params.SimulationID, params.ResponseText, params.Sources, params.IsVisible)
		if err != nil {
			return nil, false, fmt.Errorf("store worker result: %w", err)
		}
		sim, err := s.GetSimulation(ctx, *params.SimulationID)
		if err != nil {
			return nil, false, err
		}
		return sim, tag.RowsAffected() > 0, nil
	}

	// No simulation id supplied: upsert on (batch_id, prompt_id, engine) so a
	// retried delivery cannot create a duplicate row. The DO UPDATE keeps the
	// terminal-state guard.
	now := time.Now().UTC()
	sim, err := scanSimulation(s.pool.QueryRow(ctx,
		`INSERT INTO simulations
		   (id, batch_id, brand_id, prompt_id, prompt_text, engine, language, region,
		    status, enrichment_status, response_text, sources, is_visible, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'processing', 'pending', $9, $10, $11, $12, $12)
		 ON CONFLICT (batch_id, prompt_id, engine) WHERE batch_id IS NOT NULL DO UPDATE SET
		   response_text = CASE WHEN simulations.status IN ('completed', 'failed')
		                        THEN simulations.response_text ELSE EXCLUDED.response_text END,
		   sources = CASE WHEN simulations.status IN ('completed', 'failed')
		                  THEN simulations.sources ELSE EXCLUDED.sources END,
		   is_visible = CASE WHEN simulations.status IN ('completed', 'failed')
		                     THEN simulations.is_visible ELSE EXCLUDED.is_visible END,
		   status = CASE WHEN simulations.status IN ('completed', 'failed')
		                 THEN simulations.status ELSE 'processing' END,
		   updated_at = CASE WHEN simulations.status IN ('completed', 'failed')
		                     THEN simulations.updated_at ELSE NOW() END
		 RETURNING `+simulationColumns,
		uuid.New(), params.BatchID, params.BrandID, params.PromptID, params.PromptText,
		params.Engine, params.Language, params.Region,
		params.ResponseText, params.Sources, params.IsVisible, now))
	if err != nil {
		return nil, false, fmt.Errorf("upsert worker result: %w", err)
	}
	return sim, !sim.IsTerminal(), nil
}

func (s *PostgresStore) CompleteSimulation(ctx context.Context, id uuid.UUID, status string, opts ...SimulationOption) (bool, error) {
	if status != models.SimulationStatusCompleted && status != models.SimulationStatusFailed {
		return false, fmt.Errorf("complete simulation: %q is not a terminal status", status)
	}

	params := &simulationParams{}
	for _, opt := range opts {
		opt(params)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin complete simulation: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `UPDATE simulations SET status = $2, completed_at = NOW(), updated_at = NOW()`
	args := []any{id, status}
	argIdx := 3

	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.Signals != nil {
		query += fmt.Sprintf(", selection_signals = $%d", argIdx)
		args = append(args, params.Signals)
		argIdx++
	}
	if params.IsVisible != nil {
		query += fmt.Sprintf(", is_visible = $%d", argIdx)
		args = append(args, *params.IsVisible)
		argIdx++
	}
	if params.Enrichment != nil {
		query += fmt.Sprintf(", enrichment_status = $%d", argIdx)
		args = append(args, *params.Enrichment)
		argIdx++
	}
	query += ` WHERE id = $1 AND status NOT IN ('completed', 'failed') RETURNING batch_id`

	var batchID *uuid.UUID
	err = tx.QueryRow(ctx, query, args...).Scan(&batchID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already terminal (or cancelled): replaying is a no-op and the batch
		// counter is never incremented twice for the same simulation.
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM simulations WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, fmt.Errorf("check simulation exists: %w", err)
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("complete simulation: %w", err)
	}

	if batchID != nil {
		// Atomic increment in the same transaction as the terminal write.
		_, err = tx.Exec(ctx,
			`UPDATE analysis_batches
			 SET completed_simulations = completed_simulations + 1, updated_at = NOW()
			 WHERE id = $1 AND completed_simulations < total_simulations`, *batchID)
		if err != nil {
			return false, fmt.Errorf("increment batch progress: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) SetEnrichmentStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE simulations SET enrichment_status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set enrichment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Scheduled Analyses ---

func (s *PostgresStore) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledAnalysis, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, brand_id, prompt_ids, engines, language, region, frequency,
		        next_run_at, last_run_at, run_count, is_active, created_at, updated_at
		 FROM scheduled_analyses
		 WHERE is_active AND next_run_at <= $1
		 ORDER BY next_run_at
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.ScheduledAnalysis
	for rows.Next() {
		var sc models.ScheduledAnalysis
		if err := rows.Scan(&sc.ID, &sc.BrandID, &sc.PromptIDs, &sc.Engines, &sc.Language,
			&sc.Region, &sc.Frequency, &sc.NextRunAt, &sc.LastRunAt, &sc.RunCount,
			&sc.IsActive, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, &sc)
	}
	return schedules, rows.Err()
}

func (s *PostgresStore) CreateSchedule(ctx context.Context, sc *models.ScheduledAnalysis) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scheduled_analyses
		   (id, brand_id, prompt_ids, engines, language, region, frequency,
		    next_run_at, run_count, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sc.ID, sc.BrandID, sc.PromptIDs, sc.Engines, sc.Language, sc.Region,
		sc.Frequency, sc.NextRunAt, sc.RunCount, sc.IsActive, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

func (s *PostgresStore) AdvanceSchedule(ctx context.Context, id uuid.UUID, nextRun, ranAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scheduled_analyses
		 SET next_run_at = $2, last_run_at = $3, run_count = run_count + 1, updated_at = NOW()
		 WHERE id = $1`, id, nextRun, ranAt)
	if err != nil {
		return fmt.Errorf("advance schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
