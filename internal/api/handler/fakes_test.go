package handler_test

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ellipsesearch/visibility/internal/store"
	"github.com/ellipsesearch/visibility/pkg/models"
)

// fakeStore is an in-memory stand-in for the Postgres store with the same
// terminal-state guards the real one enforces.
type fakeStore struct {
	mu sync.Mutex

	brands    map[uuid.UUID]*models.Brand
	prompts   []*models.Prompt
	batches   map[uuid.UUID]*models.AnalysisBatch
	sims      map[uuid.UUID]*models.Simulation
	jobs      []models.PendingJob
	summaries map[uuid.UUID][2]int
	cancelled map[uuid.UUID]string

	listErr  error
	claimErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		brands:    make(map[uuid.UUID]*models.Brand),
		batches:   make(map[uuid.UUID]*models.AnalysisBatch),
		sims:      make(map[uuid.UUID]*models.Simulation),
		summaries: make(map[uuid.UUID][2]int),
		cancelled: make(map[uuid.UUID]string),
	}
}

func (f *fakeStore) GetBrand(_ context.Context, id uuid.UUID) (*models.Brand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.brands[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return b, nil
}

func (f *fakeStore) GetBatch(_ context.Context, id uuid.UUID) (*models.AnalysisBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) GetSimulation(_ context.Context, id uuid.UUID) (*models.Simulation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sims[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) ListSimulationsByBatch(_ context.Context, batchID uuid.UUID) ([]*models.Simulation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Simulation
	for _, s := range f.sims {
		if s.BatchID != nil && *s.BatchID == batchID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) CancelBatch(_ context.Context, id uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.batches[id]; !ok {
		return store.ErrNotFound
	}
	f.cancelled[id] = reason
	f.batches[id].Status = models.BatchStatusFailed
	return nil
}

func (f *fakeStore) MarkBatchDispatched(_ context.Context, id uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.batches[id]; ok && b.Status == models.BatchStatusQueued {
		b.Status = status
	}
	return nil
}

func (f *fakeStore) CompleteBatchFromSummary(_ context.Context, id uuid.UUID, total, successful int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return store.ErrNotFound
	}
	b.Status = models.BatchStatusCompleted
	b.SuccessfulSimulations = &successful
	f.summaries[id] = [2]int{total, successful}
	return nil
}

func (f *fakeStore) ActivePrompts(_ context.Context, brandID uuid.UUID, _ []uuid.UUID) ([]*models.Prompt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Prompt
	for _, p := range f.prompts {
		if p.BrandID == brandID && p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateBatch(_ context.Context, params store.CreateBatchParams) (*models.AnalysisBatch, []*models.Simulation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch := &models.AnalysisBatch{
		ID:               uuid.New(),
		BrandID:          params.BrandID,
		Engines:          params.Engines,
		Language:         params.Language,
		Region:           params.Region,
		TotalSimulations: len(params.Prompts) * len(params.Engines),
		Status:           models.BatchStatusQueued,
		RunID:            params.RunID,
	}
	f.batches[batch.ID] = batch

	var sims []*models.Simulation
	for _, p := range params.Prompts {
		for _, engine := range params.Engines {
			status := models.SimulationStatusPending
			if params.RPAEngines[engine] {
				status = models.SimulationStatusAwaitingRPA
			}
			sim := &models.Simulation{
				ID:         uuid.New(),
				BatchID:    &batch.ID,
				BrandID:    params.BrandID,
				PromptID:   p.ID,
				PromptText: p.Text,
				Engine:     engine,
				Language:   params.Language,
				Region:     params.Region,
				Status:     status,
			}
			f.sims[sim.ID] = sim
			sims = append(sims, sim)
		}
	}
	return batch, sims, nil
}

func (f *fakeStore) StoreWorkerResult(_ context.Context, params store.WorkerResultParams) (*models.Simulation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var sim *models.Simulation
	if params.SimulationID != nil {
		var ok bool
		sim, ok = f.sims[*params.SimulationID]
		if !ok {
			return nil, false, store.ErrNotFound
		}
	} else {
		for _, s := range f.sims {
			if s.BatchID != nil && params.BatchID != nil && *s.BatchID == *params.BatchID &&
				s.PromptID == params.PromptID && s.Engine == params.Engine {
				sim = s
				break
			}
		}
		if sim == nil {
			sim = &models.Simulation{
				ID:         uuid.New(),
				BatchID:    params.BatchID,
				BrandID:    params.BrandID,
				PromptID:   params.PromptID,
				PromptText: params.PromptText,
				Engine:     params.Engine,
				Language:   params.Language,
				Region:     params.Region,
			}
			f.sims[sim.ID] = sim
		}
	}

	if sim.IsTerminal() {
		cp := *sim
		return &cp, false, nil
	}
	text := params.ResponseText
	sim.ResponseText = &text
	sim.Sources = params.Sources
	sim.IsVisible = &params.IsVisible
	sim.Status = models.SimulationStatusProcessing
	cp := *sim
	return &cp, true, nil
}

func (f *fakeStore) CompleteSimulation(_ context.Context, id uuid.UUID, status string, opts ...store.SimulationOption) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sim, ok := f.sims[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if sim.IsTerminal() {
		return false, nil
	}
	sim.Status = status
	if sim.BatchID != nil {
		if b, ok := f.batches[*sim.BatchID]; ok && b.CompletedSimulations < b.TotalSimulations {
			b.CompletedSimulations++
		}
	}
	return true, nil
}

func (f *fakeStore) ListPendingJobs(_ context.Context, engine string, limit int) ([]models.PendingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.PendingJob
	for _, j := range f.jobs {
		if engine != "" && j.Engine != engine {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeStore) ClaimSimulations(_ context.Context, ids []uuid.UUID, workerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return 0, f.claimErr
	}
	claimed := 0
	for _, id := range ids {
		if sim, ok := f.sims[id]; ok && sim.Status == models.SimulationStatusAwaitingRPA {
			sim.Status = models.SimulationStatusProcessing
			claimedBy := workerID
			sim.ClaimedBy = &claimedBy
			claimed++
		}
	}
	return claimed, nil
}

type fakeEnricher struct {
	mu       sync.Mutex
	enriched []uuid.UUID
}

func (f *fakeEnricher) EnrichAsync(simulationID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enriched = append(f.enriched, simulationID)
}

type fakeNotifier struct {
	mu    sync.Mutex
	pokes []uuid.UUID
}

func (f *fakeNotifier) Poke(batchID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pokes = append(f.pokes, batchID)
}

// seedBatch creates a brand plus a batch with one awaiting_rpa simulation per
// prompt for the given engine.
func seedBatch(f *fakeStore, promptCount int, engine string) (*models.Brand, *models.AnalysisBatch, []*models.Simulation) {
	brand := &models.Brand{
		ID:      uuid.New(),
		Name:    "Acme Search",
		Domain:  "acmesearch.com",
		Aliases: []string{"Acme"},
	}
	f.brands[brand.ID] = brand

	prompts := make([]*models.Prompt, promptCount)
	for i := range prompts {
		prompts[i] = &models.Prompt{
			ID:       uuid.New(),
			BrandID:  brand.ID,
			Text:     "what is the best search tool?",
			IsActive: true,
		}
	}
	f.prompts = append(f.prompts, prompts...)

	batch, sims, _ := f.CreateBatch(context.Background(), store.CreateBatchParams{
		BrandID:    brand.ID,
		Prompts:    prompts,
		Engines:    []string{engine},
		RPAEngines: map[string]bool{engine: true},
		Language:   "en",
		Region:     "us",
	})
	return brand, batch, sims
}
