// Package registry tracks which remote automation workers are alive and what
// engines they can drive. Records expire by TTL: a worker that falls silent is
// treated as dead, not "maybe dead", so routing decisions never queue work for
// a fleet that is offline.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ellipsesearch/visibility/internal/cache"
	"github.com/ellipsesearch/visibility/pkg/models"
)

const DefaultTTL = 60 * time.Second

// Registry is the shared read model of worker liveness. Each worker owns only
// its own record; anyone deciding "route to RPA or direct API" reads here.
type Registry struct {
	cache cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// New creates a Registry over the given cache. ttl <= 0 uses DefaultTTL.
func New(c cache.Cache, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{cache: c, ttl: ttl, now: time.Now}
}

// Heartbeat upserts the worker's record with a fresh timestamp. A first
// heartbeat registers the worker; there is no separate registration call.
func (r *Registry) Heartbeat(ctx context.Context, rec models.WorkerRecord) error {
	rec.LastHeartbeat = r.now().UTC()

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal worker record: %w", err)
	}
	if err := r.cache.Set(ctx, cache.WorkerKey(rec.WorkerID), raw, r.ttl); err != nil {
		return fmt.Errorf("store worker record: %w", err)
	}
	if err := r.cache.SetAdd(ctx, cache.WorkerIndexKey, rec.WorkerID); err != nil {
		return fmt.Errorf("index worker record: %w", err)
	}
	return nil
}

// Remove is the explicit, best-effort deregistration on clean shutdown.
// Skipping it is harmless: the TTL reclaims the slot.
func (r *Registry) Remove(ctx context.Context, workerID string) error {
	if err := r.cache.Delete(ctx, cache.WorkerKey(workerID)); err != nil {
		return fmt.Errorf("remove worker record: %w", err)
	}
	if err := r.cache.SetRemove(ctx, cache.WorkerIndexKey, workerID); err != nil {
		return fmt.Errorf("deindex worker record: %w", err)
	}
	return nil
}

// Workers returns every live worker record, evicting expired index entries as
// it goes.
func (r *Registry) Workers(ctx context.Context) ([]models.WorkerRecord, error) {
	ids, err := r.cache.SetMembers(ctx, cache.WorkerIndexKey)
	if err != nil {
		return nil, fmt.Errorf("list worker index: %w", err)
	}

	cutoff := r.now().UTC().Add(-r.ttl)
	var live []models.WorkerRecord
	for _, id := range ids {
		raw, ok, err := r.cache.Get(ctx, cache.WorkerKey(id))
		if err != nil {
			return nil, fmt.Errorf("read worker record: %w", err)
		}
		if !ok {
			// Record expired under the index entry; clean up lazily.
			_ = r.cache.SetRemove(ctx, cache.WorkerIndexKey, id)
			continue
		}
		var rec models.WorkerRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			_ = r.cache.SetRemove(ctx, cache.WorkerIndexKey, id)
			continue
		}
		if rec.LastHeartbeat.Before(cutoff) {
			_ = r.cache.Delete(ctx, cache.WorkerKey(id))
			_ = r.cache.SetRemove(ctx, cache.WorkerIndexKey, id)
			continue
		}
		live = append(live, rec)
	}
	return live, nil
}

// Availability reports aggregate capability across surviving records,
// optionally narrowed to one engine.
func (r *Registry) Availability(ctx context.Context, engine string) (models.Availability, error) {
	workers, err := r.Workers(ctx)
	if err != nil {
		return models.Availability{}, err
	}

	engines := map[string]bool{}
	count := 0
	for _, w := range workers {
		if !w.ChromeConnected {
			continue
		}
		if engine != "" && !contains(w.EnginesReady, engine) {
			continue
		}
		count++
		for _, e := range w.EnginesReady {
			engines[e] = true
		}
	}

	out := models.Availability{
		Available:   count > 0,
		WorkerCount: count,
		Engines:     make([]string, 0, len(engines)),
	}
	for _, e := range models.KnownEngines {
		if engines[e] {
			out.Engines = append(out.Engines, e)
		}
	}
	return out, nil
}

// EngineCoverage returns which engines have at least one live worker ready,
// across the whole fleet. Used to split batch engines between the RPA path
// and the direct-API path.
func (r *Registry) EngineCoverage(ctx context.Context) (map[string]bool, error) {
	av, err := r.Availability(ctx, "")
	if err != nil {
		return nil, err
	}
	coverage := make(map[string]bool, len(av.Engines))
	for _, e := range av.Engines {
		coverage[e] = true
	}
	return coverage, nil
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
