// Package finalize coalesces bursts of simulation-completion events into a
// single batch settle decision. Every completion pokes the finalizer; the
// trailing debounce window resets on each poke, and only when it elapses does
// the finalizer re-read the batch and decide.
package finalize

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ellipsesearch/visibility/internal/store"
)

const DefaultDebounce = 5 * time.Second

// Finalizer debounces finalization checks per batch id.
type Finalizer struct {
	store  store.Store
	window time.Duration

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

// New creates a Finalizer. window <= 0 uses DefaultDebounce.
func New(st store.Store, window time.Duration) *Finalizer {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Finalizer{
		store:  st,
		window: window,
		timers: make(map[uuid.UUID]*time.Timer),
	}
}

// Poke schedules a finalization check for batchID. A poke within the window
// of an earlier one resets the window, so dozens of near-simultaneous
// completions settle in one decision instead of one re-read per event.
func (f *Finalizer) Poke(batchID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if t, ok := f.timers[batchID]; ok {
		t.Reset(f.window)
		return
	}
	f.timers[batchID] = time.AfterFunc(f.window, func() {
		f.settle(batchID)
	})
}

// Flush runs any pending check for batchID immediately. Used in tests and on
// shutdown so scheduled decisions are not lost.
func (f *Finalizer) Flush(batchID uuid.UUID) {
	f.mu.Lock()
	t, ok := f.timers[batchID]
	f.mu.Unlock()
	if ok && t.Stop() {
		f.settle(batchID)
	}
}

// Stop cancels all pending checks.
func (f *Finalizer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, t := range f.timers {
		t.Stop()
		delete(f.timers, id)
	}
}

func (f *Finalizer) settle(batchID uuid.UUID) {
	f.mu.Lock()
	delete(f.timers, batchID)
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The conditional update only fires when completed >= total and the
	// batch is still non-terminal, so a late poke after cancel is harmless.
	flipped, err := f.store.FinalizeBatch(ctx, batchID)
	if err != nil {
		slog.Error("finalize check failed", "batch_id", batchID, "error", err)
		return
	}
	if flipped {
		slog.Info("batch completed", "batch_id", batchID)
	}
}
