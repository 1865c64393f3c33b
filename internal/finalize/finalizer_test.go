package finalize

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ellipsesearch/visibility/internal/store"
)

type countingStore struct {
	store.Store

	mu    sync.Mutex
	calls map[uuid.UUID]int
}

func newCountingStore() *countingStore {
	return &countingStore{calls: make(map[uuid.UUID]int)}
}

func (c *countingStore) FinalizeBatch(_ context.Context, id uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[id]++
	return true, nil
}

func (c *countingStore) count(id uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func TestFinalizer_CoalescesBurst(t *testing.T) {
	cs := newCountingStore()
	f := New(cs, 50*time.Millisecond)
	defer f.Stop()
	batchID := uuid.New()

	// A burst of completions lands within one window.
	for i := 0; i < 10; i++ {
		f.Poke(batchID)
	}

	assert.Eventually(t, func() bool {
		return cs.count(batchID) == 1
	}, time.Second, 10*time.Millisecond)

	// No further settles after the burst drained.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, cs.count(batchID))
}

func TestFinalizer_SeparateBatchesSettleIndependently(t *testing.T) {
	cs := newCountingStore()
	f := New(cs, 20*time.Millisecond)
	defer f.Stop()

	a, b := uuid.New(), uuid.New()
	f.Poke(a)
	f.Poke(b)

	assert.Eventually(t, func() bool {
		return cs.count(a) == 1 && cs.count(b) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestFinalizer_FlushRunsPendingCheck(t *testing.T) {
	cs := newCountingStore()
	f := New(cs, time.Hour)
	defer f.Stop()
	batchID := uuid.New()

	f.Poke(batchID)
	f.Flush(batchID)
	assert.Equal(t, 1, cs.count(batchID))

	// Flushing with nothing pending is a no-op.
	f.Flush(batchID)
	assert.Equal(t, 1, cs.count(batchID))
}

func TestFinalizer_StopCancelsPending(t *testing.T) {
	cs := newCountingStore()
	f := New(cs, 30*time.Millisecond)
	batchID := uuid.New()

	f.Poke(batchID)
	f.Stop()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, cs.count(batchID))
}

func TestFinalizer_PokeAfterSettleSchedulesAgain(t *testing.T) {
	cs := newCountingStore()
	f := New(cs, 20*time.Millisecond)
	defer f.Stop()
	batchID := uuid.New()

	f.Poke(batchID)
	assert.Eventually(t, func() bool { return cs.count(batchID) == 1 }, time.Second, 5*time.Millisecond)

	f.Poke(batchID)
	assert.Eventually(t, func() bool { return cs.count(batchID) == 2 }, time.Second, 5*time.Millisecond)
}
