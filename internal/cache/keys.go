package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func WorkerKey(workerID string) string {
	return fmt.Sprintf("rpa:worker:%s", workerID)
}

// WorkerIndexKey is the set of worker ids with (possibly expired) records.
const WorkerIndexKey = "rpa:workers"

func SimulationStatusKey(simID uuid.UUID) string {
	return fmt.Sprintf("simulation:%s", simID)
}

func RateLimitKey(identity string) string {
	return fmt.Sprintf("ratelimit:%s", identity)
}
