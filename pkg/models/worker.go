package models

import "time"

// Engines the automation fleet knows how to drive.
const (
	EngineChatGPT    = "chatgpt"
	EngineGemini     = "gemini"
	EnginePerplexity = "perplexity"
	EngineGrok       = "grok"
)

// KnownEngines lists every engine the system accepts, in display order.
var KnownEngines = []string{EngineChatGPT, EngineGemini, EnginePerplexity, EngineGrok}

// IsKnownEngine reports whether name is a supported answer engine.
func IsKnownEngine(name string) bool {
	for _, e := range KnownEngines {
		if e == name {
			return true
		}
	}
	return false
}

// WorkerRecord is the liveness entry for one remote automation worker.
// Each worker owns only its own record; the registry is a shared read model.
type WorkerRecord struct {
	WorkerID        string    `json:"worker_id"`
	ChromeConnected bool      `json:"chrome_connected"`
	EnginesReady    []string  `json:"engines_ready"`
	JobsProcessed   int       `json:"jobs_processed"`
	JobsFailed      int       `json:"jobs_failed"`
	LastHeartbeat   time.Time `json:"last_heartbeat"`
}

// Availability is the aggregate capability report across live workers.
type Availability struct {
	Available   bool     `json:"available"`
	WorkerCount int      `json:"worker_count"`
	Engines     []string `json:"engines"`
}
