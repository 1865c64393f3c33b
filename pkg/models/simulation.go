package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Simulation statuses.
const (
	SimulationStatusPending     = "pending"
	SimulationStatusAwaitingRPA = "awaiting_rpa"
	SimulationStatusProcessing  = "processing"
	SimulationStatusCompleted   = "completed"
	SimulationStatusFailed      = "failed"
)

// Enrichment statuses. Enrichment tracks the async LLM signal-extraction step
// independently of the primary lifecycle so a retried enrichment cannot
// corrupt a simulation that already went terminal.
const (
	EnrichmentPending    = "pending"
	EnrichmentProcessing = "processing"
	EnrichmentCompleted  = "completed"
	EnrichmentFailed     = "failed"
)

// Simulation is one (prompt, engine) unit of analysis inside a batch.
// BatchID is nullable: simulations can be created outside a batch.
type Simulation struct {
	ID               uuid.UUID       `db:"id"                json:"id"`
	BatchID          *uuid.UUID      `db:"batch_id"          json:"batch_id,omitempty"`
	BrandID          uuid.UUID       `db:"brand_id"          json:"brand_id"`
	PromptID         uuid.UUID       `db:"prompt_id"         json:"prompt_id"`
	PromptText       string          `db:"prompt_text"       json:"prompt_text"`
	Engine           string          `db:"engine"            json:"engine"`
	Language         string          `db:"language"          json:"language"`
	Region           string          `db:"region"            json:"region"`
	Status           string          `db:"status"            json:"status"`
	EnrichmentStatus string          `db:"enrichment_status" json:"enrichment_status"`
	SelectionSignals json.RawMessage `db:"selection_signals" json:"selection_signals,omitempty"`
	ResponseText     *string         `db:"response_text"     json:"response_text,omitempty"`
	Sources          []string        `db:"sources"           json:"sources,omitempty"`
	IsVisible        *bool           `db:"is_visible"        json:"is_visible,omitempty"`
	ErrorMessage     *string         `db:"error_message"     json:"error_message,omitempty"`
	ClaimedBy        *string         `db:"claimed_by"        json:"claimed_by,omitempty"`
	ClaimedAt        *time.Time      `db:"claimed_at"        json:"claimed_at,omitempty"`
	CompletedAt      *time.Time      `db:"completed_at"      json:"completed_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"        json:"updated_at"`
}

// IsTerminal reports whether the simulation has reached a final state.
// Terminal simulations are never written again; a cancelled batch relies on
// this guard to keep straggler webhook and enrichment writes out.
func (s *Simulation) IsTerminal() bool {
	return s.Status == SimulationStatusCompleted || s.Status == SimulationStatusFailed
}

// PendingJob is the explicit DTO handed to polling remote workers. The
// automation fleet is specialized per engine, so jobs are filtered by engine
// before they reach the wire.
type PendingJob struct {
	SimulationID uuid.UUID  `json:"simulation_id"`
	PromptID     uuid.UUID  `json:"prompt_id"`
	PromptText   string     `json:"prompt_text"`
	Engine       string     `json:"engine"`
	Language     string     `json:"language"`
	Region       string     `json:"region"`
	BatchID      *uuid.UUID `json:"batch_id,omitempty"`
	BrandID      uuid.UUID  `json:"brand_id"`
	BrandDomain  string     `json:"brand_domain"`
	BrandName    string     `json:"brand_name"`
	BrandAliases []string   `json:"brand_aliases"`
}
