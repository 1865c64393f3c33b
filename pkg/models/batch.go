// Package models contains shared data models used across the visibility codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Batch statuses. Transitions move forward only; the single exception is a
// user cancel, which force-transitions to failed from any non-terminal state.
const (
	BatchStatusQueued      = "queued"
	BatchStatusProcessing  = "processing"
	BatchStatusAwaitingRPA = "awaiting_rpa"
	BatchStatusCompleted   = "completed"
	BatchStatusFailed      = "failed"
)

// AnalysisBatch is one user- or scheduler-initiated unit of work, split into
// one simulation per (prompt, engine). total_simulations is fixed at creation
// so progress accounting always has a known denominator.
// successful_simulations is the worker-reported success count from a
// run_completed summary; nil when the batch settled per simulation.
type AnalysisBatch struct {
	ID                    uuid.UUID  `db:"id"                     json:"id"`
	BrandID               uuid.UUID  `db:"brand_id"               json:"brand_id"`
	Engines               []string   `db:"engines"                json:"engines"`
	Language              string     `db:"language"               json:"language"`
	Region                string     `db:"region"                 json:"region"`
	TotalSimulations      int        `db:"total_simulations"      json:"total_simulations"`
	CompletedSimulations  int        `db:"completed_simulations"  json:"completed_simulations"`
	SuccessfulSimulations *int       `db:"successful_simulations" json:"successful_simulations,omitempty"`
	Status                string     `db:"status"                 json:"status"`
	ErrorMessage          *string    `db:"error_message"          json:"error_message,omitempty"`
	RunID                 *string    `db:"run_id"                 json:"run_id,omitempty"`
	StartedAt             *time.Time `db:"started_at"             json:"started_at,omitempty"`
	CompletedAt           *time.Time `db:"completed_at"           json:"completed_at,omitempty"`
	CreatedAt             time.Time  `db:"created_at"             json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"             json:"updated_at"`
}

// IsTerminal reports whether the batch has reached a final state.
func (b *AnalysisBatch) IsTerminal() bool {
	return b.Status == BatchStatusCompleted || b.Status == BatchStatusFailed
}
