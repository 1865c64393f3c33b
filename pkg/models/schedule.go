package models

import (
	"time"

	"github.com/google/uuid"
)

// Schedule frequencies. Sub-daily frequencies snap to fixed UTC slots so runs
// land on the same clock times instead of drifting with the tick.
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
	Frequency2xDaily = "2x_daily"
	Frequency3xDaily = "3x_daily"
)

// ValidFrequencies enumerates the accepted frequency values.
var ValidFrequencies = map[string]bool{
	FrequencyDaily:   true,
	FrequencyWeekly:  true,
	FrequencyMonthly: true,
	Frequency2xDaily: true,
	Frequency3xDaily: true,
}

// ScheduledAnalysis is a recurring definition that spawns new batches.
// Only the scheduler tick mutates next_run_at/last_run_at/run_count;
// request handlers toggle is_active and the initial scope only.
type ScheduledAnalysis struct {
	ID        uuid.UUID  `db:"id"          json:"id"`
	BrandID   uuid.UUID  `db:"brand_id"    json:"brand_id"`
	PromptIDs []uuid.UUID `db:"prompt_ids" json:"prompt_ids,omitempty"`
	Engines   []string   `db:"engines"     json:"engines"`
	Language  string     `db:"language"    json:"language"`
	Region    string     `db:"region"      json:"region"`
	Frequency string     `db:"frequency"   json:"frequency"`
	NextRunAt time.Time  `db:"next_run_at" json:"next_run_at"`
	LastRunAt *time.Time `db:"last_run_at" json:"last_run_at,omitempty"`
	RunCount  int        `db:"run_count"   json:"run_count"`
	IsActive  bool       `db:"is_active"   json:"is_active"`
	CreatedAt time.Time  `db:"created_at"  json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"  json:"updated_at"`
}
