package models

import (
	"time"

	"github.com/google/uuid"
)

// Brand is a tracked client brand. The job DTO carries its name, domain and
// aliases so remote workers can run a local visibility pre-check.
type Brand struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Domain    string    `db:"domain"     json:"domain"`
	Aliases   []string  `db:"aliases"    json:"aliases"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Prompt is one question a brand wants checked against answer engines.
type Prompt struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	BrandID   uuid.UUID `db:"brand_id"   json:"brand_id"`
	Text      string    `db:"text"       json:"text"`
	IsActive  bool      `db:"is_active"  json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
