package store

import (
	"time"

	"github.com/google/uuid"
)

// Prescription extracted from a scanned label or manual edit
type Prescription struct {
	ID             uuid.UUID `json:"id"`
	Medicine       string    `json:"medicine"`
	StrengthUnit   string    `json:"strength_unit"`
	Dose           float64   `json:"dose"`
	FrequencyHours float64   `json:"frequency_hours"`
	PackAmount     *int      `json:"pack_amount,omitempty"`
	PackUnit       string    `json:"pack_unit,omitempty"`
	// Recommendations holds the cached advisory JSON, empty until fetched
	Recommendations string    `json:"recommendations,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func (p *Prescription) badgerKey() []byte {
	return badgerKeyForPrescription(p.ID)
}

func badgerKeyForPrescription(id uuid.UUID) []byte {
	return append([]byte("prescription:"), id[:]...)
}
