package store

import (
	"time"

	"github.com/google/uuid"
)

// Severity of a warning or side effect report
type Severity string

const (
	// SeverityLow mild discomfort, self limiting
	SeverityLow Severity = "LOW"
	// SeverityMedium moderate symptoms, monitoring needed
	SeverityMedium Severity = "MEDIUM"
	// SeverityHigh severe symptoms, immediate attention required
	SeverityHigh Severity = "HIGH"
)

// Warning derived from a side effect analysis or imported advisory data.
// Immutable once written except for the Resolved flag.
type Warning struct {
	ID                uuid.UUID `json:"id"`
	Title             string    `json:"title"`
	DrugPossibleCause string    `json:"drug_possible_cause"`
	WarningType       string    `json:"warning_type"`
	Severity          Severity  `json:"severity"`
	Confidence        *float64  `json:"confidence,omitempty"`
	Reasoning         string    `json:"reasoning,omitempty"`
	Recommendations   []string  `json:"recommendations,omitempty"`
	Resolved          bool      `json:"resolved"`
	CreatedAt         time.Time `json:"created_at"`
}

func (w *Warning) badgerKey() []byte {
	return badgerKeyForWarning(w.ID)
}

func badgerKeyForWarning(id uuid.UUID) []byte {
	return append([]byte("warning:"), id[:]...)
}
