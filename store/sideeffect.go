package store

import (
	"time"

	"github.com/google/uuid"
)

// SideEffectReport logged by the user, analyzed in the background
type SideEffectReport struct {
	ID             uuid.UUID  `json:"id"`
	IDPrescription *uuid.UUID `json:"id_prescription,omitempty"`
	Description    string     `json:"description"`
	Severity       Severity   `json:"severity"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

func (s *SideEffectReport) badgerKey() []byte {
	return badgerKeyForSideEffect(s.ID)
}

func badgerKeyForSideEffect(id uuid.UUID) []byte {
	return append([]byte("sideeffect:"), id[:]...)
}
