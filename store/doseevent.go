package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DoseStatus of a dose event
type DoseStatus string

const (
	// StatusUpcoming dose not yet due or within its grace window
	StatusUpcoming DoseStatus = "UPCOMING"
	// StatusTaken dose confirmed by the user, terminal unless undone
	StatusTaken DoseStatus = "TAKEN"
	// StatusMissed dose past its grace window, terminal
	StatusMissed DoseStatus = "MISSED"
)

// DateLayout for the calendar date of a dose event. The date carries no
// zone; it is resolved against the device zone at read time.
const DateLayout = "2006-01-02"

// DoseEvent is one scheduled occurrence of taking a medication
type DoseEvent struct {
	ID             uuid.UUID  `json:"id"`
	IDPrescription uuid.UUID  `json:"id_prescription"`
	Date           string     `json:"date"`
	Hour           int        `json:"hour"`
	Minute         int        `json:"minute"`
	DosageNote     string     `json:"dosage_note,omitempty"`
	Pinned         bool       `json:"pinned"`
	Status         DoseStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

// At resolves the event's wall-clock date and time in the given zone
func (d *DoseEvent) At(loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, d.Date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse dose event date %q: %w", d.Date, err)
	}

	return time.Date(day.Year(), day.Month(), day.Day(), d.Hour, d.Minute, 0, 0, loc), nil
}

// TimeKey orders dose events chronologically by (date, hour, minute)
func (d *DoseEvent) TimeKey() string {
	return fmt.Sprintf("%s %02d:%02d", d.Date, d.Hour, d.Minute)
}

func (d *DoseEvent) badgerKey() []byte {
	return badgerKeyForDoseEvent(d.ID)
}

func badgerKeyForDoseEvent(id uuid.UUID) []byte {
	return append([]byte("dose:"), id[:]...)
}
