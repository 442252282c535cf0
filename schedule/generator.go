package schedule

import (
	"errors"
	"fmt"
	"math"
	"time"

	"git.0xdad.com/tblyler/dosetime/store"
	"github.com/google/uuid"
)

// DefaultOpenEndedHorizon bounds generation for prescriptions without a pack
// size. Open-ended courses are materialized incrementally: the daemon tops
// them up as the horizon approaches instead of generating a huge course up
// front.
const DefaultOpenEndedHorizon = 14 * 24 * time.Hour

// ErrInvalidFrequency occurs when a prescription's dose gap rounds to zero
// or less
var ErrInvalidFrequency = errors.New("frequency must yield a positive dose gap")

// Gap between consecutive doses of a prescription
func Gap(p *store.Prescription) (time.Duration, error) {
	minutes := math.Round(p.FrequencyHours * 60)
	if minutes <= 0 {
		return 0, fmt.Errorf("frequency %v hours: %w", p.FrequencyHours, ErrInvalidFrequency)
	}

	return time.Duration(minutes) * time.Minute, nil
}

// CourseLength in doses, or false for an open-ended course
func CourseLength(p *store.Prescription) (int, bool) {
	if p.PackAmount == nil {
		return 0, false
	}

	perDose := math.Max(1, p.Dose)

	return int(math.Ceil(float64(*p.PackAmount) / perDose)), true
}

// Generate the course of dose events for a prescription beginning at the
// given first-dose wall-clock time. Pack-bounded courses produce exactly
// ceil(packAmount/max(dose,1)) events; open-ended courses stop at the
// horizon. Every event starts UPCOMING.
func Generate(p *store.Prescription, first time.Time, horizon time.Duration) ([]*store.DoseEvent, error) {
	gap, err := Gap(p)
	if err != nil {
		return nil, err
	}

	if horizon <= 0 {
		horizon = DefaultOpenEndedHorizon
	}

	var events []*store.DoseEvent
	doses, bounded := CourseLength(p)

	dt := first
	if bounded {
		for i := 0; i < doses; i++ {
			events = append(events, mk(p, dt))
			dt = dt.Add(gap)
		}
	} else {
		end := first.Add(horizon)
		for dt.Before(end) {
			events = append(events, mk(p, dt))
			dt = dt.Add(gap)
		}
	}

	return events, nil
}

// GenerateDay produces the doses that land on the first-dose's calendar day
// only, repeating the gap until the clock wraps past midnight
func GenerateDay(p *store.Prescription, first time.Time) ([]*store.DoseEvent, error) {
	gap, err := Gap(p)
	if err != nil {
		return nil, err
	}

	day := first.Format(store.DateLayout)

	var events []*store.DoseEvent
	for dt := first; dt.Format(store.DateLayout) == day; dt = dt.Add(gap) {
		events = append(events, mk(p, dt))
	}

	return events, nil
}

// Extend an open-ended course with events strictly after the given
// timestamp up to the limit. Pack-bounded courses are never extended.
func Extend(p *store.Prescription, after, until time.Time) ([]*store.DoseEvent, error) {
	if _, bounded := CourseLength(p); bounded {
		return nil, nil
	}

	gap, err := Gap(p)
	if err != nil {
		return nil, err
	}

	var events []*store.DoseEvent
	for dt := after.Add(gap); dt.Before(until); dt = dt.Add(gap) {
		events = append(events, mk(p, dt))
	}

	return events, nil
}

// DosageNote denormalized onto every generated dose event
func DosageNote(p *store.Prescription) string {
	return fmt.Sprintf("%v × %s", p.Dose, p.StrengthUnit)
}

func mk(p *store.Prescription, dt time.Time) *store.DoseEvent {
	return &store.DoseEvent{
		ID:             uuid.New(),
		IDPrescription: p.ID,
		Date:           dt.Format(store.DateLayout),
		Hour:           dt.Hour(),
		Minute:         dt.Minute(),
		DosageNote:     DosageNote(p),
		Status:         store.StatusUpcoming,
		CreatedAt:      time.Now(),
	}
}
