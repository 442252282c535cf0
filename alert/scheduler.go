package alert

import (
	"fmt"
	"time"

	"git.0xdad.com/tblyler/dosetime/schedule"
	"git.0xdad.com/tblyler/dosetime/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PreLead before the due time at which the PRE reminder fires
const PreLead = 5 * time.Minute

// MissedLag after the due time at which the MISSED check fires
const MissedLag = schedule.GraceWindow

// Payload carried by a timer registration and delivered back on fire
type Payload struct {
	EventID        uuid.UUID `json:"event_id"`
	PrescriptionID uuid.UUID `json:"prescription_id"`
	Medicine       string    `json:"medicine"`
	Dosage         string    `json:"dosage"`
	Time           string    `json:"time"`
	Pinned         bool      `json:"pinned"`
}

// TimerService is the platform exact-timer collaborator. Schedule with an
// already-registered key overwrites the previous registration.
type TimerService interface {
	Schedule(key Key, at time.Time, payload Payload) error
	Cancel(key Key)
	CanScheduleExact() bool
}

// Scheduler registers and cancels the three timers of a dose event
type Scheduler struct {
	timers TimerService
	clock  func() time.Time
	loc    *time.Location
	log    logrus.FieldLogger
}

// NewScheduler for the given timer service
func NewScheduler(timers TimerService, log logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		timers: timers,
		clock:  time.Now,
		loc:    time.Local,
		log:    log,
	}
}

// ScheduleAll registers PRE, MAIN, and MISSED timers for a dose event at its
// own due time
func (s *Scheduler) ScheduleAll(e *store.DoseEvent, p *store.Prescription) error {
	due, err := e.At(s.loc)
	if err != nil {
		return err
	}

	s.ScheduleAllAt(e, p, due)

	return nil
}

// ScheduleAllAt registers the three timers relative to an explicit due time,
// used for pinned daily repeats
func (s *Scheduler) ScheduleAllAt(e *store.DoseEvent, p *store.Prescription, due time.Time) {
	s.register(e, p, KindPre, due.Add(-PreLead))
	s.register(e, p, KindMain, due)
	s.register(e, p, KindMissed, due.Add(MissedLag))
}

// ScheduleAt registers a single timer of the given kind, used for snooze
func (s *Scheduler) ScheduleAt(e *store.DoseEvent, p *store.Prescription, kind Kind, at time.Time) {
	s.register(e, p, kind, at)
}

// Cancel all three timers of a dose event. The keys are re-derived from the
// event id alone; no handle lookup is needed.
func (s *Scheduler) Cancel(eventID uuid.UUID) {
	for _, key := range KeysFor(eventID) {
		s.timers.Cancel(key)
	}
}

// CancelKind cancels a single timer of a dose event
func (s *Scheduler) CancelKind(eventID uuid.UUID, kind Kind) {
	s.timers.Cancel(Key{EventID: eventID, Kind: kind})
}

func (s *Scheduler) register(e *store.DoseEvent, p *store.Prescription, kind Kind, at time.Time) {
	log := s.log.WithFields(logrus.Fields{
		"event": e.ID,
		"kind":  kind.String(),
		"at":    at,
	})

	// stale alerts are never fired retroactively
	if at.Before(s.clock()) {
		log.Warn("skipping alert registration, trigger time is in the past")
		return
	}

	if !s.timers.CanScheduleExact() {
		log.Error("skipping alert registration, exact timers unavailable")
		return
	}

	err := s.timers.Schedule(Key{EventID: e.ID, Kind: kind}, at, Payload{
		EventID:        e.ID,
		PrescriptionID: p.ID,
		Medicine:       p.Medicine,
		Dosage:         e.DosageNote,
		Time:           fmt.Sprintf("%02d:%02d", e.Hour, e.Minute),
		Pinned:         e.Pinned,
	})
	if err != nil {
		log.WithError(err).Error("failed to register alert")
		return
	}

	log.Info("registered alert")
}
