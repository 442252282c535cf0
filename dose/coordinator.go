package dose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"git.0xdad.com/tblyler/dosetime/advisory"
	"git.0xdad.com/tblyler/dosetime/alert"
	"git.0xdad.com/tblyler/dosetime/notify"
	"git.0xdad.com/tblyler/dosetime/schedule"
	"git.0xdad.com/tblyler/dosetime/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultSnoozeMinutes when a snooze request carries no duration
const DefaultSnoozeMinutes = 10

// PinnedCoverageMonths of daily dose events kept materialized ahead for
// pinned time slots
const PinnedCoverageMonths = 2

// Coordinator orchestrates the dose lifecycle: course activation, take and
// snooze handling, pinning, and timer recovery. All dose status writes go
// through here. Every storage "not found" short-circuits to a silent no-op;
// it means the entity raced a deletion or the work already happened.
type Coordinator struct {
	store       *store.Badger
	alerts      *alert.Scheduler
	notifier    notify.Notifier
	queue       *advisory.Queue
	recommender *advisory.Recommender
	horizon     time.Duration
	clock       func() time.Time
	loc         *time.Location
	log         logrus.FieldLogger
}

// NewCoordinator wires the store, alert scheduler, and notifier. The queue
// and recommender may be nil, disabling background recommendation fetches.
func NewCoordinator(
	db *store.Badger,
	alerts *alert.Scheduler,
	notifier notify.Notifier,
	queue *advisory.Queue,
	recommender *advisory.Recommender,
	log logrus.FieldLogger,
) *Coordinator {
	return &Coordinator{
		store:       db,
		alerts:      alerts,
		notifier:    notifier,
		queue:       queue,
		recommender: recommender,
		horizon:     schedule.DefaultOpenEndedHorizon,
		clock:       time.Now,
		loc:         time.Local,
		log:         log,
	}
}

// SetHorizon overrides the open-ended course generation horizon
func (c *Coordinator) SetHorizon(horizon time.Duration) {
	if horizon > 0 {
		c.horizon = horizon
	}
}

// HandleEvent dispatches an ingress event to the matching lifecycle path
func (c *Coordinator) HandleEvent(ev Event) error {
	switch ev := ev.(type) {
	case BootCompleted:
		return c.RestoreAfterReboot()
	case AlarmFired:
		return c.handleAlarm(ev.Key, ev.Payload)
	case UserAction:
		switch ev.Action {
		case ActionTake:
			return c.MarkTaken(ev.EventID)
		case ActionSnooze:
			return c.Snooze(ev.EventID, DefaultSnoozeMinutes)
		case ActionUndo:
			return c.UndoTaken(ev.EventID)
		}

		return fmt.Errorf("unknown user action %q", ev.Action)
	}

	return fmt.Errorf("unknown ingress event %T", ev)
}

// ActivateCourse generates and persists the dose course for a prescription
// and arms the alerts of its earliest upcoming dose. Activation is
// idempotent: a prescription with existing dose events is left untouched.
// The first generated dose is persisted TAKEN; activation doubles as the
// user's confirmation of the first dose.
func (c *Coordinator) ActivateCourse(presID uuid.UUID, first time.Time) error {
	return c.activate(presID, func(p *store.Prescription) ([]*store.DoseEvent, error) {
		return schedule.Generate(p, first, c.horizon)
	})
}

// ActivateDay materializes only the first calendar day of a course, for
// starting a prescription one day at a time before committing to the full
// pack. Same activation semantics as ActivateCourse.
func (c *Coordinator) ActivateDay(presID uuid.UUID, first time.Time) error {
	return c.activate(presID, func(p *store.Prescription) ([]*store.DoseEvent, error) {
		return schedule.GenerateDay(p, first)
	})
}

func (c *Coordinator) activate(presID uuid.UUID, generate func(*store.Prescription) ([]*store.DoseEvent, error)) error {
	existing, err := c.store.ListDoseEventsForPrescription(presID)
	if err != nil {
		return err
	}

	if len(existing) > 0 {
		c.log.WithField("prescription", presID).Info("course already activated")
		return nil
	}

	p, err := c.store.GetPrescription(presID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	events, err := generate(p)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		c.log.WithField("prescription", presID).Warn("nothing generated for course")
		return nil
	}

	events[0].Status = store.StatusTaken

	if err := c.store.AddDoseEvents(events); err != nil {
		return err
	}

	c.ensureRecommendations(p)

	c.log.WithFields(logrus.Fields{
		"prescription": presID,
		"doses":        len(events),
	}).Info("activated course")

	return c.armNext(p)
}

// DeletePrescription cancels every timer of the prescription's dose events
// and removes it with its course
func (c *Coordinator) DeletePrescription(presID uuid.UUID) error {
	events, err := c.store.ListDoseEventsForPrescription(presID)
	if err != nil {
		return err
	}

	for _, e := range events {
		c.alerts.Cancel(e.ID)
		c.clearNotifications(e.ID)
	}

	return c.store.DeletePrescription(presID)
}

// MarkTaken persists TAKEN for a dose, cancels its timers, and arms the
// prescription's next upcoming dose. Already-taken doses are a no-op.
func (c *Coordinator) MarkTaken(eventID uuid.UUID) error {
	e, err := c.store.GetDoseEvent(eventID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if e.Status == store.StatusTaken {
		return nil
	}

	if err := c.store.SetDoseStatus(eventID, store.StatusTaken); err != nil {
		return err
	}

	c.alerts.Cancel(eventID)
	c.clearNotifications(eventID)

	p, err := c.store.GetPrescription(e.IDPrescription)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return c.armNext(p)
}

// UndoTaken reverts an accidental take, the only allowed transition out of
// TAKEN
func (c *Coordinator) UndoTaken(eventID uuid.UUID) error {
	e, err := c.store.GetDoseEvent(eventID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if e.Status != store.StatusTaken {
		return nil
	}

	if err := c.store.SetDoseStatus(eventID, store.StatusUpcoming); err != nil {
		return err
	}

	p, err := c.store.GetPrescription(e.IDPrescription)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	return c.armNext(p)
}

// Snooze cancels the dose's PRE and MAIN timers and re-registers a single
// MAIN reminder after the given delay. Persisted status and the MISSED
// timer are untouched.
func (c *Coordinator) Snooze(eventID uuid.UUID, minutes int) error {
	if minutes <= 0 {
		minutes = DefaultSnoozeMinutes
	}

	e, err := c.store.GetDoseEvent(eventID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	p, err := c.store.GetPrescription(e.IDPrescription)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	c.alerts.CancelKind(eventID, alert.KindPre)
	c.alerts.CancelKind(eventID, alert.KindMain)
	c.notifier.Clear(alert.Key{EventID: eventID, Kind: alert.KindPre})
	c.notifier.Clear(alert.Key{EventID: eventID, Kind: alert.KindMain})

	c.alerts.ScheduleAt(e, p, alert.KindMain, c.clock().Add(time.Duration(minutes)*time.Minute))

	c.log.WithFields(logrus.Fields{
		"event":   eventID,
		"minutes": minutes,
	}).Info("snoozed dose")

	return nil
}

// SetPinnedForSlot pins or unpins every dose event of a prescription at the
// given time of day. Pinning tops up daily coverage for the pinned slots
// and re-arms the next upcoming alert; unpinning cancels the slot's alerts
// but leaves persisted rows untouched.
func (c *Coordinator) SetPinnedForSlot(presID uuid.UUID, hour, minute int, pinned bool) error {
	if err := c.store.SetPinnedForSlot(presID, hour, minute, pinned); err != nil {
		return err
	}

	p, err := c.store.GetPrescription(presID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if !pinned {
		events, err := c.store.EventsForSlot(presID, hour, minute)
		if err != nil {
			return err
		}

		for _, e := range events {
			c.alerts.Cancel(e.ID)
		}

		return nil
	}

	if err := c.ensureDailyCoverage(p); err != nil {
		return err
	}

	return c.armNext(p)
}

// SetPinnedForMedicine pins or unpins every dose event of every
// prescription with the given medicine name, case-insensitive
func (c *Coordinator) SetPinnedForMedicine(name string, pinned bool) error {
	prescriptions, err := c.store.ListPrescriptions()
	if err != nil {
		return err
	}

	matched := false
	for _, p := range prescriptions {
		if !strings.EqualFold(p.Medicine, name) {
			continue
		}

		matched = true

		events, err := c.store.ListDoseEventsForPrescription(p.ID)
		if err != nil {
			return err
		}

		for _, e := range events {
			if err := c.store.SetDoseEventPinned(e.ID, pinned); err != nil {
				return err
			}
		}

		if pinned {
			if err := c.ensureDailyCoverage(p); err != nil {
				return err
			}

			if err := c.armNext(p); err != nil {
				return err
			}

			continue
		}

		for _, e := range events {
			c.alerts.Cancel(e.ID)
		}
	}

	if !matched {
		c.log.WithField("medicine", name).Warn("no prescriptions found to pin")
	}

	return nil
}

// PinnedMedicines returns the lowercased medicine names with at least one
// pinned dose event. Pinned is a per-slot stored attribute; at the medicine
// level it is this derived view.
func (c *Coordinator) PinnedMedicines() (map[string]bool, error) {
	prescriptions, err := c.store.ListPrescriptions()
	if err != nil {
		return nil, err
	}

	byID := map[uuid.UUID]*store.Prescription{}
	for _, p := range prescriptions {
		byID[p.ID] = p
	}

	events, err := c.store.ListDoseEvents()
	if err != nil {
		return nil, err
	}

	pinned := map[string]bool{}
	for _, e := range events {
		if !e.Pinned {
			continue
		}

		if p, ok := byID[e.IDPrescription]; ok {
			pinned[strings.ToLower(p.Medicine)] = true
		}
	}

	return pinned, nil
}

// RestoreAfterReboot rebuilds the timer set from durable storage: for every
// prescription with an upcoming dose, only its single next dose is armed,
// keeping live timers O(active prescriptions)
func (c *Coordinator) RestoreAfterReboot() error {
	ids, err := c.store.UpcomingPrescriptionIDs()
	if err != nil {
		return err
	}

	c.log.WithField("prescriptions", len(ids)).Info("restoring alerts from storage")

	for _, id := range ids {
		p, err := c.store.GetPrescription(id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		if err := c.armNext(p); err != nil {
			return err
		}
	}

	return nil
}

// TopUp extends open-ended courses to the generation horizon and keeps
// pinned slots covered, then re-arms next alerts. Run daily by the daemon.
func (c *Coordinator) TopUp() error {
	prescriptions, err := c.store.ListPrescriptions()
	if err != nil {
		return err
	}

	now := c.clock()

	for _, p := range prescriptions {
		events, err := c.store.ListDoseEventsForPrescription(p.ID)
		if err != nil {
			return err
		}

		// not yet activated
		if len(events) == 0 {
			continue
		}

		last := events[len(events)-1]
		lastAt, err := last.At(c.loc)
		if err != nil {
			return err
		}

		extra, err := schedule.Extend(p, lastAt, now.Add(c.horizon))
		if err != nil {
			c.log.WithError(err).WithField("prescription", p.ID).Warn("skipping course extension")
		} else if len(extra) > 0 {
			if err := c.store.AddDoseEvents(extra); err != nil {
				return err
			}
		}

		if err := c.ensureDailyCoverage(p); err != nil {
			return err
		}

		if err := c.armNext(p); err != nil {
			return err
		}
	}

	return nil
}

// SweepMissed persists MISSED for upcoming doses whose grace window lapsed
// without their MISSED timer firing, then re-arms each affected
// prescription's next live dose. The effective-status resolver already
// presents the lapsed doses as missed; the sweep makes that durable and
// keeps the reminder chain going.
func (c *Coordinator) SweepMissed() error {
	events, err := c.store.ListDoseEvents()
	if err != nil {
		return err
	}

	now := c.clock()
	affected := map[uuid.UUID]bool{}

	for _, e := range events {
		if e.Status != store.StatusUpcoming {
			continue
		}

		due, err := e.At(c.loc)
		if err != nil {
			return err
		}

		if schedule.EffectiveStatus(e.Status, due, now) == store.StatusMissed {
			if err := c.store.SetDoseStatus(e.ID, store.StatusMissed); err != nil {
				return err
			}

			affected[e.IDPrescription] = true
		}
	}

	for presID := range affected {
		p, err := c.store.GetPrescription(presID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		if err := c.armNext(p); err != nil {
			return err
		}
	}

	return nil
}

// WipeAll cancels every timer and deletes all prescriptions and dose events
func (c *Coordinator) WipeAll() error {
	events, err := c.store.ListDoseEvents()
	if err != nil {
		return err
	}

	for _, e := range events {
		c.alerts.Cancel(e.ID)
		c.clearNotifications(e.ID)
	}

	return c.store.WipeAll()
}

// DoseView is one dose joined with its medicine and display status
type DoseView struct {
	Event     *store.DoseEvent
	Medicine  string
	Effective store.DoseStatus
	Pinned    bool
}

// Overview of all doses, chronological, with effective status and the
// derived medicine-level pinned flag resolved against the current time
func (c *Coordinator) Overview() ([]DoseView, error) {
	events, err := c.store.ListDoseEvents()
	if err != nil {
		return nil, err
	}

	prescriptions, err := c.store.ListPrescriptions()
	if err != nil {
		return nil, err
	}

	byID := map[uuid.UUID]*store.Prescription{}
	for _, p := range prescriptions {
		byID[p.ID] = p
	}

	pinnedMeds, err := c.PinnedMedicines()
	if err != nil {
		return nil, err
	}

	now := c.clock()

	views := make([]DoseView, 0, len(events))
	for _, e := range events {
		p, ok := byID[e.IDPrescription]
		if !ok {
			continue
		}

		due, err := e.At(c.loc)
		if err != nil {
			return nil, err
		}

		views = append(views, DoseView{
			Event:     e,
			Medicine:  p.Medicine,
			Effective: schedule.EffectiveStatus(e.Status, due, now),
			Pinned:    e.Pinned || pinnedMeds[strings.ToLower(p.Medicine)],
		})
	}

	return views, nil
}

/* ---------- internals ---------- */

// armNext schedules alerts for the prescription's earliest upcoming dose
// only; the chain advances one dose at a time. Doses already past their
// grace window are skipped over: all three of their triggers lie in the
// past, so arming them would register nothing and leave the prescription
// silent until the next maintenance pass. The sweep persists MISSED for
// the skipped ones.
func (c *Coordinator) armNext(p *store.Prescription) error {
	next, err := c.store.NextUpcoming(p.ID)
	if errors.Is(err, store.ErrNotFound) {
		c.log.WithField("prescription", p.ID).Info("no upcoming dose, end of course")
		return nil
	}
	if err != nil {
		return err
	}

	now := c.clock()

	for {
		due, err := next.At(c.loc)
		if err != nil {
			return err
		}

		if schedule.EffectiveStatus(next.Status, due, now) == store.StatusUpcoming {
			return c.alerts.ScheduleAll(next, p)
		}

		next, err = c.store.NextUpcomingAfter(p.ID, next)
		if errors.Is(err, store.ErrNotFound) {
			c.log.WithField("prescription", p.ID).Info("no live upcoming dose, end of course")
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (c *Coordinator) handleAlarm(key alert.Key, payload alert.Payload) error {
	log := c.log.WithFields(logrus.Fields{
		"event": key.EventID,
		"kind":  key.Kind.String(),
	})

	switch key.Kind {
	case alert.KindPre:
		return c.notifier.Show(notify.Notification{
			Key:       key,
			Title:     "Medicine Reminder",
			Body:      fmt.Sprintf("Take %s (%s) at %s in 5 minutes.", payload.Medicine, payload.Dosage, payload.Time),
			Primary:   string(ActionTake),
			Secondary: string(ActionSnooze),
		})

	case alert.KindMain:
		err := c.notifier.Show(notify.Notification{
			Key:       key,
			Title:     "Time to take your medicine!",
			Body:      fmt.Sprintf("It's time for %s (%s).", payload.Medicine, payload.Dosage),
			Primary:   string(ActionTake),
			Secondary: string(ActionSnooze),
			Sticky:    true,
		})
		if err != nil {
			log.WithError(err).Error("failed to show main reminder")
		}

		e, err := c.store.GetDoseEvent(key.EventID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		p, err := c.store.GetPrescription(e.IDPrescription)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		// arm the following dose; this one stays live until taken or missed
		next, err := c.store.NextUpcomingAfter(p.ID, e)
		if err == nil {
			if err := c.alerts.ScheduleAll(next, p); err != nil {
				return err
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		} else {
			log.Info("no next dose, end of course")
		}

		// pinned slots repeat daily at the same wall-clock time
		if e.Pinned {
			due, err := e.At(c.loc)
			if err != nil {
				return err
			}

			c.alerts.ScheduleAllAt(e, p, due.AddDate(0, 0, 1))
		}

		return nil

	case alert.KindMissed:
		e, err := c.store.GetDoseEvent(key.EventID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if e.Status != store.StatusUpcoming {
			return nil
		}

		if err := c.store.SetDoseStatus(e.ID, store.StatusMissed); err != nil {
			return err
		}

		return c.notifier.Show(notify.Notification{
			Key:     key,
			Title:   "Missed Dose",
			Body:    fmt.Sprintf("You may have missed your %s (%s) dose at %s.", payload.Medicine, payload.Dosage, payload.Time),
			Primary: string(ActionTake),
		})
	}

	return fmt.Errorf("unknown alert kind %v", key.Kind)
}

// ensureDailyCoverage materializes daily UPCOMING events for every pinned
// time slot of the prescription out to the coverage window, skipping dates
// that already have a row for that slot
func (c *Coordinator) ensureDailyCoverage(p *store.Prescription) error {
	events, err := c.store.ListDoseEventsForPrescription(p.ID)
	if err != nil {
		return err
	}

	type slot struct{ hour, minute int }

	slots := map[slot]bool{}
	existing := map[string]bool{}
	for _, e := range events {
		if e.Pinned {
			slots[slot{e.Hour, e.Minute}] = true
		}

		existing[e.TimeKey()] = true
	}

	if len(slots) == 0 {
		return nil
	}

	now := c.clock()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.loc)
	end := today.AddDate(0, PinnedCoverageMonths, 0)

	var toInsert []*store.DoseEvent
	for s := range slots {
		for d := today; !d.After(end); d = d.AddDate(0, 0, 1) {
			e := &store.DoseEvent{
				ID:             uuid.New(),
				IDPrescription: p.ID,
				Date:           d.Format(store.DateLayout),
				Hour:           s.hour,
				Minute:         s.minute,
				DosageNote:     schedule.DosageNote(p),
				Pinned:         true,
				Status:         store.StatusUpcoming,
				CreatedAt:      now,
			}

			if existing[e.TimeKey()] {
				continue
			}

			toInsert = append(toInsert, e)
		}
	}

	if len(toInsert) == 0 {
		return nil
	}

	c.log.WithFields(logrus.Fields{
		"prescription": p.ID,
		"doses":        len(toInsert),
	}).Info("topping up pinned daily coverage")

	return c.store.AddDoseEvents(toInsert)
}

// ensureRecommendations queues a background fetch when the prescription has
// no cached advisory text yet
func (c *Coordinator) ensureRecommendations(p *store.Prescription) {
	if p.Recommendations != "" || c.queue == nil || c.recommender == nil {
		return
	}

	presID := p.ID
	drug := p.Medicine

	c.queue.Enqueue(advisory.Job{
		Name: "recommendations:" + drug,
		Run: func(ctx context.Context) error {
			list, err := c.recommender.Fetch(ctx, drug)
			if err != nil {
				return err
			}

			encoded, err := advisory.EncodeRecommendations(drug, list)
			if err != nil {
				return err
			}

			err = c.store.SetRecommendations(presID, encoded)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}

			return err
		},
	})
}

func (c *Coordinator) clearNotifications(eventID uuid.UUID) {
	for _, key := range alert.KeysFor(eventID) {
		c.notifier.Clear(key)
	}
}
