package dose

import (
	"testing"
	"time"

	"git.0xdad.com/tblyler/dosetime/alert"
	"git.0xdad.com/tblyler/dosetime/notify"
	"git.0xdad.com/tblyler/dosetime/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimers struct {
	scheduled map[alert.Key]time.Time
	cancelled []alert.Key
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{scheduled: map[alert.Key]time.Time{}}
}

func (f *fakeTimers) Schedule(key alert.Key, at time.Time, _ alert.Payload) error {
	f.scheduled[key] = at
	return nil
}

func (f *fakeTimers) Cancel(key alert.Key) {
	f.cancelled = append(f.cancelled, key)
	delete(f.scheduled, key)
}

func (f *fakeTimers) CanScheduleExact() bool {
	return true
}

func (f *fakeTimers) kindsFor(eventID uuid.UUID) []alert.Kind {
	var kinds []alert.Kind
	for _, key := range alert.KeysFor(eventID) {
		if _, ok := f.scheduled[key]; ok {
			kinds = append(kinds, key.Kind)
		}
	}

	return kinds
}

type fakeNotifier struct {
	shown   []notify.Notification
	cleared []alert.Key
}

func (f *fakeNotifier) Show(n notify.Notification) error {
	f.shown = append(f.shown, n)
	return nil
}

func (f *fakeNotifier) Clear(key alert.Key) {
	f.cleared = append(f.cleared, key)
}

type fixture struct {
	store    *store.Badger
	timers   *fakeTimers
	notifier *fakeNotifier
	coord    *Coordinator
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	b, err := store.NewBadger(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, b.Close())
	})

	timers := newFakeTimers()
	notifier := &fakeNotifier{}

	logger := logrus.New()
	coord := NewCoordinator(b, alert.NewScheduler(timers, logger), notifier, nil, nil, logger)

	// a fixed clock well in the future keeps every generated trigger
	// ahead of the wall clock used by the alert scheduler
	now := time.Date(2027, 3, 1, 7, 0, 0, 0, time.UTC)
	coord.clock = func() time.Time { return now }
	coord.loc = time.UTC

	return &fixture{store: b, timers: timers, notifier: notifier, coord: coord, now: now}
}

func (f *fixture) addPrescription(t *testing.T, pack *int) *store.Prescription {
	t.Helper()

	p := &store.Prescription{
		ID:             uuid.New(),
		Medicine:       "Metformin",
		StrengthUnit:   "500mg",
		Dose:           1,
		FrequencyHours: 8,
		PackAmount:     pack,
		CreatedAt:      f.now,
	}
	require.NoError(t, f.store.AddPrescription(p))

	return p
}

func intPtr(i int) *int {
	return &i
}

func TestActivateCourse(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, intPtr(9))

	first := time.Date(2027, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, f.coord.ActivateCourse(p.ID, first))

	events, err := f.store.ListDoseEventsForPrescription(p.ID)
	require.NoError(t, err)
	require.Len(t, events, 9)

	// activation doubles as confirmation of the first dose
	assert.Equal(t, store.StatusTaken, events[0].Status)
	for _, e := range events[1:] {
		assert.Equal(t, store.StatusUpcoming, e.Status)
	}

	// only the next upcoming dose holds live timers
	assert.Len(t, f.timers.scheduled, 3)
	assert.Len(t, f.timers.kindsFor(events[1].ID), 3)
}

func TestActivateCourseIdempotent(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, intPtr(9))

	first := time.Date(2027, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, f.coord.ActivateCourse(p.ID, first))
	require.NoError(t, f.coord.ActivateCourse(p.ID, first.Add(time.Hour)))

	events, err := f.store.ListDoseEventsForPrescription(p.ID)
	require.NoError(t, err)
	assert.Len(t, events, 9)
}

func TestActivateCourseMissingPrescription(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.coord.ActivateCourse(uuid.New(), f.now))

	events, err := f.store.ListDoseEvents()
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMarkTakenChainsNext(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, intPtr(9))

	first := time.Date(2027, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, f.coord.ActivateCourse(p.ID, first))

	events, err := f.store.ListDoseEventsForPrescription(p.ID)
	require.NoError(t, err)

	second, third := events[1], events[2]
	require.NoError(t, f.coord.MarkTaken(second.ID))

	got, err := f.store.GetDoseEvent(second.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusTaken, got.Status)

	// its timers are gone, its notifications cleared, the next dose armed
	assert.Empty(t, f.timers.kindsFor(second.ID))
	assert.Len(t, f.notifier.cleared, 3)
	assert.Len(t, f.timers.kindsFor(third.ID), 3)

	// marking again changes nothing
	before := len(f.timers.cancelled)
	require.NoError(t, f.coord.MarkTaken(second.ID))
	assert.Equal(t, before, len(f.timers.cancelled))

	// unknown event is a silent no-op
	require.NoError(t, f.coord.MarkTaken(uuid.New()))
}

func TestUndoTaken(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, intPtr(9))

	require.NoError(t, f.coord.ActivateCourse(p.ID, time.Date(2027, 3, 1, 8, 0, 0, 0, time.UTC)))

	events, err := f.store.ListDoseEventsForPrescription(p.ID)
	require.NoError(t, err)

	second := events[1]
	require.NoError(t, f.coord.MarkTaken(second.ID))
	require.NoError(t, f.coord.UndoTaken(second.ID))

	got, err := f.store.GetDoseEvent(second.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusUpcoming, got.Status)

	// the undone dose is the earliest upcoming again and re-armed
	assert.Len(t, f.timers.kindsFor(second.ID), 3)

	// undoing a dose that was never taken is a no-op
	require.NoError(t, f.coord.UndoTaken(events[2].ID))
}

func TestSnooze(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, intPtr(9))

	require.NoError(t, f.coord.ActivateCourse(p.ID, time.Date(2027, 3, 1, 8, 0, 0, 0, time.UTC)))

	events, err := f.store.ListDoseEventsForPrescription(p.ID)
	require.NoError(t, err)

	second := events[1]
	require.NoError(t, f.coord.Snooze(second.ID, 0))

	// PRE is gone, MISSED stays, MAIN moved to now plus the default delay
	kinds := f.timers.kindsFor(second.ID)
	assert.Equal(t, []alert.Kind{alert.KindMain, alert.KindMissed}, kinds)

	mainAt := f.timers.scheduled[alert.Key{EventID: second.ID, Kind: alert.KindMain}]
	assert.Equal(t, f.now.Add(DefaultSnoozeMinutes*time.Minute), mainAt)

	// persisted status is untouched
	got, err := f.store.GetDoseEvent(second.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusUpcoming, got.Status)
}

func TestHandleAlarmMissed(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, intPtr(9))

	require.NoError(t, f.coord.ActivateCourse(p.ID, time.Date(2027, 3, 1, 8, 0, 0, 0, time.UTC)))

	events, err := f.store.ListDoseEventsForPrescription(p.ID)
	require.NoError(t, err)
	second := events[1]

	fired := AlarmFired{
		Key:     alert.Key{EventID: second.ID, Kind: alert.KindMissed},
		Payload: alert.Payload{EventID: second.ID, Medicine: p.Medicine, Dosage: second.DosageNote, Time: "16:00"},
	}

	require.NoError(t, f.coord.HandleEvent(fired))

	got, err := f.store.GetDoseEvent(second.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusMissed, got.Status)

	require.Len(t, f.notifier.shown, 1)
	assert.Equal(t, "Missed Dose", f.notifier.shown[0].Title)

	// a dose already taken when the missed check fires stays taken
	third := events[2]
	require.NoError(t, f.store.SetDoseStatus(third.ID, store.StatusTaken))

	require.NoError(t, f.coord.HandleEvent(AlarmFired{
		Key: alert.Key{EventID: third.ID, Kind: alert.KindMissed},
	}))

	got, err = f.store.GetDoseEvent(third.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusTaken, got.Status)
	assert.Len(t, f.notifier.shown, 1)
}

func TestHandleAlarmMainChainsNext(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, intPtr(9))

	require.NoError(t, f.coord.ActivateCourse(p.ID, time.Date(2027, 3, 1, 8, 0, 0, 0, time.UTC)))

	events, err := f.store.ListDoseEventsForPrescription(p.ID)
	require.NoError(t, err)
	second, third := events[1], events[2]

	require.NoError(t, f.coord.HandleEvent(AlarmFired{
		Key:     alert.Key{EventID: second.ID, Kind: alert.KindMain},
		Payload: alert.Payload{EventID: second.ID, Medicine: p.Medicine},
	}))

	// the main reminder shows sticky and the following dose is armed
	require.Len(t, f.notifier.shown, 1)
	assert.True(t, f.notifier.shown[0].Sticky)
	assert.Len(t, f.timers.kindsFor(third.ID), 3)
}

func TestHandleAlarmPre(t *testing.T) {
	f := newFixture(t)

	id := uuid.New()
	require.NoError(t, f.coord.HandleEvent(AlarmFired{
		Key:     alert.Key{EventID: id, Kind: alert.KindPre},
		Payload: alert.Payload{EventID: id, Medicine: "Metformin", Dosage: "1 × 500mg", Time: "16:00"},
	}))

	require.Len(t, f.notifier.shown, 1)
	n := f.notifier.shown[0]
	assert.Equal(t, "Medicine Reminder", n.Title)
	assert.Contains(t, n.Body, "in 5 minutes")
	assert.False(t, n.Sticky)
}

func TestUserActions(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, intPtr(9))

	require.NoError(t, f.coord.ActivateCourse(p.ID, time.Date(2027, 3, 1, 8, 0, 0, 0, time.UTC)))

	events, err := f.store.ListDoseEventsForPrescription(p.ID)
	require.NoError(t, err)
	second := events[1]

	require.NoError(t, f.coord.HandleEvent(UserAction{EventID: second.ID, Action: ActionTake}))

	got, err := f.store.GetDoseEvent(second.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusTaken, got.Status)

	require.NoError(t, f.coord.HandleEvent(UserAction{EventID: second.ID, Action: ActionUndo}))

	got, err = f.store.GetDoseEvent(second.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusUpcoming, got.Status)

	assert.Error(t, f.coord.HandleEvent(UserAction{EventID: second.ID, Action: Action("explode")}))
}

func TestRestoreAfterReboot(t *testing.T) {
	f := newFixture(t)

	one := f.addPrescription(t, intPtr(9))
	two := f.addPrescription(t, intPtr(6))

	require.NoError(t, f.coord.ActivateCourse(one.ID, time.Date(2027, 3, 1, 8, 0, 0, 0, time.UTC)))
	require.NoError(t, f.coord.ActivateCourse(two.ID, time.Date(2027, 3, 1, 9, 0, 0, 0, time.UTC)))

	// simulate losing every in-process timer
	f.timers.scheduled = map[alert.Key]time.Time{}

	require.NoError(t, f.coord.HandleEvent(BootCompleted{}))

	// exactly one dose per prescription is re-armed
	assert.Len(t, f.timers.scheduled, 6)

	oneEvents, err := f.store.ListDoseEventsForPrescription(one.ID)
	require.NoError(t, err)
	assert.Len(t, f.timers.kindsFor(oneEvents[1].ID), 3)

	twoEvents, err := f.store.ListDoseEventsForPrescription(two.ID)
	require.NoError(t, err)
	assert.Len(t, f.timers.kindsFor(twoEvents[1].ID), 3)
}

func TestRestoreAfterRebootSkipsLapsedDose(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, nil)

	// outage scenario: the head of the course lapsed two hours ago,
	// the following dose is tomorrow
	lapsed := &store.DoseEvent{
		ID:             uuid.New(),
		IDPrescription: p.ID,
		Date:           "2027-03-01",
		Hour:           5,
		Minute:         0,
		Status:         store.StatusUpcoming,
		CreatedAt:      f.now,
	}
	future := &store.DoseEvent{
		ID:             uuid.New(),
		IDPrescription: p.ID,
		Date:           "2027-03-02",
		Hour:           8,
		Minute:         0,
		Status:         store.StatusUpcoming,
		CreatedAt:      f.now,
	}
	require.NoError(t, f.store.AddDoseEvents([]*store.DoseEvent{lapsed, future}))

	require.NoError(t, f.coord.HandleEvent(BootCompleted{}))

	// the lapsed dose has no future triggers left; restore must arm the
	// next live dose instead of leaving the prescription silent
	assert.Empty(t, f.timers.kindsFor(lapsed.ID))
	assert.Len(t, f.timers.kindsFor(future.ID), 3)
}

func TestSweepMissedReArmsNextDose(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, nil)

	lapsed := &store.DoseEvent{
		ID:             uuid.New(),
		IDPrescription: p.ID,
		Date:           "2027-03-01",
		Hour:           5,
		Minute:         0,
		Status:         store.StatusUpcoming,
		CreatedAt:      f.now,
	}
	future := &store.DoseEvent{
		ID:             uuid.New(),
		IDPrescription: p.ID,
		Date:           "2027-03-02",
		Hour:           8,
		Minute:         0,
		Status:         store.StatusUpcoming,
		CreatedAt:      f.now,
	}
	require.NoError(t, f.store.AddDoseEvents([]*store.DoseEvent{lapsed, future}))

	require.NoError(t, f.coord.SweepMissed())

	got, err := f.store.GetDoseEvent(lapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusMissed, got.Status)

	// persisting MISSED keeps the reminder chain going
	assert.Len(t, f.timers.kindsFor(future.ID), 3)
}

func TestDeletePrescriptionCancelsTimers(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, intPtr(9))
	other := f.addPrescription(t, intPtr(9))

	require.NoError(t, f.coord.ActivateCourse(p.ID, time.Date(2027, 3, 1, 8, 0, 0, 0, time.UTC)))
	require.NoError(t, f.coord.ActivateCourse(other.ID, time.Date(2027, 3, 1, 9, 0, 0, 0, time.UTC)))

	require.NoError(t, f.coord.DeletePrescription(p.ID))

	_, err := f.store.GetPrescription(p.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	events, err := f.store.ListDoseEventsForPrescription(p.ID)
	require.NoError(t, err)
	assert.Empty(t, events)

	// only the other prescription's dose still holds timers
	assert.Len(t, f.timers.scheduled, 3)

	otherEvents, err := f.store.ListDoseEventsForPrescription(other.ID)
	require.NoError(t, err)
	assert.Len(t, f.timers.kindsFor(otherEvents[1].ID), 3)

	// deleting an unknown prescription is a no-op
	require.NoError(t, f.coord.DeletePrescription(uuid.New()))
}

func TestActivateDay(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, intPtr(9))

	first := time.Date(2027, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, f.coord.ActivateDay(p.ID, first))

	events, err := f.store.ListDoseEventsForPrescription(p.ID)
	require.NoError(t, err)

	// 08:00 and 16:00 fit the day, the midnight dose does not
	require.Len(t, events, 2)
	assert.Equal(t, store.StatusTaken, events[0].Status)
	assert.Equal(t, store.StatusUpcoming, events[1].Status)
	assert.Len(t, f.timers.kindsFor(events[1].ID), 3)

	// the activation guard applies across both forms
	require.NoError(t, f.coord.ActivateCourse(p.ID, first))

	events, err = f.store.ListDoseEventsForPrescription(p.ID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestSetPinnedForSlotCoverage(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, intPtr(9))

	require.NoError(t, f.coord.ActivateCourse(p.ID, time.Date(2027, 3, 1, 8, 0, 0, 0, time.UTC)))

	require.NoError(t, f.coord.SetPinnedForSlot(p.ID, 8, 0, true))

	events, err := f.store.ListDoseEventsForPrescription(p.ID)
	require.NoError(t, err)

	// daily coverage for the pinned slot with no duplicated date+slot rows
	slotDates := map[string]int{}
	pinnedCount := 0
	for _, e := range events {
		if e.Hour == 8 && e.Minute == 0 {
			slotDates[e.Date]++
			if e.Pinned {
				pinnedCount++
			}
		}
	}

	for date, n := range slotDates {
		assert.Equal(t, 1, n, "duplicate slot row on %s", date)
	}

	// two months of daily rows starting from the coordinator's today
	assert.GreaterOrEqual(t, len(slotDates), 60)
	assert.Equal(t, len(slotDates), pinnedCount)

	pinned, err := f.coord.PinnedMedicines()
	require.NoError(t, err)
	assert.True(t, pinned["metformin"])
}

func TestSetPinnedForSlotUnpinCancels(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, intPtr(9))

	require.NoError(t, f.coord.ActivateCourse(p.ID, time.Date(2027, 3, 1, 8, 0, 0, 0, time.UTC)))
	require.NoError(t, f.coord.SetPinnedForSlot(p.ID, 8, 0, true))
	require.NoError(t, f.coord.SetPinnedForSlot(p.ID, 8, 0, false))

	events, err := f.store.EventsForSlot(p.ID, 8, 0)
	require.NoError(t, err)

	for _, e := range events {
		assert.False(t, e.Pinned)
		assert.Empty(t, f.timers.kindsFor(e.ID))
	}
}

func TestSetPinnedForMedicine(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, intPtr(9))

	require.NoError(t, f.coord.ActivateCourse(p.ID, time.Date(2027, 3, 1, 8, 0, 0, 0, time.UTC)))

	// case-insensitive medicine match
	require.NoError(t, f.coord.SetPinnedForMedicine("METFORMIN", true))

	events, err := f.store.ListDoseEventsForPrescription(p.ID)
	require.NoError(t, err)

	for _, e := range events {
		assert.True(t, e.Pinned)
	}

	pinned, err := f.coord.PinnedMedicines()
	require.NoError(t, err)
	assert.True(t, pinned["metformin"])

	require.NoError(t, f.coord.SetPinnedForMedicine("metformin", false))

	pinned, err = f.coord.PinnedMedicines()
	require.NoError(t, err)
	assert.False(t, pinned["metformin"])
}

func TestTopUpExtendsOpenEndedCourse(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, nil)

	first := time.Date(2027, 2, 20, 8, 0, 0, 0, time.UTC)
	require.NoError(t, f.coord.ActivateCourse(p.ID, first))

	before, err := f.store.ListDoseEventsForPrescription(p.ID)
	require.NoError(t, err)

	require.NoError(t, f.coord.TopUp())

	after, err := f.store.ListDoseEventsForPrescription(p.ID)
	require.NoError(t, err)

	// the course now reaches the horizon from the current clock
	assert.Greater(t, len(after), len(before))

	last, err := after[len(after)-1].At(time.UTC)
	require.NoError(t, err)
	assert.True(t, last.After(f.now.Add(13*24*time.Hour)))
}

func TestSweepMissed(t *testing.T) {
	f := newFixture(t)

	presID := uuid.New()
	lapsed := &store.DoseEvent{
		ID:             uuid.New(),
		IDPrescription: presID,
		Date:           "2027-02-28",
		Hour:           8,
		Minute:         0,
		Status:         store.StatusUpcoming,
		CreatedAt:      f.now,
	}
	fresh := &store.DoseEvent{
		ID:             uuid.New(),
		IDPrescription: presID,
		Date:           "2027-03-01",
		Hour:           6,
		Minute:         45,
		Status:         store.StatusUpcoming,
		CreatedAt:      f.now,
	}
	require.NoError(t, f.store.AddDoseEvents([]*store.DoseEvent{lapsed, fresh}))

	require.NoError(t, f.coord.SweepMissed())

	got, err := f.store.GetDoseEvent(lapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusMissed, got.Status)

	// 06:45 is within the grace window of the 07:00 clock
	got, err = f.store.GetDoseEvent(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusUpcoming, got.Status)

	// the sweep itself never notifies
	assert.Empty(t, f.notifier.shown)
}

func TestWipeAll(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, intPtr(9))

	require.NoError(t, f.coord.ActivateCourse(p.ID, time.Date(2027, 3, 1, 8, 0, 0, 0, time.UTC)))
	require.NotEmpty(t, f.timers.scheduled)

	require.NoError(t, f.coord.WipeAll())

	assert.Empty(t, f.timers.scheduled)

	events, err := f.store.ListDoseEvents()
	require.NoError(t, err)
	assert.Empty(t, events)

	prescriptions, err := f.store.ListPrescriptions()
	require.NoError(t, err)
	assert.Empty(t, prescriptions)
}

func TestOverviewEffectiveStatus(t *testing.T) {
	f := newFixture(t)
	p := f.addPrescription(t, nil)

	require.NoError(t, f.store.AddDoseEvents([]*store.DoseEvent{
		{
			ID:             uuid.New(),
			IDPrescription: p.ID,
			Date:           "2027-02-28",
			Hour:           8,
			Minute:         0,
			Status:         store.StatusUpcoming,
			CreatedAt:      f.now,
		},
		{
			ID:             uuid.New(),
			IDPrescription: p.ID,
			Date:           "2027-03-01",
			Hour:           16,
			Minute:         0,
			Status:         store.StatusUpcoming,
			CreatedAt:      f.now,
		},
	}))

	views, err := f.coord.Overview()
	require.NoError(t, err)
	require.Len(t, views, 2)

	// the persisted status still says UPCOMING but the lapsed dose
	// presents as missed
	assert.Equal(t, store.StatusMissed, views[0].Effective)
	assert.Equal(t, store.StatusUpcoming, views[1].Effective)
	assert.Equal(t, "Metformin", views[0].Medicine)
}
