package alert

import (
	"testing"
	"time"

	"git.0xdad.com/tblyler/dosetime/store"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scheduledCall struct {
	key     Key
	at      time.Time
	payload Payload
}

type fakeTimers struct {
	exact     bool
	scheduled []scheduledCall
	cancelled []Key
}

func (f *fakeTimers) Schedule(key Key, at time.Time, payload Payload) error {
	f.scheduled = append(f.scheduled, scheduledCall{key: key, at: at, payload: payload})
	return nil
}

func (f *fakeTimers) Cancel(key Key) {
	f.cancelled = append(f.cancelled, key)
}

func (f *fakeTimers) CanScheduleExact() bool {
	return f.exact
}

func testScheduler(timers TimerService, now time.Time) *Scheduler {
	s := NewScheduler(timers, logrus.New())
	s.clock = func() time.Time { return now }
	s.loc = time.UTC

	return s
}

func testEvent(presID uuid.UUID) *store.DoseEvent {
	return &store.DoseEvent{
		ID:             uuid.New(),
		IDPrescription: presID,
		Date:           "2026-03-01",
		Hour:           8,
		Minute:         30,
		DosageNote:     "1 × 500mg",
		Status:         store.StatusUpcoming,
	}
}

func TestScheduleAllRegistersThreeTimers(t *testing.T) {
	p := &store.Prescription{ID: uuid.New(), Medicine: "Metformin"}
	e := testEvent(p.ID)

	timers := &fakeTimers{exact: true}
	s := testScheduler(timers, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, s.ScheduleAll(e, p))
	require.Len(t, timers.scheduled, 3)

	due := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

	assert.Equal(t, Key{EventID: e.ID, Kind: KindPre}, timers.scheduled[0].key)
	assert.Equal(t, due.Add(-PreLead), timers.scheduled[0].at)

	assert.Equal(t, Key{EventID: e.ID, Kind: KindMain}, timers.scheduled[1].key)
	assert.Equal(t, due, timers.scheduled[1].at)

	assert.Equal(t, Key{EventID: e.ID, Kind: KindMissed}, timers.scheduled[2].key)
	assert.Equal(t, due.Add(MissedLag), timers.scheduled[2].at)

	payload := timers.scheduled[1].payload
	assert.Equal(t, e.ID, payload.EventID)
	assert.Equal(t, p.ID, payload.PrescriptionID)
	assert.Equal(t, "Metformin", payload.Medicine)
	assert.Equal(t, "1 × 500mg", payload.Dosage)
	assert.Equal(t, "08:30", payload.Time)
}

func TestScheduleSkipsPastTriggers(t *testing.T) {
	p := &store.Prescription{ID: uuid.New(), Medicine: "Metformin"}
	e := testEvent(p.ID)

	timers := &fakeTimers{exact: true}

	// between the PRE and MAIN trigger times
	s := testScheduler(timers, time.Date(2026, 3, 1, 8, 27, 0, 0, time.UTC))

	require.NoError(t, s.ScheduleAll(e, p))

	// PRE is in the past and skipped, MAIN and MISSED register
	require.Len(t, timers.scheduled, 2)
	assert.Equal(t, KindMain, timers.scheduled[0].key.Kind)
	assert.Equal(t, KindMissed, timers.scheduled[1].key.Kind)
}

func TestScheduleSkipsWithoutExactCapability(t *testing.T) {
	p := &store.Prescription{ID: uuid.New(), Medicine: "Metformin"}
	e := testEvent(p.ID)

	timers := &fakeTimers{exact: false}
	s := testScheduler(timers, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, s.ScheduleAll(e, p))
	assert.Empty(t, timers.scheduled)
}

func TestCancelDerivesKeysFromEventID(t *testing.T) {
	p := &store.Prescription{ID: uuid.New(), Medicine: "Metformin"}
	e := testEvent(p.ID)

	timers := &fakeTimers{exact: true}
	s := testScheduler(timers, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, s.ScheduleAll(e, p))
	s.Cancel(e.ID)

	require.Len(t, timers.cancelled, 3)

	// a cancel issued with no handle targets exactly the registered keys
	for i, call := range timers.scheduled {
		assert.Equal(t, call.key, timers.cancelled[i])
	}
}

func TestCancelKind(t *testing.T) {
	timers := &fakeTimers{exact: true}
	s := testScheduler(timers, time.Now())

	id := uuid.New()
	s.CancelKind(id, KindMain)

	require.Len(t, timers.cancelled, 1)
	assert.Equal(t, Key{EventID: id, Kind: KindMain}, timers.cancelled[0])
}

func TestScheduleAllAtExplicitDue(t *testing.T) {
	p := &store.Prescription{ID: uuid.New(), Medicine: "Metformin"}
	e := testEvent(p.ID)
	e.Pinned = true

	timers := &fakeTimers{exact: true}
	s := testScheduler(timers, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	// pinned repeat a day after the event's own due time
	due := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	s.ScheduleAllAt(e, p, due)

	require.Len(t, timers.scheduled, 3)
	assert.Equal(t, due, timers.scheduled[1].at)
	assert.True(t, timers.scheduled[1].payload.Pinned)
}
