package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBadger(t *testing.T) *Badger {
	t.Helper()

	b, err := NewBadger(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, b.Close())
	})

	return b
}

func testPrescription(medicine string, createdAt time.Time) *Prescription {
	return &Prescription{
		ID:             uuid.New(),
		Medicine:       medicine,
		StrengthUnit:   "500mg",
		Dose:           1,
		FrequencyHours: 8,
		CreatedAt:      createdAt,
	}
}

func testDose(presID uuid.UUID, date string, hour, minute int, status DoseStatus) *DoseEvent {
	return &DoseEvent{
		ID:             uuid.New(),
		IDPrescription: presID,
		Date:           date,
		Hour:           hour,
		Minute:         minute,
		DosageNote:     "1 × 500mg",
		Status:         status,
		CreatedAt:      time.Now(),
	}
}

func TestPrescriptionRoundTrip(t *testing.T) {
	b := testBadger(t)

	p := testPrescription("Metformin", time.Now())
	pack := 30
	p.PackAmount = &pack
	p.PackUnit = "p"

	require.NoError(t, b.AddPrescription(p))

	got, err := b.GetPrescription(p.ID)
	require.NoError(t, err)

	assert.Equal(t, p.Medicine, got.Medicine)
	assert.Equal(t, p.StrengthUnit, got.StrengthUnit)
	require.NotNil(t, got.PackAmount)
	assert.Equal(t, 30, *got.PackAmount)

	_, err = b.GetPrescription(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPrescriptionsNewestFirst(t *testing.T) {
	b := testBadger(t)

	now := time.Now()
	older := testPrescription("Aspirin", now.Add(-time.Hour))
	newer := testPrescription("Metformin", now)

	require.NoError(t, b.AddPrescriptions([]*Prescription{older, newer}))

	got, err := b.ListPrescriptions()
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Metformin", got[0].Medicine)
	assert.Equal(t, "Aspirin", got[1].Medicine)
}

func TestSetRecommendations(t *testing.T) {
	b := testBadger(t)

	p := testPrescription("Metformin", time.Now())
	require.NoError(t, b.AddPrescription(p))

	require.NoError(t, b.SetRecommendations(p.ID, `{"drug":"Metformin"}`))

	got, err := b.GetPrescription(p.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"drug":"Metformin"}`, got.Recommendations)

	assert.ErrorIs(t, b.SetRecommendations(uuid.New(), "x"), ErrNotFound)
}

func TestDeletePrescriptionCascades(t *testing.T) {
	b := testBadger(t)

	p := testPrescription("Metformin", time.Now())
	other := testPrescription("Aspirin", time.Now())
	require.NoError(t, b.AddPrescriptions([]*Prescription{p, other}))

	require.NoError(t, b.AddDoseEvents([]*DoseEvent{
		testDose(p.ID, "2026-03-01", 8, 0, StatusUpcoming),
		testDose(p.ID, "2026-03-01", 16, 0, StatusUpcoming),
		testDose(other.ID, "2026-03-01", 9, 0, StatusUpcoming),
	}))

	require.NoError(t, b.DeletePrescription(p.ID))

	_, err := b.GetPrescription(p.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	events, err := b.ListDoseEvents()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, other.ID, events[0].IDPrescription)
}

func TestDoseEventsChronological(t *testing.T) {
	b := testBadger(t)

	presID := uuid.New()
	require.NoError(t, b.AddDoseEvents([]*DoseEvent{
		testDose(presID, "2026-03-02", 0, 0, StatusUpcoming),
		testDose(presID, "2026-03-01", 16, 0, StatusUpcoming),
		testDose(presID, "2026-03-01", 8, 30, StatusUpcoming),
	}))

	events, err := b.ListDoseEvents()
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "2026-03-01 08:30", events[0].TimeKey())
	assert.Equal(t, "2026-03-01 16:00", events[1].TimeKey())
	assert.Equal(t, "2026-03-02 00:00", events[2].TimeKey())
}

func TestNextUpcoming(t *testing.T) {
	b := testBadger(t)

	presID := uuid.New()
	taken := testDose(presID, "2026-03-01", 8, 0, StatusTaken)
	second := testDose(presID, "2026-03-01", 16, 0, StatusUpcoming)
	third := testDose(presID, "2026-03-02", 0, 0, StatusUpcoming)

	require.NoError(t, b.AddDoseEvents([]*DoseEvent{third, second, taken}))

	next, err := b.NextUpcoming(presID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, next.ID)

	after, err := b.NextUpcomingAfter(presID, second)
	require.NoError(t, err)
	assert.Equal(t, third.ID, after.ID)

	_, err = b.NextUpcomingAfter(presID, third)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = b.NextUpcoming(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpcomingPrescriptionIDs(t *testing.T) {
	b := testBadger(t)

	active := uuid.New()
	done := uuid.New()

	require.NoError(t, b.AddDoseEvents([]*DoseEvent{
		testDose(active, "2026-03-01", 8, 0, StatusUpcoming),
		testDose(active, "2026-03-01", 16, 0, StatusUpcoming),
		testDose(done, "2026-03-01", 9, 0, StatusTaken),
	}))

	ids, err := b.UpcomingPrescriptionIDs()
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{active}, ids)
}

func TestSetDoseStatusAndPinned(t *testing.T) {
	b := testBadger(t)

	e := testDose(uuid.New(), "2026-03-01", 8, 0, StatusUpcoming)
	require.NoError(t, b.AddDoseEvents([]*DoseEvent{e}))

	require.NoError(t, b.SetDoseStatus(e.ID, StatusTaken))
	require.NoError(t, b.SetDoseEventPinned(e.ID, true))

	got, err := b.GetDoseEvent(e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusTaken, got.Status)
	assert.True(t, got.Pinned)

	assert.ErrorIs(t, b.SetDoseStatus(uuid.New(), StatusTaken), ErrNotFound)
}

func TestSetPinnedForSlot(t *testing.T) {
	b := testBadger(t)

	presID := uuid.New()
	inSlot1 := testDose(presID, "2026-03-01", 8, 0, StatusUpcoming)
	inSlot2 := testDose(presID, "2026-03-02", 8, 0, StatusUpcoming)
	otherSlot := testDose(presID, "2026-03-01", 16, 0, StatusUpcoming)

	require.NoError(t, b.AddDoseEvents([]*DoseEvent{inSlot1, inSlot2, otherSlot}))
	require.NoError(t, b.SetPinnedForSlot(presID, 8, 0, true))

	for _, id := range []uuid.UUID{inSlot1.ID, inSlot2.ID} {
		got, err := b.GetDoseEvent(id)
		require.NoError(t, err)
		assert.True(t, got.Pinned)
	}

	got, err := b.GetDoseEvent(otherSlot.ID)
	require.NoError(t, err)
	assert.False(t, got.Pinned)
}

func TestWarningsAndSideEffects(t *testing.T) {
	b := testBadger(t)

	w := &Warning{
		ID:                uuid.New(),
		Title:             "rash on arms",
		DrugPossibleCause: "Amoxicillin",
		WarningType:       "Allergy",
		Severity:          SeverityHigh,
		CreatedAt:         time.Now(),
	}
	require.NoError(t, b.AddWarning(w))
	require.NoError(t, b.SetWarningResolved(w.ID, true))

	warnings, err := b.ListWarnings()
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.True(t, warnings[0].Resolved)

	report := &SideEffectReport{
		ID:          uuid.New(),
		Description: "rash on arms",
		Severity:    SeverityMedium,
		OccurredAt:  time.Now(),
	}
	require.NoError(t, b.AddSideEffect(report))
	require.NoError(t, b.SetSideEffectSeverity(report.ID, SeverityHigh))

	reports, err := b.ListSideEffects()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, SeverityHigh, reports[0].Severity)
}

func TestPatientAndSettings(t *testing.T) {
	b := testBadger(t)

	_, err := b.GetPatient()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.SavePatient(&Patient{
		Name:      "Alex",
		Allergies: []string{"penicillin"},
		UpdatedAt: time.Now(),
	}))

	patient, err := b.GetPatient()
	require.NoError(t, err)
	assert.Equal(t, "Alex", patient.Name)
	assert.Equal(t, []string{"penicillin"}, patient.Allergies)

	value, err := b.GetSetting("missing")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, b.SetSetting("last_ingest_raw", "Metformin|500mg|1|12"))

	value, err = b.GetSetting("last_ingest_raw")
	require.NoError(t, err)
	assert.Equal(t, "Metformin|500mg|1|12", value)
}

func TestWatchNotifies(t *testing.T) {
	b := testBadger(t)

	var changes []string
	b.Watch(func(change string) {
		changes = append(changes, change)
	})

	require.NoError(t, b.AddPrescription(testPrescription("Metformin", time.Now())))
	require.NoError(t, b.AddDoseEvents([]*DoseEvent{testDose(uuid.New(), "2026-03-01", 8, 0, StatusUpcoming)}))

	assert.Equal(t, []string{ChangePrescriptions, ChangeDoseEvents}, changes)
}

func TestWipeAll(t *testing.T) {
	b := testBadger(t)

	p := testPrescription("Metformin", time.Now())
	require.NoError(t, b.AddPrescription(p))
	require.NoError(t, b.AddDoseEvents([]*DoseEvent{testDose(p.ID, "2026-03-01", 8, 0, StatusUpcoming)}))

	// warnings survive a wipe
	require.NoError(t, b.AddWarning(&Warning{ID: uuid.New(), Title: "keep", Severity: SeverityLow, CreatedAt: time.Now()}))

	require.NoError(t, b.WipeAll())

	prescriptions, err := b.ListPrescriptions()
	require.NoError(t, err)
	assert.Empty(t, prescriptions)

	events, err := b.ListDoseEvents()
	require.NoError(t, err)
	assert.Empty(t, events)

	warnings, err := b.ListWarnings()
	require.NoError(t, err)
	assert.Len(t, warnings, 1)
}
