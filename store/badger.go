package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/google/uuid"
)

// ErrNotFound occurs when an entity does not exist in the database
var ErrNotFound = errors.New("not found")

// Change kinds reported to Watch subscribers
const (
	ChangePrescriptions = "prescriptions"
	ChangeDoseEvents    = "dose_events"
	ChangeWarnings      = "warnings"
	ChangeSideEffects   = "side_effects"
	ChangePatient       = "patient"
	ChangeSettings      = "settings"
)

// Badger db implementation
type Badger struct {
	db       *badger.DB
	cancelGC func()
	wg       sync.WaitGroup

	watchMu  sync.Mutex
	watchers []func(change string)
}

// NewBadger creates a new badger instance for the given path
func NewBadger(dbPath string) (*Badger, error) {
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db at path %s: %w", dbPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Badger{
		db:       db,
		cancelGC: cancel,
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				for b.db.RunValueLogGC(0.5) == nil && ctx.Err() == nil {
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return b, nil
}

// Close the database
func (b *Badger) Close() error {
	b.cancelGC()
	b.wg.Wait()

	return b.db.Close()
}

// Watch registers a callback invoked after every successful write with the
// kind of entity that changed. Callbacks must be fast and must not call back
// into the store.
func (b *Badger) Watch(fn func(change string)) {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()

	b.watchers = append(b.watchers, fn)
}

func (b *Badger) notify(change string) {
	b.watchMu.Lock()
	watchers := make([]func(string), len(b.watchers))
	copy(watchers, b.watchers)
	b.watchMu.Unlock()

	for _, fn := range watchers {
		fn(change)
	}
}

func (b *Badger) iterate(prefix []byte, fn func(val []byte) error) error {
	return b.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}

		return nil
	})
}

func (b *Badger) getJSON(key []byte, out interface{}, what string) error {
	err := b.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%s: %w", what, ErrNotFound)
			}

			return fmt.Errorf("failed to get %s: %w", what, err)
		}

		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, out); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %w", what, err)
			}

			return nil
		})
	})

	return err
}

func (b *Badger) setJSON(key []byte, in interface{}, what, change string) error {
	err := b.db.Update(func(tx *badger.Txn) error {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to JSON marshal %s: %w", what, err)
		}

		return tx.Set(key, data)
	})
	if err != nil {
		return err
	}

	b.notify(change)

	return nil
}

/* ---------- prescriptions ---------- */

// AddPrescription to the database
func (b *Badger) AddPrescription(p *Prescription) error {
	return b.setJSON(p.badgerKey(), p, "prescription", ChangePrescriptions)
}

// AddPrescriptions inserts a batch in one transaction
func (b *Badger) AddPrescriptions(prescriptions []*Prescription) error {
	err := b.db.Update(func(tx *badger.Txn) error {
		for _, p := range prescriptions {
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("failed to JSON marshal prescription: %w", err)
			}

			if err := tx.Set(p.badgerKey(), data); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	b.notify(ChangePrescriptions)

	return nil
}

// GetPrescription from the database
func (b *Badger) GetPrescription(id uuid.UUID) (*Prescription, error) {
	p := &Prescription{}
	if err := b.getJSON(badgerKeyForPrescription(id), p, fmt.Sprintf("prescription %s", id)); err != nil {
		return nil, err
	}

	return p, nil
}

// ListPrescriptions from the database, newest first
func (b *Badger) ListPrescriptions() (prescriptions []*Prescription, err error) {
	err = b.iterate([]byte("prescription:"), func(val []byte) error {
		p := &Prescription{}
		if err := json.Unmarshal(val, p); err != nil {
			return fmt.Errorf("failed to unmarshal prescription value: %w", err)
		}

		prescriptions = append(prescriptions, p)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(prescriptions, func(i, j int) bool {
		return prescriptions[i].CreatedAt.After(prescriptions[j].CreatedAt)
	})

	return
}

// SetRecommendations caches advisory JSON on a prescription row
func (b *Badger) SetRecommendations(id uuid.UUID, recommendationsJSON string) error {
	p, err := b.GetPrescription(id)
	if err != nil {
		return err
	}

	p.Recommendations = recommendationsJSON

	return b.AddPrescription(p)
}

// DeletePrescription and cascade delete its dose events
func (b *Badger) DeletePrescription(id uuid.UUID) error {
	events, err := b.ListDoseEventsForPrescription(id)
	if err != nil {
		return err
	}

	err = b.db.Update(func(tx *badger.Txn) error {
		for _, e := range events {
			if err := tx.Delete(e.badgerKey()); err != nil {
				return err
			}
		}

		return tx.Delete(badgerKeyForPrescription(id))
	})
	if err != nil {
		return err
	}

	b.notify(ChangeDoseEvents)
	b.notify(ChangePrescriptions)

	return nil
}

/* ---------- dose events ---------- */

// AddDoseEvents inserts a batch of dose events in one transaction
func (b *Badger) AddDoseEvents(events []*DoseEvent) error {
	err := b.db.Update(func(tx *badger.Txn) error {
		for _, e := range events {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to JSON marshal dose event: %w", err)
			}

			if err := tx.Set(e.badgerKey(), data); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	b.notify(ChangeDoseEvents)

	return nil
}

// GetDoseEvent from the database
func (b *Badger) GetDoseEvent(id uuid.UUID) (*DoseEvent, error) {
	e := &DoseEvent{}
	if err := b.getJSON(badgerKeyForDoseEvent(id), e, fmt.Sprintf("dose event %s", id)); err != nil {
		return nil, err
	}

	return e, nil
}

// ListDoseEvents from the database, chronological
func (b *Badger) ListDoseEvents() (events []*DoseEvent, err error) {
	err = b.iterate([]byte("dose:"), func(val []byte) error {
		e := &DoseEvent{}
		if err := json.Unmarshal(val, e); err != nil {
			return fmt.Errorf("failed to unmarshal dose event value: %w", err)
		}

		events = append(events, e)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sortDoseEvents(events)

	return
}

// ListDoseEventsForPrescription from the database, chronological
func (b *Badger) ListDoseEventsForPrescription(presID uuid.UUID) ([]*DoseEvent, error) {
	all, err := b.ListDoseEvents()
	if err != nil {
		return nil, err
	}

	events := all[:0]
	for _, e := range all {
		if e.IDPrescription == presID {
			events = append(events, e)
		}
	}

	return events, nil
}

// EventsForSlot returns a prescription's dose events at the given time of day
func (b *Badger) EventsForSlot(presID uuid.UUID, hour, minute int) ([]*DoseEvent, error) {
	events, err := b.ListDoseEventsForPrescription(presID)
	if err != nil {
		return nil, err
	}

	slot := events[:0]
	for _, e := range events {
		if e.Hour == hour && e.Minute == minute {
			slot = append(slot, e)
		}
	}

	return slot, nil
}

// NextUpcoming returns the earliest UPCOMING dose event for a prescription,
// or ErrNotFound when the course is exhausted
func (b *Badger) NextUpcoming(presID uuid.UUID) (*DoseEvent, error) {
	events, err := b.ListDoseEventsForPrescription(presID)
	if err != nil {
		return nil, err
	}

	for _, e := range events {
		if e.Status == StatusUpcoming {
			return e, nil
		}
	}

	return nil, fmt.Errorf("next upcoming dose for prescription %s: %w", presID, ErrNotFound)
}

// NextUpcomingAfter returns the earliest UPCOMING dose event strictly later
// than the given event, or ErrNotFound at the end of the course
func (b *Badger) NextUpcomingAfter(presID uuid.UUID, after *DoseEvent) (*DoseEvent, error) {
	events, err := b.ListDoseEventsForPrescription(presID)
	if err != nil {
		return nil, err
	}

	for _, e := range events {
		if e.Status == StatusUpcoming && e.TimeKey() > after.TimeKey() {
			return e, nil
		}
	}

	return nil, fmt.Errorf("next upcoming dose after event %s: %w", after.ID, ErrNotFound)
}

// UpcomingPrescriptionIDs returns the distinct prescriptions that still have
// at least one UPCOMING dose event
func (b *Badger) UpcomingPrescriptionIDs() ([]uuid.UUID, error) {
	events, err := b.ListDoseEvents()
	if err != nil {
		return nil, err
	}

	seen := map[uuid.UUID]bool{}
	var ids []uuid.UUID
	for _, e := range events {
		if e.Status == StatusUpcoming && !seen[e.IDPrescription] {
			seen[e.IDPrescription] = true
			ids = append(ids, e.IDPrescription)
		}
	}

	return ids, nil
}

// SetDoseStatus for a dose event
func (b *Badger) SetDoseStatus(id uuid.UUID, status DoseStatus) error {
	e, err := b.GetDoseEvent(id)
	if err != nil {
		return err
	}

	e.Status = status

	return b.setJSON(e.badgerKey(), e, "dose event", ChangeDoseEvents)
}

// SetDoseEventPinned flag for a dose event
func (b *Badger) SetDoseEventPinned(id uuid.UUID, pinned bool) error {
	e, err := b.GetDoseEvent(id)
	if err != nil {
		return err
	}

	e.Pinned = pinned

	return b.setJSON(e.badgerKey(), e, "dose event", ChangeDoseEvents)
}

// SetPinnedForSlot flags every dose event of a prescription sharing the same
// hour and minute
func (b *Badger) SetPinnedForSlot(presID uuid.UUID, hour, minute int, pinned bool) error {
	events, err := b.EventsForSlot(presID, hour, minute)
	if err != nil {
		return err
	}

	for _, e := range events {
		if err := b.SetDoseEventPinned(e.ID, pinned); err != nil {
			return err
		}
	}

	return nil
}

func sortDoseEvents(events []*DoseEvent) {
	sort.Slice(events, func(i, j int) bool {
		ki, kj := events[i].TimeKey(), events[j].TimeKey()
		if ki != kj {
			return ki < kj
		}

		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
}

/* ---------- warnings ---------- */

// AddWarning to the database
func (b *Badger) AddWarning(w *Warning) error {
	return b.setJSON(w.badgerKey(), w, "warning", ChangeWarnings)
}

// ListWarnings from the database, newest first
func (b *Badger) ListWarnings() (warnings []*Warning, err error) {
	err = b.iterate([]byte("warning:"), func(val []byte) error {
		w := &Warning{}
		if err := json.Unmarshal(val, w); err != nil {
			return fmt.Errorf("failed to unmarshal warning value: %w", err)
		}

		warnings = append(warnings, w)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(warnings, func(i, j int) bool {
		return warnings[i].CreatedAt.After(warnings[j].CreatedAt)
	})

	return
}

// SetWarningResolved flag for a warning
func (b *Badger) SetWarningResolved(id uuid.UUID, resolved bool) error {
	w := &Warning{}
	if err := b.getJSON(badgerKeyForWarning(id), w, fmt.Sprintf("warning %s", id)); err != nil {
		return err
	}

	w.Resolved = resolved

	return b.setJSON(w.badgerKey(), w, "warning", ChangeWarnings)
}

/* ---------- side effect reports ---------- */

// AddSideEffect report to the database
func (b *Badger) AddSideEffect(s *SideEffectReport) error {
	return b.setJSON(s.badgerKey(), s, "side effect report", ChangeSideEffects)
}

// ListSideEffects from the database, newest first
func (b *Badger) ListSideEffects() (reports []*SideEffectReport, err error) {
	err = b.iterate([]byte("sideeffect:"), func(val []byte) error {
		s := &SideEffectReport{}
		if err := json.Unmarshal(val, s); err != nil {
			return fmt.Errorf("failed to unmarshal side effect value: %w", err)
		}

		reports = append(reports, s)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].OccurredAt.After(reports[j].OccurredAt)
	})

	return
}

// SetSideEffectSeverity for a report after analysis
func (b *Badger) SetSideEffectSeverity(id uuid.UUID, severity Severity) error {
	s := &SideEffectReport{}
	if err := b.getJSON(badgerKeyForSideEffect(id), s, fmt.Sprintf("side effect report %s", id)); err != nil {
		return err
	}

	s.Severity = severity

	return b.setJSON(s.badgerKey(), s, "side effect report", ChangeSideEffects)
}

/* ---------- patient and settings ---------- */

// SavePatient profile, overwriting any previous one
func (b *Badger) SavePatient(p *Patient) error {
	return b.setJSON(badgerKeyForPatient(), p, "patient", ChangePatient)
}

// GetPatient profile, ErrNotFound when never saved
func (b *Badger) GetPatient() (*Patient, error) {
	p := &Patient{}
	if err := b.getJSON(badgerKeyForPatient(), p, "patient"); err != nil {
		return nil, err
	}

	return p, nil
}

// SetSetting stores a free-form settings value
func (b *Badger) SetSetting(name, value string) error {
	return b.setJSON(badgerKeyForSetting(name), value, fmt.Sprintf("setting %s", name), ChangeSettings)
}

// GetSetting returns a settings value, empty string when unset
func (b *Badger) GetSetting(name string) (string, error) {
	var value string
	err := b.getJSON(badgerKeyForSetting(name), &value, fmt.Sprintf("setting %s", name))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return value, nil
}

/* ---------- wipe ---------- */

// WipeAll deletes every prescription and dose event. The caller is
// responsible for cancelling timers beforehand.
func (b *Badger) WipeAll() error {
	events, err := b.ListDoseEvents()
	if err != nil {
		return err
	}

	prescriptions, err := b.ListPrescriptions()
	if err != nil {
		return err
	}

	err = b.db.Update(func(tx *badger.Txn) error {
		for _, e := range events {
			if err := tx.Delete(e.badgerKey()); err != nil {
				return err
			}
		}

		for _, p := range prescriptions {
			if err := tx.Delete(p.badgerKey()); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	b.notify(ChangeDoseEvents)
	b.notify(ChangePrescriptions)

	return nil
}
