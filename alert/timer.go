package alert

import (
	"sync"
	"time"
)

// MemoryTimers is the in-process TimerService used by the daemon. It holds
// no durable state: timers do not survive a process restart and are rebuilt
// from the store on startup.
type MemoryTimers struct {
	mu     sync.Mutex
	timers map[Key]*time.Timer
	fire   func(Key, Payload)
}

// NewMemoryTimers with no fire handler; call SetHandler before scheduling
func NewMemoryTimers() *MemoryTimers {
	return &MemoryTimers{
		timers: map[Key]*time.Timer{},
	}
}

// SetHandler invoked when a timer fires. Fired callbacks run on the timer
// goroutine and should hand longer work off quickly.
func (m *MemoryTimers) SetHandler(fire func(Key, Payload)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fire = fire
}

// Schedule a one-shot timer, overwriting any previous registration for the
// same key
func (m *MemoryTimers) Schedule(key Key, at time.Time, payload Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.timers[key]; ok {
		old.Stop()
	}

	m.timers[key] = time.AfterFunc(time.Until(at), func() {
		m.mu.Lock()
		delete(m.timers, key)
		fire := m.fire
		m.mu.Unlock()

		if fire != nil {
			fire(key, payload)
		}
	})

	return nil
}

// Cancel a registration; cancelling an unknown key is a no-op
func (m *MemoryTimers) Cancel(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
}

// CanScheduleExact always holds for in-process timers
func (m *MemoryTimers) CanScheduleExact() bool {
	return true
}

// Pending registration count, for inspection
func (m *MemoryTimers) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.timers)
}
