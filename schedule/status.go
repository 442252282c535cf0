package schedule

import (
	"time"

	"git.0xdad.com/tblyler/dosetime/store"
)

// GraceWindow after the due time during which an UPCOMING dose is still
// presented as UPCOMING
const GraceWindow = 30 * time.Minute

// EffectiveStatus computes the display status of a dose as a function of
// wall-clock time. Terminal stored statuses are sticky. An UPCOMING dose
// reads MISSED once now is strictly after due plus the grace window; at
// exactly due+30m it still reads UPCOMING. The persisted status may lag
// this value since timers are best-effort; this function is the ground
// truth for presentation.
func EffectiveStatus(stored store.DoseStatus, due, now time.Time) store.DoseStatus {
	if stored != store.StatusUpcoming {
		return stored
	}

	if now.After(due.Add(GraceWindow)) {
		return store.StatusMissed
	}

	return store.StatusUpcoming
}
