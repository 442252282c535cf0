package dose

import (
	"git.0xdad.com/tblyler/dosetime/alert"
	"github.com/google/uuid"
)

// Action a user took on a reminder notification
type Action string

const (
	// ActionTake marks the dose taken
	ActionTake Action = "take"
	// ActionSnooze delays the MAIN reminder
	ActionSnooze Action = "snooze"
	// ActionUndo reverts an accidental take
	ActionUndo Action = "undo"
)

// Event is the single ingress for everything the outside world can tell
// the coordinator: platform boot, a timer firing, or a user acting on a
// notification. OS-specific entry points stay thin by constructing one of
// these and handing it to HandleEvent.
type Event interface {
	isEvent()
}

// BootCompleted after a reboot: platform timers are gone and must be
// rebuilt from durable storage
type BootCompleted struct{}

// AlarmFired delivery of a registered timer
type AlarmFired struct {
	Key     alert.Key
	Payload alert.Payload
}

// UserAction on a reminder notification
type UserAction struct {
	EventID uuid.UUID
	Action  Action
}

func (BootCompleted) isEvent() {}
func (AlarmFired) isEvent()    {}
func (UserAction) isEvent()    {}
