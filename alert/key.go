package alert

import (
	"github.com/google/uuid"
)

// Kind of alert timer attached to a dose event
type Kind int

const (
	// KindPre fires five minutes before the dose is due
	KindPre Kind = iota
	// KindMain fires at the due time
	KindMain
	// KindMissed fires once the grace window has lapsed
	KindMissed
)

// Kinds in firing order
var Kinds = [...]Kind{KindPre, KindMain, KindMissed}

func (k Kind) String() string {
	switch k {
	case KindPre:
		return "PRE"
	case KindMain:
		return "MAIN"
	case KindMissed:
		return "MISSED"
	}

	return "UNKNOWN"
}

// Key identifies one timer registration: at most one registration exists per
// (dose event, kind) at any time. Keys are fully derivable from durable
// fields, which is what makes cancel and reboot recovery possible without
// any stored timer handles.
type Key struct {
	EventID uuid.UUID
	Kind    Kind
}

// String encodes the key injectively: the uuid is fixed-width so distinct
// (event, kind) pairs can never collide
func (k Key) String() string {
	return "dose:" + k.EventID.String() + ":" + k.Kind.String()
}

// KeysFor returns the three timer keys of a dose event
func KeysFor(eventID uuid.UUID) [3]Key {
	return [3]Key{
		{EventID: eventID, Kind: KindPre},
		{EventID: eventID, Kind: KindMain},
		{EventID: eventID, Kind: KindMissed},
	}
}
