package notify

import (
	"git.0xdad.com/tblyler/dosetime/alert"
)

// Notification shown to the user, keyed by the same scheme as the timers so
// the presenter can replace or clear it later
type Notification struct {
	Key       alert.Key
	Title     string
	Body      string
	Primary   string
	Secondary string
	Sticky    bool
}

// Notifier is the notification presentation collaborator
type Notifier interface {
	Show(n Notification) error
	Clear(key alert.Key)
}
