package notify

import (
	"fmt"

	"git.0xdad.com/tblyler/dosetime/alert"
	"github.com/gregdel/pushover"
	"github.com/sirupsen/logrus"
)

// Pushover backed Notifier
type Pushover struct {
	app    *pushover.Pushover
	device *pushover.Recipient
	log    logrus.FieldLogger
}

// NewPushover notifier for the given API and device tokens
func NewPushover(apiToken, deviceToken string, log logrus.FieldLogger) *Pushover {
	return &Pushover{
		app:    pushover.New(apiToken),
		device: pushover.NewRecipient(deviceToken),
		log:    log,
	}
}

// Show sends the notification to the configured device
func (p *Pushover) Show(n Notification) error {
	message := pushover.NewMessageWithTitle(n.Body, n.Title)
	if n.Sticky {
		message.Priority = pushover.PriorityHigh
	}

	_, err := p.app.SendMessage(message, p.device)
	if err != nil {
		return fmt.Errorf("failed to send pushover notification %s: %w", n.Key, err)
	}

	return nil
}

// Clear is a no-op: pushover cannot retract a delivered message. Logged so
// the clear intent is still visible.
func (p *Pushover) Clear(key alert.Key) {
	p.log.WithField("key", key.String()).Debug("clear notification")
}

// Log only Notifier for runs without pushover credentials
type Log struct {
	Logger logrus.FieldLogger
}

// Show logs the notification
func (l *Log) Show(n Notification) error {
	l.Logger.WithFields(logrus.Fields{
		"key":   n.Key.String(),
		"title": n.Title,
	}).Info(n.Body)

	return nil
}

// Clear logs the clear request
func (l *Log) Clear(key alert.Key) {
	l.Logger.WithField("key", key.String()).Debug("clear notification")
}
