package orchestrator

import (
	"fmt"

	"github.com/Iron-Ham/selfvisor/internal/event"
	"github.com/Iron-Ham/selfvisor/internal/login"
)

// Notification kinds.
const (
	KindCodeRequested    = "code_requested"
	KindCodeRejected     = "code_rejected"
	KindPasswordRequired = "password_required"
)

// Notification is an unsolicited message for one user.
type Notification struct {
	UserID  int64  `json:"user_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Sink delivers notifications to users. Notify must not block for long; it
// is called from the goroutine that observed the worker's progress.
type Sink interface {
	Notify(Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notification)

// Notify implements Sink.
func (f SinkFunc) Notify(n Notification) { f(n) }

// notificationFor maps a bus event to the notification it triggers.
func notificationFor(e event.Event) (Notification, bool) {
	switch ev := e.(type) {
	case event.CodeRequestedEvent:
		return Notification{
			UserID:  ev.User(),
			Kind:    KindCodeRequested,
			Message: "Your worker needs a new login code. Send the code you receive.",
		}, true
	case event.CodeRejectedEvent:
		reason := "invalid"
		if ev.Reason == "code_expired" {
			reason = "expired"
		}
		return Notification{
			UserID:  ev.User(),
			Kind:    KindCodeRejected,
			Message: fmt.Sprintf("The login code was %s. Send the new code you receive.", reason),
		}, true
	case event.LoginStateChangedEvent:
		if ev.To != login.AwaitingPassword.String() {
			return Notification{}, false
		}
		return Notification{
			UserID:  ev.User(),
			Kind:    KindPasswordRequired,
			Message: "Two-step verification is enabled. Send your password.",
		}, true
	}
	return Notification{}, false
}
