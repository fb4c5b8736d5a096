package audit

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// SentrySink forwards failed events to Sentry as warning messages.
// Successful events are dropped; they belong in the primary audit log.
type SentrySink struct {
	hub *sentry.Hub
}

// NewSentrySink reports through hub, or through the global hub configured
// by sentry.Init when hub is nil.
func NewSentrySink(hub *sentry.Hub) *SentrySink {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentrySink{hub: hub}
}

func (s *SentrySink) Emit(_ context.Context, event Event) {
	if s == nil || s.hub == nil || event.Success {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		scope.SetTag("event_type", event.EventType)
		if event.Error != "" {
			scope.SetTag("error_code", event.Error)
		}
		if event.UserID != "" {
			scope.SetUser(sentry.User{ID: event.UserID, IPAddress: event.IP})
		}
		if event.SessionID != "" {
			scope.SetExtra("session_id", event.SessionID)
		}
		if event.UserAgent != "" {
			scope.SetExtra("user_agent", event.UserAgent)
		}
		for k, v := range event.Metadata {
			scope.SetExtra(k, v)
		}
		s.hub.CaptureMessage("auth " + event.EventType + " failed")
	})
}
