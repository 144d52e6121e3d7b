package eme

import "context"

// EventType classifies harness events.
type EventType string

const (
	EventEncrypted     EventType = "encrypted"
	EventMessage       EventType = "message"
	EventKeysUpdated   EventType = "keys-updated"
	EventLicenseFailed EventType = "license-failed"
	EventUpdateFailed  EventType = "update-failed"
)

// Event is one entry in the harness log.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
}

// Notifier receives harness events.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, event Event) {
	f(ctx, event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}
