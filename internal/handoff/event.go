package handoff

import "time"

// EventKind names a hand-off lifecycle step.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventDenied    EventKind = "denied"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
)

// Event is one audit record of the hand-off.
type Event struct {
	SessionID     string
	Subject       string
	AppointmentID int64
	ProviderState string
	Kind          EventKind
	Detail        string
	OccurredAt    time.Time
}
