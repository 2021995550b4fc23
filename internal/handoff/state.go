package handoff

import (
	"time"

	"github.com/wolfman30/advisor-booking/internal/planner"
)

// State is the calendar authorization state seen by one wizard session.
type State string

const (
	StateUnknown       State = "unknown"
	StateChecking      State = "checking"
	StateAuthorized    State = "authorized"
	StateNotAuthorized State = "not_authorized"
	StateAuthorizing   State = "authorizing"
)

// Flow is the per-session hand-off state. It is reset on every mount.
type Flow struct {
	State      State  `json:"state"`
	DialogOpen bool   `json:"dialogOpen"`
	PendingKey string `json:"pendingKey,omitempty"`
}

// NewFlow returns a flow in the unknown state.
func NewFlow() *Flow {
	return &Flow{State: StateUnknown}
}

// SubmitLabel is the confirm button text for the current state.
func (f *Flow) SubmitLabel() string {
	switch f.State {
	case StateAuthorizing:
		return "Authorizing..."
	case StateNotAuthorized:
		return "Authorize & Book"
	default:
		return "Confirm Booking"
	}
}

// SubmitEnabled mirrors the confirm button being disabled while a status
// check or authorization is in flight.
func (f *Flow) SubmitEnabled() bool {
	return f.State != StateChecking && f.State != StateAuthorizing
}

func (f *Flow) reset(state State) {
	f.State = state
	f.DialogOpen = false
	f.PendingKey = ""
}

// Level classifies a user-visible notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelError   Level = "error"
)

// Notice is a transient message shown to the user.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Pending is the booking parked while the browser is at the provider. It is
// stored under the provider's state parameter so the return leg can find it.
type Pending struct {
	SessionID     string                           `json:"sessionId"`
	Subject       string                           `json:"subject,omitempty"`
	AdvisorID     int64                            `json:"advisorId"`
	AppointmentID int64                            `json:"appointmentId"`
	Request       planner.CreateAppointmentRequest `json:"request"`
	CreatedAt     time.Time                        `json:"createdAt"`
}
