package booking

import "errors"

// ErrUnknownSessionType is returned for codes outside the fixed session table.
var ErrUnknownSessionType = errors.New("booking: unknown session type")

// SessionType is a bookable appointment category with a fixed duration.
type SessionType struct {
	Code            string `json:"code"`
	Label           string `json:"label"`
	DurationMinutes int    `json:"durationMinutes"`
}

// Session type codes understood by the planner backend.
const (
	InitialConsultation = "INITIAL_CONSULTATION"
	StandardSession     = "STANDARD_SESSION"
	FollowupSession     = "FOLLOWUP_SESSION"
	PlanReview          = "PLAN_REVIEW"
)

// DefaultSessionType is preselected when a wizard starts without a usable hint.
const DefaultSessionType = InitialConsultation

var sessionTypes = []SessionType{
	{Code: InitialConsultation, Label: "Initial Free Consultation (30 min)", DurationMinutes: 30},
	{Code: StandardSession, Label: "Standard Paid Session (60 min)", DurationMinutes: 60},
	{Code: FollowupSession, Label: "Follow-up Session (45 min)", DurationMinutes: 45},
	{Code: PlanReview, Label: "Financial Plan Review (60 min)", DurationMinutes: 60},
}

// SessionTypes returns the session table in display order.
func SessionTypes() []SessionType {
	out := make([]SessionType, len(sessionTypes))
	copy(out, sessionTypes)
	return out
}

// LookupSessionType finds a session type by code.
func LookupSessionType(code string) (SessionType, error) {
	for _, st := range sessionTypes {
		if st.Code == code {
			return st, nil
		}
	}
	return SessionType{}, ErrUnknownSessionType
}

// Free reports whether the session is offered at no charge.
func (s SessionType) Free() bool {
	return s.Code == InitialConsultation
}

// Price is the session cost at the advisor's hourly rate.
func (s SessionType) Price(hourlyRate float64) float64 {
	if s.Free() {
		return 0
	}
	return hourlyRate * float64(s.DurationMinutes) / 60
}

// AllowsPlanSharing reports whether a financial plan can be attached.
func (s SessionType) AllowsPlanSharing() bool {
	return s.Code == PlanReview
}
