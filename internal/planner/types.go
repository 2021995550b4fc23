package planner

// Advisor is the subset of the advisor record the booking flow needs.
type Advisor struct {
	ID                int64    `json:"id"`
	FirstName         string   `json:"firstName"`
	LastName          string   `json:"lastName"`
	ProfessionalTitle string   `json:"professionalTitle,omitempty"`
	HourlyRate        float64  `json:"hourlyRate"`
	Specialties       []string `json:"specialties,omitempty"`
	Languages         []string `json:"languages,omitempty"`
}

// PlanSummary is one entry of the current user's financial plans.
type PlanSummary struct {
	ID           int64  `json:"id"`
	PlanName     string `json:"planName"`
	CreationDate string `json:"creationDate"`
	HealthScore  int    `json:"healthScore,omitempty"`
}

// TimeSlot is a bookable interval on one day. Date is yyyy-MM-dd, times are HH:mm.
type TimeSlot struct {
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// CreateAppointmentRequest is the appointment creation payload.
type CreateAppointmentRequest struct {
	AdvisorID       int64  `json:"advisorId"`
	AppointmentDate string `json:"appointmentDate"`
	DurationMinutes int    `json:"durationMinutes"`
	SessionType     string `json:"sessionType"`
	UserNotes       string `json:"userNotes,omitempty"`
	SharedPlanID    *int64 `json:"sharedPlanId,omitempty"`
}

// Appointment is the backend's view of a created or updated appointment.
type Appointment struct {
	ID              int64  `json:"id"`
	AdvisorID       int64  `json:"advisorId,omitempty"`
	AppointmentDate string `json:"appointmentDate"`
	DurationMinutes int    `json:"durationMinutes"`
	SessionType     string `json:"sessionType"`
	Status          string `json:"status,omitempty"`
	MeetingLink     string `json:"meetingLink,omitempty"`
	UserNotes       string `json:"userNotes,omitempty"`
	SharedPlanID    *int64 `json:"sharedPlanId,omitempty"`
}

// Appointment statuses accepted by the status update endpoint.
const (
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
	StatusCompleted = "COMPLETED"
)

type oauthStatusResponse struct {
	Authorized bool `json:"authorized"`
}

type authURLResponse struct {
	AuthURL string `json:"authUrl"`
}

type messageResponse struct {
	Message string `json:"message"`
}
