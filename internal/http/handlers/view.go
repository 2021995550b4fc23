package handlers

import (
	"github.com/wolfman30/advisor-booking/internal/booking"
	"github.com/wolfman30/advisor-booking/internal/handoff"
	"github.com/wolfman30/advisor-booking/internal/planner"
	"github.com/wolfman30/advisor-booking/internal/sessions"
)

type sessionTypeView struct {
	Code            string  `json:"code"`
	Label           string  `json:"label"`
	DurationMinutes int     `json:"durationMinutes"`
	Free            bool    `json:"free"`
	Price           float64 `json:"price"`
}

type oauthView struct {
	State         handoff.State `json:"state"`
	DialogOpen    bool          `json:"dialogOpen"`
	SubmitLabel   string        `json:"submitLabel"`
	SubmitEnabled bool          `json:"submitEnabled"`
}

// BookingView is what the browser renders for one wizard session.
type BookingView struct {
	SessionID    string                `json:"sessionId"`
	Step         booking.Step          `json:"step"`
	StepIndex    int                   `json:"stepIndex"`
	Advisor      *planner.Advisor      `json:"advisor,omitempty"`
	SessionTypes []sessionTypeView     `json:"sessionTypes"`
	SessionType  string                `json:"sessionType"`
	Date         string                `json:"date"`
	Slots        []planner.TimeSlot    `json:"slots"`
	SelectedSlot *planner.TimeSlot     `json:"selectedSlot,omitempty"`
	Plans        []planner.PlanSummary `json:"plans,omitempty"`
	PlanSharing  bool                  `json:"planSharing"`
	SharedPlanID *int64                `json:"sharedPlanId,omitempty"`
	Notes        string                `json:"notes,omitempty"`
	CanContinue  bool                  `json:"canContinue"`
	CanSubmit    bool                  `json:"canSubmit"`
	OAuth        oauthView             `json:"oauth"`
	Notices      []handoff.Notice      `json:"notices"`
	Outcome      *handoff.Outcome      `json:"outcome,omitempty"`

	// AppointmentID is set once the draft has been booked.
	AppointmentID int64 `json:"appointmentId,omitempty"`
}

// newBookingView renders sess and drains its queued notices.
func newBookingView(sess *sessions.Session, out *handoff.Outcome) BookingView {
	wiz := sess.Wizard
	var rate float64
	if sess.Advisor != nil {
		rate = sess.Advisor.HourlyRate
	}

	types := make([]sessionTypeView, 0, len(booking.SessionTypes()))
	for _, st := range booking.SessionTypes() {
		types = append(types, sessionTypeView{
			Code:            st.Code,
			Label:           st.Label,
			DurationMinutes: st.DurationMinutes,
			Free:            st.Free(),
			Price:           st.Price(rate),
		})
	}

	slots := wiz.VisibleSlots()
	if slots == nil {
		slots = []planner.TimeSlot{}
	}
	notices := sess.DrainNotices()
	if notices == nil {
		notices = []handoff.Notice{}
	}

	return BookingView{
		SessionID:    sess.ID,
		Step:         wiz.Step,
		StepIndex:    wiz.Step.Index(),
		Advisor:      sess.Advisor,
		SessionTypes: types,
		SessionType:  wiz.Draft.SessionType,
		Date:         wiz.Draft.Date,
		Slots:        slots,
		SelectedSlot: wiz.Draft.Slot,
		Plans:        sess.Plans,
		PlanSharing:  wiz.SessionType().AllowsPlanSharing(),
		SharedPlanID: wiz.Draft.SharedPlanID,
		Notes:        wiz.Draft.Notes,
		CanContinue:  wiz.CanContinue(),
		CanSubmit:    wiz.CanSubmit() && sess.OAuth.SubmitEnabled(),
		OAuth: oauthView{
			State:         sess.OAuth.State,
			DialogOpen:    sess.OAuth.DialogOpen,
			SubmitLabel:   sess.OAuth.SubmitLabel(),
			SubmitEnabled: sess.OAuth.SubmitEnabled(),
		},
		Notices: notices,
		Outcome: out,

		AppointmentID: wiz.AppointmentID,
	}
}
