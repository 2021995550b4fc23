// Package booking holds the session-type table and the three-step booking
// wizard that turns a chosen slot into an appointment request.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/advisor-booking/internal/planner"
)

const (
	dateLayout     = "2006-01-02"
	slotLayout     = "2006-01-02 15:04"
	isoLayout      = "2006-01-02T15:04:05.000Z"
	slotWindowDays = 7
)

var (
	ErrIllegalTransition      = errors.New("booking: illegal step transition")
	ErrStepIncomplete         = errors.New("booking: current step is incomplete")
	ErrWrongStep              = errors.New("booking: action not available on this step")
	ErrInvalidDate            = errors.New("booking: invalid date")
	ErrPastDate               = errors.New("booking: date is in the past")
	ErrUnknownSlot            = errors.New("booking: slot is not available for the selected date")
	ErrPlanSharingUnavailable = errors.New("booking: plan sharing requires a plan review session")
	ErrCannotSubmit           = errors.New("booking: nothing to submit")
	ErrAlreadySubmitted       = errors.New("booking: draft has already been submitted")
	ErrSlotsUnavailable       = errors.New("booking: available slots could not be loaded")
)

// Step is a wizard stage.
type Step string

const (
	StepSelectType Step = "select_type"
	StepChooseSlot Step = "choose_slot"
	StepConfirm    Step = "confirm"

	// StepSubmitted is terminal: an appointment exists for the draft.
	StepSubmitted Step = "submitted"
)

type move int

const (
	moveContinue move = iota
	moveBack
)

// transitions lists every legal step change; anything absent is rejected.
var transitions = map[Step]map[move]Step{
	StepSelectType: {moveContinue: StepChooseSlot},
	StepChooseSlot: {moveContinue: StepConfirm, moveBack: StepSelectType},
	StepConfirm:    {moveBack: StepChooseSlot},
}

// Index is the zero-based position of the step, for progress display.
func (s Step) Index() int {
	switch s {
	case StepChooseSlot:
		return 1
	case StepConfirm:
		return 2
	case StepSubmitted:
		return 3
	default:
		return 0
	}
}

// SlotSource answers availability queries for an advisor.
type SlotSource interface {
	AvailableSlots(ctx context.Context, advisorID int64, start, end string) ([]planner.TimeSlot, error)
}

// Draft accumulates the reservation across steps.
type Draft struct {
	AdvisorID    int64             `json:"advisorId"`
	SessionType  string            `json:"sessionType"`
	Date         string            `json:"date"`
	Slot         *planner.TimeSlot `json:"slot,omitempty"`
	SharedPlanID *int64            `json:"sharedPlanId,omitempty"`
	Notes        string            `json:"notes,omitempty"`
}

// Wizard is the three-step booking flow. It is plain data so it can be
// stored between requests; collaborators are passed to the methods that need them.
type Wizard struct {
	Step  Step               `json:"step"`
	Draft Draft              `json:"draft"`
	Slots []planner.TimeSlot `json:"slots,omitempty"`

	// AppointmentID is set once the draft has been booked.
	AppointmentID int64 `json:"appointmentId,omitempty"`
}

// NewWizard starts a wizard for advisorID on today's date. typeHint preselects
// a session type when it names a known code.
func NewWizard(advisorID int64, typeHint string, today time.Time) *Wizard {
	code := DefaultSessionType
	if _, err := LookupSessionType(typeHint); err == nil {
		code = typeHint
	}
	return &Wizard{
		Step: StepSelectType,
		Draft: Draft{
			AdvisorID:   advisorID,
			SessionType: code,
			Date:        today.Format(dateLayout),
		},
	}
}

// SessionType returns the selected session type.
func (w *Wizard) SessionType() SessionType {
	st, err := LookupSessionType(w.Draft.SessionType)
	if err != nil {
		st, _ = LookupSessionType(DefaultSessionType)
	}
	return st
}

// SelectSessionType changes the session type on the first step.
func (w *Wizard) SelectSessionType(code string) error {
	if w.Step != StepSelectType {
		return ErrWrongStep
	}
	st, err := LookupSessionType(code)
	if err != nil {
		return err
	}
	w.Draft.SessionType = st.Code
	if !st.AllowsPlanSharing() {
		w.Draft.SharedPlanID = nil
	}
	return nil
}

// CanContinue reports whether Continue would advance.
func (w *Wizard) CanContinue() bool {
	if _, ok := transitions[w.Step][moveContinue]; !ok {
		return false
	}
	switch w.Step {
	case StepChooseSlot:
		return w.Draft.Slot != nil
	default:
		return true
	}
}

// Continue advances one step. Entering the slot step loads availability; if
// that load fails the step still advances with no slots and ErrSlotsUnavailable
// is returned.
func (w *Wizard) Continue(ctx context.Context, src SlotSource) error {
	next, ok := transitions[w.Step][moveContinue]
	if !ok {
		return ErrIllegalTransition
	}
	if !w.CanContinue() {
		return ErrStepIncomplete
	}
	w.Step = next
	if next == StepChooseSlot {
		return w.loadSlots(ctx, src)
	}
	return nil
}

// Back retreats one step.
func (w *Wizard) Back() error {
	prev, ok := transitions[w.Step][moveBack]
	if !ok {
		return ErrIllegalTransition
	}
	w.Step = prev
	return nil
}

// ChangeDate picks a new date on the slot step, clears any selected slot and
// reloads the window. today is the current date in the booking time zone.
func (w *Wizard) ChangeDate(ctx context.Context, src SlotSource, date string, today time.Time) error {
	if w.Step != StepChooseSlot {
		return ErrWrongStep
	}
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	if day.Format(dateLayout) < today.Format(dateLayout) {
		return ErrPastDate
	}
	w.Draft.Date = day.Format(dateLayout)
	w.Draft.Slot = nil
	return w.loadSlots(ctx, src)
}

// VisibleSlots are the loaded slots that fall on the selected date.
func (w *Wizard) VisibleSlots() []planner.TimeSlot {
	var out []planner.TimeSlot
	for _, s := range w.Slots {
		if s.Date == w.Draft.Date {
			out = append(out, s)
		}
	}
	return out
}

// SelectSlot picks one of the visible slots.
func (w *Wizard) SelectSlot(slot planner.TimeSlot) error {
	if w.Step != StepChooseSlot {
		return ErrWrongStep
	}
	for _, s := range w.VisibleSlots() {
		if s == slot {
			picked := s
			w.Draft.Slot = &picked
			return nil
		}
	}
	return ErrUnknownSlot
}

// SharePlan attaches (or with nil, detaches) a financial plan on the confirm step.
func (w *Wizard) SharePlan(planID *int64) error {
	if w.Step != StepConfirm {
		return ErrWrongStep
	}
	if planID != nil && !w.SessionType().AllowsPlanSharing() {
		return ErrPlanSharingUnavailable
	}
	w.Draft.SharedPlanID = planID
	return nil
}

// SetNotes records free-text notes for the advisor on the confirm step.
func (w *Wizard) SetNotes(notes string) error {
	if w.Step != StepConfirm {
		return ErrWrongStep
	}
	w.Draft.Notes = notes
	return nil
}

// CanSubmit reports whether the draft is ready to be booked.
func (w *Wizard) CanSubmit() bool {
	return w.Step == StepConfirm && w.Draft.Slot != nil
}

// MarkSubmitted closes the draft once appointmentID has been created for it.
// Marking the same appointment again is a no-op.
func (w *Wizard) MarkSubmitted(appointmentID int64) error {
	switch {
	case w.Step == StepConfirm:
		w.Step = StepSubmitted
		w.AppointmentID = appointmentID
		return nil
	case w.Step == StepSubmitted && w.AppointmentID == appointmentID:
		return nil
	case w.Step == StepSubmitted:
		return ErrAlreadySubmitted
	default:
		return ErrWrongStep
	}
}

// Reopen returns a submitted draft to the confirm step after its appointment
// was withdrawn.
func (w *Wizard) Reopen() error {
	if w.Step != StepSubmitted {
		return ErrWrongStep
	}
	w.Step = StepConfirm
	w.AppointmentID = 0
	return nil
}

// BuildRequest turns the draft into the creation payload. The slot's date and
// start time are read as wall-clock time in loc.
func (w *Wizard) BuildRequest(loc *time.Location) (planner.CreateAppointmentRequest, error) {
	if w.Step == StepSubmitted {
		return planner.CreateAppointmentRequest{}, ErrAlreadySubmitted
	}
	if !w.CanSubmit() {
		return planner.CreateAppointmentRequest{}, ErrCannotSubmit
	}
	if loc == nil {
		loc = time.Local
	}
	start, err := SlotStart(*w.Draft.Slot, loc)
	if err != nil {
		return planner.CreateAppointmentRequest{}, err
	}
	st := w.SessionType()
	req := planner.CreateAppointmentRequest{
		AdvisorID:       w.Draft.AdvisorID,
		AppointmentDate: FormatISO(start),
		DurationMinutes: st.DurationMinutes,
		SessionType:     st.Code,
		UserNotes:       strings.TrimSpace(w.Draft.Notes),
	}
	if st.AllowsPlanSharing() && w.Draft.SharedPlanID != nil {
		id := *w.Draft.SharedPlanID
		req.SharedPlanID = &id
	}
	return req, nil
}

// SlotStart combines a slot's date and start time in loc.
func SlotStart(slot planner.TimeSlot, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(slotLayout, slot.Date+" "+slot.StartTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("booking: parse slot %s %s: %w", slot.Date, slot.StartTime, err)
	}
	return t, nil
}

// FormatISO renders t as a UTC ISO-8601 timestamp with millisecond precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// SlotWindow is the inclusive [start, start+6 days] range fetched for a date.
func SlotWindow(date string) (start, end string, err error) {
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return day.Format(dateLayout), day.AddDate(0, 0, slotWindowDays-1).Format(dateLayout), nil
}

func (w *Wizard) loadSlots(ctx context.Context, src SlotSource) error {
	w.Slots = nil
	start, end, err := SlotWindow(w.Draft.Date)
	if err != nil {
		return err
	}
	if src == nil {
		return ErrSlotsUnavailable
	}
	slots, err := src.AvailableSlots(ctx, w.Draft.AdvisorID, start, end)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSlotsUnavailable, err)
	}
	w.Slots = slots
	return nil
}
