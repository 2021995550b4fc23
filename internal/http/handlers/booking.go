package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/advisor-booking/internal/booking"
	"github.com/wolfman30/advisor-booking/internal/handoff"
	"github.com/wolfman30/advisor-booking/internal/http/middleware"
	"github.com/wolfman30/advisor-booking/internal/planner"
	"github.com/wolfman30/advisor-booking/internal/sessions"
	"github.com/wolfman30/advisor-booking/pkg/logging"
)

const loadFailedMessage = "Failed to load data"

var (
	errAdvisorNotFound    = errors.New("advisor not found")
	errAdvisorUnavailable = errors.New("advisor details are unavailable")
)

// SessionStore persists wizard sessions.
type SessionStore interface {
	Create(ctx context.Context, sess *sessions.Session) error
	Save(ctx context.Context, sess *sessions.Session) error
	Load(ctx context.Context, id string) (*sessions.Session, error)
	Delete(ctx context.Context, id string) error
	Lock(ctx context.Context, id string) (func(), error)
}

// PlannerReader is the read side of the planner backend used by the wizard.
type PlannerReader interface {
	booking.SlotSource
	GetAdvisor(ctx context.Context, id int64) (*planner.Advisor, error)
	ListPlans(ctx context.Context) ([]planner.PlanSummary, error)
}

// Handoff runs calendar authorization around submission.
type Handoff interface {
	Mount(ctx context.Context, flow *handoff.Flow) []handoff.Notice
	Submit(ctx context.Context, sessionID, subject string, flow *handoff.Flow, wiz *booking.Wizard) (handoff.Outcome, error)
	HandleReturn(ctx context.Context, query url.Values) handoff.Return
	Cancel(ctx context.Context, sessionID, subject string, flow *handoff.Flow, wiz *booking.Wizard) (handoff.Outcome, error)
}

// StepObserver counts wizard transitions.
type StepObserver interface {
	ObserveStep(step, direction string)
}

// BookingHandler serves the booking wizard API.
type BookingHandler struct {
	store    SessionStore
	planner  PlannerReader
	handoff  Handoff
	metrics  StepObserver
	location *time.Location
	logger   *logging.Logger
	now      func() time.Time
}

// BookingConfig configures the booking handler.
type BookingConfig struct {
	Store    SessionStore
	Planner  PlannerReader
	Handoff  Handoff
	Metrics  StepObserver
	Location *time.Location
	Logger   *logging.Logger
}

// NewBookingHandler creates a new booking wizard handler.
func NewBookingHandler(cfg BookingConfig) *BookingHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &BookingHandler{
		store:    cfg.Store,
		planner:  cfg.Planner,
		handoff:  cfg.Handoff,
		metrics:  cfg.Metrics,
		location: cfg.Location,
		logger:   cfg.Logger.Component("booking"),
		now:      time.Now,
	}
}

// Start opens a wizard session for an advisor.
// POST /api/advisors/{advisorID}/bookings?type=
func (h *BookingHandler) Start(w http.ResponseWriter, r *http.Request) {
	advisorID, err := strconv.ParseInt(chi.URLParam(r, "advisorID"), 10, 64)
	if err != nil || advisorID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid advisor id")
		return
	}
	ctx := r.Context()

	advisor, err := h.planner.GetAdvisor(ctx, advisorID)
	if planner.IsStatus(err, http.StatusNotFound) {
		writeError(w, http.StatusNotFound, "advisor not found")
		return
	}
	if err != nil {
		h.logger.Warn("failed to load advisor", "advisor_id", advisorID, "error", err)
	}

	sess := &sessions.Session{
		Subject: middleware.SubjectFromContext(ctx),
		Wizard:  booking.NewWizard(advisorID, r.URL.Query().Get("type"), h.today()),
		OAuth:   handoff.NewFlow(),
	}
	sess.Notify(h.handoff.Mount(ctx, sess.OAuth)...)

	plans, plansErr := h.planner.ListPlans(ctx)
	if plansErr != nil {
		h.logger.Warn("failed to load plans", "error", plansErr)
	}
	if err != nil || plansErr != nil {
		sess.Notify(handoff.Notice{Level: handoff.LevelError, Message: loadFailedMessage})
	}
	sess.Advisor = advisor
	sess.Plans = plans

	if err := h.store.Create(ctx, sess); err != nil {
		h.logger.Error("failed to create booking session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create booking session")
		return
	}
	h.logger.Info("booking session started", "session_id", sess.ID, "advisor_id", advisorID, "oauth_state", sess.OAuth.State)
	writeJSON(w, http.StatusCreated, newBookingView(sess, nil))
}

// Get returns the current view of a session and drains its notices.
// GET /api/bookings/{sessionID}
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, sess *sessions.Session) (*handoff.Outcome, error) {
		return nil, nil
	})
}

type sessionTypeRequest struct {
	SessionType string `json:"sessionType"`
}

// SelectType picks the session type on the first step.
// POST /api/bookings/{sessionID}/type
func (h *BookingHandler) SelectType(w http.ResponseWriter, r *http.Request) {
	var req sessionTypeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.mutate(w, r, func(ctx context.Context, sess *sessions.Session) (*handoff.Outcome, error) {
		return nil, sess.Wizard.SelectSessionType(strings.TrimSpace(req.SessionType))
	})
}

// Continue advances one step.
// POST /api/bookings/{sessionID}/continue
func (h *BookingHandler) Continue(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, sess *sessions.Session) (*handoff.Outcome, error) {
		err := sess.Wizard.Continue(ctx, h.planner)
		if err != nil && !errors.Is(err, booking.ErrSlotsUnavailable) {
			return nil, err
		}
		h.observeStep(sess.Wizard.Step, "forward")
		h.slotsLoaded(sess, err)
		return nil, nil
	})
}

// Back retreats one step.
// POST /api/bookings/{sessionID}/back
func (h *BookingHandler) Back(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, sess *sessions.Session) (*handoff.Outcome, error) {
		if err := sess.Wizard.Back(); err != nil {
			return nil, err
		}
		h.observeStep(sess.Wizard.Step, "back")
		return nil, nil
	})
}

type dateRequest struct {
	Date string `json:"date"`
}

// ChangeDate picks a new date and reloads the slot window.
// POST /api/bookings/{sessionID}/date
func (h *BookingHandler) ChangeDate(w http.ResponseWriter, r *http.Request) {
	var req dateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.mutate(w, r, func(ctx context.Context, sess *sessions.Session) (*handoff.Outcome, error) {
		err := sess.Wizard.ChangeDate(ctx, h.planner, strings.TrimSpace(req.Date), h.today())
		if err != nil && !errors.Is(err, booking.ErrSlotsUnavailable) {
			return nil, err
		}
		h.slotsLoaded(sess, err)
		return nil, nil
	})
}

// SelectSlot picks one of the visible slots.
// POST /api/bookings/{sessionID}/slot
func (h *BookingHandler) SelectSlot(w http.ResponseWriter, r *http.Request) {
	var req planner.TimeSlot
	if !decodeBody(w, r, &req) {
		return
	}
	h.mutate(w, r, func(ctx context.Context, sess *sessions.Session) (*handoff.Outcome, error) {
		return nil, sess.Wizard.SelectSlot(req)
	})
}

type planRequest struct {
	PlanID *int64 `json:"planId"`
}

// SharePlan attaches or detaches a financial plan.
// POST /api/bookings/{sessionID}/plan
func (h *BookingHandler) SharePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.mutate(w, r, func(ctx context.Context, sess *sessions.Session) (*handoff.Outcome, error) {
		return nil, sess.Wizard.SharePlan(req.PlanID)
	})
}

type notesRequest struct {
	Notes string `json:"notes"`
}

// SetNotes records notes for the advisor.
// POST /api/bookings/{sessionID}/notes
func (h *BookingHandler) SetNotes(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.mutate(w, r, func(ctx context.Context, sess *sessions.Session) (*handoff.Outcome, error) {
		return nil, sess.Wizard.SetNotes(req.Notes)
	})
}

// Submit books the draft, directly or through calendar authorization. A
// session whose appointment now stands is closed.
// POST /api/bookings/{sessionID}/submit
func (h *BookingHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, sess *sessions.Session) (*handoff.Outcome, error) {
		if err := h.ensureAdvisor(ctx, sess); err != nil {
			return nil, err
		}
		out, err := h.handoff.Submit(ctx, sess.ID, sess.Subject, sess.OAuth, sess.Wizard)
		if err != nil {
			return nil, err
		}
		sess.Notify(out.Notices...)
		return &out, nil
	})
}

// CancelAuthorization dismisses the authorization dialog.
// POST /api/bookings/{sessionID}/cancel-authorization
func (h *BookingHandler) CancelAuthorization(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, sess *sessions.Session) (*handoff.Outcome, error) {
		out, err := h.handoff.Cancel(ctx, sess.ID, sess.Subject, sess.OAuth, sess.Wizard)
		if err != nil {
			return nil, err
		}
		sess.Notify(out.Notices...)
		return &out, nil
	})
}

// mutate loads the caller's session under its lock, applies fn, saves, and
// writes the resulting view. A navigate outcome ends the session instead of
// saving it.
func (h *BookingHandler) mutate(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, sess *sessions.Session) (*handoff.Outcome, error)) {
	ctx := r.Context()
	id := chi.URLParam(r, "sessionID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	release, err := h.store.Lock(ctx, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	defer release()

	sess, err := h.store.Load(ctx, id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if sess.Subject != middleware.SubjectFromContext(ctx) {
		writeError(w, http.StatusNotFound, "booking session not found")
		return
	}

	out, err := fn(ctx, sess)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if out != nil {
		// Notices were queued on the session; the view drains them once.
		out.Notices = nil
	}

	view := newBookingView(sess, out)
	if out != nil && out.Kind == handoff.OutcomeNavigate {
		if err := h.store.Delete(ctx, sess.ID); err != nil {
			h.logger.Error("failed to close booking session", "session_id", sess.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to close booking session")
			return
		}
		h.logger.Info("booking session closed", "session_id", sess.ID, "appointment_id", sess.Wizard.AppointmentID)
		writeJSON(w, http.StatusOK, view)
		return
	}
	if err := h.store.Save(ctx, sess); err != nil {
		h.logger.Error("failed to save booking session", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save booking session")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ensureAdvisor retries the advisor lookup that failed when the session started.
func (h *BookingHandler) ensureAdvisor(ctx context.Context, sess *sessions.Session) error {
	if sess.Advisor != nil {
		return nil
	}
	advisor, err := h.planner.GetAdvisor(ctx, sess.Wizard.Draft.AdvisorID)
	if planner.IsStatus(err, http.StatusNotFound) {
		return errAdvisorNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errAdvisorUnavailable, err)
	}
	sess.Advisor = advisor
	return nil
}

func (h *BookingHandler) slotsLoaded(sess *sessions.Session, err error) {
	if err == nil {
		return
	}
	h.logger.Warn("failed to load available slots", "session_id", sess.ID, "advisor_id", sess.Wizard.Draft.AdvisorID, "error", err)
	sess.Notify(handoff.Notice{Level: handoff.LevelError, Message: loadFailedMessage})
}

func (h *BookingHandler) observeStep(step booking.Step, direction string) {
	if h.metrics != nil {
		h.metrics.ObserveStep(string(step), direction)
	}
}

func (h *BookingHandler) today() time.Time {
	return h.now().In(h.location)
}

func (h *BookingHandler) writeDomainError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	switch {
	case status == http.StatusServiceUnavailable:
		h.logger.Warn("booking request deferred", "error", err)
		writeError(w, status, errAdvisorUnavailable.Error())
		return
	case status >= http.StatusInternalServerError:
		h.logger.Error("booking request failed", "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, sessions.ErrNotFound),
		errors.Is(err, errAdvisorNotFound):
		return http.StatusNotFound
	case errors.Is(err, sessions.ErrBusy),
		errors.Is(err, booking.ErrIllegalTransition),
		errors.Is(err, booking.ErrStepIncomplete),
		errors.Is(err, booking.ErrWrongStep),
		errors.Is(err, booking.ErrCannotSubmit),
		errors.Is(err, booking.ErrAlreadySubmitted),
		errors.Is(err, handoff.ErrSubmitUnavailable),
		errors.Is(err, handoff.ErrNoAuthorizationInProgress):
		return http.StatusConflict
	case errors.Is(err, booking.ErrUnknownSessionType),
		errors.Is(err, booking.ErrInvalidDate),
		errors.Is(err, booking.ErrPastDate),
		errors.Is(err, booking.ErrUnknownSlot),
		errors.Is(err, booking.ErrPlanSharingUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errAdvisorUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
