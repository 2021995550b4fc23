// Package handoff coordinates the redirect-based calendar authorization that
// lets a new appointment receive a meeting link.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/advisor-booking/internal/booking"
	"github.com/wolfman30/advisor-booking/internal/planner"
	"github.com/wolfman30/advisor-booking/pkg/logging"
)

var (
	// ErrSubmitUnavailable is returned while a status check or authorization is in flight.
	ErrSubmitUnavailable = errors.New("handoff: submission unavailable in current authorization state")

	// ErrNoAuthorizationInProgress is returned when there is no authorization dialog to dismiss.
	ErrNoAuthorizationInProgress = errors.New("handoff: no authorization in progress")
)

// Backend is the subset of the planner API the hand-off uses.
type Backend interface {
	OAuthStatus(ctx context.Context) (bool, error)
	CreateAppointment(ctx context.Context, req planner.CreateAppointmentRequest) (*planner.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id int64, status string) (*planner.Appointment, error)
	AuthorizationURL(ctx context.Context, appointmentID int64) (string, error)
	ExchangeCallback(ctx context.Context, code, state string) (string, error)
}

// PendingStore keeps pending bookings across the provider redirect.
type PendingStore interface {
	SavePending(ctx context.Context, key string, p Pending) error
	// TakePending returns and removes the entry; (nil, nil) when absent.
	TakePending(ctx context.Context, key string) (*Pending, error)
}

// Recorder persists hand-off lifecycle events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Metrics receives hand-off counters.
type Metrics interface {
	ObserveSubmission(branch, result string)
	ObserveStatusCheck(outcome string)
	ObserveHandoff(event string)
}

// CancelPolicy decides what happens to a pre-created appointment when the
// authorization dialog is dismissed.
type CancelPolicy string

const (
	// CancelKeep leaves the appointment booked without a meeting link.
	CancelKeep CancelPolicy = "keep"
	// CancelAppointment marks the pre-created appointment cancelled.
	CancelAppointment CancelPolicy = "cancel"
)

// ParseCancelPolicy maps a config value to a policy, defaulting to keep.
func ParseCancelPolicy(v string) CancelPolicy {
	if CancelPolicy(v) == CancelAppointment {
		return CancelAppointment
	}
	return CancelKeep
}

// Config tunes the controller.
type Config struct {
	// LandingURL is where the browser goes after a completed authorization.
	LandingURL string
	// AppointmentURL formats the detail page for a directly created appointment.
	AppointmentURL func(id int64) string
	Location       *time.Location
	CancelPolicy   CancelPolicy
}

// OutcomeKind tells the caller what the browser should do next.
type OutcomeKind string

const (
	OutcomeStay     OutcomeKind = "stay"
	OutcomeNavigate OutcomeKind = "navigate"
	OutcomeRedirect OutcomeKind = "redirect"
)

// Outcome is the result of a submission, return, or cancellation.
type Outcome struct {
	Kind        OutcomeKind          `json:"kind"`
	Location    string               `json:"location,omitempty"`
	Appointment *planner.Appointment `json:"appointment,omitempty"`
	Notices     []Notice             `json:"notices,omitempty"`
}

// Return is the result of processing the provider's redirect back to us.
type Return struct {
	Outcome
	// State is the authorization state the originating session should take.
	State State
	// Pending is the parked booking when it could be located.
	Pending *Pending
}

// Controller runs the authorization hand-off. It holds no per-session state;
// callers pass the session's Flow.
type Controller struct {
	backend  Backend
	pending  PendingStore
	recorder Recorder
	metrics  Metrics
	cfg      Config
	logger   *logging.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewController creates a controller. recorder and metrics may be nil.
func NewController(backend Backend, pending PendingStore, recorder Recorder, metrics Metrics, cfg Config, logger *logging.Logger) *Controller {
	if backend == nil {
		panic("handoff: backend required")
	}
	if pending == nil {
		panic("handoff: pending store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.AppointmentURL == nil {
		cfg.AppointmentURL = func(id int64) string { return "/appointment/" + strconv.FormatInt(id, 10) }
	}
	if cfg.CancelPolicy == "" {
		cfg.CancelPolicy = CancelKeep
	}
	return &Controller{
		backend:  backend,
		pending:  pending,
		recorder: recorder,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger.Component("handoff"),
		tracer:   otel.Tracer("advisor-booking.internal.handoff"),
		now:      time.Now,
	}
}

// Mount resets the flow and queries authorization status. A failed query is
// treated as not authorized.
func (c *Controller) Mount(ctx context.Context, flow *Flow) []Notice {
	ctx, span := c.tracer.Start(ctx, "handoff.mount")
	defer span.End()

	flow.reset(StateChecking)
	authorized, err := c.backend.OAuthStatus(ctx)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("oauth status check failed", "error", err)
		c.observeStatus("failed")
		flow.reset(StateNotAuthorized)
		return []Notice{{Level: LevelInfo, Message: "Could not verify Google Calendar authorization. You will be asked to authorize when booking."}}
	}
	if authorized {
		c.observeStatus("authorized")
		flow.reset(StateAuthorized)
		return nil
	}
	c.observeStatus("not_authorized")
	flow.reset(StateNotAuthorized)
	return nil
}

// Submit books the wizard's draft. Authorized sessions create the appointment
// and navigate to it. Otherwise the appointment is created once, an
// authorization URL is requested for it, and the browser is redirected there.
// Once an appointment exists the wizard is marked submitted.
func (c *Controller) Submit(ctx context.Context, sessionID, subject string, flow *Flow, wiz *booking.Wizard) (Outcome, error) {
	if !flow.SubmitEnabled() {
		return Outcome{}, ErrSubmitUnavailable
	}
	req, err := wiz.BuildRequest(c.cfg.Location)
	if err != nil {
		return Outcome{}, err
	}

	ctx, span := c.tracer.Start(ctx, "handoff.submit", trace.WithAttributes(
		attribute.String("oauth.state", string(flow.State)),
		attribute.Int64("advisor.id", req.AdvisorID),
	))
	defer span.End()

	if flow.State == StateAuthorized {
		return c.submitDirect(ctx, wiz, req), nil
	}
	return c.submitWithAuthorization(ctx, sessionID, subject, flow, wiz, req), nil
}

func (c *Controller) submitDirect(ctx context.Context, wiz *booking.Wizard, req planner.CreateAppointmentRequest) Outcome {
	appt, err := c.backend.CreateAppointment(ctx, req)
	if err != nil {
		c.logger.Error("create appointment failed", "advisor_id", req.AdvisorID, "error", err)
		c.observeSubmission("direct", "failed")
		return Outcome{
			Kind:    OutcomeStay,
			Notices: []Notice{{Level: LevelError, Message: "Failed to book appointment"}},
		}
	}
	c.logger.Info("appointment booked", "appointment_id", appt.ID, "advisor_id", req.AdvisorID)
	c.observeSubmission("direct", "created")
	c.markSubmitted(wiz, appt.ID)
	return Outcome{
		Kind:        OutcomeNavigate,
		Location:    c.cfg.AppointmentURL(appt.ID),
		Appointment: appt,
		Notices:     []Notice{{Level: LevelSuccess, Message: "Appointment booked successfully"}},
	}
}

func (c *Controller) submitWithAuthorization(ctx context.Context, sessionID, subject string, flow *Flow, wiz *booking.Wizard, req planner.CreateAppointmentRequest) Outcome {
	flow.State = StateAuthorizing
	flow.DialogOpen = true

	fail := func(stage string, appointmentID int64, err error) Outcome {
		c.logger.Error("oauth authorization start failed", "stage", stage, "appointment_id", appointmentID, "error", err)
		c.observeSubmission("oauth", "failed")
		c.record(ctx, Event{
			SessionID:     sessionID,
			Subject:       subject,
			AppointmentID: appointmentID,
			Kind:          EventFailed,
			Detail:        stage + ": " + err.Error(),
		})
		flow.reset(StateNotAuthorized)
		out := Outcome{
			Kind:    OutcomeStay,
			Notices: []Notice{{Level: LevelError, Message: "Failed to start OAuth authorization"}},
		}
		if appointmentID != 0 {
			// The appointment stands without a meeting link; booking again would duplicate it.
			out.Kind = OutcomeNavigate
			out.Location = c.cfg.AppointmentURL(appointmentID)
		}
		return out
	}

	appt, err := c.backend.CreateAppointment(ctx, req)
	if err != nil {
		return fail("create_appointment", 0, err)
	}
	c.markSubmitted(wiz, appt.ID)
	authURL, err := c.backend.AuthorizationURL(ctx, appt.ID)
	if err != nil {
		return fail("authorization_url", appt.ID, err)
	}

	key, err := providerState(authURL)
	if err != nil {
		return fail("authorization_url", appt.ID, err)
	}
	if key != "" {
		p := Pending{
			SessionID:     sessionID,
			Subject:       subject,
			AdvisorID:     req.AdvisorID,
			AppointmentID: appt.ID,
			Request:       req,
			CreatedAt:     c.now().UTC(),
		}
		if err := c.pending.SavePending(ctx, key, p); err != nil {
			// The backend can still complete the exchange from state alone.
			c.logger.Warn("failed to park pending booking", "appointment_id", appt.ID, "error", err)
		}
	} else {
		c.logger.Warn("authorization url carries no state parameter", "appointment_id", appt.ID)
	}
	flow.PendingKey = key

	c.record(ctx, Event{
		SessionID:     sessionID,
		Subject:       subject,
		AppointmentID: appt.ID,
		ProviderState: key,
		Kind:          EventStarted,
	})
	c.observeSubmission("oauth", "redirected")
	c.logger.Info("redirecting to calendar authorization", "appointment_id", appt.ID)

	return Outcome{
		Kind:        OutcomeRedirect,
		Location:    authURL,
		Appointment: appt,
	}
}

// HandleReturn processes the provider's redirect back. query holds the
// browser's query parameters; it is never mutated.
func (c *Controller) HandleReturn(ctx context.Context, query url.Values) Return {
	code := query.Get("code")
	state := query.Get("state")
	providerErr := query.Get("error")

	if providerErr == "" && (code == "" || state == "") {
		return Return{Outcome: Outcome{Kind: OutcomeStay}}
	}

	ctx, span := c.tracer.Start(ctx, "handoff.return")
	defer span.End()

	var pending *Pending
	if state != "" {
		p, err := c.pending.TakePending(ctx, state)
		if err != nil {
			c.logger.Warn("pending booking lookup failed", "error", err)
		}
		pending = p
	}
	ev := Event{ProviderState: state}
	if pending != nil {
		ev.SessionID = pending.SessionID
		ev.Subject = pending.Subject
		ev.AppointmentID = pending.AppointmentID
	}

	if providerErr != "" {
		c.logger.Warn("calendar authorization denied", "error", providerErr, "description", query.Get("error_description"))
		ev.Kind = EventDenied
		ev.Detail = providerErr
		c.record(ctx, ev)
		c.observeHandoff("denied")
		return Return{
			Outcome: Outcome{
				Kind:     OutcomeNavigate,
				Location: c.returnLocation(pending),
				Notices:  []Notice{{Level: LevelError, Message: "OAuth authorization failed"}},
			},
			State:   StateNotAuthorized,
			Pending: pending,
		}
	}

	if _, err := c.backend.ExchangeCallback(ctx, code, state); err != nil {
		span.RecordError(err)
		c.logger.Error("oauth callback exchange failed", "appointment_id", ev.AppointmentID, "error", err)
		ev.Kind = EventFailed
		ev.Detail = "exchange: " + err.Error()
		c.record(ctx, ev)
		c.observeHandoff("failed")
		return Return{
			Outcome: Outcome{
				Kind:     OutcomeNavigate,
				Location: c.returnLocation(pending),
				Notices:  []Notice{{Level: LevelError, Message: "Failed to complete authorization"}},
			},
			State:   StateNotAuthorized,
			Pending: pending,
		}
	}

	ev.Kind = EventCompleted
	c.record(ctx, ev)
	c.observeHandoff("completed")
	c.logger.Info("calendar authorization completed", "appointment_id", ev.AppointmentID)
	return Return{
		Outcome: Outcome{
			Kind:     OutcomeNavigate,
			Location: c.cfg.LandingURL,
			Notices:  []Notice{{Level: LevelSuccess, Message: "Google Calendar authorization successful! Your appointment has been created."}},
		},
		State:   StateAuthorized,
		Pending: pending,
	}
}

// Cancel handles dismissal of the authorization dialog. The pending booking is
// discarded. The pre-created appointment is kept, and the browser sent to it,
// unless the policy cancels it, in which case the draft can be submitted again.
func (c *Controller) Cancel(ctx context.Context, sessionID, subject string, flow *Flow, wiz *booking.Wizard) (Outcome, error) {
	if flow.State != StateAuthorizing {
		return Outcome{}, ErrNoAuthorizationInProgress
	}
	ctx, span := c.tracer.Start(ctx, "handoff.cancel")
	defer span.End()

	key := flow.PendingKey
	flow.reset(StateNotAuthorized)

	appointmentID := wiz.AppointmentID
	if key != "" {
		p, err := c.pending.TakePending(ctx, key)
		if err != nil {
			c.logger.Warn("pending booking lookup failed", "error", err)
		}
		if p != nil && p.AppointmentID != 0 {
			appointmentID = p.AppointmentID
		}
	}

	ev := Event{SessionID: sessionID, Subject: subject, ProviderState: key, AppointmentID: appointmentID, Kind: EventCancelled, Detail: string(c.cfg.CancelPolicy)}
	defer func() {
		c.record(ctx, ev)
		c.observeHandoff("cancelled")
	}()

	if appointmentID == 0 {
		return Outcome{Kind: OutcomeStay}, nil
	}
	kept := Outcome{Kind: OutcomeNavigate, Location: c.cfg.AppointmentURL(appointmentID)}
	if c.cfg.CancelPolicy != CancelAppointment {
		kept.Notices = []Notice{{Level: LevelInfo, Message: "Authorization cancelled. Your appointment is booked without a meeting link."}}
		return kept, nil
	}
	if _, err := c.backend.UpdateAppointmentStatus(ctx, appointmentID, planner.StatusCancelled); err != nil {
		span.RecordError(err)
		c.logger.Error("failed to cancel pre-created appointment", "appointment_id", appointmentID, "error", err)
		ev.Detail = fmt.Sprintf("%s: %v", c.cfg.CancelPolicy, err)
		kept.Notices = []Notice{{Level: LevelError, Message: "Authorization cancelled, but the appointment could not be cancelled"}}
		return kept, nil
	}
	if err := wiz.Reopen(); err != nil {
		c.logger.Warn("could not reopen draft after withdrawal", "appointment_id", appointmentID, "error", err)
	}
	return Outcome{
		Kind:    OutcomeStay,
		Notices: []Notice{{Level: LevelInfo, Message: "Authorization cancelled and the appointment was withdrawn"}},
	}, nil
}

func (c *Controller) markSubmitted(wiz *booking.Wizard, appointmentID int64) {
	if err := wiz.MarkSubmitted(appointmentID); err != nil {
		c.logger.Warn("could not close draft", "appointment_id", appointmentID, "error", err)
	}
}

func (c *Controller) returnLocation(p *Pending) string {
	if p == nil || p.AppointmentID == 0 {
		return c.cfg.LandingURL
	}
	return c.cfg.AppointmentURL(p.AppointmentID)
}

func (c *Controller) record(ctx context.Context, ev Event) {
	if c.recorder == nil {
		return
	}
	ev.OccurredAt = c.now().UTC()
	if err := c.recorder.Record(ctx, ev); err != nil {
		c.logger.Warn("failed to record handoff event", "kind", ev.Kind, "error", err)
	}
}

func (c *Controller) observeSubmission(branch, result string) {
	if c.metrics != nil {
		c.metrics.ObserveSubmission(branch, result)
	}
}

func (c *Controller) observeStatus(outcome string) {
	if c.metrics != nil {
		c.metrics.ObserveStatusCheck(outcome)
	}
}

func (c *Controller) observeHandoff(event string) {
	if c.metrics != nil {
		c.metrics.ObserveHandoff(event)
	}
}

// providerState extracts the opaque state parameter from an authorization URL.
func providerState(authURL string) (string, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", fmt.Errorf("handoff: parse authorization url: %w", err)
	}
	return u.Query().Get("state"), nil
}
