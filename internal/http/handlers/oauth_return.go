package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/wolfman30/advisor-booking/internal/handoff"
	"github.com/wolfman30/advisor-booking/internal/sessions"
	"github.com/wolfman30/advisor-booking/pkg/logging"
)

// OAuthReturnHandler receives the browser back from the calendar provider.
type OAuthReturnHandler struct {
	store      SessionStore
	handoff    Handoff
	landingURL string
	logger     *logging.Logger
}

// NewOAuthReturnHandler creates the provider return handler.
func NewOAuthReturnHandler(store SessionStore, h Handoff, landingURL string, logger *logging.Logger) *OAuthReturnHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &OAuthReturnHandler{
		store:      store,
		handoff:    h,
		landingURL: landingURL,
		logger:     logger.Component("oauth_return"),
	}
}

// ServeHTTP processes code/state/error and redirects without them.
// GET /oauth/return
func (h *OAuthReturnHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ret := h.handoff.HandleReturn(ctx, r.URL.Query())

	if ret.Kind != handoff.OutcomeStay && ret.Pending != nil && ret.Pending.SessionID != "" {
		if err := h.applyToSession(ctx, ret); err != nil {
			h.logger.Warn("could not update booking session after authorization", "session_id", ret.Pending.SessionID, "error", err)
		}
	}

	location := ret.Location
	if location == "" {
		location = h.landingURL
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, location, http.StatusFound)
}

func (h *OAuthReturnHandler) applyToSession(ctx context.Context, ret handoff.Return) error {
	id := ret.Pending.SessionID
	release, err := h.store.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	sess, err := h.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return nil
		}
		return err
	}
	sess.OAuth.State = ret.State
	sess.OAuth.DialogOpen = false
	sess.OAuth.PendingKey = ""
	// The appointment exists whatever the provider answered; the draft stays closed.
	if appointmentID := ret.Pending.AppointmentID; appointmentID != 0 {
		if err := sess.Wizard.MarkSubmitted(appointmentID); err != nil {
			h.logger.Warn("could not close draft after authorization", "session_id", id, "appointment_id", appointmentID, "error", err)
		}
	}
	sess.Notify(ret.Notices...)
	return h.store.Save(ctx, sess)
}
