package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/advisor-booking/internal/booking"
	"github.com/wolfman30/advisor-booking/internal/handoff"
	"github.com/wolfman30/advisor-booking/internal/http/middleware"
	"github.com/wolfman30/advisor-booking/internal/planner"
	"github.com/wolfman30/advisor-booking/internal/sessions"
	"github.com/wolfman30/advisor-booking/pkg/logging"
)

const (
	testSecret  = "test-secret"
	testLanding = "http://app.test/dashboard"
)

// fakePlanner is an in-process planner backend.
type fakePlanner struct {
	mu            sync.Mutex
	advisorStatus int
	authorized    bool
	statusFails   bool
	slotsFail     bool
	createFails   bool
	slots         []planner.TimeSlot
	creates       []planner.CreateAppointmentRequest
	authURLCalls  int
	exchanges     []map[string]string
	statusUpdates []string
	calls         []string
}

func (f *fakePlanner) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/advisors/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.advisorStatus != 0 {
			writeJSON(w, f.advisorStatus, map[string]string{"message": "Advisor not found"})
			return
		}
		writeJSON(w, http.StatusOK, planner.Advisor{ID: 7, FirstName: "Ada", LastName: "Lovelace", HourlyRate: 120})
	})
	mux.HandleFunc("GET /api/plans", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []planner.PlanSummary{{ID: 3, PlanName: "Retirement"}})
	})
	mux.HandleFunc("GET /api/advisors/{id}/available-slots", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, "slots:"+r.URL.Query().Get("startDate")+".."+r.URL.Query().Get("endDate"))
		if f.slotsFail {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
			return
		}
		writeJSON(w, http.StatusOK, f.slots)
	})
	mux.HandleFunc("POST /api/appointments", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, "create")
		var req planner.CreateAppointmentRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.creates = append(f.creates, req)
		if f.createFails {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "slot taken"})
			return
		}
		writeJSON(w, http.StatusOK, planner.Appointment{ID: 42, AdvisorID: req.AdvisorID, Status: planner.StatusConfirmed})
	})
	mux.HandleFunc("PUT /api/appointments/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.statusUpdates = append(f.statusUpdates, r.PathValue("id")+":"+r.URL.Query().Get("status"))
		writeJSON(w, http.StatusOK, planner.Appointment{ID: 42, Status: r.URL.Query().Get("status")})
	})
	mux.HandleFunc("GET /api/oauth/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.statusFails {
			writeJSON(w, http.StatusBadGateway, map[string]string{"message": "down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"authorized": f.authorized})
	})
	mux.HandleFunc("GET /api/oauth/google/auth-url", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, "auth-url")
		f.authURLCalls++
		id := r.URL.Query().Get("appointmentId")
		writeJSON(w, http.StatusOK, map[string]string{"authUrl": "https://accounts.example/o/auth?client_id=c&state=st-" + id})
	})
	mux.HandleFunc("POST /api/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.exchanges = append(f.exchanges, body)
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	})
	return mux
}

type memRecorder struct {
	mu     sync.Mutex
	events []handoff.Event
}

func (m *memRecorder) Record(_ context.Context, ev handoff.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memRecorder) kinds() []handoff.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]handoff.EventKind, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev.Kind)
	}
	return out
}

type testEnv struct {
	t        *testing.T
	router   http.Handler
	planner  *fakePlanner
	store    *sessions.Store
	recorder *memRecorder
}

func newTestEnv(t *testing.T, fp *fakePlanner, policy handoff.CancelPolicy) *testEnv {
	t.Helper()
	if fp.slots == nil {
		fp.slots = []planner.TimeSlot{
			{Date: "2024-06-10", StartTime: "14:00", EndTime: "15:00"},
			{Date: "2024-06-10", StartTime: "16:00", EndTime: "17:00"},
			{Date: "2024-06-11", StartTime: "09:00", EndTime: "10:00"},
		}
	}
	backend := httptest.NewServer(fp.handler(t))
	t.Cleanup(backend.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := logging.NewWithWriter(&bytes.Buffer{}, "error")
	store := sessions.NewStore(rdb, time.Hour, 10*time.Minute)
	client := planner.NewClient(backend.URL+"/api", backend.Client(), logger)
	recorder := &memRecorder{}
	controller := handoff.NewController(client, store, recorder, nil, handoff.Config{
		LandingURL:     testLanding,
		AppointmentURL: func(id int64) string { return fmt.Sprintf("http://app.test/appointment/%d", id) },
		Location:       time.UTC,
		CancelPolicy:   policy,
	}, logger)

	bookingHandler := NewBookingHandler(BookingConfig{
		Store:    store,
		Planner:  client,
		Handoff:  controller,
		Location: time.UTC,
		Logger:   logger,
	})
	bookingHandler.now = func() time.Time { return time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC) }
	returnHandler := NewOAuthReturnHandler(store, controller, testLanding, logger)

	r := chi.NewRouter()
	r.Get("/oauth/return", returnHandler.ServeHTTP)
	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.UserJWT(testSecret))
		api.Post("/advisors/{advisorID}/bookings", bookingHandler.Start)
		api.Route("/bookings/{sessionID}", func(b chi.Router) {
			b.Get("/", bookingHandler.Get)
			b.Post("/type", bookingHandler.SelectType)
			b.Post("/continue", bookingHandler.Continue)
			b.Post("/back", bookingHandler.Back)
			b.Post("/date", bookingHandler.ChangeDate)
			b.Post("/slot", bookingHandler.SelectSlot)
			b.Post("/plan", bookingHandler.SharePlan)
			b.Post("/notes", bookingHandler.SetNotes)
			b.Post("/submit", bookingHandler.Submit)
			b.Post("/cancel-authorization", bookingHandler.CancelAuthorization)
		})
	})

	return &testEnv{t: t, router: r, planner: fp, store: store, recorder: recorder}
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(method, path, subject string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+signToken(e.t, subject))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) view(rec *httptest.ResponseRecorder, wantStatus int) BookingView {
	e.t.Helper()
	require.Equal(e.t, wantStatus, rec.Code, rec.Body.String())
	var v BookingView
	require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (e *testEnv) start(path string) BookingView {
	e.t.Helper()
	return e.view(e.do(http.MethodPost, path, "user-1", nil), http.StatusCreated)
}

func (e *testEnv) post(id, action string, body any) BookingView {
	e.t.Helper()
	return e.view(e.do(http.MethodPost, "/api/bookings/"+id+"/"+action, "user-1", body), http.StatusOK)
}

// toConfirm walks a fresh session to the confirm step with the 14:00 slot.
func (e *testEnv) toConfirm(id string) BookingView {
	e.t.Helper()
	e.post(id, "continue", nil)
	e.post(id, "slot", planner.TimeSlot{Date: "2024-06-10", StartTime: "14:00", EndTime: "15:00"})
	return e.post(id, "continue", nil)
}

func noticeMessages(v BookingView) []string {
	out := make([]string, 0, len(v.Notices))
	for _, n := range v.Notices {
		out = append(out, n.Message)
	}
	return out
}

func TestStartRequiresAuth(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{authorized: true}, handoff.CancelKeep)
	rec := env.do(http.MethodPost, "/api/advisors/7/bookings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartLoadsAdvisorAndStatus(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{authorized: true}, handoff.CancelKeep)

	v := env.start("/api/advisors/7/bookings")
	assert.NotEmpty(t, v.SessionID)
	assert.Equal(t, booking.StepSelectType, v.Step)
	assert.Equal(t, 0, v.StepIndex)
	assert.Equal(t, booking.InitialConsultation, v.SessionType)
	assert.Equal(t, "2024-06-10", v.Date)
	assert.True(t, v.CanContinue)
	assert.Equal(t, handoff.StateAuthorized, v.OAuth.State)
	assert.Equal(t, "Confirm Booking", v.OAuth.SubmitLabel)
	require.NotNil(t, v.Advisor)
	assert.Equal(t, "Ada", v.Advisor.FirstName)
	require.Len(t, v.SessionTypes, 4)
	assert.True(t, v.SessionTypes[0].Free)
	assert.Equal(t, 120.0, v.SessionTypes[1].Price)
	assert.Len(t, v.Plans, 1)
}

func TestStartHonorsTypeHint(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{authorized: true}, handoff.CancelKeep)
	v := env.start("/api/advisors/7/bookings?type=PLAN_REVIEW")
	assert.Equal(t, booking.PlanReview, v.SessionType)
	assert.True(t, v.PlanSharing)

	v = env.start("/api/advisors/7/bookings?type=NOPE")
	assert.Equal(t, booking.InitialConsultation, v.SessionType)
}

func TestStartRejectsBadAdvisorID(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{authorized: true}, handoff.CancelKeep)
	rec := env.do(http.MethodPost, "/api/advisors/abc/bookings", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDirectBookingFlow(t *testing.T) {
	fp := &fakePlanner{authorized: true}
	env := newTestEnv(t, fp, handoff.CancelKeep)
	id := env.start("/api/advisors/7/bookings").SessionID

	v := env.post(id, "type", map[string]string{"sessionType": booking.StandardSession})
	assert.Equal(t, booking.StandardSession, v.SessionType)

	v = env.post(id, "continue", nil)
	assert.Equal(t, booking.StepChooseSlot, v.Step)
	assert.Len(t, v.Slots, 2, "only slots on the selected date are visible")
	assert.False(t, v.CanContinue)
	assert.Equal(t, []string{"slots:2024-06-10..2024-06-16"}, fp.calls)

	v = env.post(id, "slot", planner.TimeSlot{Date: "2024-06-10", StartTime: "14:00", EndTime: "15:00"})
	assert.True(t, v.CanContinue)

	v = env.post(id, "continue", nil)
	assert.Equal(t, booking.StepConfirm, v.Step)
	assert.True(t, v.CanSubmit)

	env.post(id, "notes", map[string]string{"notes": "  retirement questions "})

	v = env.post(id, "submit", nil)
	require.NotNil(t, v.Outcome)
	assert.Equal(t, handoff.OutcomeNavigate, v.Outcome.Kind)
	assert.Equal(t, "http://app.test/appointment/42", v.Outcome.Location)
	assert.Contains(t, noticeMessages(v), "Appointment booked successfully")

	require.Len(t, fp.creates, 1)
	assert.Equal(t, int64(7), fp.creates[0].AdvisorID)
	assert.Equal(t, "2024-06-10T14:00:00.000Z", fp.creates[0].AppointmentDate)
	assert.Equal(t, 60, fp.creates[0].DurationMinutes)
	assert.Equal(t, "retirement questions", fp.creates[0].UserNotes)
	assert.Zero(t, fp.authURLCalls)

	assert.Equal(t, booking.StepSubmitted, v.Step)
	assert.Equal(t, int64(42), v.AppointmentID)
	assert.False(t, v.CanSubmit)

	// The finished session is gone; submitting again books nothing.
	rec := env.do(http.MethodPost, "/api/bookings/"+id+"/submit", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(http.MethodGet, "/api/bookings/"+id, "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, fp.creates, 1)
}

func TestStartUnknownAdvisor(t *testing.T) {
	fp := &fakePlanner{authorized: true, advisorStatus: http.StatusNotFound}
	env := newTestEnv(t, fp, handoff.CancelKeep)

	rec := env.do(http.MethodPost, "/api/advisors/99/bookings", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "advisor not found")
}

func TestSubmitWaitsForAdvisor(t *testing.T) {
	fp := &fakePlanner{authorized: true, advisorStatus: http.StatusBadGateway}
	env := newTestEnv(t, fp, handoff.CancelKeep)
	start := env.start("/api/advisors/7/bookings")
	assert.Nil(t, start.Advisor)
	assert.Contains(t, noticeMessages(start), "Failed to load data")
	id := start.SessionID
	env.toConfirm(id)

	rec := env.do(http.MethodPost, "/api/bookings/"+id+"/submit", "user-1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, fp.creates)

	fp.mu.Lock()
	fp.advisorStatus = http.StatusNotFound
	fp.mu.Unlock()
	rec = env.do(http.MethodPost, "/api/bookings/"+id+"/submit", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, fp.creates)

	fp.mu.Lock()
	fp.advisorStatus = 0
	fp.mu.Unlock()
	v := env.post(id, "submit", nil)
	require.NotNil(t, v.Outcome)
	assert.Equal(t, handoff.OutcomeNavigate, v.Outcome.Kind)
	require.NotNil(t, v.Advisor)
	assert.Len(t, fp.creates, 1)
}

func TestDirectBookingFailureStaysOnConfirm(t *testing.T) {
	fp := &fakePlanner{authorized: true, createFails: true}
	env := newTestEnv(t, fp, handoff.CancelKeep)
	id := env.start("/api/advisors/7/bookings").SessionID
	env.toConfirm(id)

	v := env.post(id, "submit", nil)
	assert.Equal(t, booking.StepConfirm, v.Step)
	require.NotNil(t, v.Outcome)
	assert.Equal(t, handoff.OutcomeStay, v.Outcome.Kind)
	assert.Contains(t, noticeMessages(v), "Failed to book appointment")
	assert.True(t, v.CanSubmit)
}

func TestChangeDateClearsSlot(t *testing.T) {
	fp := &fakePlanner{authorized: true}
	env := newTestEnv(t, fp, handoff.CancelKeep)
	id := env.start("/api/advisors/7/bookings").SessionID
	env.post(id, "continue", nil)
	v := env.post(id, "slot", planner.TimeSlot{Date: "2024-06-10", StartTime: "14:00", EndTime: "15:00"})
	require.NotNil(t, v.SelectedSlot)

	v = env.post(id, "date", map[string]string{"date": "2024-06-11"})
	assert.Nil(t, v.SelectedSlot)
	assert.False(t, v.CanContinue)
	assert.Equal(t, "2024-06-11", v.Date)
	assert.Len(t, v.Slots, 1)
}

func TestChangeDateRejectsPast(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{authorized: true}, handoff.CancelKeep)
	id := env.start("/api/advisors/7/bookings").SessionID
	env.post(id, "continue", nil)

	rec := env.do(http.MethodPost, "/api/bookings/"+id+"/date", "user-1", map[string]string{"date": "2024-06-09"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSlotLoadFailureStillAdvances(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{authorized: true, slotsFail: true}, handoff.CancelKeep)
	id := env.start("/api/advisors/7/bookings").SessionID

	v := env.post(id, "continue", nil)
	assert.Equal(t, booking.StepChooseSlot, v.Step)
	assert.Empty(t, v.Slots)
	assert.Contains(t, noticeMessages(v), "Failed to load data")
}

func TestIllegalMovesConflict(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{authorized: true}, handoff.CancelKeep)
	id := env.start("/api/advisors/7/bookings").SessionID

	rec := env.do(http.MethodPost, "/api/bookings/"+id+"/back", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodPost, "/api/bookings/"+id+"/submit", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	env.post(id, "continue", nil)
	rec = env.do(http.MethodPost, "/api/bookings/"+id+"/continue", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "continue needs a slot")
}

func TestPlanSharingRequiresPlanReview(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{authorized: true}, handoff.CancelKeep)
	id := env.start("/api/advisors/7/bookings?type=STANDARD_SESSION").SessionID
	env.toConfirm(id)

	rec := env.do(http.MethodPost, "/api/bookings/"+id+"/plan", "user-1", map[string]any{"planId": 3})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSessionBoundToSubject(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{authorized: true}, handoff.CancelKeep)
	id := env.start("/api/advisors/7/bookings").SessionID

	rec := env.do(http.MethodGet, "/api/bookings/"+id, "someone-else", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/api/bookings/missing", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConcurrentMutationConflicts(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{authorized: true}, handoff.CancelKeep)
	id := env.start("/api/advisors/7/bookings").SessionID

	release, err := env.store.Lock(context.Background(), id)
	require.NoError(t, err)
	defer release()

	rec := env.do(http.MethodPost, "/api/bookings/"+id+"/continue", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestInvalidJSONBody(t *testing.T) {
	env := newTestEnv(t, &fakePlanner{authorized: true}, handoff.CancelKeep)
	id := env.start("/api/advisors/7/bookings").SessionID

	req := httptest.NewRequest(http.MethodPost, "/api/bookings/"+id+"/type", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user-1"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotAuthorizedSubmitRedirectsToProvider(t *testing.T) {
	fp := &fakePlanner{authorized: false}
	env := newTestEnv(t, fp, handoff.CancelKeep)
	start := env.start("/api/advisors/7/bookings")
	assert.Equal(t, handoff.StateNotAuthorized, start.OAuth.State)
	assert.Equal(t, "Authorize & Book", start.OAuth.SubmitLabel)
	id := start.SessionID
	env.toConfirm(id)

	v := env.post(id, "submit", nil)
	require.NotNil(t, v.Outcome)
	assert.Equal(t, handoff.OutcomeRedirect, v.Outcome.Kind)
	assert.Equal(t, "https://accounts.example/o/auth?client_id=c&state=st-42", v.Outcome.Location)
	assert.Equal(t, handoff.StateAuthorizing, v.OAuth.State)
	assert.True(t, v.OAuth.DialogOpen)
	assert.False(t, v.CanSubmit)
	assert.Equal(t, "Authorizing...", v.OAuth.SubmitLabel)

	fp.mu.Lock()
	calls := append([]string(nil), fp.calls...)
	fp.mu.Unlock()
	assert.Equal(t, []string{"create", "auth-url"}, calls[len(calls)-2:])
	assert.Len(t, fp.creates, 1)

	rec := env.do(http.MethodPost, "/api/bookings/"+id+"/submit", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "second submit while authorizing is refused")
	assert.Len(t, fp.creates, 1)
}

func TestStatusCheckFailureFollowsAuthorizationBranch(t *testing.T) {
	fp := &fakePlanner{statusFails: true}
	env := newTestEnv(t, fp, handoff.CancelKeep)
	start := env.start("/api/advisors/7/bookings")
	assert.Equal(t, handoff.StateNotAuthorized, start.OAuth.State)
	env.toConfirm(start.SessionID)

	v := env.post(start.SessionID, "submit", nil)
	require.NotNil(t, v.Outcome)
	assert.Equal(t, handoff.OutcomeRedirect, v.Outcome.Kind)
	assert.Equal(t, 1, fp.authURLCalls)
}

func TestOAuthReturnSuccess(t *testing.T) {
	fp := &fakePlanner{authorized: false}
	env := newTestEnv(t, fp, handoff.CancelKeep)
	id := env.start("/api/advisors/7/bookings").SessionID
	env.toConfirm(id)
	env.post(id, "submit", nil)

	rec := env.do(http.MethodGet, "/oauth/return?code=the-code&state=st-42", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, testLanding, rec.Header().Get("Location"))
	assert.NotContains(t, rec.Header().Get("Location"), "code=")
	require.Len(t, fp.exchanges, 1)
	assert.Equal(t, map[string]string{"code": "the-code", "state": "st-42"}, fp.exchanges[0])

	v := env.view(env.do(http.MethodGet, "/api/bookings/"+id, "user-1", nil), http.StatusOK)
	assert.Equal(t, handoff.StateAuthorized, v.OAuth.State)
	assert.False(t, v.OAuth.DialogOpen)
	assert.Contains(t, noticeMessages(v), "Google Calendar authorization successful! Your appointment has been created.")

	assert.Equal(t, booking.StepSubmitted, v.Step)
	assert.Equal(t, int64(42), v.AppointmentID)
	assert.False(t, v.CanSubmit)

	// The appointment already exists, so the authorized session cannot book it again.
	rec = env.do(http.MethodPost, "/api/bookings/"+id+"/submit", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Len(t, fp.creates, 1)

	// Replaying the same return does not find the pending booking again.
	rec = env.do(http.MethodGet, "/oauth/return?code=the-code&state=st-42", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, []handoff.EventKind{handoff.EventStarted, handoff.EventCompleted, handoff.EventCompleted}, env.recorder.kinds())
}

func TestOAuthReturnDenied(t *testing.T) {
	fp := &fakePlanner{authorized: false}
	env := newTestEnv(t, fp, handoff.CancelKeep)
	id := env.start("/api/advisors/7/bookings").SessionID
	env.toConfirm(id)
	env.post(id, "submit", nil)

	rec := env.do(http.MethodGet, "/oauth/return?error=access_denied&state=st-42", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://app.test/appointment/42", rec.Header().Get("Location"))
	assert.Empty(t, fp.exchanges)

	v := env.view(env.do(http.MethodGet, "/api/bookings/"+id, "user-1", nil), http.StatusOK)
	assert.Equal(t, handoff.StateNotAuthorized, v.OAuth.State)
	assert.Contains(t, noticeMessages(v), "OAuth authorization failed")
}

func TestOAuthReturnWithoutParams(t *testing.T) {
	fp := &fakePlanner{}
	env := newTestEnv(t, fp, handoff.CancelKeep)

	rec := env.do(http.MethodGet, "/oauth/return", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, testLanding, rec.Header().Get("Location"))
	assert.Empty(t, fp.exchanges)
	assert.Empty(t, env.recorder.kinds())
}

func TestCancelAuthorizationKeepsAppointment(t *testing.T) {
	fp := &fakePlanner{authorized: false}
	env := newTestEnv(t, fp, handoff.CancelKeep)
	id := env.start("/api/advisors/7/bookings").SessionID
	env.toConfirm(id)
	env.post(id, "submit", nil)

	v := env.post(id, "cancel-authorization", nil)
	assert.Equal(t, handoff.StateNotAuthorized, v.OAuth.State)
	assert.False(t, v.OAuth.DialogOpen)
	assert.False(t, v.CanSubmit)
	require.NotNil(t, v.Outcome)
	assert.Equal(t, handoff.OutcomeNavigate, v.Outcome.Kind)
	assert.Equal(t, "http://app.test/appointment/42", v.Outcome.Location)
	assert.Empty(t, fp.statusUpdates)

	rec := env.do(http.MethodPost, "/api/bookings/"+id+"/submit", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, fp.creates, 1)

	// The pending booking is gone, so a late return cannot be tied to the session.
	rec = env.do(http.MethodGet, "/oauth/return?error=access_denied&state=st-42", "", nil)
	assert.Equal(t, testLanding, rec.Header().Get("Location"))
}

func TestCancelAuthorizationCancelPolicy(t *testing.T) {
	fp := &fakePlanner{authorized: false}
	env := newTestEnv(t, fp, handoff.CancelAppointment)
	id := env.start("/api/advisors/7/bookings").SessionID
	env.toConfirm(id)
	env.post(id, "submit", nil)

	v := env.post(id, "cancel-authorization", nil)
	assert.Equal(t, []string{"42:CANCELLED"}, fp.statusUpdates)
	assert.Equal(t, booking.StepConfirm, v.Step)
	assert.Zero(t, v.AppointmentID)
	assert.True(t, v.CanSubmit, "a withdrawn appointment may be booked again")
}

func TestCancelAuthorizationWithoutDialogConflicts(t *testing.T) {
	fp := &fakePlanner{authorized: true}
	env := newTestEnv(t, fp, handoff.CancelAppointment)
	id := env.start("/api/advisors/7/bookings").SessionID
	env.toConfirm(id)

	rec := env.do(http.MethodPost, "/api/bookings/"+id+"/cancel-authorization", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	v := env.view(env.do(http.MethodGet, "/api/bookings/"+id, "user-1", nil), http.StatusOK)
	assert.Equal(t, handoff.StateAuthorized, v.OAuth.State)
	assert.Equal(t, "Confirm Booking", v.OAuth.SubmitLabel)
	assert.Empty(t, env.recorder.kinds())
	assert.Empty(t, fp.statusUpdates)
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{sessions.ErrNotFound, http.StatusNotFound},
		{sessions.ErrBusy, http.StatusConflict},
		{booking.ErrIllegalTransition, http.StatusConflict},
		{handoff.ErrSubmitUnavailable, http.StatusConflict},
		{handoff.ErrNoAuthorizationInProgress, http.StatusConflict},
		{booking.ErrAlreadySubmitted, http.StatusConflict},
		{errAdvisorNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: timeout", errAdvisorUnavailable), http.StatusServiceUnavailable},
		{booking.ErrPastDate, http.StatusUnprocessableEntity},
		{booking.ErrUnknownSessionType, http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", booking.ErrUnknownSlot), http.StatusUnprocessableEntity},
		{fmt.Errorf("redis down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusForError(tc.err), tc.err.Error())
	}
}
