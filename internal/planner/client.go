// Package planner is the HTTP client for the planner REST backend that owns
// advisors, financial plans, appointments and calendar OAuth tokens.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/advisor-booking/pkg/logging"
)

// ErrNoAuthURL is returned when the backend answers without an authorization URL.
var ErrNoAuthURL = errors.New("planner: empty authorization url")

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("planner: status %d", e.Status)
	}
	return fmt.Sprintf("planner: status %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type tokenKey struct{}

// WithToken attaches the caller's bearer token so backend calls run as that user.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the bearer token attached with WithToken.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// LatencyObserver receives the duration of each backend call by route.
type LatencyObserver interface {
	ObserveRequestLatency(route string, seconds float64)
}

// Client calls the planner REST API. It never retries.
type Client struct {
	baseURL  string
	http     *http.Client
	logger   *logging.Logger
	observer LatencyObserver
}

// NewClient creates a client rooted at baseURL (e.g. http://host/api).
func NewClient(baseURL string, httpClient *http.Client, logger *logging.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// WithLatencyObserver reports call latencies to obs.
func (c *Client) WithLatencyObserver(obs LatencyObserver) *Client {
	c.observer = obs
	return c
}

// GetAdvisor looks up an advisor by id.
func (c *Client) GetAdvisor(ctx context.Context, id int64) (*Advisor, error) {
	var advisor Advisor
	if err := c.do(ctx, "get_advisor", http.MethodGet, "/advisors/"+strconv.FormatInt(id, 10), nil, nil, &advisor); err != nil {
		return nil, fmt.Errorf("get advisor %d: %w", id, err)
	}
	return &advisor, nil
}

// ListPlans returns the current user's financial plans.
func (c *Client) ListPlans(ctx context.Context) ([]PlanSummary, error) {
	var plans []PlanSummary
	if err := c.do(ctx, "list_plans", http.MethodGet, "/plans", nil, nil, &plans); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// AvailableSlots returns the advisor's free slots between start and end (yyyy-MM-dd, inclusive).
func (c *Client) AvailableSlots(ctx context.Context, advisorID int64, start, end string) ([]TimeSlot, error) {
	query := url.Values{"startDate": {start}, "endDate": {end}}
	var slots []TimeSlot
	path := "/advisors/" + strconv.FormatInt(advisorID, 10) + "/available-slots"
	if err := c.do(ctx, "available_slots", http.MethodGet, path, query, nil, &slots); err != nil {
		return nil, fmt.Errorf("available slots for advisor %d: %w", advisorID, err)
	}
	return slots, nil
}

// CreateAppointment books an appointment.
func (c *Client) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) (*Appointment, error) {
	var appt Appointment
	if err := c.do(ctx, "create_appointment", http.MethodPost, "/appointments", nil, req, &appt); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	return &appt, nil
}

// UpdateAppointmentStatus changes an appointment's status.
func (c *Client) UpdateAppointmentStatus(ctx context.Context, id int64, status string) (*Appointment, error) {
	var appt Appointment
	query := url.Values{"status": {status}}
	path := "/appointments/" + strconv.FormatInt(id, 10) + "/status"
	if err := c.do(ctx, "update_appointment_status", http.MethodPut, path, query, nil, &appt); err != nil {
		return nil, fmt.Errorf("update appointment %d status: %w", id, err)
	}
	return &appt, nil
}

// OAuthStatus reports whether the user has granted calendar access.
func (c *Client) OAuthStatus(ctx context.Context) (bool, error) {
	var resp oauthStatusResponse
	if err := c.do(ctx, "oauth_status", http.MethodGet, "/oauth/status", nil, nil, &resp); err != nil {
		return false, fmt.Errorf("oauth status: %w", err)
	}
	return resp.Authorized, nil
}

// AuthorizationURL asks the backend for the provider consent URL for an appointment.
func (c *Client) AuthorizationURL(ctx context.Context, appointmentID int64) (string, error) {
	var resp authURLResponse
	query := url.Values{"appointmentId": {strconv.FormatInt(appointmentID, 10)}}
	if err := c.do(ctx, "oauth_auth_url", http.MethodGet, "/oauth/google/auth-url", query, nil, &resp); err != nil {
		return "", fmt.Errorf("authorization url: %w", err)
	}
	if strings.TrimSpace(resp.AuthURL) == "" {
		return "", ErrNoAuthURL
	}
	return resp.AuthURL, nil
}

// ExchangeCallback hands the provider's code and state to the backend.
func (c *Client) ExchangeCallback(ctx context.Context, code, state string) (string, error) {
	var resp messageResponse
	body := map[string]string{"code": code, "state": state}
	if err := c.do(ctx, "oauth_callback", http.MethodPost, "/oauth/callback", nil, body, &resp); err != nil {
		return "", fmt.Errorf("oauth callback: %w", err)
	}
	return resp.Message, nil
}

func (c *Client) do(ctx context.Context, route, method, path string, query url.Values, body, out any) error {
	if c.observer != nil {
		start := time.Now()
		defer func() { c.observer.ObserveRequestLatency(route, time.Since(start).Seconds()) }()
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := TokenFromContext(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("planner request failed", "method", method, "path", path, "status", resp.StatusCode)
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage pulls the backend's {"message": "..."} body, or falls back to raw text.
func errorMessage(raw []byte) string {
	var msg messageResponse
	if err := json.Unmarshal(raw, &msg); err == nil && msg.Message != "" {
		return msg.Message
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
