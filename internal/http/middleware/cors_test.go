package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func serveCORS(origins []string, method, origin string, preflight bool) (*httptest.ResponseRecorder, bool) {
	called := false
	handler := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, "/api/bookings/abc", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", "POST")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, called
}

func TestCORSAllowsListedOrigin(t *testing.T) {
	rec, called := serveCORS([]string{"https://example.com/"}, http.MethodGet, "https://example.com", false)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, corsAllowedMethods, rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, corsAllowedHeaders, rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "X-Request-ID", rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestCORSDeniesUnknownOrigin(t *testing.T) {
	rec, called := serveCORS([]string{"https://example.com"}, http.MethodGet, "https://unknown.example", false)

	assert.True(t, called, "simple requests still reach the handler; the browser enforces the policy")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSAllowsAnyOrigin(t *testing.T) {
	rec, _ := serveCORS([]string{"*"}, http.MethodGet, "https://random.example", false)
	assert.Equal(t, "https://random.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSWildcardSubdomain(t *testing.T) {
	origins := []string{"https://*.planner.example"}

	rec, _ := serveCORS(origins, http.MethodGet, "https://app.planner.example", false)
	assert.Equal(t, "https://app.planner.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = serveCORS(origins, http.MethodGet, "http://app.planner.example", false)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), "scheme must match")

	rec, _ = serveCORS(origins, http.MethodGet, "https://evilplanner.example", false)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSHandlesPreflight(t *testing.T) {
	rec, called := serveCORS([]string{"https://example.com"}, http.MethodOptions, "https://example.com", true)

	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCORSRejectsUnknownPreflight(t *testing.T) {
	rec, called := serveCORS([]string{"https://example.com"}, http.MethodOptions, "https://unknown.example", true)

	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
