package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfman30/advisor-booking/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/advisor-booking/internal/http/middleware"
	"github.com/wolfman30/advisor-booking/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Booking            *handlers.BookingHandler
	OAuthReturn        http.Handler
	Health             http.Handler
	MetricsHandler     http.Handler
	AuthSecret         string
	CORSAllowedOrigins []string
	RateLimitPerSecond float64
	RateLimitBurst     int
	// ServiceName enables otelhttp server spans when set.
	ServiceName string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		health := cfg.Health
		if health == nil {
			health = handlers.NewHealthHandler(nil)
		}
		public.Get("/health", health.ServeHTTP)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		// The provider redirects the browser here; no bearer token is present.
		if cfg.OAuthReturn != nil {
			public.With(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst)).
				Get("/oauth/return", cfg.OAuthReturn.ServeHTTP)
		}
	})

	if cfg.Booking != nil {
		r.Route("/api", func(api chi.Router) {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
			api.Use(httpmiddleware.UserJWT(cfg.AuthSecret))

			api.Post("/advisors/{advisorID}/bookings", cfg.Booking.Start)
			api.Route("/bookings/{sessionID}", func(b chi.Router) {
				b.Get("/", cfg.Booking.Get)
				b.Post("/type", cfg.Booking.SelectType)
				b.Post("/continue", cfg.Booking.Continue)
				b.Post("/back", cfg.Booking.Back)
				b.Post("/date", cfg.Booking.ChangeDate)
				b.Post("/slot", cfg.Booking.SelectSlot)
				b.Post("/plan", cfg.Booking.SharePlan)
				b.Post("/notes", cfg.Booking.SetNotes)
				b.Post("/submit", cfg.Booking.Submit)
				b.Post("/cancel-authorization", cfg.Booking.CancelAuthorization)
			})
		})
	}

	if cfg.ServiceName == "" {
		return r
	}
	return otelhttp.NewHandler(r, cfg.ServiceName)
}
