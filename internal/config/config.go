package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Planner REST backend that owns advisors, plans, appointments and OAuth tokens.
	PlannerAPIURL     string
	PlannerAPITimeout time.Duration

	// Browser-facing app used for post-booking navigation.
	AppBaseURL       string
	LandingPath      string
	BookingTimezone  string
	CORSAllowedOrigs []string

	AuthJWTSecret string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	SessionTTL    time.Duration
	HandoffTTL    time.Duration

	// Postgres for the hand-off audit log (optional).
	DatabaseURL string

	// keep | cancel: what happens to a pre-created appointment when the user
	// closes the authorization dialog.
	HandoffCancelPolicy string

	RateLimitPerSecond float64
	RateLimitBurst     int

	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64
	OTelServiceName string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		PlannerAPIURL:     strings.TrimRight(getEnv("PLANNER_API_URL", "http://localhost:8080/api"), "/"),
		PlannerAPITimeout: getEnvAsDuration("PLANNER_API_TIMEOUT", 0),

		AppBaseURL:       strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:5173"), "/"),
		LandingPath:      getEnv("LANDING_PATH", "/dashboard"),
		BookingTimezone:  getEnv("BOOKING_TIMEZONE", "Local"),
		CORSAllowedOrigs: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),

		AuthJWTSecret: getEnv("AUTH_JWT_SECRET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		SessionTTL:    getEnvAsDuration("WIZARD_SESSION_TTL", 2*time.Hour),
		HandoffTTL:    getEnvAsDuration("HANDOFF_TTL", 15*time.Minute),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		HandoffCancelPolicy: strings.ToLower(strings.TrimSpace(getEnv("HANDOFF_CANCEL_POLICY", "keep"))),

		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		OTelEnabled:     getEnvAsBool("OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelSampleRatio: getEnvAsFloat("OTEL_SAMPLING_RATIO", 1),
		OTelServiceName: getEnv("OTEL_SERVICE_NAME", "advisor-booking"),
	}
}

// LandingURL is where the browser lands after a completed authorization.
func (c *Config) LandingURL() string {
	return c.AppBaseURL + c.LandingPath
}

// Location resolves BookingTimezone. Empty or "Local" is the process-local
// zone; an unknown name is an error so slot times are never shifted silently.
func (c *Config) Location() (*time.Location, error) {
	if c.BookingTimezone == "" || c.BookingTimezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.BookingTimezone)
	if err != nil {
		return nil, fmt.Errorf("config: BOOKING_TIMEZONE %q: %w", c.BookingTimezone, err)
	}
	return loc, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
