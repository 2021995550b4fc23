// Package bootstrap builds the runtime dependencies shared by cmd/api.
package bootstrap

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfman30/advisor-booking/internal/audit"
	appconfig "github.com/wolfman30/advisor-booking/internal/config"
	"github.com/wolfman30/advisor-booking/internal/handoff"
	"github.com/wolfman30/advisor-booking/internal/observability/metrics"
	"github.com/wolfman30/advisor-booking/internal/planner"
	"github.com/wolfman30/advisor-booking/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// ConnectPostgresPool opens the audit database, or returns nil when no URL is
// configured or the database is unreachable.
func ConnectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Warn("postgres pool not created; audit falls back to logs", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Warn("postgres not reachable; audit falls back to logs", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// BuildRecorder picks the Postgres audit log when a pool is present.
func BuildRecorder(pool *pgxpool.Pool, logger *logging.Logger) handoff.Recorder {
	if pool == nil {
		return audit.NewLogRecorder(logger)
	}
	return audit.NewRepository(pool)
}

// BuildPlannerClient returns a planner client with traced outbound calls.
// A zero PlannerAPITimeout leaves calls bounded only by the request context.
func BuildPlannerClient(cfg *appconfig.Config, m *metrics.BookingMetrics, logger *logging.Logger) *planner.Client {
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.PlannerAPITimeout,
	}
	client := planner.NewClient(cfg.PlannerAPIURL, httpClient, logger.Component("planner"))
	if m != nil {
		client.WithLatencyObserver(m)
	}
	return client
}

// SetupMetrics registers booking metrics on a fresh registry and returns the
// /metrics handler.
func SetupMetrics() (http.Handler, *metrics.BookingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewBookingMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}
