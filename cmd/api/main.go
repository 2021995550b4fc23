package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/advisor-booking/internal/api/router"
	"github.com/wolfman30/advisor-booking/internal/app/bootstrap"
	appconfig "github.com/wolfman30/advisor-booking/internal/config"
	"github.com/wolfman30/advisor-booking/internal/handoff"
	"github.com/wolfman30/advisor-booking/internal/http/handlers"
	"github.com/wolfman30/advisor-booking/internal/observability/tracing"
	"github.com/wolfman30/advisor-booking/internal/sessions"
	"github.com/wolfman30/advisor-booking/pkg/logging"
)

func main() {
	// Local development reads .env; production sets the environment directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting advisor-booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"planner_api", cfg.PlannerAPIURL,
	)

	ctx := context.Background()
	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  cfg.OTelServiceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		logger.Error("redis is required for booking sessions", "addr", cfg.RedisAddr)
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	pool := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
	}

	handler, err := buildHandler(cfg, redisClient, bootstrap.BuildRecorder(pool, logger), logger)
	if err != nil {
		logger.Error("failed to build handler", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", "error", err)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// buildHandler wires the session store, planner client, hand-off controller
// and HTTP handlers into the router.
func buildHandler(cfg *appconfig.Config, redisClient *redis.Client, recorder handoff.Recorder, logger *logging.Logger) (http.Handler, error) {
	if cfg.AuthJWTSecret == "" {
		return nil, fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	location, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	metricsHandler, bookingMetrics := bootstrap.SetupMetrics()
	plannerClient := bootstrap.BuildPlannerClient(cfg, bookingMetrics, logger)
	store := sessions.NewStore(redisClient, cfg.SessionTTL, cfg.HandoffTTL)

	controller := handoff.NewController(plannerClient, store, recorder, bookingMetrics, handoff.Config{
		LandingURL: cfg.LandingURL(),
		AppointmentURL: func(id int64) string {
			return cfg.AppBaseURL + "/appointment/" + strconv.FormatInt(id, 10)
		},
		Location:     location,
		CancelPolicy: handoff.ParseCancelPolicy(cfg.HandoffCancelPolicy),
	}, logger)

	bookingHandler := handlers.NewBookingHandler(handlers.BookingConfig{
		Store:    store,
		Planner:  plannerClient,
		Handoff:  controller,
		Metrics:  bookingMetrics,
		Location: location,
		Logger:   logger,
	})

	return router.New(&router.Config{
		Logger:             logger,
		Booking:            bookingHandler,
		OAuthReturn:        handlers.NewOAuthReturnHandler(store, controller, cfg.LandingURL(), logger),
		Health:             handlers.NewHealthHandler(handlers.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })),
		MetricsHandler:     metricsHandler,
		AuthSecret:         cfg.AuthJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigs,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		ServiceName:        cfg.OTelServiceName,
	}), nil
}
