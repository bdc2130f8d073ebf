// Package main is the entry point for the notemeter API server.
//
// It loads configuration, selects the entitlement backend (Tier or the
// in-memory catalog), builds the usage sink, opens the Postgres pool and
// serves the HTTP API until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"notemeter/internal/api/handlers"
	"notemeter/internal/billing"
	"notemeter/internal/config"
	"notemeter/internal/core"
	"notemeter/internal/db"
	"notemeter/internal/external"
	"notemeter/internal/notes"
	"notemeter/internal/queue"
	"notemeter/internal/telemetry"
	"notemeter/internal/users"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("notemeter API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"billing_backend", cfg.EntitlementBackend(),
		"report_mode", cfg.Billing.ReportMode,
	)

	ctx := context.Background()

	var awsCfg aws.Config
	if cfg.Observability.EnableMetrics || cfg.Billing.ReportMode == config.ReportModeQueue {
		awsCfg, err = loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
	}

	metrics := newMetrics(cfg, awsCfg, logger)
	entitlements := newEntitlementClient(cfg, logger)
	sink := newUsageSink(cfg, entitlements, awsCfg, metrics, logger)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	srv, err := buildServer(cfg, logger, appDeps{
		entitlements: entitlements,
		sink:         sink,
		metrics:      metrics,
		users:        db.NewUserRepository(pool),
		notes:        db.NewNoteRepository(pool),
	})
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{ProbeName: "database", Fn: pool.Ping})
	srv.OnShutdown(func(context.Context) error {
		pool.Close()
		return nil
	})

	return runHTTPServer(srv, cfg, logger)
}

// appDeps are the backends buildServer wires together. Tests substitute
// in-memory repositories.
type appDeps struct {
	entitlements external.EntitlementClient
	sink         *billing.AsyncSink
	metrics      telemetry.BillingMetrics
	users        users.UserRepo
	notes        notes.NoteRepo
}

// buildServer composes the billing layer, the domain services and the HTTP
// handlers, and mounts the routes.
func buildServer(cfg *config.Config, logger *slog.Logger, d appDeps) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}

	gate := billing.NewProvisioningGate(d.entitlements,
		billing.WithFreePlanPrefix(cfg.Billing.FreePlanPrefix),
		billing.WithGateMetrics(d.metrics),
		billing.WithGateLogger(logger),
	)
	gateway := billing.NewGateway(d.entitlements, d.sink,
		billing.WithGatewayMetrics(d.metrics),
		billing.WithGatewayLogger(logger),
	)
	pricing := billing.NewPricingService(d.entitlements, cfg.Billing.PlanOrder, logger)

	userSvc := users.NewService(users.Config{
		Users:      d.users,
		Enroller:   gate,
		Billing:    d.entitlements,
		BcryptCost: cfg.Auth.BcryptCost,
		Logger:     logger,
	})
	noteSvc := notes.NewService(d.notes, gateway, logger)

	srv.Identity = userSvc
	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
		ProbeName: "billing",
		Fn: func(ctx context.Context) error {
			_, err := d.entitlements.PullLatest(ctx)
			return err
		},
	})

	userHandler := handlers.NewUserHandler(userSvc, srv.Validator, logger)
	noteHandler := handlers.NewNoteHandler(noteSvc, srv.Validator, logger)
	pricingHandler := handlers.NewPricingHandler(pricing, srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		userHandler.RegisterRoutes,
		noteHandler.RegisterRoutes,
		pricingHandler.RegisterRoutes,
	)

	srv.OnShutdown(func(ctx context.Context) error {
		return waitForSink(ctx, d.sink)
	})

	srv.MountRoutes()
	return srv, nil
}

// newEntitlementClient returns the in-memory catalog or a Tier client behind
// a circuit breaker.
func newEntitlementClient(cfg *config.Config, logger *slog.Logger) external.EntitlementClient {
	if cfg.EntitlementBackend() == config.BackendMemory {
		logger.Warn("using in-memory entitlement backend; usage is not persisted")
		return external.NewMemoryEntitlementClient(nil)
	}

	base := external.NewBaseClientWithBreaker(
		&http.Client{Timeout: cfg.Billing.Timeout},
		external.NewBreaker("tier"),
		external.DefaultRetryPolicy(),
		"notemeter/"+cfg.Build.Version,
	)
	return external.NewTierClientWithBase(base, external.TierClientConfig{
		APIKey:  cfg.Billing.APIKey.Reveal(),
		BaseURL: cfg.Billing.BaseURL,
		Logger:  logger,
	})
}

// newUsageSink reports directly to the billing client or, in queue mode,
// through SQS to the report worker.
func newUsageSink(
	cfg *config.Config,
	client external.EntitlementClient,
	awsCfg aws.Config,
	metrics telemetry.BillingMetrics,
	logger *slog.Logger,
) *billing.AsyncSink {
	opts := []billing.SinkOption{
		billing.WithReportTimeout(cfg.Billing.ReportTimeout),
		billing.WithSinkMetrics(metrics),
		billing.WithSinkLogger(logger),
	}

	if cfg.Billing.ReportMode == config.ReportModeQueue {
		publisher := queue.NewUsagePublisher(sqs.NewFromConfig(awsCfg), cfg.AWS, logger)
		return billing.NewAsyncSink(publisher, opts...)
	}
	return billing.NewDirectSink(client, opts...)
}

func newMetrics(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) telemetry.BillingMetrics {
	if !cfg.Observability.EnableMetrics {
		return telemetry.NoopBillingMetrics{}
	}
	return telemetry.NewCloudWatchBillingMetrics(
		cloudwatch.NewFromConfig(awsCfg),
		cfg.Observability.MetricNamespace,
		logger,
	)
}

// loadAWSConfig loads the default AWS configuration, pointing every client
// at AWS_ENDPOINT_URL when set (LocalStack).
func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, err
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

// waitForSink blocks until in-flight usage reports finish or ctx expires.
func waitForSink(ctx context.Context, sink *billing.AsyncSink) error {
	done := make(chan struct{})
	go func() {
		sink.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("usage reports still in flight: %w", ctx.Err())
	}
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
