// Package main is the entry point for the scoring API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/nestscout/internal/api"
	"github.com/onnwee/nestscout/internal/app"
	"github.com/onnwee/nestscout/internal/config"
	"github.com/onnwee/nestscout/internal/health"
	"github.com/onnwee/nestscout/internal/middleware"
	"github.com/onnwee/nestscout/internal/tracing"
)

const (
	shutdownTimeout        = 10 * time.Second
	limiterCleanupInterval = 5 * time.Minute
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to a YAML config file")
	seedPath := flag.String("seed", "", "serve in memory from a YAML seed instead of the database")
	flag.Parse()

	if *help {
		fmt.Println("Nestscout API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *seedPath, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, seedPath string, logger *slog.Logger) error {
	provider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  api.ServiceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down tracing", "error", err)
		}
	}()

	a, err := app.New(ctx, app.Options{Config: cfg, SeedPath: seedPath, Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()

	limiter := middleware.NewLimiter(middleware.PerMinute(cfg.ComputeRateLimitPerMinute))
	go cleanupLimiter(ctx, limiter, logger)

	recompute := a.RecomputeJob()
	recompute.Start(ctx)
	defer recompute.Stop()

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      newHandler(a, limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// newHandler wires the routes and the middleware chain
// RequestID -> Tracing -> Logging -> HTTPMetrics -> mux.
func newHandler(a *app.App, limiter *middleware.Limiter) http.Handler {
	var checkers []api.HealthChecker
	if a.DB != nil {
		checkers = append(checkers, health.NewDBChecker(a.DB))
	}
	if a.Redis != nil {
		checkers = append(checkers, health.NewRedisChecker(a.Redis))
	}

	mux := api.NewRouter(api.RouterConfig{
		Scores:            api.NewScoreHandlers(a.Engine),
		Profiles:          api.NewProfileHandlers(a.Profiles, a.Dirty),
		POIs:              api.NewPOIHandlers(a.Index),
		Jobs:              api.NewJobHandlers(a.Engine.Tracker(), api.DefaultStreamInterval),
		Health:            api.NewHealthHandlers(checkers...),
		Metrics:           promhttp.HandlerFor(a.Metrics.Registry, promhttp.HandlerOpts{}),
		ComputeLimiter:    limiter,
		MiddlewareMetrics: a.Metrics.HTTP,
	})

	var handler http.Handler = mux
	handler = middleware.HTTPMetrics(a.Metrics.HTTP)(handler)
	handler = middleware.Logging(a.Logger)(handler)
	handler = middleware.Tracing(api.ServiceName)(handler)
	return middleware.RequestID(handler)
}

func cleanupLimiter(ctx context.Context, limiter *middleware.Limiter, logger *slog.Logger) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Cleanup(limiterCleanupInterval); n > 0 {
				logger.Debug("rate limiter entries evicted", "count", n)
			}
		}
	}
}
