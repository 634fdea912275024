package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/air-quality-proxy/internal/app"
	"github.com/kjstillabower/air-quality-proxy/internal/config"
	httphandler "github.com/kjstillabower/air-quality-proxy/internal/http"
	"github.com/kjstillabower/air-quality-proxy/internal/lifecycle"
	"github.com/kjstillabower/air-quality-proxy/internal/observability"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("app", zap.Error(err))
	}
	logger.Info("cache configured",
		zap.Float64("radius_km", cfg.CacheRadiusKm),
		zap.Duration("time_window", cfg.CacheTimeWindow),
		zap.Int("max_entries", cfg.CacheMaxEntries),
		zap.String("index", cfg.CacheIndex),
		zap.Bool("coalesce", cfg.CoalesceEnabled))

	if !a.HasAPIKey() {
		logger.Warn("OPENWEATHER_API_KEY not set; air-quality requests will fail until it is configured")
	} else if cfg.ValidateKeyOnStart {
		validateCtx, cancel := context.WithTimeout(context.Background(), cfg.UpstreamTimeout)
		if err := a.ValidateAPIKey(validateCtx); err != nil {
			logger.Warn("API key validation failed", zap.Error(err))
		}
		cancel()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.StartWarming(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      a.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	lifecycle.MarkStarted(time.Now())

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	inFlight := httphandler.InFlightCount()
	observability.RecordShutdownInFlight(inFlight)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests",
		zap.Int64("count", httphandler.InFlightCount()),
		zap.Any("by_route", httphandler.InFlightByRoute()))
	if err := httphandler.WaitForInFlight(shutdownCtx); err != nil {
		logger.Warn("in-flight requests not completed",
			zap.Error(err),
			zap.Int64("remaining", httphandler.InFlightCount()),
			zap.Any("by_route", httphandler.InFlightByRoute()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
