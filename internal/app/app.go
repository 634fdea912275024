// Package app wires configuration into the running object graph shared by the HTTP server
// and the serverless entry point.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/kjstillabower/air-quality-proxy/internal/cache"
	"github.com/kjstillabower/air-quality-proxy/internal/circuitbreaker"
	"github.com/kjstillabower/air-quality-proxy/internal/client"
	"github.com/kjstillabower/air-quality-proxy/internal/config"
	httphandler "github.com/kjstillabower/air-quality-proxy/internal/http"
	"github.com/kjstillabower/air-quality-proxy/internal/observability"
	"github.com/kjstillabower/air-quality-proxy/internal/routing"
	"github.com/kjstillabower/air-quality-proxy/internal/service"
	"github.com/kjstillabower/air-quality-proxy/internal/traffic"
)

const breakerComponent = "openweather_air_pollution"

// App is the assembled service.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	client  *client.OpenWeatherClient
	cache   *cache.SpatioTemporalCache
	service *service.AirQualityService
	warmer  *cache.Warmer
	handler http.Handler
}

// New builds the cache, upstream client, service and router from cfg.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	upstream, err := client.NewOpenWeatherClientWithRetry(
		cfg.OpenWeatherAPIKey,
		cfg.OpenWeatherAPIURL,
		cfg.UpstreamTimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		return nil, fmt.Errorf("openweather client: %w", err)
	}

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.BreakerEnabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			Timeout:          cfg.BreakerTimeout,
			Component:        breakerComponent,
			IsFailure:        client.IsBreakerFailure,
			OnStateChange: func(component string, from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
				logger.Warn("circuit breaker state change",
					zap.String("component", component),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		upstream.SetCircuitBreaker(breaker)
		observability.CircuitBreakerState.WithLabelValues(breakerComponent).Set(0)
	}

	store, err := cache.New(cache.Options{
		RadiusKm:   cfg.CacheRadiusKm,
		TimeWindow: cfg.CacheTimeWindow,
		MaxEntries: cfg.CacheMaxEntries,
		Index:      cache.Index(cfg.CacheIndex),
	})
	if err != nil {
		return nil, err
	}

	svc := service.NewAirQualityService(upstream, store,
		routing.Policy{RejectBeyondForecast: cfg.RejectBeyondForecast}, logger, cfg.CoalesceEnabled)

	h := httphandler.NewHandler(svc, traffic.NewTracker(0), &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		APIKeyConfigured: upstream.HasAPIKey(),
		Breaker:          breaker,
		CacheEntries:     store.Len,
	}, logger)

	return &App{
		cfg:     cfg,
		logger:  logger,
		client:  upstream,
		cache:   store,
		service: svc,
		warmer:  cache.NewWarmer(svc, logger),
		handler: httphandler.NewRouter(h, httphandler.RouterConfig{
			RequestTimeout: cfg.RequestTimeout,
			CORSOrigins:    cfg.CORSAllowedOrigins,
		}, logger),
	}, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Cache returns the result cache.
func (a *App) Cache() *cache.SpatioTemporalCache { return a.cache }

// HasAPIKey reports whether an upstream key is configured.
func (a *App) HasAPIKey() bool { return a.client.HasAPIKey() }

// ValidateAPIKey makes one upstream call to check the configured key.
func (a *App) ValidateAPIKey(ctx context.Context) error {
	return a.client.ValidateAPIKey(ctx)
}

// StartWarming warms the configured points and, when an interval is set, keeps warming
// them until ctx is done. It returns immediately; warming runs in the background.
func (a *App) StartWarming(ctx context.Context) {
	if len(a.cfg.WarmPoints) == 0 || !a.client.HasAPIKey() {
		return
	}
	go func() {
		if a.cfg.WarmInterval <= 0 {
			if err := a.warmer.Warm(ctx, a.cfg.WarmPoints); err != nil {
				a.logger.Warn("cache warming failed", zap.Error(err))
			}
			return
		}
		if err := a.warmer.WarmPeriodic(ctx, a.cfg.WarmPoints, a.cfg.WarmInterval); err != nil && ctx.Err() == nil {
			a.logger.Error("periodic cache warming stopped", zap.Error(err))
		}
	}()
}
