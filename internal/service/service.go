// Package service answers air-quality queries from the spatio-temporal cache, falling
// back to the upstream API and caching what it returns.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/air-quality-proxy/internal/client"
	"github.com/kjstillabower/air-quality-proxy/internal/models"
	"github.com/kjstillabower/air-quality-proxy/internal/observability"
	"github.com/kjstillabower/air-quality-proxy/internal/routing"
	"github.com/kjstillabower/air-quality-proxy/internal/validation"
)

// Fetcher performs upstream air_pollution calls.
type Fetcher interface {
	Fetch(ctx context.Context, plan routing.Plan) (models.UpstreamResponse, error)
	HasAPIKey() bool
}

// Cache is the subset of cache.SpatioTemporalCache the service needs.
type Cache interface {
	Lookup(q models.Query) (json.RawMessage, bool)
	Insert(q models.Query, payload json.RawMessage)
}

// AirQualityService resolves queries using the cache-aside pattern.
type AirQualityService struct {
	fetcher   Fetcher
	cache     Cache
	policy    routing.Policy
	logger    *zap.Logger
	coalescer *requestCoalescer // nil when coalescing is disabled
	pending   *pendingMisses
	now       func() time.Time
}

// NewAirQualityService wires the service. logger is used when a request context carries
// none; it may be nil.
func NewAirQualityService(fetcher Fetcher, cache Cache, policy routing.Policy, logger *zap.Logger, coalesce bool) *AirQualityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	var coalescer *requestCoalescer
	if coalesce {
		coalescer = newRequestCoalescer()
	}
	return &AirQualityService{
		fetcher:   fetcher,
		cache:     cache,
		policy:    policy,
		logger:    logger,
		coalescer: coalescer,
		pending:   newPendingMisses(),
		now:       time.Now,
	}
}

// Resolve returns the payload for q: a cached one when an entry lies within the match
// window, otherwise one built from a fresh upstream call. Empty forecast/history results
// are returned but not cached. Errors leave the cache untouched.
func (s *AirQualityService) Resolve(ctx context.Context, q models.Query) (models.Result, error) {
	logger := observability.LoggerFromContext(ctx, s.logger)
	if err := validation.ValidateQuery(q); err != nil {
		return models.Result{}, err
	}
	if !s.fetcher.HasAPIKey() {
		return models.Result{}, client.ErrMissingAPIKey
	}

	if payload, ok := s.cache.Lookup(q); ok {
		logger.Debug("cache hit",
			zap.Float64("lat", q.Latitude),
			zap.Float64("lon", q.Longitude),
			zap.Int64("time", q.TargetTime))
		return models.Result{Payload: payload, Mode: modeOf(payload), Cached: true}, nil
	}

	plan, err := s.policy.NewPlan(q, s.now())
	if err != nil {
		return models.Result{}, err
	}

	release, overlapping := s.pending.begin(plan)
	defer release()
	if overlapping {
		observability.CacheStampedeDetectedTotal.Inc()
	}

	if s.coalescer == nil {
		return s.fetchAndStore(ctx, q, plan)
	}
	result, shared, err := s.coalescer.Do(ctx, plan.Key(), func(flightCtx context.Context) (models.Result, error) {
		// A flight that finished between our lookup and joining may already have stored it.
		if payload, ok := s.cache.Lookup(q); ok {
			return models.Result{Payload: payload, Mode: modeOf(payload), Cached: true}, nil
		}
		return s.fetchAndStore(flightCtx, q, plan)
	})
	if shared {
		observability.RequestCoalescingHitsTotal.Inc()
		logger.Debug("joined in-flight upstream request", zap.String("mode", string(plan.Mode)))
	}
	return result, err
}

// fetchAndStore calls the upstream for plan, shapes the payload and caches it unless empty.
func (s *AirQualityService) fetchAndStore(ctx context.Context, q models.Query, plan routing.Plan) (models.Result, error) {
	logger := observability.LoggerFromContext(ctx, s.logger)
	logger.Info("requesting air quality",
		zap.String("mode", string(plan.Mode)),
		zap.String("target_time", time.Unix(plan.Target, 0).UTC().Format(time.RFC3339)),
		zap.Float64("lat", plan.Lat),
		zap.Float64("lon", plan.Lon))

	resp, err := s.fetcher.Fetch(ctx, plan)
	if err != nil {
		if !errors.Is(err, client.ErrMissingAPIKey) {
			logger.Error("upstream request failed", zap.String("mode", string(plan.Mode)), zap.Error(err))
		}
		return models.Result{}, err
	}

	payload, empty, err := assemble(plan, resp)
	if err != nil {
		logger.Error("upstream response could not be shaped", zap.String("mode", string(plan.Mode)), zap.Error(err))
		return models.Result{}, fmt.Errorf("%w: %w", client.ErrUpstreamFailure, err)
	}
	observability.QueriesResolvedTotal.WithLabelValues(string(plan.Mode)).Inc()
	if empty {
		observability.EmptyResultsTotal.WithLabelValues(string(plan.Mode)).Inc()
		logger.Info("no samples in range", zap.String("mode", string(plan.Mode)), zap.Int64("target", plan.Target))
		return models.Result{Payload: payload, Mode: plan.Mode, Empty: true}, nil
	}

	s.cache.Insert(q, payload)
	return models.Result{Payload: payload, Mode: plan.Mode}, nil
}

// modeOf reads the mode a cached payload was resolved with.
func modeOf(payload json.RawMessage) models.Mode {
	var head struct {
		Mode models.Mode `json:"mode"`
	}
	_ = json.Unmarshal(payload, &head)
	return head.Mode
}
