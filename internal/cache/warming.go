package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/air-quality-proxy/internal/geo"
	"github.com/kjstillabower/air-quality-proxy/internal/models"
	"github.com/kjstillabower/air-quality-proxy/internal/observability"
)

// warmConcurrency bounds simultaneous upstream calls during a warm-up.
const warmConcurrency = 4

// Resolver is implemented by the service layer. Warming goes through it so warmed
// entries are shaped and inserted exactly like client-driven ones.
type Resolver interface {
	Resolve(ctx context.Context, q models.Query) (models.Result, error)
}

// Warmer pre-populates the cache with current observations for a fixed set of points.
type Warmer struct {
	resolver Resolver
	logger   *zap.Logger
	now      func() time.Time
}

// NewWarmer creates a Warmer that resolves through resolver.
func NewWarmer(resolver Resolver, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{resolver: resolver, logger: logger, now: time.Now}
}

// Warm resolves every point at the current time. All points are attempted; the
// returned error joins every failure.
func (w *Warmer) Warm(ctx context.Context, points []geo.Point) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("points", len(points)))

	target := w.now().Unix()
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(warmConcurrency)
	for _, p := range points {
		g.Go(func() error {
			q := models.Query{Latitude: p.Lat, Longitude: p.Lon, TargetTime: target}
			if _, err := w.resolver.Resolve(ctx, q); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %.4f,%.4f: %w", p.Lat, p.Lon, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("points", len(points)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic runs Warm immediately and then every interval until ctx is done.
func (w *Warmer) WarmPeriodic(ctx context.Context, points []geo.Point, interval time.Duration) error {
	if err := w.Warm(ctx, points); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, points); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
