package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/air-quality-proxy/internal/geo"
	"github.com/kjstillabower/air-quality-proxy/internal/models"
)

type mockResolver struct {
	mu      sync.Mutex
	queries []models.Query
	failLat float64
}

func (m *mockResolver) Resolve(ctx context.Context, q models.Query) (models.Result, error) {
	m.mu.Lock()
	m.queries = append(m.queries, q)
	m.mu.Unlock()
	if q.Latitude == m.failLat {
		return models.Result{}, errors.New("api down")
	}
	return models.Result{Mode: models.ModeCurrent}, nil
}

func TestWarmer_Warm_ResolvesEveryPointAtNow(t *testing.T) {
	resolver := &mockResolver{failLat: -1}
	warmer := NewWarmer(resolver, nil)
	warmer.now = func() time.Time { return time.Unix(1700000000, 0) }

	points := []geo.Point{{Lat: 13.1036, Lon: 80.2909}, {Lat: 28.61, Lon: 77.21}, {Lat: 19.07, Lon: 72.88}}
	if err := warmer.Warm(context.Background(), points); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if len(resolver.queries) != len(points) {
		t.Fatalf("resolved %d queries, want %d", len(resolver.queries), len(points))
	}
	for _, q := range resolver.queries {
		if q.TargetTime != 1700000000 {
			t.Errorf("query %+v not targeted at now", q)
		}
	}
}

func TestWarmer_Warm_EmptyPoints(t *testing.T) {
	warmer := NewWarmer(&mockResolver{}, nil)
	if err := warmer.Warm(context.Background(), nil); err != nil {
		t.Fatalf("Warm(nil) error = %v", err)
	}
}

// TestWarmer_Warm_JoinsFailures checks that one failing point does not stop the others
// and that its error is reported.
func TestWarmer_Warm_JoinsFailures(t *testing.T) {
	resolver := &mockResolver{failLat: 28.61}
	warmer := NewWarmer(resolver, nil)

	err := warmer.Warm(context.Background(), []geo.Point{{Lat: 13.1, Lon: 80.3}, {Lat: 28.61, Lon: 77.21}})
	if err == nil {
		t.Fatal("Warm() error = nil, want failure")
	}
	if !strings.Contains(err.Error(), "warm 28.6100,77.2100: api down") {
		t.Errorf("Warm() error = %q", err)
	}
	if len(resolver.queries) != 2 {
		t.Errorf("resolved %d queries, want 2", len(resolver.queries))
	}
}

func TestWarmer_WarmPeriodic_StopsOnCancel(t *testing.T) {
	warmer := NewWarmer(&mockResolver{failLat: -1}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := warmer.WarmPeriodic(ctx, []geo.Point{{Lat: 1, Lon: 1}}, 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WarmPeriodic() error = %v, want deadline exceeded", err)
	}
}
