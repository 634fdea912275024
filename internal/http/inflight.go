package http

import (
	"context"
	"maps"
	"sync"
)

// InFlightTracker counts requests being served, per route, so shutdown can drain them
// and report which endpoints were still busy.
type InFlightTracker struct {
	mu      sync.Mutex
	total   int64
	byRoute map[string]int64
	drained chan struct{} // closed while total is zero
}

// NewInFlightTracker returns an idle tracker.
func NewInFlightTracker() *InFlightTracker {
	t := &InFlightTracker{
		byRoute: make(map[string]int64),
		drained: make(chan struct{}),
	}
	close(t.drained)
	return t
}

// Begin records a request on route and returns the func that ends it. Calling the
// returned func more than once has no further effect.
func (t *InFlightTracker) Begin(route string) (done func()) {
	t.mu.Lock()
	if t.total == 0 {
		t.drained = make(chan struct{})
	}
	t.total++
	t.byRoute[route]++
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.end(route) })
	}
}

func (t *InFlightTracker) end(route string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total--
	if t.byRoute[route]--; t.byRoute[route] <= 0 {
		delete(t.byRoute, route)
	}
	if t.total == 0 {
		close(t.drained)
	}
}

// Count returns the number of requests in flight.
func (t *InFlightTracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// ByRoute returns a copy of the in-flight counts keyed by route label.
func (t *InFlightTracker) ByRoute() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.byRoute)
}

// Wait blocks until no request is in flight or ctx is done.
func (t *InFlightTracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	drained := t.drained
	t.mu.Unlock()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// globalInFlightTracker is fed by MetricsMiddleware and drained on shutdown.
var globalInFlightTracker = NewInFlightTracker()

// InFlightCount returns the current number of in-flight requests.
func InFlightCount() int64 {
	return globalInFlightTracker.Count()
}

// InFlightByRoute returns the in-flight requests per route.
func InFlightByRoute() map[string]int64 {
	return globalInFlightTracker.ByRoute()
}

// WaitForInFlight blocks until in-flight requests reach zero or ctx is done.
func WaitForInFlight(ctx context.Context) error {
	return globalInFlightTracker.Wait(ctx)
}
