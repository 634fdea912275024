package service

import (
	"sync"

	"github.com/kjstillabower/air-quality-proxy/internal/routing"
)

// pendingMisses counts cache misses still being resolved, keyed by upstream plan. Two
// pending misses for one plan mean the cache was stampeded for that call.
type pendingMisses struct {
	mu     sync.Mutex
	byPlan map[string]int
}

func newPendingMisses() *pendingMisses {
	return &pendingMisses{byPlan: make(map[string]int)}
}

// begin registers a miss for plan. overlapping is true when another miss for the same
// plan was already pending. release must be called once the miss is resolved; extra
// calls are ignored.
func (p *pendingMisses) begin(plan routing.Plan) (release func(), overlapping bool) {
	key := plan.Key()
	p.mu.Lock()
	p.byPlan[key]++
	overlapping = p.byPlan[key] > 1
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.byPlan[key]--; p.byPlan[key] <= 0 {
				delete(p.byPlan, key)
			}
		})
	}, overlapping
}

// pending returns how many misses for plan are in progress.
func (p *pendingMisses) pending(plan routing.Plan) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byPlan[plan.Key()]
}
