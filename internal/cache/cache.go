// Package cache holds air-quality results keyed by where and when they were asked for.
package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/kjstillabower/air-quality-proxy/internal/geo"
	"github.com/kjstillabower/air-quality-proxy/internal/models"
	"github.com/kjstillabower/air-quality-proxy/internal/observability"
)

// Index selects how Lookup finds candidate entries.
type Index string

const (
	// IndexLinear scans every entry in insertion order.
	IndexLinear Index = "linear"
	// IndexH3 scans only entries bucketed in H3 cells near the query.
	IndexH3 Index = "h3"
)

const (
	DefaultRadiusKm   = 10.0
	DefaultTimeWindow = 30 * time.Minute
	DefaultMaxEntries = 500
)

// Options configures a SpatioTemporalCache. Zero values take the defaults above.
type Options struct {
	RadiusKm   float64
	TimeWindow time.Duration
	MaxEntries int
	Index      Index
}

// Entry is one cached result. Entries are never mutated after insertion.
type Entry struct {
	Lat     float64
	Lon     float64
	Time    int64
	Payload json.RawMessage
}

// SpatioTemporalCache stores results and answers "is there a result close enough in
// space and time". It evicts the oldest-inserted entry once MaxEntries is exceeded;
// reads never affect eviction order. Safe for concurrent use.
type SpatioTemporalCache struct {
	radiusKm   float64
	windowSec  int64
	maxEntries int

	mu      sync.Mutex
	seq     uint64
	entries *simplelru.LRU[uint64, Entry] // accessed with Peek only, so LRU order is insertion order
	cells   *cellIndex                    // nil for IndexLinear
}

// New builds an empty cache.
func New(opts Options) (*SpatioTemporalCache, error) {
	if opts.RadiusKm == 0 {
		opts.RadiusKm = DefaultRadiusKm
	}
	if opts.TimeWindow == 0 {
		opts.TimeWindow = DefaultTimeWindow
	}
	if opts.MaxEntries == 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Index == "" {
		opts.Index = IndexLinear
	}
	if opts.RadiusKm < 0 || opts.TimeWindow < 0 || opts.MaxEntries < 0 {
		return nil, fmt.Errorf("cache: negative option (radius %v, window %v, max entries %d)",
			opts.RadiusKm, opts.TimeWindow, opts.MaxEntries)
	}

	c := &SpatioTemporalCache{
		radiusKm:   opts.RadiusKm,
		windowSec:  int64(opts.TimeWindow / time.Second),
		maxEntries: opts.MaxEntries,
	}
	switch opts.Index {
	case IndexLinear:
	case IndexH3:
		c.cells = newCellIndex(opts.RadiusKm)
	default:
		return nil, fmt.Errorf("cache: unknown index %q", opts.Index)
	}

	entries, err := simplelru.NewLRU[uint64, Entry](opts.MaxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	c.entries = entries
	return c, nil
}

// Lookup returns the payload of the earliest-inserted entry within the match window of q.
func (c *SpatioTemporalCache) Lookup(q models.Query) (json.RawMessage, bool) {
	start := time.Now()
	c.mu.Lock()
	payload, ok := c.lookupLocked(q)
	c.mu.Unlock()

	observability.CacheLookupDuration.WithLabelValues(c.indexName()).Observe(time.Since(start).Seconds())
	if ok {
		observability.CacheLookupsTotal.WithLabelValues("hit").Inc()
	} else {
		observability.CacheLookupsTotal.WithLabelValues("miss").Inc()
	}
	return payload, ok
}

func (c *SpatioTemporalCache) lookupLocked(q models.Query) (json.RawMessage, bool) {
	var keys []uint64
	if c.cells != nil {
		keys = c.cells.candidates(q.Latitude, q.Longitude)
	} else {
		keys = c.entries.Keys()
	}
	for _, k := range keys {
		e, ok := c.entries.Peek(k)
		if ok && c.matches(e, q) {
			return e.Payload, true
		}
	}
	return nil, false
}

// matches applies the inclusive distance and time thresholds.
func (c *SpatioTemporalCache) matches(e Entry, q models.Query) bool {
	if absDiff(q.TargetTime, e.Time) > uint64(c.windowSec) {
		return false
	}
	return geo.DistanceKm(geo.Point{Lat: q.Latitude, Lon: q.Longitude}, geo.Point{Lat: e.Lat, Lon: e.Lon}) <= c.radiusKm
}

// absDiff returns |a-b| without overflowing for any pair of int64 values.
func absDiff(a, b int64) uint64 {
	if a < b {
		a, b = b, a
	}
	return uint64(a) - uint64(b)
}

// Insert appends a new entry for q. It never replaces or merges existing entries.
func (c *SpatioTemporalCache) Insert(q models.Query, payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	key := c.seq
	if c.cells != nil {
		c.cells.add(key, q.Latitude, q.Longitude)
	}
	c.entries.Add(key, Entry{
		Lat:     q.Latitude,
		Lon:     q.Longitude,
		Time:    q.TargetTime,
		Payload: payload,
	})
	observability.CacheEntries.Set(float64(c.entries.Len()))
}

// onEvict runs under c.mu from inside entries.Add.
func (c *SpatioTemporalCache) onEvict(key uint64, _ Entry) {
	if c.cells != nil {
		c.cells.remove(key)
	}
	observability.CacheEvictionsTotal.Inc()
}

// Len returns the number of entries held.
func (c *SpatioTemporalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Entries returns a snapshot of all entries, oldest first.
func (c *SpatioTemporalCache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.entries.Keys()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if e, ok := c.entries.Peek(k); ok {
			out = append(out, e)
		}
	}
	return out
}

func (c *SpatioTemporalCache) indexName() string {
	if c.cells != nil {
		return string(IndexH3)
	}
	return string(IndexLinear)
}
