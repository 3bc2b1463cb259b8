package scoring

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rankeval/rankeval/internal/dataset"
)

// Recorder receives scoring statistics.
// This avoids import cycles with the observability package.
type Recorder interface {
	RecordScoringPass(model string, detailed bool, elapsed time.Duration, err error)
	RecordScoreCacheHit(model string)
}

// Cache remembers scoring results for the lifetime of one analysis call, so
// every (dataset, model) pair is scored once no matter how many metrics or
// cutoffs consume it. Detailed results also answer non-detailed requests.
//
// Concurrent requests for the same pair and mode are collapsed into a single
// pass.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Scores
	group   singleflight.Group
	rec     Recorder
}

// NewCache creates an empty cache. rec may be nil.
func NewCache(rec Recorder) *Cache {
	return &Cache{
		entries: make(map[string]*Scores),
		rec:     rec,
	}
}

func cacheKey(m Model, ds *dataset.Dataset) string {
	return ds.Name() + "\x00" + m.Name()
}

func (c *Cache) lookup(key string, detailed bool) (*Scores, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[key]
	if !ok || (detailed && !s.Detailed()) {
		return nil, false
	}
	return s, true
}

// Score returns the scores of m on ds, scoring at most once per mode.
// Results are validated against the dataset shape before being cached.
func (c *Cache) Score(ctx context.Context, m Model, ds *dataset.Dataset, detailed bool) (*Scores, error) {
	key := cacheKey(m, ds)
	if s, ok := c.lookup(key, detailed); ok {
		if c.rec != nil {
			c.rec.RecordScoreCacheHit(m.Name())
		}
		return s, nil
	}

	flightKey := key + "\x00plain"
	if detailed {
		flightKey = key + "\x00detailed"
	}

	v, err, _ := c.group.Do(flightKey, func() (any, error) {
		if s, ok := c.lookup(key, detailed); ok {
			return s, nil
		}

		start := time.Now()
		s, err := m.Score(ctx, ds, detailed)
		if err == nil {
			err = s.Validate(m, ds, detailed)
		}
		if c.rec != nil {
			c.rec.RecordScoringPass(m.Name(), detailed, time.Since(start), err)
		}
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if prev, ok := c.entries[key]; !ok || !prev.Detailed() {
			c.entries[key] = s
		}
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Scores), nil
}

// Len returns the number of cached pairs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
