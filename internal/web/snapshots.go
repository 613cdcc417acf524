package web

import (
	"context"
	"sync"
	"time"

	"github.com/example/villasync/internal/availability"
	"github.com/example/villasync/internal/booking"
	"golang.org/x/sync/singleflight"
)

const maxSnapshotGenerations = 64

// snapshot is one load of the blocked-day set. Sessions remember the
// generation they were started on and keep reading it while it is cached.
type snapshot struct {
	gen     int64
	days    availability.BlockedDaySet
	loadErr error
	loaded  time.Time
}

// SnapshotCache shares blocked-day loads between widget sessions. A new
// generation is loaded at most once per maxAge no matter how many sessions
// start, and a generation stays readable for ttl after it was loaded.
type SnapshotCache struct {
	loader booking.BlockedDayLoader
	maxAge time.Duration
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group

	mu   sync.Mutex
	gens []snapshot // oldest first
	next int64
}

// NewSnapshotCache returns a cache over loader. A nil loader serves an empty
// set.
func NewSnapshotCache(loader booking.BlockedDayLoader, maxAge, ttl time.Duration) *SnapshotCache {
	if ttl < maxAge {
		ttl = maxAge
	}
	return &SnapshotCache{loader: loader, maxAge: maxAge, ttl: ttl, now: time.Now}
}

// Current returns the newest generation, loading a new one when the newest
// is older than maxAge. Concurrent callers share a single load.
func (c *SnapshotCache) Current(ctx context.Context) snapshot {
	if snap, ok := c.fresh(); ok {
		return snap
	}
	v, _, _ := c.group.Do("load", func() (any, error) {
		if snap, ok := c.fresh(); ok {
			return snap, nil
		}
		return c.load(context.WithoutCancel(ctx)), nil
	})
	return v.(snapshot)
}

// Get returns generation gen if it is still cached.
func (c *SnapshotCache) Get(gen int64) (snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	for _, s := range c.gens {
		if s.gen == gen {
			return s, true
		}
	}
	return snapshot{}, false
}

// Generations reports how many loads are currently cached.
func (c *SnapshotCache) Generations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	return len(c.gens)
}

func (c *SnapshotCache) fresh() (snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.gens) == 0 {
		return snapshot{}, false
	}
	newest := c.gens[len(c.gens)-1]
	if c.now().Sub(newest.loaded) >= c.maxAge {
		return snapshot{}, false
	}
	return newest, true
}

func (c *SnapshotCache) load(ctx context.Context) snapshot {
	var (
		days availability.BlockedDaySet
		err  error
	)
	if c.loader != nil {
		days, err = c.loader.LoadBlockedDays(ctx)
	}
	if days == nil {
		days = availability.BlockedDaySet{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	snap := snapshot{gen: c.next, days: days, loadErr: err, loaded: c.now()}
	c.gens = append(c.gens, snap)
	c.expireLocked()
	return snap
}

// expireLocked drops generations past ttl and keeps at most
// maxSnapshotGenerations.
func (c *SnapshotCache) expireLocked() {
	now := c.now()
	drop := 0
	for drop < len(c.gens) && now.Sub(c.gens[drop].loaded) >= c.ttl {
		drop++
	}
	if n := len(c.gens) - drop; n > maxSnapshotGenerations {
		drop += n - maxSnapshotGenerations
	}
	if drop > 0 {
		c.gens = append(c.gens[:0:0], c.gens[drop:]...)
	}
}
