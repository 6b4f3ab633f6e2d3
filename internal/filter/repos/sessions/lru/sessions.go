// Package lru keeps bounded per-site session statistics: how many requests
// from each initiator site were attributed to blocked trackers.
package lru

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

// Sessions is the interface the heuristic engine writes to.
type Sessions interface {
	AddBlocked(site, tracker string, n int)
	Get(site string) (domain.SessionStats, bool)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}

// sessionCache is an LRU of per-site stats. The least recently touched site
// is evicted when the cache is full.
type sessionCache struct {
	mu        sync.Mutex
	lru       *lru.Cache[string, *domain.SessionStats]
	hits      uint64
	misses    uint64
	evictions uint64
}

// disabledSessions drops every update; used when size <= 0.
type disabledSessions struct{}

// New creates a Sessions store holding at most size sites. If size <= 0 a
// disabled store is returned.
func New(size int) (Sessions, error) {
	if size <= 0 {
		return &disabledSessions{}, nil
	}
	var sc sessionCache
	cache, err := lru.NewWithEvict(size, func(_ string, _ *domain.SessionStats) {
		atomic.AddUint64(&sc.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	sc.lru = cache
	return &sc, nil
}

// AddBlocked attributes n blocked requests from site to tracker.
func (c *sessionCache) AddBlocked(site, tracker string, n int) {
	if n <= 0 || site == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.lru.Get(site)
	if !ok {
		st = &domain.SessionStats{Site: site, Trackers: make(map[string]int)}
		c.lru.Add(site, st)
	}
	st.BlockedRequests += n
	st.Trackers[tracker] += n
}

// Get returns a copy of the stats for site.
func (c *sessionCache) Get(site string) (domain.SessionStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.lru.Get(site)
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return domain.SessionStats{}, false
	}
	atomic.AddUint64(&c.hits, 1)
	out := domain.SessionStats{Site: st.Site, BlockedRequests: st.BlockedRequests, Trackers: make(map[string]int, len(st.Trackers))}
	for k, v := range st.Trackers {
		out.Trackers[k] = v
	}
	return out, true
}

func (c *sessionCache) Len() int { return c.lru.Len() }

// Purge clears all sites. Evictions are counted via the eviction callback.
func (c *sessionCache) Purge() { c.lru.Purge() }

func (c *sessionCache) Stats() (hits, misses, evictions uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses), atomic.LoadUint64(&c.evictions)
}

func (d *disabledSessions) AddBlocked(string, string, int) {}

func (d *disabledSessions) Get(string) (domain.SessionStats, bool) {
	return domain.SessionStats{}, false
}

func (d *disabledSessions) Len() int { return 0 }

func (d *disabledSessions) Purge() {}

func (d *disabledSessions) Stats() (uint64, uint64, uint64) { return 0, 0, 0 }

var _ Sessions = (*sessionCache)(nil)
var _ Sessions = (*disabledSessions)(nil)
