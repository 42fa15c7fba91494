// Package snapcache is the per-app, per-transport TTL cache of the most
// recent snapshot. Grounded on the teacher's internal/session SessionManager
// mutex-guarded-map pattern, adapted from an insertion-order eviction list to
// a TTL-on-read cache since the daemon needs freshness, not bounded size.
package snapcache

import (
	"strings"
	"sync"
	"time"

	"github.com/axbridge/axd/internal/model"
)

// Default per-transport TTLs.
const (
	DefaultAXTTL     = 500 * time.Millisecond
	DefaultCDPTTL    = 2 * time.Second
	DefaultScriptTTL = 2 * time.Second
)

type entry struct {
	snapshot  model.Snapshot
	transport string
	storedAt  time.Time
}

// Stats reports cumulative cache accounting.
type Stats struct {
	Entries int
	Hits    int
	Misses  int
}

func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttls    map[string]time.Duration
	hits    int
	misses  int
	now     func() time.Time
}

func New() *Cache {
	return NewWithClock(time.Now)
}

func NewWithClock(now func() time.Time) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttls: map[string]time.Duration{
			"ax":     DefaultAXTTL,
			"cdp":    DefaultCDPTTL,
			"script": DefaultScriptTTL,
		},
		now: now,
	}
}

func (c *Cache) SetTTL(transport string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttls[transport] = d
}

func key(app string) string { return strings.ToLower(app) }

// Put stores s keyed by lowercased app name, replacing any prior entry.
func (c *Cache) Put(app string, s model.Snapshot, transport string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key(app)] = entry{snapshot: s, transport: transport, storedAt: c.now()}
}

// Get returns the cached snapshot for app if present and not expired under
// its transport's TTL. An expired entry is removed lazily and counted as a
// miss.
func (c *Cache) Get(app string) (model.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(app)
	e, ok := c.entries[k]
	if !ok {
		c.misses++
		return model.Snapshot{}, false
	}
	ttl := c.ttls[e.transport]
	if c.now().Sub(e.storedAt) > ttl {
		delete(c.entries, k)
		c.misses++
		return model.Snapshot{}, false
	}
	c.hits++
	return e.snapshot, true
}

// Invalidate removes app's cached entry, if any.
func (c *Cache) Invalidate(app string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key(app))
}

// InvalidateAll clears the entire cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Sweep proactively evicts every expired entry, for callers (the daemon's
// periodic reaper) that want bounded memory even for apps nobody has
// snapshotted recently, rather than relying solely on eviction-on-read-miss.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var removed int
	for k, e := range c.entries {
		if now.Sub(e.storedAt) > c.ttls[e.transport] {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Apps returns the lowercased app keys currently cached, for the "list"
// method's view of recently-snapshotted apps.
func (c *Cache) Apps() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	return out
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}
