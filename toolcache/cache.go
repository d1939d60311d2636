// Package toolcache caches tool outputs per session with a TTL chosen from
// the tool name and bounded capacity.
package toolcache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/linanwx/edgeagent/logger"
	"github.com/linanwx/edgeagent/tools"
)

// Defaults.
const (
	DefaultMaxSize  = 100
	DefaultShortTTL = 60 * time.Second
	DefaultLongTTL  = 300 * time.Second
)

// Tools touching live device state get the short TTL; listings and
// lookups get the long one. The short markers are checked first.
var (
	shortTTLMarkers = []string{"device", "query", "control"}
	longTTLMarkers  = []string{"list", "get", "agent"}
)

type entry struct {
	key      Key
	output   tools.Output
	cachedAt time.Time
	ttl      time.Duration
	elem     *list.Element
}

func (e *entry) valid(now time.Time) bool {
	return now.Sub(e.cachedAt) < e.ttl
}

// Cache is a TTL cache of tool outputs. When full it drops expired
// entries and then the oldest half in insertion order (FIFO, not LRU).
type Cache struct {
	mu       sync.Mutex
	entries  map[Key]*entry
	order    *list.List // *entry, oldest first
	maxSize  int
	shortTTL time.Duration
	longTTL  time.Duration
	now      func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxSize sets the capacity. Values below 1 keep the default.
func WithMaxSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithTTLs sets the short and long TTLs. Non-positive values keep the
// defaults.
func WithTTLs(short, long time.Duration) Option {
	return func(c *Cache) {
		if short > 0 {
			c.shortTTL = short
		}
		if long > 0 {
			c.longTTL = long
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:  make(map[Key]*entry),
		order:    list.New(),
		maxSize:  DefaultMaxSize,
		shortTTL: DefaultShortTTL,
		longTTL:  DefaultLongTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTLFor returns the default TTL for a tool name.
func (c *Cache) TTLFor(name string) time.Duration {
	lower := strings.ToLower(name)
	for _, m := range shortTTLMarkers {
		if strings.Contains(lower, m) {
			return c.shortTTL
		}
	}
	for _, m := range longTTLMarkers {
		if strings.Contains(lower, m) {
			return c.longTTL
		}
	}
	return c.shortTTL
}

// Get returns the cached output of call if present and not expired.
// Expired entries stay in place until purged or evicted.
func (c *Cache) Get(call tools.Call) (tools.Output, bool) {
	key := KeyFor(call)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.valid(c.now()) {
		return tools.Output{}, false
	}
	return e.output, true
}

// Insert caches output under the tool's default TTL.
func (c *Cache) Insert(call tools.Call, output tools.Output) {
	c.InsertWithTTL(call, output, c.TTLFor(call.Name))
}

// InsertWithTTL caches output for ttl. Re-inserting a key refreshes it
// and moves it to the young end.
func (c *Cache) InsertWithTTL(call tools.Call, output tools.Output, ttl time.Duration) {
	key := KeyFor(call)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		e.output = output
		e.cachedAt = now
		e.ttl = ttl
		c.order.MoveToBack(e.elem)
		return
	}

	if len(c.entries) >= c.maxSize {
		purged := c.purgeExpiredLocked(now)
		evicted := 0
		if len(c.entries) >= c.maxSize {
			evicted = c.evictOldestHalfLocked()
		}
		logger.Debug("tool cache full", "purged", purged, "evicted", evicted, "remaining", len(c.entries))
	}

	e := &entry{key: key, output: output, cachedAt: now, ttl: ttl}
	e.elem = c.order.PushBack(e)
	c.entries[key] = e
}

// Invalidate drops every entry of the named tool and returns how many
// were removed.
func (c *Cache) Invalidate(tool string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, e := range c.entries {
		if key.Tool == tool {
			c.removeLocked(e)
			n++
		}
	}
	return n
}

// Clear drops everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*entry)
	c.order.Init()
}

// PurgeExpired drops expired entries and returns how many were removed.
func (c *Cache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeExpiredLocked(c.now())
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) purgeExpiredLocked(now time.Time) int {
	n := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if e := el.Value.(*entry); !e.valid(now) {
			c.removeLocked(e)
			n++
		}
		el = next
	}
	return n
}

func (c *Cache) evictOldestHalfLocked() int {
	n := max(len(c.entries)/2, 1)
	for i := 0; i < n; i++ {
		c.removeLocked(c.order.Front().Value.(*entry))
	}
	return n
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}

// Stats is a snapshot of cache occupancy.
type Stats struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Expired int `json:"expired"`
	MaxSize int `json:"max_size"`
}

// Utilization is Total over MaxSize.
func (s Stats) Utilization() float64 {
	if s.MaxSize == 0 {
		return 0
	}
	return float64(s.Total) / float64(s.MaxSize)
}

// ValidityRate is Valid over Total, or 1 for an empty cache.
func (s Stats) ValidityRate() float64 {
	if s.Total == 0 {
		return 1
	}
	return float64(s.Valid) / float64(s.Total)
}

// Stats returns current occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	s := Stats{Total: len(c.entries), MaxSize: c.maxSize}
	for _, e := range c.entries {
		if e.valid(now) {
			s.Valid++
		}
	}
	s.Expired = s.Total - s.Valid
	return s
}
