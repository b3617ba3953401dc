// Package cache provides the bounded read-through cache backing file
// content and directory listings. Entries are bounded by cumulative
// payload size with LRU eviction and by age with expire-on-read.
package cache

import (
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Monitor is notified when the cache gains or loses interest in a path.
// The invalidation bridge satisfies it; a cache without a monitor runs in
// TTL-only mode.
type Monitor interface {
	// EnsureMonitored is called after a path is inserted. Idempotent.
	EnsureMonitored(path string)
	// StopMonitoring is called when the last entry for a path is gone.
	StopMonitoring(path string)
}

// Config holds the cache bounds.
type Config struct {
	// MaxSize bounds the cumulative declared payload bytes.
	MaxSize int64
	// MaxEntries bounds the entry count of the underlying LRU.
	MaxEntries int
	// MaxAge is the freshness bound; older entries are treated as absent
	// even if still indexed.
	MaxAge time.Duration
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries   int    `json:"entries"`
	Bytes     int64  `json:"bytes"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

type entry[V any] struct {
	value     V
	size      int64
	timestamp time.Time
}

// Cache is a bounded get-or-populate store keyed by path. Returned values
// are read-only snapshots; callers must not mutate them in place.
type Cache[V any] struct {
	name    string
	maxSize int64
	maxAge  time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	lru      *lru.Cache[string, *entry[V]]
	bytes    int64
	hits     uint64
	misses   uint64
	evicted  uint64
	counting bool // true while evicting for room, so onEvict counts it
	dropped  []string
	monitor  Monitor
}

// New creates a cache with the given bounds.
func New[V any](name string, cfg Config, logger *slog.Logger) (*Cache[V], error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache[V]{
		name:    name,
		maxSize: cfg.MaxSize,
		maxAge:  cfg.MaxAge,
		logger:  logger.With("component", "cache", "cache", name),
	}
	inner, err := lru.NewWithEvict(cfg.MaxEntries, func(key string, e *entry[V]) {
		// Runs under c.mu: every lru mutation happens inside a locked
		// section. Only bookkeeping here; monitor calls are deferred
		// until the lock is released.
		c.bytes -= e.size
		if c.counting {
			c.evicted++
		}
		c.dropped = append(c.dropped, key)
	})
	if err != nil {
		return nil, err
	}
	c.lru = inner
	return c, nil
}

// SetMonitor attaches the invalidation bridge. Must be called before the
// cache is shared across goroutines.
func (c *Cache[V]) SetMonitor(m Monitor) {
	c.monitor = m
}

// Get returns the cached value for key. An entry older than MaxAge is
// removed eagerly and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		c.mu.Unlock()
		return zero, false
	}
	if time.Since(e.timestamp) > c.maxAge {
		c.lru.Remove(key)
		c.misses++
		stopped := c.takeDroppedLocked()
		c.mu.Unlock()
		c.notifyStopped(stopped)
		return zero, false
	}
	c.hits++
	value := e.value
	c.mu.Unlock()
	return value, true
}

// Put inserts a value with its declared payload size, evicting
// least-recently-accessed entries until the size bound holds. A value
// larger than the whole cache is not stored at all.
func (c *Cache[V]) Put(key string, value V, size int64) {
	if size > c.maxSize {
		c.logger.Debug("value exceeds cache size, not cached", "key", key, "size", size)
		return
	}

	c.mu.Lock()
	// Refresh: drop any previous entry for this key first so its size
	// is given back before the room check.
	c.lru.Remove(key)

	// counting stays set through Add so an entry-count eviction inside
	// the LRU is recorded too.
	c.counting = true
	for c.bytes+size > c.maxSize && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}
	c.lru.Add(key, &entry[V]{value: value, size: size, timestamp: time.Now()})
	c.counting = false
	c.bytes += size

	dropped := c.takeDroppedLocked()
	c.mu.Unlock()

	// The refreshed key keeps its watch: releasing and re-registering it
	// would churn an OS handle per Put. Only keys evicted for room go to
	// the monitor.
	stopped := dropped[:0]
	for _, k := range dropped {
		if k != key {
			stopped = append(stopped, k)
		}
	}
	c.notifyStopped(stopped)
	if c.monitor != nil {
		c.monitor.EnsureMonitored(key)
	}
}

// Invalidate removes the entry for key, reporting whether one was
// present, and releases the associated watch interest.
func (c *Cache[V]) Invalidate(key string) bool {
	c.mu.Lock()
	present := c.lru.Remove(key)
	stopped := c.takeDroppedLocked()
	c.mu.Unlock()
	c.notifyStopped(stopped)
	return present
}

// Clear removes every entry and releases every watch interest.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.lru.Purge()
	stopped := c.takeDroppedLocked()
	c.bytes = 0
	c.mu.Unlock()
	c.notifyStopped(stopped)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.lru.Len(),
		Bytes:     c.bytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evicted,
	}
}

// takeDroppedLocked drains the keys collected by the eviction callback.
// The caller holds c.mu.
func (c *Cache[V]) takeDroppedLocked() []string {
	dropped := c.dropped
	c.dropped = nil
	return dropped
}

// notifyStopped releases watch interest for evicted keys. Put never
// passes the key it is refreshing.
func (c *Cache[V]) notifyStopped(keys []string) {
	if c.monitor == nil {
		return
	}
	for _, key := range keys {
		c.monitor.StopMonitoring(key)
	}
}
