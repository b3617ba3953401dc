package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingMonitor captures monitor callbacks for assertions.
type recordingMonitor struct {
	mu      sync.Mutex
	ensured []string
	stopped []string
}

func (m *recordingMonitor) EnsureMonitored(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensured = append(m.ensured, path)
}

func (m *recordingMonitor) StopMonitoring(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, path)
}

func (m *recordingMonitor) stoppedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stopped...)
}

func newTestCache(t *testing.T, cfg Config) (*Cache[[]byte], *recordingMonitor) {
	t.Helper()
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 100
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 1 << 20
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = time.Hour
	}
	c, err := New[[]byte]("test", cfg, nil)
	require.NoError(t, err)
	monitor := &recordingMonitor{}
	c.SetMonitor(monitor)
	return c, monitor
}

func TestGetMissAndHit(t *testing.T) {
	c, monitor := newTestCache(t, Config{})

	_, ok := c.Get("/a")
	assert.False(t, ok)

	c.Put("/a", []byte("x"), 1)
	v, ok := c.Get("/a")
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), v)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Bytes)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)

	assert.Equal(t, []string{"/a"}, monitor.ensured)
}

func TestExpiredEntryIsMissAndRemovedEagerly(t *testing.T) {
	c, monitor := newTestCache(t, Config{MaxAge: 30 * time.Millisecond})

	c.Put("/a", []byte("x"), 1)
	time.Sleep(50 * time.Millisecond)

	// Not yet swept, but older than MaxAge: must never be returned.
	_, ok := c.Get("/a")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, int64(0), stats.Bytes)
	assert.Contains(t, monitor.stoppedPaths(), "/a")
}

func TestLRUEvictionPicksLeastRecentlyAccessed(t *testing.T) {
	// Two one-byte entries fit; inserting a third forces one out.
	c, monitor := newTestCache(t, Config{MaxSize: 2})

	c.Put("/a", []byte("a"), 1)
	c.Put("/b", []byte("b"), 1)

	// Access A between the inserts of B and C: B becomes the eviction
	// candidate, not A.
	_, ok := c.Get("/a")
	require.True(t, ok)

	c.Put("/c", []byte("c"), 1)

	_, ok = c.Get("/b")
	assert.False(t, ok)
	_, ok = c.Get("/a")
	assert.True(t, ok)
	_, ok = c.Get("/c")
	assert.True(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.LessOrEqual(t, stats.Bytes, int64(2))
	assert.Contains(t, monitor.stoppedPaths(), "/b")
}

func TestSizeBoundHolds(t *testing.T) {
	c, _ := newTestCache(t, Config{MaxSize: 10})

	for i := byte('a'); i <= 'z'; i++ {
		c.Put("/"+string(i), []byte{i, i, i}, 3)
		assert.LessOrEqual(t, c.Stats().Bytes, int64(10))
	}
}

func TestOversizedValueIsNotCached(t *testing.T) {
	c, monitor := newTestCache(t, Config{MaxSize: 4})

	c.Put("/big", make([]byte, 8), 8)
	_, ok := c.Get("/big")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries)
	assert.Empty(t, monitor.ensured)
}

func TestPutRefreshReplacesEntry(t *testing.T) {
	c, _ := newTestCache(t, Config{MaxSize: 10})

	c.Put("/a", []byte("old"), 3)
	c.Put("/a", []byte("newer"), 5)

	v, ok := c.Get("/a")
	require.True(t, ok)
	assert.Equal(t, []byte("newer"), v)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(5), stats.Bytes)
	// Replacing an entry is not an LRU eviction.
	assert.Equal(t, uint64(0), stats.Evictions)
}

func TestPutRefreshKeepsWatch(t *testing.T) {
	c, monitor := newTestCache(t, Config{})

	c.Put("/a", []byte("x"), 1)
	c.Put("/a", []byte("xx"), 2)
	c.Put("/a", []byte("xxx"), 3)

	// Refreshing an entry must not release its watch interest; only
	// entries evicted for room do that.
	assert.Empty(t, monitor.stoppedPaths())
	assert.Equal(t, []string{"/a", "/a", "/a"}, monitor.ensured)
}

func TestInvalidate(t *testing.T) {
	c, monitor := newTestCache(t, Config{})

	c.Put("/a", []byte("x"), 1)
	assert.True(t, c.Invalidate("/a"))
	assert.False(t, c.Invalidate("/a"))

	_, ok := c.Get("/a")
	assert.False(t, ok)
	assert.Contains(t, monitor.stoppedPaths(), "/a")
}

func TestClear(t *testing.T) {
	c, monitor := newTestCache(t, Config{})

	c.Put("/a", []byte("x"), 1)
	c.Put("/b", []byte("y"), 1)
	c.Clear()

	stats := c.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, int64(0), stats.Bytes)
	assert.ElementsMatch(t, []string{"/a", "/b"}, monitor.stoppedPaths())
}

func TestEntryCountBoundEvicts(t *testing.T) {
	c, _ := newTestCache(t, Config{MaxEntries: 2})

	c.Put("/a", []byte("a"), 1)
	c.Put("/b", []byte("b"), 1)
	c.Put("/c", []byte("c"), 1)

	stats := c.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, int64(2), stats.Bytes)
}

func TestNilMonitorIsTTLOnly(t *testing.T) {
	c, err := New[[]byte]("bare", Config{MaxSize: 10, MaxEntries: 10, MaxAge: time.Hour}, nil)
	require.NoError(t, err)

	c.Put("/a", []byte("x"), 1)
	v, ok := c.Get("/a")
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), v)
	c.Clear()
}
