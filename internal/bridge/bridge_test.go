package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/javi11/remotefs/internal/cache"
	"github.com/javi11/remotefs/internal/pool"
	"github.com/javi11/remotefs/internal/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNotifier lets tests inject change events into live subscriptions.
type fakeNotifier struct {
	mu   sync.Mutex
	subs map[string][]*fakeSubscription
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{subs: make(map[string][]*fakeSubscription)}
}

func (n *fakeNotifier) Subscribe(path string, recursive bool) (watcher.Subscription, error) {
	sub := &fakeSubscription{events: make(chan watcher.Event, 8)}
	n.mu.Lock()
	n.subs[path] = append(n.subs[path], sub)
	n.mu.Unlock()
	return sub, nil
}

// emit delivers an event to every live subscription registered for path.
func (n *fakeNotifier) emit(path string, ev watcher.Event) {
	n.mu.Lock()
	subs := append([]*fakeSubscription(nil), n.subs[path]...)
	n.mu.Unlock()
	for _, sub := range subs {
		sub.send(ev)
	}
}

type fakeSubscription struct {
	events chan watcher.Event
	mu     sync.Mutex
	closed bool
}

func (s *fakeSubscription) Events() <-chan watcher.Event { return s.events }

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *fakeSubscription) send(ev watcher.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.events <- ev
	}
}

type fixture struct {
	notifier *fakeNotifier
	pool     *pool.Pool
	content  *cache.Cache[[]byte]
	listing  *cache.Cache[[]string]
	bridge   *Bridge
}

func newFixture(t *testing.T, poolCfg pool.Config, enabled bool) *fixture {
	t.Helper()

	notifier := newFakeNotifier()
	p := pool.New(poolCfg, notifier, nil)
	t.Cleanup(p.Close)

	cacheCfg := cache.Config{MaxSize: 1 << 20, MaxEntries: 100, MaxAge: time.Hour}
	content, err := cache.New[[]byte]("content", cacheCfg, nil)
	require.NoError(t, err)
	listing, err := cache.New[[]string]("listing", cacheCfg, nil)
	require.NoError(t, err)

	b := New(p, content, listing, enabled, nil)
	t.Cleanup(b.Close)
	content.SetMonitor(b.ContentMonitor())
	listing.SetMonitor(b.ListingMonitor())

	return &fixture{notifier: notifier, pool: p, content: content, listing: listing, bridge: b}
}

func defaultPoolConfig() pool.Config {
	return pool.Config{MaxWatchers: 50, MaxPerPath: 3, MaxPerOwner: 50, MaxIdleTime: time.Minute}
}

func TestFileChangeInvalidatesContentEntry(t *testing.T) {
	f := newFixture(t, defaultPoolConfig(), true)

	f.content.Put("/a/b.txt", []byte("x"), 1)
	require.Equal(t, 1, f.pool.Stats().Active)

	f.notifier.emit("/a/b.txt", watcher.Event{Kind: watcher.KindChanged, Path: "/a/b.txt", Timestamp: time.Now()})

	assert.Eventually(t, func() bool {
		_, ok := f.content.Get("/a/b.txt")
		return !ok
	}, time.Second, 10*time.Millisecond, "changed event must invalidate the content entry")
}

func TestFileRemovalInvalidatesContentEntry(t *testing.T) {
	f := newFixture(t, defaultPoolConfig(), true)

	f.content.Put("/a/b.txt", []byte("x"), 1)
	f.notifier.emit("/a/b.txt", watcher.Event{Kind: watcher.KindRemoved, Path: "/a/b.txt", Timestamp: time.Now()})

	assert.Eventually(t, func() bool {
		_, ok := f.content.Get("/a/b.txt")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestDirEventInvalidatesListingEntry(t *testing.T) {
	f := newFixture(t, defaultPoolConfig(), true)

	f.listing.Put("/dir", []string{"old.txt"}, 8)
	require.Equal(t, 1, f.pool.Stats().Active)

	f.notifier.emit("/dir", watcher.Event{Kind: watcher.KindAdded, Path: "/dir/newfile", Timestamp: time.Now()})

	assert.Eventually(t, func() bool {
		_, ok := f.listing.Get("/dir")
		return !ok
	}, time.Second, 10*time.Millisecond, "an added child must invalidate the directory listing")
}

func TestNestedChangeInvalidatesImmediateParentListing(t *testing.T) {
	f := newFixture(t, defaultPoolConfig(), true)

	f.listing.Put("/dir", []string{"sub"}, 4)
	f.listing.Put("/dir/sub", []string{"f.txt"}, 6)

	// A recursive session on /dir reporting a change two levels down.
	f.notifier.emit("/dir", watcher.Event{Kind: watcher.KindChanged, Path: "/dir/sub/f.txt", Timestamp: time.Now()})

	assert.Eventually(t, func() bool {
		_, okRoot := f.listing.Get("/dir")
		_, okParent := f.listing.Get("/dir/sub")
		return !okRoot && !okParent
	}, time.Second, 10*time.Millisecond, "nested change must invalidate both the watched root and the immediate parent listing")
}

func TestInvalidateReleasesWatch(t *testing.T) {
	f := newFixture(t, defaultPoolConfig(), true)

	f.content.Put("/a/b.txt", []byte("x"), 1)
	require.Equal(t, 1, f.pool.Stats().Active)

	f.content.Invalidate("/a/b.txt")
	assert.Equal(t, 0, f.pool.Stats().Active, "dropping the last cache entry must release the watch")
}

func TestClearReleasesAllWatches(t *testing.T) {
	f := newFixture(t, defaultPoolConfig(), true)

	f.content.Put("/a/1", []byte("x"), 1)
	f.content.Put("/a/2", []byte("y"), 1)
	f.listing.Put("/a", []string{"1", "2"}, 2)
	require.Equal(t, 3, f.pool.Stats().Active)

	f.content.Clear()
	f.listing.Clear()

	assert.Equal(t, 0, f.pool.Stats().Active)
	assert.Equal(t, 0, f.content.Stats().Entries)
	assert.Equal(t, 0, f.listing.Stats().Entries)
}

func TestPoolExhaustionDegradesToTTLOnly(t *testing.T) {
	cfg := defaultPoolConfig()
	cfg.MaxWatchers = 0 // every registration is rejected
	f := newFixture(t, cfg, true)

	f.content.Put("/a/b.txt", []byte("x"), 1)

	// The read path keeps working without a watch.
	v, ok := f.content.Get("/a/b.txt")
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), v)
	assert.Equal(t, 0, f.pool.Stats().Active)
	assert.Equal(t, uint64(1), f.pool.Stats().Rejected)
}

func TestMonitoringDisabledRegistersNothing(t *testing.T) {
	f := newFixture(t, defaultPoolConfig(), false)

	f.content.Put("/a/b.txt", []byte("x"), 1)

	_, ok := f.content.Get("/a/b.txt")
	assert.True(t, ok)
	assert.Equal(t, 0, f.pool.Stats().Active)
	assert.Equal(t, uint64(0), f.pool.Stats().Created)
}

func TestEnsureMonitoredIsIdempotent(t *testing.T) {
	f := newFixture(t, defaultPoolConfig(), true)

	f.content.Put("/a/b.txt", []byte("x"), 1)
	f.content.Put("/a/b.txt", []byte("xx"), 2)
	f.content.Put("/a/b.txt", []byte("xxx"), 3)

	// One session serves every refresh; re-Put must not cycle the
	// underlying watch handle.
	stats := f.pool.Stats()
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, uint64(1), stats.Created)
	assert.Equal(t, uint64(0), stats.Closed)

	rec := f.pool.FindByPath("/a/b.txt", pool.KindFile)
	require.Len(t, rec, 1)
	assert.Equal(t, int64(2), rec[0].UseCount, "each refresh touches the existing record")
}

func TestBridgeSelfHealsAfterIdleSweep(t *testing.T) {
	cfg := defaultPoolConfig()
	cfg.MaxIdleTime = time.Nanosecond
	f := newFixture(t, cfg, true)

	f.content.Put("/a/b.txt", []byte("x"), 1)
	require.Equal(t, 1, f.pool.Stats().Active)

	// The sweep closes the subscription behind the bridge's back.
	time.Sleep(time.Millisecond)
	require.Equal(t, 1, f.pool.SweepIdle(time.Now()))

	// Once the consumer has cleaned up, re-inserting re-registers.
	assert.Eventually(t, func() bool {
		f.content.Put("/a/b.txt", []byte("y"), 1)
		return f.pool.Stats().Active == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWatchErrorKeepsSessionAlive(t *testing.T) {
	f := newFixture(t, defaultPoolConfig(), true)

	f.content.Put("/a/b.txt", []byte("x"), 1)
	f.notifier.emit("/a/b.txt", watcher.Event{Kind: watcher.KindError, Path: "/a/b.txt", Err: assert.AnError, Timestamp: time.Now()})

	// The entry survives an error event, and a later change still lands.
	_, ok := f.content.Get("/a/b.txt")
	assert.True(t, ok)

	f.notifier.emit("/a/b.txt", watcher.Event{Kind: watcher.KindChanged, Path: "/a/b.txt", Timestamp: time.Now()})
	assert.Eventually(t, func() bool {
		_, ok := f.content.Get("/a/b.txt")
		return !ok
	}, time.Second, 10*time.Millisecond)
}
