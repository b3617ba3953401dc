// Package bridge wires watch-session events to cache invalidation. It is
// the only component that couples cache entries to watch records: it
// registers a session when a path enters a cache and unregisters it when
// the last dependent entry is gone.
package bridge

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/javi11/remotefs/internal/pool"
	"github.com/javi11/remotefs/internal/watcher"
	"github.com/sourcegraph/conc"
)

// ownerID identifies bridge-registered sessions for per-owner accounting.
const ownerID = "cache"

// Invalidator is the slice of the cache surface the bridge needs.
type Invalidator interface {
	Invalidate(key string) bool
}

// Bridge subscribes caches to filesystem change notifications through the
// watch-session pool. When the pool rejects a registration the affected
// path degrades to TTL-only caching; reads keep working.
type Bridge struct {
	pool    *pool.Pool
	content Invalidator
	listing Invalidator
	enabled bool
	logger  *slog.Logger

	mu        sync.Mutex
	closed    bool
	monitored map[string]string // path -> watch record id

	wg conc.WaitGroup
}

// New creates a bridge between the pool and the two caches. With enabled
// set to false every EnsureMonitored call is a no-op and coherence is
// left to the caches' TTL.
func New(p *pool.Pool, content, listing Invalidator, enabled bool, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		pool:      p,
		content:   content,
		listing:   listing,
		enabled:   enabled,
		logger:    logger.With("component", "bridge"),
		monitored: make(map[string]string),
	}
}

// ContentMonitor returns the monitor the file-content cache attaches to.
func (b *Bridge) ContentMonitor() Monitor {
	return Monitor{bridge: b, kind: pool.KindFile}
}

// ListingMonitor returns the monitor the directory-listing cache attaches
// to. Listing watches are depth-0: listings are only ever cached
// non-recursively.
func (b *Bridge) ListingMonitor() Monitor {
	return Monitor{bridge: b, kind: pool.KindDirectory}
}

// Monitor adapts the bridge to one cache instance, fixing the watch kind
// used for its keys.
type Monitor struct {
	bridge *Bridge
	kind   pool.Kind
}

func (m Monitor) EnsureMonitored(path string) {
	m.bridge.ensureMonitored(path, m.kind)
}

func (m Monitor) StopMonitoring(path string) {
	m.bridge.stopMonitoring(path)
}

// ensureMonitored registers a watch session for path unless one already
// exists. A path that is already monitored gets its record touched so hot
// cache entries survive idle reclamation.
func (b *Bridge) ensureMonitored(path string, kind pool.Kind) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if id, ok := b.monitored[path]; ok {
		b.pool.Touch(id)
		return
	}

	rec, err := b.pool.Register(path, kind, ownerID, pool.Options{})
	if err != nil {
		// Pool exhaustion or a vanished path: the entry stays cached
		// with TTL freshness only.
		b.logger.Debug("monitoring unavailable, TTL-only", "path", path, "err", err)
		return
	}
	b.monitored[path] = rec.ID

	b.wg.Go(func() {
		b.consume(rec)
	})
}

// stopMonitoring releases the watch for path when the cache no longer
// holds an entry for it. Unknown paths are a no-op.
func (b *Bridge) stopMonitoring(path string) {
	b.mu.Lock()
	id, ok := b.monitored[path]
	if ok {
		delete(b.monitored, path)
	}
	b.mu.Unlock()

	if ok {
		b.pool.Unregister(id)
	}
}

// Close releases every watch and waits for consumers to drain.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	ids := make([]string, 0, len(b.monitored))
	for _, id := range b.monitored {
		ids = append(ids, id)
	}
	b.monitored = make(map[string]string)
	b.mu.Unlock()

	for _, id := range ids {
		b.pool.Unregister(id)
	}
	b.wg.Wait()
}

// consume drains one session's event stream until its channel closes,
// which happens on unregistration, eviction or idle reclamation. The
// deferred cleanup self-heals the mapping when the pool dropped the
// record on its own.
func (b *Bridge) consume(rec *pool.Record) {
	defer func() {
		b.mu.Lock()
		if b.monitored[rec.Path] == rec.ID {
			delete(b.monitored, rec.Path)
		}
		b.mu.Unlock()
	}()

	for ev := range rec.Events() {
		b.dispatch(rec, ev)
	}
}

// dispatch translates one change event into cache invalidations.
func (b *Bridge) dispatch(rec *pool.Record, ev watcher.Event) {
	if ev.Kind == watcher.KindError {
		// Forwarded primitive failures keep the session alive; the
		// worst case is a stale entry until its TTL runs out.
		b.logger.Warn("watch error", "path", rec.Path, "err", ev.Err)
		return
	}

	switch rec.Kind {
	case pool.KindFile:
		if ev.Path != rec.Path {
			return
		}
		if ev.Kind == watcher.KindChanged || ev.Kind == watcher.KindRemoved {
			b.content.Invalidate(rec.Path)
			b.logger.Debug("content invalidated", "path", rec.Path, "event", ev.Kind.String())
		}

	case pool.KindDirectory:
		// Any event under the watched directory stales its listing.
		b.listing.Invalidate(rec.Path)
		// A nested change also stales the immediate parent's listing,
		// since listings are cached non-recursively.
		if parent := filepath.Dir(ev.Path); parent != rec.Path {
			b.listing.Invalidate(parent)
		}
		b.logger.Debug("listing invalidated", "dir", rec.Path, "path", ev.Path, "event", ev.Kind.String())
	}
}
