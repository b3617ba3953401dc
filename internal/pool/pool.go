// Package pool provides the admission-controlled registry of live watch
// sessions. OS-level watch handles are scarce and leak-prone, so the pool
// enforces a global limit with FIFO eviction, per-path and per-owner
// limits with rejection, and periodic idle reclamation.
package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/javi11/remotefs/internal/pathutil"
	"github.com/javi11/remotefs/internal/watcher"
)

// ErrPoolLimit reports that a registration was rejected because a pool
// limit is reached and no eviction could make room. Callers degrade to
// unwatched operation instead of failing the request.
var ErrPoolLimit = errors.New("watch pool limit reached")

// Kind distinguishes file and directory watch sessions.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// Options controls how a session subscribes to its path.
type Options struct {
	// Recursive subscribes to changes at arbitrary depth. Only
	// meaningful for directory sessions.
	Recursive bool
}

// Record is one registered watch session. The pool exclusively owns the
// underlying subscription handle; closing the record releases the OS
// resource.
type Record struct {
	ID         string
	Path       string
	Kind       Kind
	OwnerID    string
	CreatedAt  time.Time
	LastUsedAt time.Time
	UseCount   int64

	seq uint64
	sub watcher.Subscription
}

// Events exposes the session's normalized change stream. The channel is
// closed when the record is unregistered, evicted or swept.
func (r *Record) Events() <-chan watcher.Event {
	return r.sub.Events()
}

// Config holds the pool limits.
type Config struct {
	MaxWatchers int
	MaxPerPath  int
	MaxPerOwner int
	MaxIdleTime time.Duration
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Active      int            `json:"active"`
	MaxWatchers int            `json:"max_watchers"`
	Created     uint64         `json:"created"`
	Closed      uint64         `json:"closed"`
	Rejected    uint64         `json:"rejected"`
	UniquePaths int            `json:"unique_paths"`
	PerOwner    map[string]int `json:"per_owner"`
}

// Pool is the watch-session registry. All state is guarded by one mutex;
// sweeps and registrations never interleave partially.
type Pool struct {
	cfg      Config
	notifier watcher.Notifier
	logger   *slog.Logger

	mu          sync.Mutex
	closed      bool
	nextSeq     uint64
	records     map[string]*Record
	byPath      map[string]map[string]struct{}
	ownerCounts map[string]int

	created  uint64
	released uint64
	rejected uint64
}

// New creates a pool drawing subscriptions from the given notifier.
func New(cfg Config, notifier watcher.Notifier, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		cfg:         cfg,
		notifier:    notifier,
		logger:      logger.With("component", "watchpool"),
		records:     make(map[string]*Record),
		byPath:      make(map[string]map[string]struct{}),
		ownerCounts: make(map[string]int),
	}
}

// Register admits a new watch session for path. When the global limit is
// reached it evicts the single earliest-created record pool-wide to make
// room; per-path and per-owner limits reject without eviction. Rejection
// is reported as ErrPoolLimit with no side effect beyond the rejection
// counter.
func (p *Pool) Register(path string, kind Kind, ownerID string, opts Options) (*Record, error) {
	normalized, err := pathutil.Normalize(path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("watch pool is closed")
	}

	if len(p.records) >= p.cfg.MaxWatchers {
		// Deliberate FIFO policy: bound absolute watch lifetime rather
		// than usage recency.
		p.evictOldestLocked()
	}
	if len(p.records) >= p.cfg.MaxWatchers ||
		len(p.byPath[normalized]) >= p.cfg.MaxPerPath ||
		p.ownerCounts[ownerID] >= p.cfg.MaxPerOwner {
		p.rejected++
		p.logger.Debug("registration rejected",
			"path", normalized,
			"owner", ownerID,
			"active", len(p.records))
		return nil, ErrPoolLimit
	}

	sub, err := p.notifier.Subscribe(normalized, opts.Recursive)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", normalized, err)
	}

	now := time.Now()
	p.nextSeq++
	rec := &Record{
		ID:         uuid.NewString(),
		Path:       normalized,
		Kind:       kind,
		OwnerID:    ownerID,
		CreatedAt:  now,
		LastUsedAt: now,
		seq:        p.nextSeq,
		sub:        sub,
	}

	p.records[rec.ID] = rec
	ids := p.byPath[normalized]
	if ids == nil {
		ids = make(map[string]struct{})
		p.byPath[normalized] = ids
	}
	ids[rec.ID] = struct{}{}
	p.ownerCounts[ownerID]++
	p.created++

	p.logger.Debug("watch registered",
		"id", rec.ID,
		"path", normalized,
		"kind", kind,
		"owner", ownerID,
		"active", len(p.records))
	return rec, nil
}

// Unregister closes the record's handle and removes it from every index.
// Unregistering an unknown id is a no-op that returns false.
func (p *Pool) Unregister(id string) bool {
	p.mu.Lock()
	rec, ok := p.records[id]
	if ok {
		p.removeLocked(rec)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	if err := rec.sub.Close(); err != nil {
		p.logger.Warn("watch close failed", "id", id, "path", rec.Path, "err", err)
	}
	return true
}

// Touch refreshes the record's last-use timestamp and access counter.
func (p *Pool) Touch(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec, ok := p.records[id]; ok {
		rec.LastUsedAt = time.Now()
		rec.UseCount++
	}
}

// FindByPath returns the live records watching the given path. A
// non-empty kind restricts the result to that kind.
func (p *Pool) FindByPath(path string, kind Kind) []*Record {
	normalized, err := pathutil.Normalize(path)
	if err != nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*Record
	for id := range p.byPath[normalized] {
		rec := p.records[id]
		if rec == nil {
			continue
		}
		if kind != "" && rec.Kind != kind {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// SweepIdle removes every record whose idle time exceeds MaxIdleTime and
// returns how many were removed. The sweep runs to completion before any
// concurrent registration is admitted.
func (p *Pool) SweepIdle(now time.Time) int {
	p.mu.Lock()
	var idle []*Record
	for _, rec := range p.records {
		if now.Sub(rec.LastUsedAt) > p.cfg.MaxIdleTime {
			idle = append(idle, rec)
		}
	}
	for _, rec := range idle {
		p.removeLocked(rec)
	}
	p.mu.Unlock()

	for _, rec := range idle {
		if err := rec.sub.Close(); err != nil {
			p.logger.Warn("watch close failed", "id", rec.ID, "path", rec.Path, "err", err)
		}
	}
	if len(idle) > 0 {
		p.logger.Debug("idle watches reclaimed", "count", len(idle))
	}
	return len(idle)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	perOwner := make(map[string]int, len(p.ownerCounts))
	for owner, count := range p.ownerCounts {
		perOwner[owner] = count
	}
	return Stats{
		Active:      len(p.records),
		MaxWatchers: p.cfg.MaxWatchers,
		Created:     p.created,
		Closed:      p.released,
		Rejected:    p.rejected,
		UniquePaths: len(p.byPath),
		PerOwner:    perOwner,
	}
}

// Close destroys every record and refuses further registrations.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	all := make([]*Record, 0, len(p.records))
	for _, rec := range p.records {
		all = append(all, rec)
	}
	for _, rec := range all {
		p.removeLocked(rec)
	}
	p.mu.Unlock()

	for _, rec := range all {
		_ = rec.sub.Close()
	}
	p.logger.Debug("watch pool closed", "released", len(all))
}

// evictOldestLocked removes the earliest-created record to make room.
// The caller holds p.mu.
func (p *Pool) evictOldestLocked() {
	var oldest *Record
	for _, rec := range p.records {
		if oldest == nil || rec.seq < oldest.seq {
			oldest = rec
		}
	}
	if oldest == nil {
		return
	}
	p.removeLocked(oldest)
	if err := oldest.sub.Close(); err != nil {
		p.logger.Warn("watch close failed", "id", oldest.ID, "path", oldest.Path, "err", err)
	}
	p.logger.Debug("watch evicted", "id", oldest.ID, "path", oldest.Path)
}

// removeLocked detaches a record from every index. The caller holds p.mu
// and is responsible for closing the subscription.
func (p *Pool) removeLocked(rec *Record) {
	delete(p.records, rec.ID)
	if ids := p.byPath[rec.Path]; ids != nil {
		delete(ids, rec.ID)
		if len(ids) == 0 {
			delete(p.byPath, rec.Path)
		}
	}
	if p.ownerCounts[rec.OwnerID] > 0 {
		p.ownerCounts[rec.OwnerID]--
		if p.ownerCounts[rec.OwnerID] == 0 {
			delete(p.ownerCounts, rec.OwnerID)
		}
	}
	p.released++
}
