package watcher

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce = 100 * time.Millisecond
	eventBuffer     = 64
)

// FsNotifier creates fsnotify-backed subscriptions. Each subscription
// owns its own OS watch handle, so closing a subscription releases the
// underlying resource independently of every other subscription.
type FsNotifier struct {
	debounce time.Duration
	logger   *slog.Logger
}

// NewFsNotifier builds a notifier applying the given write-stability
// window before reporting a change complete. A non-positive debounce
// falls back to the default.
func NewFsNotifier(debounce time.Duration, logger *slog.Logger) *FsNotifier {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FsNotifier{
		debounce: debounce,
		logger:   logger.With("component", "fsnotify"),
	}
}

// Subscribe starts watching path. For directories with recursive set,
// every current and future subdirectory is added to the watch.
func (n *FsNotifier) Subscribe(path string, recursive bool) (Subscription, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot watch %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watch handle: %w", err)
	}

	sub := &fsSubscription{
		root:      path,
		recursive: recursive && info.IsDir(),
		debounce:  n.debounce,
		logger:    n.logger,
		fsw:       fsw,
		out:       make(chan Event, eventBuffer),
		flushCh:   make(chan string, eventBuffer),
		done:      make(chan struct{}),
		pending:   make(map[string]pendingEvent),
		knownDirs: make(map[string]struct{}),
	}

	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("cannot watch %s: %w", path, err)
	}
	if info.IsDir() {
		sub.knownDirs[path] = struct{}{}
		if sub.recursive {
			if err := sub.addTree(path); err != nil {
				_ = fsw.Close()
				return nil, err
			}
		} else {
			// Pre-existing children must be classified correctly when
			// they are later removed, so remember which ones are
			// directories now.
			sub.seedChildDirs(path)
		}
	}

	go sub.run()
	return sub, nil
}

type fsSubscription struct {
	root      string
	recursive bool
	debounce  time.Duration
	logger    *slog.Logger
	fsw       *fsnotify.Watcher

	out     chan Event
	flushCh chan string
	done    chan struct{}

	mu        sync.Mutex
	closed    bool
	pending   map[string]pendingEvent
	knownDirs map[string]struct{}
}

type pendingEvent struct {
	event Event
	timer *time.Timer
}

func (s *fsSubscription) Events() <-chan Event {
	return s.out
}

// Close releases the OS watch handle and closes the event channel. It is
// safe to call more than once.
func (s *fsSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, p := range s.pending {
		p.timer.Stop()
	}
	s.pending = map[string]pendingEvent{}
	s.mu.Unlock()

	close(s.done)
	return s.fsw.Close()
}

// run is the only goroutine that sends on out, so it alone may close it.
func (s *fsSubscription) run() {
	defer close(s.out)
	for {
		select {
		case ev, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			s.handleRaw(ev)
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			s.emit(Event{Kind: KindError, Path: s.root, Timestamp: time.Now(), Err: err})
		case path := <-s.flushCh:
			s.mu.Lock()
			p, ok := s.pending[path]
			delete(s.pending, path)
			s.mu.Unlock()
			if ok {
				s.emit(p.event)
			}
		case <-s.done:
			return
		}
	}
}

func (s *fsSubscription) handleRaw(raw fsnotify.Event) {
	now := time.Now()

	switch {
	case raw.Op.Has(fsnotify.Create):
		info, err := os.Stat(raw.Name)
		if err != nil {
			// Created and gone again before we could look; skip.
			return
		}
		if info.IsDir() {
			s.mu.Lock()
			s.knownDirs[raw.Name] = struct{}{}
			s.mu.Unlock()
			if s.recursive {
				if err := s.fsw.Add(raw.Name); err != nil {
					s.logger.Warn("watch add failed", "path", raw.Name, "err", err)
				}
			}
			s.emit(Event{Kind: KindDirAdded, Path: raw.Name, Timestamp: now})
			return
		}
		s.emit(Event{Kind: KindAdded, Path: raw.Name, Timestamp: now})

	case raw.Op.Has(fsnotify.Write):
		// Writes arrive in bursts while a file is being produced; hold
		// the event until the path has been quiet for the debounce
		// window.
		s.schedule(Event{Kind: KindChanged, Path: raw.Name, Timestamp: now})

	case raw.Op.Has(fsnotify.Remove) || raw.Op.Has(fsnotify.Rename):
		kind := KindRemoved
		s.mu.Lock()
		if _, ok := s.knownDirs[raw.Name]; ok {
			kind = KindDirRemoved
			delete(s.knownDirs, raw.Name)
		}
		if p, ok := s.pending[raw.Name]; ok {
			p.timer.Stop()
			delete(s.pending, raw.Name)
		}
		s.mu.Unlock()
		s.emit(Event{Kind: kind, Path: raw.Name, Timestamp: now})
	}
}

func (s *fsSubscription) schedule(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if p, ok := s.pending[ev.Path]; ok {
		p.event = ev
		p.timer.Reset(s.debounce)
		s.pending[ev.Path] = p
		return
	}
	path := ev.Path
	s.pending[path] = pendingEvent{
		event: ev,
		timer: time.AfterFunc(s.debounce, func() {
			select {
			case s.flushCh <- path:
			case <-s.done:
			}
		}),
	}
}

func (s *fsSubscription) emit(ev Event) {
	select {
	case s.out <- ev:
	case <-s.done:
	}
}

// seedChildDirs records the immediate subdirectories of root. Runs
// before the event loop starts, so no locking is needed.
func (s *fsSubscription) seedChildDirs(root string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		s.logger.Warn("readdir failed", "path", root, "err", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			s.knownDirs[filepath.Join(root, entry.Name())] = struct{}{}
		}
	}
}

func (s *fsSubscription) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() || path == root {
			return nil
		}
		s.mu.Lock()
		s.knownDirs[path] = struct{}{}
		s.mu.Unlock()
		if err := s.fsw.Add(path); err != nil {
			s.logger.Warn("watch add failed", "path", path, "err", err)
		}
		return nil
	})
}
