// Package fileops is the orchestrator facade behind the tool surface:
// read-through file and listing access backed by the bounded caches, and
// write operations with synchronous invalidation.
package fileops

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/javi11/remotefs/internal/cache"
	"github.com/javi11/remotefs/internal/pathutil"
	"github.com/spf13/afero"
)

// ErrNotAllowed reports a path outside the configured roots.
var ErrNotAllowed = errors.New("path not allowed")

// Entry is one directory listing element. Listings are cached
// non-recursively only; recursive listings would fan out into unbounded
// watch registrations.
type Entry struct {
	Name    string    `json:"name"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// entryOverhead approximates the in-memory cost of one listing entry for
// cache size accounting, on top of the name bytes.
const entryOverhead = 64

// Service exposes the filesystem operations invoked by the tool layer.
// Every operation validates its path against the policy before touching
// either the filesystem or the caches.
type Service struct {
	fs      afero.Fs
	policy  *pathutil.Policy
	content *cache.Cache[[]byte]
	listing *cache.Cache[[]Entry]
	logger  *slog.Logger
}

// New creates the facade over the given filesystem and caches.
func New(fs afero.Fs, policy *pathutil.Policy, content *cache.Cache[[]byte], listing *cache.Cache[[]Entry], logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		fs:      fs,
		policy:  policy,
		content: content,
		listing: listing,
		logger:  logger.With("component", "fileops"),
	}
}

func (s *Service) allow(path string) (string, error) {
	normalized, err := pathutil.Normalize(path)
	if err != nil {
		return "", err
	}
	if !s.policy.Allowed(normalized) {
		return "", fmt.Errorf("%w: %s", ErrNotAllowed, normalized)
	}
	return normalized, nil
}

// ReadFile returns the file content, served from the content cache when
// fresh. The fromCache flag is for observability only.
func (s *Service) ReadFile(path string) (data []byte, fromCache bool, err error) {
	p, err := s.allow(path)
	if err != nil {
		return nil, false, err
	}

	if v, ok := s.content.Get(p); ok {
		return v, true, nil
	}

	data, err = afero.ReadFile(s.fs, p)
	if err != nil {
		return nil, false, err
	}
	s.content.Put(p, data, int64(len(data)))
	return data, false, nil
}

// ListDir returns the direct children of a directory, served from the
// listing cache when fresh.
func (s *Service) ListDir(path string) (entries []Entry, fromCache bool, err error) {
	p, err := s.allow(path)
	if err != nil {
		return nil, false, err
	}

	if v, ok := s.listing.Get(p); ok {
		return v, true, nil
	}

	infos, err := afero.ReadDir(s.fs, p)
	if err != nil {
		return nil, false, err
	}

	entries = make([]Entry, 0, len(infos))
	var size int64
	for _, info := range infos {
		entries = append(entries, Entry{
			Name:    info.Name(),
			IsDir:   info.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		size += int64(len(info.Name())) + entryOverhead
	}
	s.listing.Put(p, entries, size)
	return entries, false, nil
}

// WriteFile replaces the file content. The affected cache entries are
// invalidated before success is reported; invalidation is never deferred.
func (s *Service) WriteFile(path string, data []byte) error {
	p, err := s.allow(path)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(s.fs, p, data, 0o644); err != nil {
		return err
	}
	s.invalidateFile(p)
	return nil
}

// Append adds data to the end of the file, creating it if needed.
func (s *Service) Append(path string, data []byte) error {
	p, err := s.allow(path)
	if err != nil {
		return err
	}
	f, err := s.fs.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.invalidateFile(p)
	return nil
}

// Delete removes a file or an empty directory.
func (s *Service) Delete(path string) error {
	p, err := s.allow(path)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil {
		return err
	}
	s.Invalidate(p)
	s.listing.Invalidate(filepath.Dir(p))
	return nil
}

// Move renames a file or directory. Both endpoints must be allowed.
func (s *Service) Move(oldPath, newPath string) error {
	oldP, err := s.allow(oldPath)
	if err != nil {
		return err
	}
	newP, err := s.allow(newPath)
	if err != nil {
		return err
	}
	if err := s.fs.Rename(oldP, newP); err != nil {
		return err
	}
	s.Invalidate(oldP)
	s.Invalidate(newP)
	s.listing.Invalidate(filepath.Dir(oldP))
	s.listing.Invalidate(filepath.Dir(newP))
	return nil
}

// Copy duplicates a file. The source is read directly, not through the
// cache, so a partially stale cache can never produce a stale copy.
func (s *Service) Copy(srcPath, dstPath string) error {
	src, err := s.allow(srcPath)
	if err != nil {
		return err
	}
	dst, err := s.allow(dstPath)
	if err != nil {
		return err
	}
	data, err := afero.ReadFile(s.fs, src)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(s.fs, dst, data, 0o644); err != nil {
		return err
	}
	s.invalidateFile(dst)
	return nil
}

// Mkdir creates a directory, including missing parents.
func (s *Service) Mkdir(path string) error {
	p, err := s.allow(path)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(p, 0o755); err != nil {
		return err
	}
	s.listing.Invalidate(filepath.Dir(p))
	return nil
}

// Invalidate drops every cache entry for path: its content entry and its
// listing entry when path is a directory key.
func (s *Service) Invalidate(path string) {
	if p, err := pathutil.Normalize(path); err == nil {
		path = p
	}
	s.content.Invalidate(path)
	s.listing.Invalidate(path)
}

// ClearAll empties both caches and releases all associated watches.
func (s *Service) ClearAll() {
	s.content.Clear()
	s.listing.Clear()
}

// ContentStats returns the file-content cache counters.
func (s *Service) ContentStats() cache.Stats {
	return s.content.Stats()
}

// ListingStats returns the directory-listing cache counters.
func (s *Service) ListingStats() cache.Stats {
	return s.listing.Stats()
}

// invalidateFile drops the content entry for p and the listing entry of
// its parent directory.
func (s *Service) invalidateFile(p string) {
	s.content.Invalidate(p)
	s.listing.Invalidate(filepath.Dir(p))
}
