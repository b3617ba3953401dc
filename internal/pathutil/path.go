// Package pathutil provides path normalization and the allowed-roots
// access policy consulted before any filesystem operation.
package pathutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Normalize cleans a path and makes it absolute. Relative paths are
// resolved against the current working directory so that every index in
// the pool and the caches uses one canonical key per filesystem object.
func Normalize(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// Policy is the security predicate applied to every tool path. A path is
// allowed when it equals, or is contained in, one of the configured roots.
type Policy struct {
	roots []string
}

// NewPolicy normalizes the configured roots. An empty root list yields a
// policy that denies everything.
func NewPolicy(roots []string) (*Policy, error) {
	normalized := make([]string, 0, len(roots))
	for _, root := range roots {
		n, err := Normalize(root)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed root %q: %w", root, err)
		}
		normalized = append(normalized, n)
	}
	return &Policy{roots: normalized}, nil
}

// Allowed reports whether path falls under one of the policy roots.
// The path must already be normalized.
func (p *Policy) Allowed(path string) bool {
	for _, root := range p.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Roots returns the normalized allowed roots.
func (p *Policy) Roots() []string {
	out := make([]string, len(p.roots))
	copy(out, p.roots)
	return out
}
