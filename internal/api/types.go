package api

import (
	"time"

	"github.com/javi11/remotefs/internal/cache"
	"github.com/javi11/remotefs/internal/fileops"
)

// ReadFileResponse is the payload of GET /files/read.
type ReadFileResponse struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	FromCache bool   `json:"from_cache"`
}

// ListDirResponse is the payload of GET /files/list.
type ListDirResponse struct {
	Path      string          `json:"path"`
	Entries   []fileops.Entry `json:"entries"`
	FromCache bool            `json:"from_cache"`
}

// WriteRequest is the body of POST /files/write and /files/append.
type WriteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// MoveRequest is the body of POST /files/move and /files/copy.
type MoveRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// PathRequest is the body of requests that only carry a path.
type PathRequest struct {
	Path string `json:"path"`
}

// WatchRequest is the body of POST /watch.
type WatchRequest struct {
	Path      string `json:"path"`
	Kind      string `json:"kind"` // "file" or "directory"
	OwnerID   string `json:"owner_id"`
	Recursive bool   `json:"recursive"`
}

// WatchResponse describes a registered watch session.
type WatchResponse struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Kind      string    `json:"kind"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CacheStatsResponse is the payload of GET /cache/stats.
type CacheStatsResponse struct {
	Content cache.Stats `json:"content"`
	Listing cache.Stats `json:"listing"`
}

// HealthResponse is the payload of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}
