// Package api exposes the filesystem tools over HTTP. It is thin glue:
// parameter validation, dispatch to the fileops facade and the watch
// pool, and JSON envelopes.
package api

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/javi11/remotefs/internal/fileops"
	"github.com/javi11/remotefs/internal/pathutil"
	"github.com/javi11/remotefs/internal/pool"
)

// Config represents API server configuration
type Config struct {
	Prefix string // API path prefix (default: "/api")
}

// DefaultConfig returns default API configuration
func DefaultConfig() *Config {
	return &Config{
		Prefix: "/api",
	}
}

// Server registers the tool routes on a fiber app. Every path reaching
// the pool or the facade passes the allowed-roots policy first.
type Server struct {
	config    *Config
	service   *fileops.Service
	pool      *pool.Pool
	policy    *pathutil.Policy
	logger    *slog.Logger
	startTime time.Time
}

// NewServer creates the API server around the facade, the pool and the
// access policy.
func NewServer(config *Config, service *fileops.Service, p *pool.Pool, policy *pathutil.Policy, logger *slog.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		service:   service,
		pool:      p,
		policy:    policy,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}
}

// RegisterRoutes mounts every tool endpoint under the configured prefix.
func (s *Server) RegisterRoutes(app *fiber.App) {
	g := app.Group(s.config.Prefix)

	g.Get("/files/read", s.handleReadFile)
	g.Get("/files/list", s.handleListDir)
	g.Post("/files/write", s.handleWriteFile)
	g.Post("/files/append", s.handleAppend)
	g.Delete("/files", s.handleDelete)
	g.Post("/files/move", s.handleMove)
	g.Post("/files/copy", s.handleCopy)
	g.Post("/files/mkdir", s.handleMkdir)

	g.Post("/watch", s.handleRegisterWatch)
	g.Delete("/watch/:id", s.handleUnregisterWatch)
	g.Get("/pool/status", s.handlePoolStatus)

	g.Post("/cache/invalidate", s.handleInvalidate)
	g.Post("/cache/clear", s.handleClearAll)
	g.Get("/cache/stats", s.handleCacheStats)

	g.Get("/health", s.handleHealth)
}
