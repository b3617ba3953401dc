package api

import (
	"errors"
	"io/fs"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/javi11/remotefs/internal/fileops"
	"github.com/javi11/remotefs/internal/pathutil"
	"github.com/javi11/remotefs/internal/pool"
)

// respondOpError maps facade errors to HTTP statuses: policy denials are
// 403, missing paths 404, everything else 500.
func respondOpError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, fileops.ErrNotAllowed):
		return RespondForbidden(c, "Path is outside the allowed roots", err.Error())
	case errors.Is(err, fs.ErrNotExist):
		return RespondNotFound(c, "Path does not exist", err.Error())
	default:
		return RespondInternalError(c, "Filesystem operation failed", err.Error())
	}
}

// handleReadFile handles GET /files/read requests
func (s *Server) handleReadFile(c *fiber.Ctx) error {
	path := c.Query("path")
	if path == "" {
		return RespondBadRequest(c, "Path parameter is required", "MISSING_PATH")
	}

	data, fromCache, err := s.service.ReadFile(path)
	if err != nil {
		return respondOpError(c, err)
	}
	return RespondSuccess(c, ReadFileResponse{
		Path:      path,
		Content:   string(data),
		FromCache: fromCache,
	})
}

// handleListDir handles GET /files/list requests
func (s *Server) handleListDir(c *fiber.Ctx) error {
	path := c.Query("path")
	if path == "" {
		return RespondBadRequest(c, "Path parameter is required", "MISSING_PATH")
	}

	entries, fromCache, err := s.service.ListDir(path)
	if err != nil {
		return respondOpError(c, err)
	}
	return RespondSuccess(c, ListDirResponse{
		Path:      path,
		Entries:   entries,
		FromCache: fromCache,
	})
}

// handleWriteFile handles POST /files/write requests
func (s *Server) handleWriteFile(c *fiber.Ctx) error {
	var req WriteRequest
	if err := c.BodyParser(&req); err != nil {
		return RespondBadRequest(c, "Invalid request body", err.Error())
	}
	if req.Path == "" {
		return RespondBadRequest(c, "Path is required", "MISSING_PATH")
	}

	if err := s.service.WriteFile(req.Path, []byte(req.Content)); err != nil {
		return respondOpError(c, err)
	}
	return RespondMessage(c, "File written")
}

// handleAppend handles POST /files/append requests
func (s *Server) handleAppend(c *fiber.Ctx) error {
	var req WriteRequest
	if err := c.BodyParser(&req); err != nil {
		return RespondBadRequest(c, "Invalid request body", err.Error())
	}
	if req.Path == "" {
		return RespondBadRequest(c, "Path is required", "MISSING_PATH")
	}

	if err := s.service.Append(req.Path, []byte(req.Content)); err != nil {
		return respondOpError(c, err)
	}
	return RespondMessage(c, "Content appended")
}

// handleDelete handles DELETE /files requests
func (s *Server) handleDelete(c *fiber.Ctx) error {
	path := c.Query("path")
	if path == "" {
		return RespondBadRequest(c, "Path parameter is required", "MISSING_PATH")
	}

	if err := s.service.Delete(path); err != nil {
		return respondOpError(c, err)
	}
	return RespondMessage(c, "Path deleted")
}

// handleMove handles POST /files/move requests
func (s *Server) handleMove(c *fiber.Ctx) error {
	var req MoveRequest
	if err := c.BodyParser(&req); err != nil {
		return RespondBadRequest(c, "Invalid request body", err.Error())
	}
	if req.Source == "" || req.Destination == "" {
		return RespondBadRequest(c, "Source and destination are required", "MISSING_PATH")
	}

	if err := s.service.Move(req.Source, req.Destination); err != nil {
		return respondOpError(c, err)
	}
	return RespondMessage(c, "Path moved")
}

// handleCopy handles POST /files/copy requests
func (s *Server) handleCopy(c *fiber.Ctx) error {
	var req MoveRequest
	if err := c.BodyParser(&req); err != nil {
		return RespondBadRequest(c, "Invalid request body", err.Error())
	}
	if req.Source == "" || req.Destination == "" {
		return RespondBadRequest(c, "Source and destination are required", "MISSING_PATH")
	}

	if err := s.service.Copy(req.Source, req.Destination); err != nil {
		return respondOpError(c, err)
	}
	return RespondMessage(c, "File copied")
}

// handleMkdir handles POST /files/mkdir requests
func (s *Server) handleMkdir(c *fiber.Ctx) error {
	var req PathRequest
	if err := c.BodyParser(&req); err != nil {
		return RespondBadRequest(c, "Invalid request body", err.Error())
	}
	if req.Path == "" {
		return RespondBadRequest(c, "Path is required", "MISSING_PATH")
	}

	if err := s.service.Mkdir(req.Path); err != nil {
		return respondOpError(c, err)
	}
	return RespondMessage(c, "Directory created")
}

// handleRegisterWatch handles POST /watch requests
func (s *Server) handleRegisterWatch(c *fiber.Ctx) error {
	var req WatchRequest
	if err := c.BodyParser(&req); err != nil {
		return RespondBadRequest(c, "Invalid request body", err.Error())
	}
	if req.Path == "" {
		return RespondBadRequest(c, "Path is required", "MISSING_PATH")
	}

	kind := pool.KindFile
	switch req.Kind {
	case "", "file":
	case "directory":
		kind = pool.KindDirectory
	default:
		return RespondBadRequest(c, "Kind must be \"file\" or \"directory\"", req.Kind)
	}
	owner := req.OwnerID
	if owner == "" {
		owner = "api"
	}

	// The policy gate runs before the pool sees the path; a denied path
	// must not consume a slot or reveal whether it exists.
	normalized, err := pathutil.Normalize(req.Path)
	if err != nil {
		return RespondBadRequest(c, "Invalid path", err.Error())
	}
	if !s.policy.Allowed(normalized) {
		return RespondForbidden(c, "Path is outside the allowed roots", normalized)
	}

	rec, err := s.pool.Register(normalized, kind, owner, pool.Options{Recursive: req.Recursive})
	if err != nil {
		if errors.Is(err, pool.ErrPoolLimit) {
			return RespondError(c, fiber.StatusTooManyRequests, "POOL_LIMIT",
				"Watch pool limit reached", err.Error())
		}
		return respondOpError(c, err)
	}

	return RespondSuccess(c, WatchResponse{
		ID:        rec.ID,
		Path:      rec.Path,
		Kind:      string(rec.Kind),
		OwnerID:   rec.OwnerID,
		CreatedAt: rec.CreatedAt,
	})
}

// handleUnregisterWatch handles DELETE /watch/:id requests
func (s *Server) handleUnregisterWatch(c *fiber.Ctx) error {
	id := c.Params("id")
	if !s.pool.Unregister(id) {
		return RespondNotFound(c, "Watch not found", id)
	}
	return RespondMessage(c, "Watch unregistered")
}

// handlePoolStatus handles GET /pool/status requests
func (s *Server) handlePoolStatus(c *fiber.Ctx) error {
	return RespondSuccess(c, s.pool.Stats())
}

// handleInvalidate handles POST /cache/invalidate requests
func (s *Server) handleInvalidate(c *fiber.Ctx) error {
	var req PathRequest
	if err := c.BodyParser(&req); err != nil {
		return RespondBadRequest(c, "Invalid request body", err.Error())
	}
	if req.Path == "" {
		return RespondBadRequest(c, "Path is required", "MISSING_PATH")
	}

	s.service.Invalidate(req.Path)
	return RespondMessage(c, "Cache invalidated")
}

// handleClearAll handles POST /cache/clear requests
func (s *Server) handleClearAll(c *fiber.Ctx) error {
	s.service.ClearAll()
	return RespondMessage(c, "Caches cleared")
}

// handleCacheStats handles GET /cache/stats requests
func (s *Server) handleCacheStats(c *fiber.Ctx) error {
	return RespondSuccess(c, CacheStatsResponse{
		Content: s.service.ContentStats(),
		Listing: s.service.ListingStats(),
	})
}

// handleHealth handles GET /health requests
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return RespondSuccess(c, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}
