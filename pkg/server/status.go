package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// status handles GET /api/status — stats and a listing of claimable files.
// Listings never include encryption material.
func (s *Server) status(ctx echo.Context) error {
	stats, listings := s.manager.Status()

	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"version": s.version,
		"stats":   stats,
		"files":   listings,
	})
}

// cleanup handles POST /api/cleanup — manual sweep trigger.
func (s *Server) cleanup(ctx echo.Context) error {
	if !s.checkLimit(ctx, s.apiLimiter) {
		return nil
	}

	deleted := s.manager.Sweep()
	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"deleted": deleted,
	})
}
