package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cryptdrop/pkg/keeper"
	"cryptdrop/pkg/log"
	"cryptdrop/pkg/ratelimit"
	"cryptdrop/pkg/session"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const shutdownTimeout = 10

// Server is the HTTP front of the sharing service. Handlers stay thin:
// protocol state lives in the session registry and the capability manager.
type Server struct {
	echo     *echo.Echo
	registry *session.Registry
	manager  *keeper.Manager
	version  string

	apiLimiter    *ratelimit.Limiter
	uploadLimiter *ratelimit.Limiter
	infoLimiter   *ratelimit.Limiter
}

// New creates a server over the given registry and manager.
func New(registry *session.Registry, manager *keeper.Manager, version string) *Server {
	return &Server{
		echo:          echo.New(),
		registry:      registry,
		manager:       manager,
		version:       version,
		apiLimiter:    ratelimit.NewAPILimiter(),
		uploadLimiter: ratelimit.NewUploadLimiter(),
		infoLimiter:   ratelimit.NewInfoLimiter(),
	}
}

// Start runs the server until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Start(addr string) error {
	s.setupRoutes()

	go func() {
		log.Info().
			Str("addr", addr).
			Str("version", s.version).
			Msg("Starting cryptdrop server")

		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server startup failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return s.Shutdown()
}

// Shutdown stops the HTTP listener and the background loops.
func (s *Server) Shutdown() error {
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
		return err
	}

	s.registry.Stop()
	s.manager.Stop()

	log.Info().Msg("Shutdown complete")
	return nil
}

func (s *Server) setupRoutes() {
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${time_rfc3339} ${status} ${method} ${uri} (${latency_human})\n",
	}))
	s.echo.Use(middleware.Recover())

	s.echo.POST("/api/upload", s.uploadFile)
	s.echo.POST("/api/upload/start", s.startUpload)
	s.echo.POST("/api/upload/chunk", s.uploadChunk)
	s.echo.POST("/api/upload/complete", s.completeUpload)
	s.echo.GET("/api/download/:token", s.downloadFile)
	s.echo.GET("/api/file/:token", s.serveEncryptedFile)
	s.echo.GET("/api/file-info/:token", s.fileInfo)
	s.echo.DELETE("/api/delete/:token", s.deleteToken)
	s.echo.POST("/api/alias", s.createAlias)
	s.echo.GET("/api/status", s.status)
	s.echo.POST("/api/cleanup", s.cleanup)
}

// checkLimit applies a rate limiter to the request. When denied it writes
// the 429 response and returns false.
func (s *Server) checkLimit(ctx echo.Context, limiter *ratelimit.Limiter) bool {
	ip := ctx.RealIP()
	allowed, retryAfter := limiter.Allow(ip)
	if allowed {
		return true
	}

	seconds := int(retryAfter.Seconds()) + 1
	log.Warn().Str("ip", ip).Str("path", ctx.Path()).Msg("Rate limit exceeded")

	ctx.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
	ctx.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
	ctx.Response().Header().Set("X-RateLimit-Remaining", "0")
	_ = ctx.JSON(http.StatusTooManyRequests, map[string]interface{}{
		"error":      "Rate limit exceeded.",
		"retryAfter": seconds,
	})
	return false
}
