package server

import (
	"errors"
	"net/http"

	"cryptdrop/pkg/keeper"
	"cryptdrop/pkg/log"

	"github.com/labstack/echo/v4"
)

type aliasRequest struct {
	Alias string `json:"alias"`
	Token string `json:"token"`
}

// createAlias handles POST /api/alias — link a friendly name to an existing
// download token.
func (s *Server) createAlias(ctx echo.Context) error {
	if !s.checkLimit(ctx, s.apiLimiter) {
		return nil
	}

	var req aliasRequest
	if err := ctx.Bind(&req); err != nil || req.Alias == "" || req.Token == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "alias and token are required",
		})
	}

	alias, err := s.manager.CreateAlias(req.Alias, req.Token)
	if err != nil {
		var invalid keeper.AliasInvalidError
		if errors.As(err, &invalid) {
			return ctx.JSON(http.StatusBadRequest, map[string]string{
				"error": "invalid alias format",
			})
		}
		var collision keeper.AliasCollisionError
		if errors.As(err, &collision) {
			return ctx.JSON(http.StatusConflict, map[string]string{
				"error": "alias already in use",
			})
		}
		var notFound keeper.TokenNotFoundError
		if errors.As(err, &notFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{
				"error": "invalid download token",
			})
		}
		var expired keeper.TokenExpiredError
		if errors.As(err, &expired) {
			return ctx.JSON(http.StatusGone, map[string]string{
				"error": "download token has expired",
			})
		}
		log.Error().Err(err).Str("alias", req.Alias).Msg("Alias creation failed")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to create alias",
		})
	}

	return ctx.JSON(http.StatusCreated, map[string]interface{}{
		"success":  true,
		"alias":    alias,
		"aliasUrl": downloadURL(ctx, alias),
	})
}
