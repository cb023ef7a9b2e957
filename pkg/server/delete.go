package server

import (
	"errors"
	"net/http"

	"cryptdrop/pkg/keeper"
	"cryptdrop/pkg/log"

	"github.com/labstack/echo/v4"
)

// deleteToken handles DELETE /api/delete/:token — explicit user-initiated
// removal of a file and its token.
func (s *Server) deleteToken(ctx echo.Context) error {
	if !s.checkLimit(ctx, s.apiLimiter) {
		return nil
	}

	token := ctx.Param("token")
	log.Info().Str("token", token).Msg("File delete request")

	if err := s.manager.DeleteToken(token); err != nil {
		var notFound keeper.TokenNotFoundError
		if errors.As(err, &notFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{
				"error": "token not found",
			})
		}
		log.Error().Err(err).Str("token", token).Msg("Delete failed")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}

	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "file and token deleted successfully",
	})
}
