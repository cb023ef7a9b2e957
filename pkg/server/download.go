package server

import (
	"errors"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"

	"cryptdrop/pkg/keeper"
	"cryptdrop/pkg/log"
	"cryptdrop/pkg/vaultcrypt"

	"github.com/labstack/echo/v4"
)

// downloadFile handles GET /api/download/:token — resolve and consume the
// token, decrypt server-side and serve the plaintext once. The query
// parameter "password" satisfies the optional password gate.
func (s *Server) downloadFile(ctx echo.Context) error {
	if !s.checkLimit(ctx, s.apiLimiter) {
		return nil
	}

	ref := ctx.Param("token")
	log.Info().Str("ref", ref).Msg("File download request")

	data, res, err := s.manager.Consume(ref, ctx.QueryParam("password"))
	if err != nil {
		return s.consumeError(ctx, ref, err)
	}

	plaintext, err := vaultcrypt.Decrypt(data, res.Record.EncryptionKey, res.Record.IV, res.Record.Salt)
	if err != nil {
		// The token is already spent; the record cannot be re-served.
		log.Error().Err(err).Str("token", res.Token).Msg("Decryption failed")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to decrypt file",
		})
	}

	ctx.Response().Header().Set(echo.HeaderContentDisposition,
		`attachment; filename="`+url.PathEscape(res.Record.OriginalName)+`"`)
	ctx.Response().Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	return ctx.Blob(http.StatusOK, mimeFor(res.Record.OriginalName), plaintext)
}

// serveEncryptedFile handles GET /api/file/:token — resolve and consume the
// token, returning the raw ciphertext with key material in headers so the
// client decrypts locally.
func (s *Server) serveEncryptedFile(ctx echo.Context) error {
	if !s.checkLimit(ctx, s.apiLimiter) {
		return nil
	}

	ref := ctx.Param("token")
	log.Info().Str("ref", ref).Msg("Encrypted file request")

	data, res, err := s.manager.Consume(ref, ctx.QueryParam("password"))
	if err != nil {
		return s.consumeError(ctx, ref, err)
	}

	h := ctx.Response().Header()
	h.Set("X-Encryption-Key", res.Record.EncryptionKey)
	h.Set("X-IV", res.Record.IV)
	h.Set("X-Salt", res.Record.Salt)
	h.Set("X-Metadata-IV", res.Record.MetadataIV)
	h.Set("X-Original-Name", url.PathEscape(res.Record.OriginalName))
	h.Set("X-Original-Size", strconv.FormatInt(res.Record.Size, 10))
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	return ctx.Blob(http.StatusOK, echo.MIMEOctetStream, data)
}

// fileInfo handles GET /api/file-info/:token — a non-consuming metadata
// probe for the download page.
func (s *Server) fileInfo(ctx echo.Context) error {
	if !s.checkLimit(ctx, s.infoLimiter) {
		return nil
	}

	ref := ctx.Param("token")
	res, err := s.manager.Resolve(ref)
	if err != nil {
		return s.consumeError(ctx, ref, err)
	}

	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"originalName":      res.Record.OriginalName,
		"size":              res.Record.Size,
		"expiresAt":         expiresAtRFC3339(res.Record.ExpiresAt),
		"passwordProtected": res.Record.PasswordProtected(),
		"isValid":           true,
	})
}

// consumeError maps resolution and consumption failures to status codes.
// Not-found and purged collapse into the same vague user-facing messages;
// the log keeps them distinguishable.
func (s *Server) consumeError(ctx echo.Context, ref string, err error) error {
	var notFound keeper.TokenNotFoundError
	if errors.As(err, &notFound) {
		log.Debug().Str("ref", ref).Msg("Unknown token or alias")
		return ctx.JSON(http.StatusNotFound, map[string]string{
			"error": "invalid or expired download link",
		})
	}

	var expired keeper.TokenExpiredError
	if errors.As(err, &expired) {
		log.Debug().Str("ref", ref).Msg("Expired token purged")
		return ctx.JSON(http.StatusGone, map[string]string{
			"error": "invalid or expired download link",
		})
	}

	var missing keeper.BackingFileMissingError
	if errors.As(err, &missing) {
		log.Warn().Str("ref", ref).Str("filename", missing.Filename).Msg("Backing file missing")
		return ctx.JSON(http.StatusNotFound, map[string]string{
			"error": "invalid or expired download link",
		})
	}

	if errors.Is(err, vaultcrypt.ErrPasswordRequired) {
		return ctx.JSON(http.StatusUnauthorized, map[string]string{
			"error": "password required",
		})
	}
	if errors.Is(err, vaultcrypt.ErrPasswordInvalid) {
		return ctx.JSON(http.StatusUnauthorized, map[string]string{
			"error": "password invalid",
		})
	}

	log.Error().Err(err).Str("ref", ref).Msg("Download failed")
	return ctx.JSON(http.StatusInternalServerError, map[string]string{
		"error": "internal server error",
	})
}

func mimeFor(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return echo.MIMEOctetStream
}
