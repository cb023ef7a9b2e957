package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"cryptdrop/pkg/log"
	"cryptdrop/pkg/models"
	"cryptdrop/pkg/session"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
)

// startUpload handles POST /api/upload/start: validates the session
// metadata and opens a chunked upload session.
func (s *Server) startUpload(ctx echo.Context) error {
	if !s.checkLimit(ctx, s.uploadLimiter) {
		return nil
	}

	var meta models.SessionMeta
	if err := ctx.Bind(&meta); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid JSON body",
		})
	}

	if meta.OriginalName == "" || meta.OriginalSize <= 0 || meta.TotalSize <= 0 ||
		meta.TotalChunks < 0 || meta.EncryptionKey == "" || meta.IV == "" ||
		meta.Salt == "" || meta.MetadataIV == "" {
		log.Warn().Str("original_name", meta.OriginalName).Msg("Session start rejected: missing fields")
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "missing required fields",
		})
	}

	uploadID := s.registry.Create(meta)

	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"success":  true,
		"uploadId": uploadID,
	})
}

// uploadChunk handles POST /api/upload/chunk: multipart form with uploadId,
// chunkIndex and the chunk payload.
func (s *Server) uploadChunk(ctx echo.Context) error {
	if !s.checkLimit(ctx, s.uploadLimiter) {
		return nil
	}

	uploadID := ctx.FormValue("uploadId")
	indexRaw := ctx.FormValue("chunkIndex")
	file, err := ctx.FormFile("chunk")
	if uploadID == "" || indexRaw == "" || err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "uploadId, chunkIndex and chunk are required",
		})
	}

	index, err := strconv.Atoi(indexRaw)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "chunkIndex must be an integer",
		})
	}

	src, err := file.Open()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open chunk upload")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to read chunk",
		})
	}
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("Failed to close chunk reader")
		}
	}()

	data, err := io.ReadAll(src)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read chunk body")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to read chunk",
		})
	}

	if err := s.registry.AddChunk(uploadID, index, data); err != nil {
		var notFound session.SessionNotFoundError
		if errors.As(err, &notFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{
				"error": "upload session not found",
			})
		}
		var outOfRange session.ChunkOutOfRangeError
		if errors.As(err, &outOfRange) {
			return ctx.JSON(http.StatusBadRequest, map[string]string{
				"error": "chunk index out of range",
			})
		}
		log.Error().Err(err).Str("session_id", uploadID).Msg("Failed to store chunk")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to store chunk",
		})
	}

	received, total, err := s.registry.Progress(uploadID)
	if err != nil {
		// Evicted between AddChunk and Progress; the client restarts anyway.
		return ctx.JSON(http.StatusNotFound, map[string]string{
			"error": "upload session not found",
		})
	}

	return ctx.JSON(http.StatusOK, models.ChunkProgress{
		Success:        true,
		ChunksReceived: received,
		TotalChunks:    total,
	})
}

// uploadFile handles POST /api/upload: the single-shot path for files small
// enough to skip the chunk protocol. One multipart form carries the whole
// ciphertext plus its encryption metadata, and a token is minted directly.
func (s *Server) uploadFile(ctx echo.Context) error {
	if !s.checkLimit(ctx, s.uploadLimiter) {
		return nil
	}

	file, err := ctx.FormFile("encryptedFile")
	meta := models.SessionMeta{
		OriginalName:  ctx.FormValue("originalName"),
		EncryptionKey: ctx.FormValue("encryptionKey"),
		IV:            ctx.FormValue("iv"),
		Salt:          ctx.FormValue("salt"),
		MetadataIV:    ctx.FormValue("metadataIv"),
		PwSalt:        ctx.FormValue("pwSalt"),
		PwVerifier:    ctx.FormValue("pwVerifier"),
	}
	meta.OriginalSize, _ = strconv.ParseInt(ctx.FormValue("originalSize"), 10, 64)

	if err != nil || meta.OriginalName == "" || meta.EncryptionKey == "" ||
		meta.IV == "" || meta.Salt == "" || meta.MetadataIV == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "missing required encryption data",
		})
	}

	src, err := file.Open()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open uploaded file")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to read file",
		})
	}
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("Failed to close upload reader")
		}
	}()

	data, err := io.ReadAll(src)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read uploaded file")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to read file",
		})
	}
	meta.TotalSize = int64(len(data))

	blobName, err := s.manager.StoreBlob(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to store uploaded file")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to store file",
		})
	}

	token, rec := s.manager.Mint(meta, blobName)

	s.manager.SweepAsync()

	log.Info().
		Str("original_name", meta.OriginalName).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Msg("File uploaded")

	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"success":       true,
		"message":       "File uploaded and encrypted successfully",
		"filename":      blobName,
		"originalName":  rec.OriginalName,
		"size":          rec.Size,
		"downloadUrl":   downloadURL(ctx, token),
		"downloadToken": token,
		"expiresAt":     expiresAtRFC3339(rec.ExpiresAt),
	})
}

type completeRequest struct {
	UploadID string `json:"uploadId"`
	Alias    string `json:"alias,omitempty"`
}

// completeUpload handles POST /api/upload/complete: assembles the chunks,
// stores the ciphertext, mints a download token, optionally links an alias,
// and retires the session.
func (s *Server) completeUpload(ctx echo.Context) error {
	if !s.checkLimit(ctx, s.uploadLimiter) {
		return nil
	}

	var req completeRequest
	if err := ctx.Bind(&req); err != nil || req.UploadID == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "uploadId required",
		})
	}

	// Assembly removes the session atomically, so racing completions for
	// the same session mint at most one token.
	assembled, meta, err := s.registry.AssembleAndDelete(req.UploadID)
	if err != nil {
		var notFound session.SessionNotFoundError
		if errors.As(err, &notFound) {
			return ctx.JSON(http.StatusNotFound, map[string]string{
				"error": "upload session not found",
			})
		}
		var incomplete session.IncompleteUploadError
		if errors.As(err, &incomplete) {
			return ctx.JSON(http.StatusBadRequest, map[string]interface{}{
				"error":          "missing chunks",
				"chunksReceived": incomplete.Received,
				"totalChunks":    incomplete.Expected,
			})
		}
		log.Error().Err(err).Str("session_id", req.UploadID).Msg("Failed to assemble upload")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to complete upload",
		})
	}

	blobName, err := s.manager.StoreBlob(assembled)
	if err != nil {
		log.Error().Err(err).Msg("Failed to store assembled file")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to store file",
		})
	}

	token, rec := s.manager.Mint(meta, blobName)

	result := &models.UploadResult{
		Success:       true,
		DownloadToken: token,
		DownloadURL:   downloadURL(ctx, token),
		OriginalName:  rec.OriginalName,
		Size:          rec.Size,
		ExpiresAt:     expiresAtRFC3339(rec.ExpiresAt),
	}

	if req.Alias != "" {
		alias, aliasErr := s.manager.CreateAlias(req.Alias, token)
		if aliasErr != nil {
			// The upload itself succeeded; report the alias failure inline.
			log.Warn().Err(aliasErr).Str("alias", req.Alias).Msg("Alias creation failed during completion")
		} else {
			result.Alias = alias
			result.AliasURL = downloadURL(ctx, alias)
		}
	}

	// Opportunistic reclamation after every completion.
	s.manager.SweepAsync()

	log.Info().
		Str("session_id", req.UploadID).
		Str("original_name", meta.OriginalName).
		Str("size", humanize.Bytes(uint64(len(assembled)))).
		Msg("Upload completed")

	return ctx.JSON(http.StatusOK, result)
}
