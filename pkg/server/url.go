package server

import (
	"time"

	"github.com/labstack/echo/v4"
)

// downloadURL builds the user-facing download URL for a token or alias,
// honoring proxy headers.
func downloadURL(ctx echo.Context, ref string) string {
	scheme := ctx.Scheme()
	if proto := ctx.Request().Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	host := ctx.Request().Host
	return scheme + "://" + host + "/download/" + ref
}

// expiresAtRFC3339 formats a unix-millisecond expiry for API responses.
func expiresAtRFC3339(expiresAt int64) string {
	return time.UnixMilli(expiresAt).UTC().Format(time.RFC3339)
}
