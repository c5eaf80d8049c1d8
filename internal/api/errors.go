package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forc-lang/forc-registry/internal/apierr"
	"github.com/forc-lang/forc-registry/internal/db/repositories"
)

// respondError translates an error into the JSON error body clients see.
// Typed *apierr.Error values carry their own status and kind; anything
// else is an internal failure that must not leak details to the client.
func respondError(c *gin.Context, err error) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		if apiErr.Status >= 500 {
			slog.Error("request failed", "kind", apiErr.Kind, "error", err, "path", c.FullPath())
		}
		c.JSON(apiErr.Status, gin.H{
			"kind":  string(apiErr.Kind),
			"error": apiErr.Message,
		})
		return
	}

	if errors.Is(err, repositories.ErrNoSearchPredicate) {
		c.JSON(http.StatusBadRequest, gin.H{
			"kind":  "InvalidQuery",
			"error": err.Error(),
		})
		return
	}

	slog.Error("request failed", "error", err, "path", c.FullPath())
	c.JSON(http.StatusInternalServerError, gin.H{
		"kind":  string(apierr.KindDatabase),
		"error": "internal error",
	})
}
