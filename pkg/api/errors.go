package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/merlya/merlya/pkg/conversation"
)

// writeError maps store and domain errors to HTTP error responses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	case errors.Is(err, conversation.ErrNoCurrent):
		c.JSON(http.StatusNotFound, gin.H{"error": "no current conversation"})
	default:
		slog.Error("Unexpected API error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
