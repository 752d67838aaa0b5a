package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DistilledAI/conductor/pkg/session"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError maps session-layer errors to HTTP responses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrAtCapacity):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "maximum concurrent conversations reached"})
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "conversation not found"})
	case errors.Is(err, session.ErrDuplicateSession):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conversation already exists"})
	case errors.Is(err, session.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "message content is empty"})
	case errors.Is(err, session.ErrNotAwaitingConfirmation):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conversation is not awaiting confirmation"})
	case errors.Is(err, session.ErrSessionClosed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conversation is closed"})
	case errors.Is(err, session.ErrNotObservation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "event is not an observation"})
	default:
		slog.Error("Unexpected service error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
