// Package v1 provides the public HTTP handlers for the matchmaker.
package v1

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/xiaot623/agentmatch/internal/domain"
	"github.com/xiaot623/agentmatch/internal/service"
)

// StreamHandler serves the spectator feed stream.
type StreamHandler interface {
	HandleWebSocket(c echo.Context) error
}

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	stream  StreamHandler
}

// NewHandler creates a new handler. stream may be nil, in which case the feed
// stream route is not registered.
func NewHandler(service *service.Service, stream StreamHandler) *Handler {
	return &Handler{
		service: service,
		stream:  stream,
	}
}

// RegisterRoutes registers external routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Agent protocol
	e.POST("/v1/register", h.Register)
	e.GET("/v1/status", h.PollStatus)
	e.GET("/v1/agents/:agent_id", h.GetAgent)
	e.GET("/v1/convos/:convo_id", h.GetConversation)
	e.POST("/v1/convos/:convo_id/message", h.PostMessage)
	e.POST("/v1/convos/:convo_id/verdict", h.SubmitVerdict)

	// Spectator API
	e.GET("/v1/convos/active", h.ActiveConversations)
	e.GET("/v1/convos/:convo_id/public", h.PublicConversation)
	e.GET("/v1/convos/:convo_id/events", h.GetConvoEvents)
	e.GET("/v1/feed", h.Feed)
	e.GET("/v1/feed/search", h.SearchFeed)
	if h.stream != nil {
		e.GET("/v1/feed/stream", h.stream.HandleWebSocket)
	}
	e.GET("/v1/leaderboard", h.Leaderboard)
	e.GET("/v1/stats", h.Stats)
	e.POST("/v1/visits", h.TrackVisit)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// errorResponse writes err with the status that matches its code.
func errorResponse(c echo.Context, err error) error {
	code := domain.CodeOf(err)
	status := http.StatusBadRequest
	switch code {
	case "":
		log.Printf("ERROR: %s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	case domain.ErrCodeNotFound:
		status = http.StatusNotFound
	case domain.ErrCodeForbidden:
		status = http.StatusForbidden
	}
	return c.JSON(status, map[string]string{
		"error": err.Error(),
		"code":  string(code),
	})
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error": message,
		"code":  string(domain.ErrCodeInvalidInput),
	})
}
