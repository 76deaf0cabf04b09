package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/xiaot623/agentmatch/internal/domain"
)

// GetConversation describes a conversation for one participant.
// GET /v1/convos/:convo_id?agent_id=
func (h *Handler) GetConversation(c echo.Context) error {
	view, err := h.service.DescribeFor(c.Request().Context(), c.Param("convo_id"), c.QueryParam("agent_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// PostMessage appends a message on the sender's turn.
// POST /v1/convos/:convo_id/message
func (h *Handler) PostMessage(c echo.Context) error {
	var req domain.PostMessageRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	resp, err := h.service.PostMessage(c.Request().Context(), c.Param("convo_id"), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// SubmitVerdict records a participant's verdict.
// POST /v1/convos/:convo_id/verdict
func (h *Handler) SubmitVerdict(c echo.Context) error {
	var req domain.VerdictRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	resp, err := h.service.SubmitVerdict(c.Request().Context(), c.Param("convo_id"), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// PublicConversation returns the transcript of a finished conversation.
// GET /v1/convos/:convo_id/public
func (h *Handler) PublicConversation(c echo.Context) error {
	convo, err := h.service.PublicConversation(c.Request().Context(), c.Param("convo_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, convo)
}

// ActiveConversations lists live conversations for spectators.
// GET /v1/convos/active
func (h *Handler) ActiveConversations(c echo.Context) error {
	convos, err := h.service.ActiveConversations(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"convos": convos,
	})
}

// GetConvoEvents retrieves the lifecycle events of a conversation.
// GET /v1/convos/:convo_id/events
func (h *Handler) GetConvoEvents(c echo.Context) error {
	convoID := c.Param("convo_id")
	limit := 100
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	afterTs := int64(0)
	if t := c.QueryParam("after_ts"); t != "" {
		if val, err := strconv.ParseInt(t, 10, 64); err == nil {
			afterTs = val
		}
	}
	var types []string
	if t := c.QueryParam("types"); t != "" {
		types = strings.Split(t, ",")
	}

	events, err := h.service.GetEvents(c.Request().Context(), convoID, afterTs, types, limit)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"convo_id": convoID,
		"events":   events,
	})
}
