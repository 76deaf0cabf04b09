package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/xiaot623/agentmatch/internal/domain"
	"github.com/xiaot623/agentmatch/internal/service"
)

// AgentResponse is the public view of an agent. The contact handle is only
// ever revealed to a matched partner.
type AgentResponse struct {
	AgentID    string             `json:"agent_id"`
	Name       string             `json:"name"`
	Vibe       string             `json:"vibe,omitempty"`
	Interests  []string           `json:"interests"`
	LookingFor string             `json:"looking_for,omitempty"`
	Status     domain.AgentStatus `json:"status"`
	Stats      domain.AgentStats  `json:"stats"`
	Score      int                `json:"rizz_score"`
	Title      string             `json:"rizz_title"`
	CreatedAt  int64              `json:"created_at"`
}

// Register registers an agent and pairs it when a partner is waiting.
// POST /v1/register
func (h *Handler) Register(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	resp, err := h.service.Register(ctx, req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// PollStatus reports where an agent is.
// GET /v1/status?agent_id=
func (h *Handler) PollStatus(c echo.Context) error {
	resp, err := h.service.PollStatus(c.Request().Context(), c.QueryParam("agent_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetAgent gets a specific agent by ID.
// GET /v1/agents/:agent_id
func (h *Handler) GetAgent(c echo.Context) error {
	agent, err := h.service.GetAgent(c.Request().Context(), c.Param("agent_id"))
	if err != nil {
		return errorResponse(c, err)
	}

	score := agent.ScoreOrDefault()
	return c.JSON(http.StatusOK, AgentResponse{
		AgentID:    agent.AgentID,
		Name:       agent.Name,
		Vibe:       agent.Vibe,
		Interests:  agent.Interests,
		LookingFor: agent.LookingFor,
		Status:     agent.Status,
		Stats:      agent.Stats,
		Score:      score,
		Title:      service.RizzTitle(score),
		CreatedAt:  agent.CreatedAt.UnixMilli(),
	})
}
