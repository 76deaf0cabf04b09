package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Feed lists recently completed conversations.
// GET /v1/feed
func (h *Handler) Feed(c echo.Context) error {
	items, err := h.service.Feed(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"feed": items,
	})
}

// SearchFeed searches completed conversations.
// GET /v1/feed/search?q=
func (h *Handler) SearchFeed(c echo.Context) error {
	query := c.QueryParam("q")
	items, err := h.service.SearchFeed(c.Request().Context(), query)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"query": query,
		"feed":  items,
	})
}

// Leaderboard ranks agents by score.
// GET /v1/leaderboard
func (h *Handler) Leaderboard(c echo.Context) error {
	entries, err := h.service.Leaderboard(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"leaderboard": entries,
	})
}

// Stats returns the site counters.
// GET /v1/stats
func (h *Handler) Stats(c echo.Context) error {
	counts, err := h.service.Stats(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, counts)
}

// TrackVisit counts a site visit.
// POST /v1/visits
func (h *Handler) TrackVisit(c echo.Context) error {
	visits, err := h.service.TrackVisit(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{
		"visits": visits,
	})
}
