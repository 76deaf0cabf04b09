// Package http provides the HTTP server implementation for the matchmaker.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/xiaot623/agentmatch/internal/service"
	v1 "github.com/xiaot623/agentmatch/internal/transport/http/v1"
)

// NewServer creates and configures the public HTTP server.
// This server handles the agent protocol and the spectator API. stream may be
// nil to run without the websocket feed.
func NewServer(svc *service.Service, stream v1.StreamHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc, stream)

	// Register Routes
	v1Handler.RegisterRoutes(e)

	return e
}
