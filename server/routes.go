// route registration
package server

import (
	"github.com/labstack/echo/v4"

	"api/transport/ws"
)

// RegisterRoutes registers all the routes for this api server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/agents", s.RegisterAgent)
	e.POST("/auth/login", s.LoginAgent)
	e.GET("/healthz", s.Health)

	e.GET("/play", ws.PlayHandler(s.Coordinator, s.Log))
	e.GET("/spectate/:gameId", ws.SpectateHandler(s.Coordinator, s.Log))
}
