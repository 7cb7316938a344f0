package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthResponse reports liveness plus enough coordinator state for a
// quick eyeball check, mirroring the teacher's habit of a bare 200 but
// extended with the fields an arena operator actually wants.
type HealthResponse struct {
	Status        string `json:"status"`
	QueuedSeekers int    `json:"queued_seekers"`
	ActiveGames   int    `json:"active_games"`
}

// Health is an unauthenticated liveness probe.
//
//	@Summary		Liveness probe
//	@Tags			ops
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/healthz [get]
func (s *Server) Health(c echo.Context) error {
	stats := s.Coordinator.Stats()
	return c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		QueuedSeekers: stats.QueuedSeekers,
		ActiveGames:   stats.ActiveGames,
	})
}
