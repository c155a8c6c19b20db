// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/turbine-shutdown/backend/internal/models"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version  string
	sessions SessionService
}

// NewHealthHandler creates a new health handler. sessions may be nil.
func NewHealthHandler(version string, sessions SessionService) HealthHandler {
	return &HealthHandlerImpl{
		version:  version,
		sessions: sessions,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	active := 0
	if h.sessions != nil {
		for _, s := range h.sessions.List() {
			if s.Status == models.SessionStatusInProgress {
				active++
			}
		}
	}
	return respond(c, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"version":        h.version,
		"activeSessions": active,
	})
}
