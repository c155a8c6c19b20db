// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/turbine-shutdown/backend/internal/models"
	"github.com/turbine-shutdown/backend/internal/storage"
)

// SessionHandler handles shutdown session operations
type SessionHandler interface {
	HandleStart(c echo.Context) error
	HandleList(c echo.Context) error
	HandleGet(c echo.Context) error
	HandleCurrentStep(c echo.Context) error
	HandleValidate(c echo.Context) error
	HandleOverride(c echo.Context) error
	HandleSignoff(c echo.Context) error
	HandleAbort(c echo.Context) error
	HandleOverrides(c echo.Context) error
	HandleAuditTrail(c echo.Context) error
}

// ProcedureHandler serves the loaded procedure definition
type ProcedureHandler interface {
	HandleGetProcedure(c echo.Context) error
	HandleGetSteps(c echo.Context) error
	HandleGetStep(c echo.Context) error
}

// SensorHandler handles sample ingest and inspection
type SensorHandler interface {
	HandleIngest(c echo.Context) error
	HandleLatest(c echo.Context) error
}

// StreamHandler streams live session events
type StreamHandler interface {
	HandleSessionStream(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionService is the subset of session.Manager the handlers call.
// This allows mocking in tests
type SessionService interface {
	Start(ctx context.Context, plantID int64, userID string) (models.ShutdownSession, error)
	ValidateStep(ctx context.Context, sessionID, userID string, sample map[string]models.SensorSample) (models.AdvanceOutcome, error)
	RequestOverride(ctx context.Context, sessionID, userID, reason string) (models.AdvanceOutcome, error)
	Signoff(ctx context.Context, sessionID, userID string, interaction int, response string) (models.Signoff, error)
	Abort(ctx context.Context, sessionID, userID, reason string) (models.ShutdownSession, error)
	Get(sessionID string) (models.ShutdownSession, error)
	ActiveSession(plantID int64) (models.ShutdownSession, bool)
	CurrentStep(sessionID string) (models.StepDefinition, error)
	Overrides(ctx context.Context, sessionID string) ([]models.OverrideRecord, error)
	List() []models.ShutdownSession
}

// SampleStore accepts pushed samples and serves the latest snapshot.
// Update returns how many samples it kept.
type SampleStore interface {
	Update(plantID int64, samples ...models.SensorSample) int
	CurrentSample(ctx context.Context, plantID int64) (map[string]models.SensorSample, error)
}

// AuditReader reads a session's sealed audit trail.
type AuditReader interface {
	AuditTrail(ctx context.Context, sessionID string) ([]storage.AuditRecord, error)
}

// EventSource hands out live session event subscriptions.
type EventSource interface {
	Subscribe(sessionID string) (<-chan models.SessionEvent, func())
}
