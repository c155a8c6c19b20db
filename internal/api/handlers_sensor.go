// handlers_sensor.go - Sensor sample ingest handlers
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/turbine-shutdown/backend/internal/models"
	"github.com/turbine-shutdown/backend/internal/sensor"
)

// MIMETextCSV selects the CSV trace ingest path.
const MIMETextCSV = "text/csv"

// latestWait bounds how long HandleLatest waits for a plant with no samples yet.
const latestWait = 100 * time.Millisecond

// SensorHandlerImpl implements the SensorHandler interface
type SensorHandlerImpl struct {
	samples SampleStore
	maxSkew time.Duration
	now     func() time.Time
}

// NewSensorHandler creates a new sensor handler. Samples dated more than
// maxSkew ahead of the server clock are rejected; a non-positive maxSkew
// uses models.DefaultClockSkew.
func NewSensorHandler(samples SampleStore, maxSkew time.Duration) SensorHandler {
	return &SensorHandlerImpl{samples: samples, maxSkew: skewOrDefault(maxSkew), now: time.Now}
}

type ingestRequest struct {
	Samples []sampleInput `json:"samples" msgpack:"samples"`
}

func (r *ingestRequest) validate(now time.Time, skew time.Duration) error {
	if len(r.Samples) == 0 {
		return NewValidationError("samples")
	}
	return validateSamples(r.Samples, now, skew)
}

type ingestResponse struct {
	PlantID  int64               `json:"plantId" msgpack:"plantId"`
	Accepted int                 `json:"accepted" msgpack:"accepted"`
	Rejected []sensor.TraceError `json:"rejected,omitempty" msgpack:"rejected,omitempty"`
}

// HandleIngest pushes samples for a plant into the live snapshot. A text/csv
// body is read as a sensor trace.
func (h *SensorHandlerImpl) HandleIngest(c echo.Context) error {
	plantID, ok := parseInt64(c.Param("plantId"))
	if !ok || plantID <= 0 {
		return NewValidationError("plantId")
	}
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), MIMETextCSV) {
		return h.ingestTrace(c, plantID)
	}
	var req ingestRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	now := h.now()
	if err := req.validate(now, h.maxSkew); err != nil {
		return err
	}

	samples := make([]models.SensorSample, 0, len(req.Samples))
	for _, in := range req.Samples {
		samples = append(samples, in.toModel(now))
	}
	kept := h.samples.Update(plantID, samples...)

	return respond(c, http.StatusAccepted, ingestResponse{PlantID: plantID, Accepted: kept})
}

func (h *SensorHandlerImpl) ingestTrace(c echo.Context, plantID int64) error {
	samples, rejected, err := sensor.ParseTrace(c.Request().Body, h.now().Add(h.maxSkew))
	if err != nil {
		return NewBadRequestError("failed to read trace", err)
	}
	if len(samples) == 0 {
		return NewValidationError("samples")
	}
	kept := h.samples.Update(plantID, samples...)
	return respond(c, http.StatusAccepted, ingestResponse{PlantID: plantID, Accepted: kept, Rejected: rejected})
}

// HandleLatest returns the fresh samples currently held for a plant
func (h *SensorHandlerImpl) HandleLatest(c echo.Context) error {
	plantID, ok := parseInt64(c.Param("plantId"))
	if !ok || plantID <= 0 {
		return NewValidationError("plantId")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), latestWait)
	defer cancel()
	snapshot, err := h.samples.CurrentSample(ctx, plantID)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return NewInternalError("failed to read samples", err)
	}
	if snapshot == nil {
		snapshot = map[string]models.SensorSample{}
	}
	return respond(c, http.StatusOK, snapshot)
}
