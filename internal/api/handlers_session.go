// handlers_session.go - Shutdown session handlers
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/turbine-shutdown/backend/internal/models"
)

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	sessions SessionService
	audit    AuditReader
	maxSkew  time.Duration
	now      func() time.Time
}

// NewSessionHandler creates a new session handler. audit may be nil, in
// which case the audit route answers 404. Submitted samples dated more than
// maxSkew ahead of the server clock are rejected.
func NewSessionHandler(sessions SessionService, audit AuditReader, maxSkew time.Duration) SessionHandler {
	return &SessionHandlerImpl{sessions: sessions, audit: audit, maxSkew: skewOrDefault(maxSkew), now: time.Now}
}

type startSessionRequest struct {
	PlantID int64 `json:"plantId" msgpack:"plantId"`
}

func (r *startSessionRequest) validate() error {
	if r.PlantID <= 0 {
		return NewValidationError("plantId")
	}
	return nil
}

type validateStepRequest struct {
	Samples []sampleInput `json:"samples" msgpack:"samples"`
}

type overrideRequest struct {
	Reason string `json:"reason" msgpack:"reason"`
}

type signoffRequest struct {
	Interaction *int   `json:"interaction" msgpack:"interaction"`
	Response    string `json:"response" msgpack:"response"`
}

func (r *signoffRequest) validate() error {
	if r.Interaction == nil {
		return NewValidationError("interaction")
	}
	return nil
}

type abortRequest struct {
	Reason string `json:"reason" msgpack:"reason"`
}

func (r *abortRequest) validate() error {
	if strings.TrimSpace(r.Reason) == "" {
		return NewValidationError("reason")
	}
	return nil
}

// HandleStart starts a shutdown session for a plant
func (h *SessionHandlerImpl) HandleStart(c echo.Context) error {
	user, err := userID(c)
	if err != nil {
		return err
	}
	var req startSessionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	sess, err := h.sessions.Start(c.Request().Context(), req.PlantID, user)
	if err != nil {
		return FromDomainError(err)
	}
	return respond(c, http.StatusCreated, sess)
}

// HandleList lists sessions held in memory. ?plantId= narrows the result to
// that plant's active session.
func (h *SessionHandlerImpl) HandleList(c echo.Context) error {
	if raw := c.QueryParam("plantId"); raw != "" {
		plantID, ok := parseInt64(raw)
		if !ok {
			return NewValidationError("plantId")
		}
		sess, found := h.sessions.ActiveSession(plantID)
		if !found {
			return respond(c, http.StatusOK, []models.ShutdownSession{})
		}
		return respond(c, http.StatusOK, []models.ShutdownSession{sess})
	}
	return respond(c, http.StatusOK, h.sessions.List())
}

// HandleGet returns one session
func (h *SessionHandlerImpl) HandleGet(c echo.Context) error {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		return FromDomainError(err)
	}
	return respond(c, http.StatusOK, sess)
}

// HandleCurrentStep returns the step the session is on
func (h *SessionHandlerImpl) HandleCurrentStep(c echo.Context) error {
	step, err := h.sessions.CurrentStep(c.Param("id"))
	if err != nil {
		return FromDomainError(err)
	}
	return respond(c, http.StatusOK, step)
}

// HandleValidate validates the current step. Samples in the body supplement
// and take precedence over the live feed.
func (h *SessionHandlerImpl) HandleValidate(c echo.Context) error {
	user, err := userID(c)
	if err != nil {
		return err
	}
	var req validateStepRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	now := h.now()
	if err := validateSamples(req.Samples, now, h.maxSkew); err != nil {
		return err
	}

	var sample map[string]models.SensorSample
	if len(req.Samples) > 0 {
		sample = make(map[string]models.SensorSample, len(req.Samples))
		for _, in := range req.Samples {
			s := in.toModel(now)
			sample[s.Parameter] = s
		}
	}

	outcome, err := h.sessions.ValidateStep(c.Request().Context(), c.Param("id"), user, sample)
	if err != nil {
		return FromDomainError(err)
	}
	return respond(c, http.StatusOK, outcome)
}

// HandleOverride requests an override of the blocked current step
func (h *SessionHandlerImpl) HandleOverride(c echo.Context) error {
	user, err := userID(c)
	if err != nil {
		return err
	}
	var req overrideRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	outcome, err := h.sessions.RequestOverride(c.Request().Context(), c.Param("id"), user, req.Reason)
	if err != nil {
		return FromDomainError(err)
	}
	return respond(c, http.StatusOK, outcome)
}

// HandleSignoff records an interaction signoff on the current step
func (h *SessionHandlerImpl) HandleSignoff(c echo.Context) error {
	user, err := userID(c)
	if err != nil {
		return err
	}
	var req signoffRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	signoff, err := h.sessions.Signoff(c.Request().Context(), c.Param("id"), user, *req.Interaction, req.Response)
	if err != nil {
		return FromDomainError(err)
	}
	return respond(c, http.StatusCreated, signoff)
}

// HandleAbort aborts a session
func (h *SessionHandlerImpl) HandleAbort(c echo.Context) error {
	user, err := userID(c)
	if err != nil {
		return err
	}
	var req abortRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	sess, err := h.sessions.Abort(c.Request().Context(), c.Param("id"), user, req.Reason)
	if err != nil {
		return FromDomainError(err)
	}
	return respond(c, http.StatusOK, sess)
}

// HandleOverrides lists every override record of a session
func (h *SessionHandlerImpl) HandleOverrides(c echo.Context) error {
	records, err := h.sessions.Overrides(c.Request().Context(), c.Param("id"))
	if err != nil {
		return FromDomainError(err)
	}
	if records == nil {
		records = []models.OverrideRecord{}
	}
	return respond(c, http.StatusOK, records)
}

// HandleAuditTrail returns the sealed audit events of a session
func (h *SessionHandlerImpl) HandleAuditTrail(c echo.Context) error {
	if h.audit == nil {
		return echo.NewHTTPError(http.StatusNotFound, "audit trail is not available")
	}
	trail, err := h.audit.AuditTrail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return NewInternalError("failed to read audit trail", err)
	}
	if len(trail) == 0 {
		return FromDomainError(models.NewError(models.KindSessionNotFound,
			"no audit events for session %s", c.Param("id")).WithSession(c.Param("id")))
	}
	return respond(c, http.StatusOK, trail)
}
