// Package override decides whether a failed step may be bypassed and by whom.
package override

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turbine-shutdown/backend/internal/models"
)

// Request is an override request against the current step of a session.
type Request struct {
	SessionID string
	Step      models.StepDefinition
	Requester models.User
	// Executor is the user whose attempt on Step was blocked; empty when the
	// step has not failed.
	Executor string
	Reason   string
	At       time.Time
}

// Authority applies the override policy. It is stateless.
type Authority struct {
	newID func() string
}

// NewAuthority creates an authority that issues uuid record ids.
func NewAuthority() *Authority {
	return &Authority{newID: func() string { return uuid.New().String() }}
}

// Authorize evaluates the request and always returns the record it produced.
// A nil error means the record is granted; otherwise the record carries the
// denial and the error explains it.
func (a *Authority) Authorize(req Request) (models.OverrideRecord, error) {
	record := models.OverrideRecord{
		ID:          a.newID(),
		SessionID:   req.SessionID,
		StepNumber:  req.Step.StepNumber,
		RequestedBy: req.Requester.ID,
		ExecutedBy:  req.Executor,
		Reason:      strings.TrimSpace(req.Reason),
		Timestamp:   req.At,
	}

	if err := a.check(req); err != nil {
		if de, ok := err.(*models.Error); ok {
			record.Denial = de.Message
		} else {
			record.Denial = err.Error()
		}
		return record, err
	}

	record.AuthorizedBy = req.Requester.ID
	return record, nil
}

func (a *Authority) check(req Request) error {
	step := req.Step
	deny := func(kind models.ErrorKind, constraint, format string, args ...any) error {
		return models.NewError(kind, format, args...).
			WithSession(req.SessionID).
			WithStep(step.StepNumber).
			WithUser(req.Requester.ID).
			WithConstraint(constraint)
	}

	if step.CriticalityLevel == models.CriticalitySafetyCritical {
		return deny(models.KindOverrideNotAllowed, "safety-critical steps cannot be overridden",
			"step %d is safety-critical", step.StepNumber)
	}
	if !step.AllowOverride {
		return deny(models.KindOverrideNotAllowed, "allowOverride is false",
			"step %d does not allow overrides", step.StepNumber)
	}
	if req.Executor == "" {
		return deny(models.KindOverrideNotAllowed, "no blocked validation attempt",
			"step %d has not failed validation", step.StepNumber)
	}
	if strings.TrimSpace(req.Reason) == "" {
		return deny(models.KindOverrideNotAllowed, "reason is required",
			"override of step %d requires a reason", step.StepNumber)
	}
	if req.Requester.ID == req.Executor {
		return deny(models.KindSelfAuthorizationDenied, "authorizer must differ from executor",
			"user %s executed step %d and cannot authorize its override", req.Requester.ID, step.StepNumber)
	}
	if !req.Requester.Role.Outranks(step.RequiredRole) {
		return deny(models.KindInsufficientRole, fmt.Sprintf("requires a role above %s", step.RequiredRole),
			"role %q cannot authorize overrides of step %d", req.Requester.Role, step.StepNumber)
	}
	return nil
}
