// handlers_procedure.go - Procedure definition handlers
package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/turbine-shutdown/backend/internal/procedure"
)

// ProcedureHandlerImpl implements the ProcedureHandler interface
type ProcedureHandlerImpl struct {
	proc *procedure.Procedure
}

// NewProcedureHandler creates a new procedure handler
func NewProcedureHandler(proc *procedure.Procedure) ProcedureHandler {
	return &ProcedureHandlerImpl{proc: proc}
}

type procedureSummary struct {
	Name       string `json:"name" msgpack:"name"`
	Version    string `json:"version,omitempty" msgpack:"version,omitempty"`
	TotalSteps int    `json:"totalSteps" msgpack:"totalSteps"`
}

// HandleGetProcedure returns the procedure name and size
func (h *ProcedureHandlerImpl) HandleGetProcedure(c echo.Context) error {
	return respond(c, http.StatusOK, procedureSummary{
		Name:       h.proc.Name,
		Version:    h.proc.Version,
		TotalSteps: h.proc.Len(),
	})
}

// HandleGetSteps returns every step definition in order
func (h *ProcedureHandlerImpl) HandleGetSteps(c echo.Context) error {
	return respond(c, http.StatusOK, h.proc.Steps)
}

// HandleGetStep returns one step definition by number
func (h *ProcedureHandlerImpl) HandleGetStep(c echo.Context) error {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		return NewValidationError("number")
	}
	step, ok := h.proc.Step(number)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("step %d not found", number))
	}
	return respond(c, http.StatusOK, step)
}
