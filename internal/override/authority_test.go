package override

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbine-shutdown/backend/internal/models"
)

func TestAuthorize(t *testing.T) {
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	operational := models.StepDefinition{
		StepNumber:       12,
		Description:      "hold temperature",
		CriticalityLevel: models.CriticalityOperational,
		RequiredRole:     models.RoleOperator,
		AllowOverride:    true,
	}
	safety := operational
	safety.CriticalityLevel = models.CriticalitySafetyCritical
	locked := operational
	locked.AllowOverride = false
	engineerStep := operational
	engineerStep.RequiredRole = models.RoleEngineer

	op := models.User{ID: "op-1", Role: models.RoleOperator, IsActive: true}
	op2 := models.User{ID: "op-2", Role: models.RoleOperator, IsActive: true}
	sup := models.User{ID: "sup-1", Role: models.RoleSupervisor, IsActive: true}
	admin := models.User{ID: "adm-1", Role: models.RoleAdministrator, IsActive: true}
	aud := models.User{ID: "aud-1", Role: models.RoleAuditor, IsActive: true}

	tests := []struct {
		name      string
		step      models.StepDefinition
		requester models.User
		executor  string
		reason    string
		wantErr   error
	}{
		{name: "supervisor grants operator step", step: operational, requester: sup, executor: "op-1", reason: "sensor drift"},
		{name: "administrator grants engineer step", step: engineerStep, requester: admin, executor: "eng-1", reason: "bypass"},
		{name: "self authorization", step: operational, requester: op, executor: "op-1", reason: "mine", wantErr: models.ErrSelfAuthorizationDenied},
		{name: "self authorization by a senior executor", step: operational, requester: sup, executor: "sup-1", reason: "mine", wantErr: models.ErrSelfAuthorizationDenied},
		{name: "peer role is not higher", step: operational, requester: op2, executor: "op-1", reason: "peer", wantErr: models.ErrInsufficientRole},
		{name: "supervisor below engineer step", step: engineerStep, requester: sup, executor: "eng-1", reason: "x", wantErr: models.ErrInsufficientRole},
		{name: "auditor never authorizes", step: operational, requester: aud, executor: "op-1", reason: "x", wantErr: models.ErrInsufficientRole},
		{name: "safety critical with allowOverride", step: safety, requester: admin, executor: "op-1", reason: "x", wantErr: models.ErrOverrideNotAllowed},
		{name: "override disabled", step: locked, requester: admin, executor: "op-1", reason: "x", wantErr: models.ErrOverrideNotAllowed},
		{name: "no failed attempt", step: operational, requester: sup, reason: "x", wantErr: models.ErrOverrideNotAllowed},
		{name: "blank reason", step: operational, requester: sup, executor: "op-1", reason: "  ", wantErr: models.ErrOverrideNotAllowed},
	}

	a := NewAuthority()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := a.Authorize(Request{
				SessionID: "s-1",
				Step:      tt.step,
				Requester: tt.requester,
				Executor:  tt.executor,
				Reason:    tt.reason,
				At:        at,
			})

			assert.NotEmpty(t, rec.ID)
			assert.Equal(t, "s-1", rec.SessionID)
			assert.Equal(t, tt.step.StepNumber, rec.StepNumber)
			assert.Equal(t, tt.requester.ID, rec.RequestedBy)
			assert.Equal(t, at, rec.Timestamp)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.False(t, rec.Granted())
				assert.NotEmpty(t, rec.Denial)

				var de *models.Error
				require.ErrorAs(t, err, &de)
				assert.Equal(t, tt.step.StepNumber, de.StepNumber)
				assert.NotEmpty(t, de.Constraint)
				return
			}
			require.NoError(t, err)
			assert.True(t, rec.Granted())
			assert.Equal(t, tt.requester.ID, rec.AuthorizedBy)
			assert.Empty(t, rec.Denial)
		})
	}
}
