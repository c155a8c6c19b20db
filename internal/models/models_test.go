package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"operator", RoleOperator},
		{" Supervisor ", RoleSupervisor},
		{"ENGINEER", RoleEngineer},
		{"administrator", RoleAdministrator},
		{"auditor", RoleAuditor},
		{"root", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseRole(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want != "", got.Valid())
		})
	}
}

func TestRoleOrdering(t *testing.T) {
	tests := []struct {
		role      Role
		required  Role
		satisfies bool
		outranks  bool
	}{
		{RoleOperator, RoleOperator, true, false},
		{RoleSupervisor, RoleOperator, true, true},
		{RoleOperator, RoleSupervisor, false, false},
		{RoleEngineer, RoleSupervisor, true, true},
		{RoleAdministrator, RoleEngineer, true, true},
		{RoleAdministrator, RoleAdministrator, true, false},
		{RoleAuditor, RoleOperator, false, false},
		{RoleOperator, RoleAuditor, false, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.role, tt.required), func(t *testing.T) {
			assert.Equal(t, tt.satisfies, tt.role.Satisfies(tt.required))
			assert.Equal(t, tt.outranks, tt.role.Outranks(tt.required))
		})
	}
	assert.Equal(t, 0, RoleAuditor.Level())
}

func TestError(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(KindPersistenceFailed, "saving session %s", "s-1").
		WithSession("s-1").
		WithStep(3).
		WithUser("op-1").
		WithConstraint("durable").
		Wrap(cause)

	assert.Equal(t, "PERSISTENCE_FAILED: saving session s-1: disk full", err.Error())
	assert.ErrorIs(t, err, ErrPersistenceFailed)
	assert.NotErrorIs(t, err, ErrAuditFailed)
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("storage: %w", err)
	assert.Equal(t, KindPersistenceFailed, KindOf(wrapped))
	assert.Equal(t, ErrorKind(""), KindOf(cause))
}

func TestSessionStatus(t *testing.T) {
	tests := []struct {
		status   SessionStatus
		terminal bool
		valid    bool
	}{
		{SessionStatusPending, false, true},
		{SessionStatusInProgress, false, true},
		{SessionStatusCompleted, true, true},
		{SessionStatusAborted, true, true},
		{"paused", false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
			assert.Equal(t, tt.valid, tt.status.Valid())
		})
	}
}

func TestRequiredSignoffs(t *testing.T) {
	step := StepDefinition{Interactions: []UserInteraction{
		{Type: InteractionConfirmation, RequiresSignoff: true},
		{Type: InteractionInput},
		{Type: InteractionSelection, RequiresSignoff: true, Options: []string{"A", "B"}},
	}}
	assert.Equal(t, []int{0, 2}, step.RequiredSignoffs())
	assert.Nil(t, StepDefinition{}.RequiredSignoffs())

	granted := OverrideRecord{AuthorizedBy: "sup-1"}
	assert.True(t, granted.Granted())
	assert.True(t, AdvanceOutcome{Override: &granted}.Overridden())
	assert.False(t, AdvanceOutcome{Override: &OverrideRecord{}}.Overridden())
	assert.False(t, AdvanceOutcome{}.Overridden())
}
