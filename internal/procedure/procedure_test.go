package procedure

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbine-shutdown/backend/internal/models"
)

func TestDefault(t *testing.T) {
	p, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "steam-turbine-planned-shutdown", p.Name)
	assert.Equal(t, 16, p.Len())
	assert.Equal(t, 10*time.Minute, p.MaxValidationPeriod())

	step, ok := p.Step(12)
	require.True(t, ok)
	require.Len(t, step.Validations, 2)
	assert.Equal(t, "MS_TEMP", step.Validations[0].Parameter)
	assert.Equal(t, [2]float64{535, 545}, step.Validations[0].ExpectedRange)
	require.NotNil(t, step.Validations[0].MaxRateOfChange)
	assert.Equal(t, 2.0, *step.Validations[0].MaxRateOfChange)
	assert.Equal(t, 5*time.Minute, step.Validations[0].ValidationPeriod)
	assert.Equal(t, models.RoleOperator, step.RequiredRole)

	first, _ := p.Step(1)
	assert.Equal(t, models.RoleSupervisor, first.RequiredRole)
	assert.Equal(t, []int{0}, first.RequiredSignoffs())

	_, ok = p.Step(17)
	assert.False(t, ok)
	_, ok = p.Step(0)
	assert.False(t, ok)
}

func TestLoadFile_SiteProcedure(t *testing.T) {
	p, err := LoadFile("../../configs/procedure.example.yaml")
	require.NoError(t, err)

	assert.Equal(t, "unit-3-steam-turbine-shutdown", p.Name)
	assert.Equal(t, 4, p.Len())
	assert.Equal(t, 5*time.Minute, p.MaxValidationPeriod())
	last, ok := p.Step(4)
	require.True(t, ok)
	assert.Equal(t, models.RoleEngineer, last.RequiredRole)
	assert.Equal(t, []int{0}, last.RequiredSignoffs())

	_, err = LoadFile("../../configs/missing.yaml")
	assert.ErrorContains(t, err, "opening procedure")
}

func TestLoad_Defaults(t *testing.T) {
	src := `
name: mini
steps:
  - step: 1
    description: hold
    validations:
      - parameter: P
        expected_range: [0, 10]
        units: bar
        max_rate_of_change: 1
`
	p, err := Load(strings.NewReader(src))
	require.NoError(t, err)

	step, _ := p.Step(1)
	assert.Equal(t, models.RoleOperator, step.RequiredRole)
	assert.Equal(t, models.CriticalityOperational, step.CriticalityLevel)
	assert.Equal(t, time.Minute, step.Validations[0].RateUnit)
	assert.Equal(t, DefaultValidationPeriod, step.Validations[0].ValidationPeriod)
	assert.Equal(t, DefaultValidationPeriod, p.MaxValidationPeriod())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "no steps",
			src:     "name: empty\nsteps: []\n",
			wantErr: "has no steps",
		},
		{
			name:    "gap in numbering",
			src:     "steps:\n  - step: 1\n    description: a\n  - step: 3\n    description: b\n",
			wantErr: "numbered 1..N",
		},
		{
			name:    "duplicate number",
			src:     "steps:\n  - step: 1\n    description: a\n  - step: 1\n    description: b\n",
			wantErr: "numbered 1..N",
		},
		{
			name:    "auditor role",
			src:     "steps:\n  - step: 1\n    description: a\n    required_role: auditor\n",
			wantErr: "auditors cannot execute",
		},
		{
			name:    "unknown role",
			src:     "steps:\n  - step: 1\n    description: a\n    required_role: janitor\n",
			wantErr: "unknown required role",
		},
		{
			name:    "inverted range",
			src:     "steps:\n  - step: 1\n    description: a\n    validations:\n      - parameter: P\n        expected_range: [10, 0]\n",
			wantErr: "inverted",
		},
		{
			name:    "selection without options",
			src:     "steps:\n  - step: 1\n    description: a\n    interactions:\n      - type: selection\n        message: pick\n",
			wantErr: "without options",
		},
		{
			name:    "unknown field",
			src:     "steps:\n  - step: 1\n    description: a\n    colour: red\n",
			wantErr: "parsing procedure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew(t *testing.T) {
	p, err := New("inline", []models.StepDefinition{
		{StepNumber: 1, Description: "one"},
		{StepNumber: 2, Description: "two", RequiredRole: models.RoleEngineer},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, time.Duration(0), p.MaxValidationPeriod())
}
