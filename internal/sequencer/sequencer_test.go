package sequencer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbine-shutdown/backend/internal/models"
	"github.com/turbine-shutdown/backend/internal/procedure"
	"github.com/turbine-shutdown/backend/internal/validation"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

var (
	operator   = models.User{ID: "op-1", Role: models.RoleOperator, IsActive: true}
	supervisor = models.User{ID: "sup-1", Role: models.RoleSupervisor, IsActive: true}
	auditor    = models.User{ID: "aud-1", Role: models.RoleAuditor, IsActive: true}
)

func limit(v float64) *float64 { return &v }

func testProcedure(t *testing.T) *procedure.Procedure {
	t.Helper()
	p, err := procedure.New("test", []models.StepDefinition{
		{
			StepNumber:  1,
			Description: "hold main steam temperature",
			Validations: []models.ValidationRule{{
				Parameter:        "MS_TEMP",
				ExpectedRange:    [2]float64{535, 545},
				Units:            "C",
				MaxRateOfChange:  limit(2),
				ValidationPeriod: 2 * time.Minute,
			}},
		},
		{
			StepNumber:   2,
			Description:  "confirm breaker open",
			RequiredRole: models.RoleSupervisor,
			Interactions: []models.UserInteraction{
				{Type: models.InteractionConfirmation, Message: "breaker open", RequiresSignoff: true},
				{Type: models.InteractionSelection, Message: "sequence", Options: []string{"A", "B"}},
				{Type: models.InteractionInput, Message: "breaker id"},
			},
		},
		{StepNumber: 3, Description: "close out"},
	})
	require.NoError(t, err)
	return p
}

func sample(value float64, at time.Time) map[string]models.SensorSample {
	return map[string]models.SensorSample{
		"MS_TEMP": {Parameter: "MS_TEMP", Value: value, Unit: "C", Timestamp: at, Quality: 1},
	}
}

func newSequencer(t *testing.T) *Sequencer {
	return New(testProcedure(t), validation.NewEngine(0.5), 0)
}

func TestAttemptAdvance_Advanced(t *testing.T) {
	s := newSequencer(t)
	p := NewProgress()

	out, err := s.AttemptAdvance(p, operator, sample(540, t0), t0)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeAdvanced, out.Kind)
	assert.Equal(t, 1, out.StepNumber)
	require.NotNil(t, out.NextStep)
	assert.Equal(t, 2, out.NextStep.StepNumber)
	assert.False(t, out.Done)
	assert.Equal(t, 1, p.Index)
	assert.Nil(t, p.LastBlocked)
}

func TestAttemptAdvance_BlockedKeepsIndex(t *testing.T) {
	s := newSequencer(t)
	p := NewProgress()

	out, err := s.AttemptAdvance(p, operator, sample(560, t0), t0)
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeBlocked, out.Kind)
	assert.Equal(t, 0, p.Index)
	require.Len(t, out.Results, 1)
	assert.False(t, out.Results[0].Valid)
	assert.Equal(t, "Value 560C outside acceptable range [535, 545]C", out.Results[0].Message)

	require.NotNil(t, p.LastBlocked)
	assert.Equal(t, "op-1", p.LastBlocked.UserID)
	assert.Equal(t, 1, p.LastBlocked.StepNumber)
	assert.Len(t, p.History["MS_TEMP"], 1, "blocked attempts still extend history")
}

func TestAttemptAdvance_RateViolationUsesHistory(t *testing.T) {
	s := newSequencer(t)
	p := NewProgress()

	out, err := s.AttemptAdvance(p, operator, sample(560, t0), t0)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeBlocked, out.Kind)

	// In range now, but 560 -> 544 within 30s is far above 2C/min.
	out, err = s.AttemptAdvance(p, operator, sample(544, t0.Add(30*time.Second)), t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeBlocked, out.Kind)
	assert.Contains(t, out.Results[0].Message, "Rate of change")
	assert.Len(t, p.History["MS_TEMP"], 2)
}

func TestAttemptAdvance_IgnoresFutureDatedSamples(t *testing.T) {
	s := newSequencer(t)
	p := NewProgress()

	out, err := s.AttemptAdvance(p, operator, sample(545, t0.Add(24*time.Hour)), t0)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeBlocked, out.Kind)
	assert.Equal(t, "No sensor data available", out.Results[0].Message)
	assert.Empty(t, p.History["MS_TEMP"])

	_, err = s.AttemptAdvance(p, operator, sample(546, t0), t0)
	require.NoError(t, err)
	later := t0.Add(time.Minute)
	out, err = s.AttemptAdvance(p, operator, sample(536, later), later)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeBlocked, out.Kind)
	assert.Contains(t, out.Results[0].Message, "Rate of change")
	assert.Len(t, p.History["MS_TEMP"], 2)
}

func TestAttemptAdvance_DiscardsFutureHistory(t *testing.T) {
	s := newSequencer(t)
	p := NewProgress()
	p.History["MS_TEMP"] = []models.SensorSample{
		{Parameter: "MS_TEMP", Value: 540, Timestamp: t0.Add(-time.Minute), Quality: 1},
		{Parameter: "MS_TEMP", Value: 545, Timestamp: t0.Add(24 * time.Hour), Quality: 1},
	}

	_, err := s.AttemptAdvance(p, operator, sample(560, t0), t0)
	require.NoError(t, err)
	require.Len(t, p.History["MS_TEMP"], 2)
	assert.Equal(t, t0, p.History["MS_TEMP"][1].Timestamp)
}

func TestSetMaxSkew(t *testing.T) {
	s := newSequencer(t)
	s.SetMaxSkew(time.Hour)

	p := NewProgress()
	out, err := s.AttemptAdvance(p, operator, sample(540, t0.Add(30*time.Minute)), t0)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAdvanced, out.Kind)

	s.SetMaxSkew(0)
	assert.Equal(t, models.DefaultClockSkew, s.maxSkew)
}

func TestAttemptAdvance_RoleGate(t *testing.T) {
	s := newSequencer(t)
	p := NewProgress()

	_, err := s.AttemptAdvance(p, auditor, sample(540, t0), t0)
	require.ErrorIs(t, err, models.ErrInsufficientRole)
	assert.Empty(t, p.History, "a rejected role must not write history")

	_, err = s.AttemptAdvance(p, operator, sample(540, t0), t0)
	require.NoError(t, err)

	_, err = s.AttemptAdvance(p, operator, nil, t0)
	require.ErrorIs(t, err, models.ErrInsufficientRole)

	var de *models.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 2, de.StepNumber)
	assert.Equal(t, "requires supervisor or higher", de.Constraint)
}

func TestAttemptAdvance_RequiresSignoffs(t *testing.T) {
	s := newSequencer(t)
	p := NewProgress()
	p.Index = 1

	out, err := s.AttemptAdvance(p, supervisor, nil, t0)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeBlocked, out.Kind)
	assert.Equal(t, []int{0}, out.MissingSignoffs)

	_, err = s.Signoff(p, supervisor, 0, "", t0)
	require.NoError(t, err)

	out, err = s.AttemptAdvance(p, supervisor, nil, t0)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAdvanced, out.Kind)
	assert.Empty(t, p.Signoffs, "signoffs belong to the completed step")
}

func TestAttemptAdvance_DoneAndAlreadyDone(t *testing.T) {
	s := newSequencer(t)
	p := NewProgress()
	p.Index = 2

	out, err := s.AttemptAdvance(p, operator, nil, t0)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAdvanced, out.Kind)
	assert.True(t, out.Done)
	assert.Nil(t, out.NextStep)
	assert.True(t, s.Done(p))

	out, err = s.AttemptAdvance(p, operator, nil, t0)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAlreadyDone, out.Kind)
	assert.Equal(t, 3, p.Index)

	_, err = s.CurrentStep(p)
	assert.ErrorIs(t, err, models.ErrOutOfRange)
}

func TestAttemptAdvance_NeverSkips(t *testing.T) {
	s := newSequencer(t)
	p := NewProgress()

	at := t0
	for i := 0; i < 5; i++ {
		before := p.Index
		out, err := s.AttemptAdvance(p, operator, sample(600, at), at)
		require.NoError(t, err)
		require.Equal(t, models.OutcomeBlocked, out.Kind)
		assert.Equal(t, before, p.Index)
		at = at.Add(time.Second)
	}
}

func TestForceAdvance(t *testing.T) {
	s := newSequencer(t)
	p := NewProgress()

	_, err := s.AttemptAdvance(p, operator, sample(560, t0), t0)
	require.NoError(t, err)

	rec := models.OverrideRecord{ID: "ovr-1", StepNumber: 1, RequestedBy: "sup-1", AuthorizedBy: "sup-1"}
	out, err := s.ForceAdvance(p, rec)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAdvanced, out.Kind)
	assert.True(t, out.Overridden())
	require.Len(t, out.Results, 1)
	assert.False(t, out.Results[0].Valid, "overridden outcome keeps the failing results")
	assert.Equal(t, 1, p.Index)

	_, err = s.ForceAdvance(p, rec)
	assert.ErrorIs(t, err, models.ErrOverrideNotAllowed, "stale step number")
}

func TestSignoff_Validation(t *testing.T) {
	s := newSequencer(t)
	p := NewProgress()
	p.Index = 1

	tests := []struct {
		name        string
		user        models.User
		interaction int
		response    string
		wantErr     error
	}{
		{name: "confirmation", user: supervisor, interaction: 0},
		{name: "valid selection", user: supervisor, interaction: 1, response: "B"},
		{name: "unknown selection", user: supervisor, interaction: 1, response: "C", wantErr: models.ErrInvalidSignoff},
		{name: "empty input", user: supervisor, interaction: 2, response: "  ", wantErr: models.ErrInvalidSignoff},
		{name: "input", user: supervisor, interaction: 2, response: "52G-1"},
		{name: "no such interaction", user: supervisor, interaction: 7, wantErr: models.ErrInvalidSignoff},
		{name: "role too low", user: operator, interaction: 0, wantErr: models.ErrInsufficientRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Signoff(p, tt.user, tt.interaction, tt.response, t0)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 2, got.StepNumber)
			assert.Equal(t, tt.user.ID, got.UserID)
			assert.Equal(t, got, p.Signoffs[tt.interaction])
		})
	}
}

func TestHistoryBounded(t *testing.T) {
	s := New(testProcedure(t), validation.NewEngine(0.5), 3)
	p := NewProgress()

	// Out of range keeps the cursor on step 1 so every call records.
	at := t0
	for i := 0; i < 10; i++ {
		_, err := s.AttemptAdvance(p, operator, sample(600, at), at)
		require.NoError(t, err)
		at = at.Add(10 * time.Second)
	}
	assert.Len(t, p.History["MS_TEMP"], 3)

	// A sample far in the future evicts everything older than the window.
	late := at.Add(time.Hour)
	_, err := s.AttemptAdvance(p, operator, sample(600, late), late)
	require.NoError(t, err)
	require.Len(t, p.History["MS_TEMP"], 1)
	assert.Equal(t, late, p.History["MS_TEMP"][0].Timestamp)

	// A repeated snapshot is not recorded twice.
	_, err = s.AttemptAdvance(p, operator, sample(600, late), late)
	require.NoError(t, err)
	assert.Len(t, p.History["MS_TEMP"], 1)
}

func TestProgressClone(t *testing.T) {
	p := NewProgress()
	p.History["MS_TEMP"] = []models.SensorSample{{Parameter: "MS_TEMP", Value: 1}}
	p.Signoffs[0] = models.Signoff{UserID: "a"}
	p.LastBlocked = &BlockedAttempt{UserID: "a", Results: []models.ValidationResult{{Parameter: "MS_TEMP"}}}

	c := p.Clone()
	c.Index = 4
	c.History["MS_TEMP"][0].Value = 99
	c.Signoffs[1] = models.Signoff{UserID: "b"}
	c.LastBlocked.Results[0].Parameter = "X"

	assert.Equal(t, 0, p.Index)
	assert.Equal(t, 1.0, p.History["MS_TEMP"][0].Value)
	assert.Len(t, p.Signoffs, 1)
	assert.Equal(t, "MS_TEMP", p.LastBlocked.Results[0].Parameter)
}
