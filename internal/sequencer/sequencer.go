// Package sequencer decides whether the current step of a session may complete.
package sequencer

import (
	"fmt"
	"strings"
	"time"

	"github.com/turbine-shutdown/backend/internal/models"
	"github.com/turbine-shutdown/backend/internal/procedure"
	"github.com/turbine-shutdown/backend/internal/validation"
)

// DefaultHistoryCap bounds the samples retained per parameter regardless of window.
const DefaultHistoryCap = 1024

// Sequencer walks a session's Progress through a procedure.
// It holds no per-session state and is safe for concurrent use.
type Sequencer struct {
	proc       *procedure.Procedure
	engine     validation.Engine
	historyCap int
	maxSkew    time.Duration
}

// New creates a sequencer. A non-positive historyCap uses DefaultHistoryCap.
func New(proc *procedure.Procedure, engine validation.Engine, historyCap int) *Sequencer {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &Sequencer{proc: proc, engine: engine, historyCap: historyCap, maxSkew: models.DefaultClockSkew}
}

// SetMaxSkew sets how far ahead of the attempt time a sample may be dated.
// Later samples are ignored. A non-positive d restores DefaultClockSkew.
func (s *Sequencer) SetMaxSkew(d time.Duration) {
	if d <= 0 {
		d = models.DefaultClockSkew
	}
	s.maxSkew = d
}

// Procedure returns the step table the sequencer walks.
func (s *Sequencer) Procedure() *procedure.Procedure { return s.proc }

// Done reports whether p is past the last step.
func (s *Sequencer) Done(p *Progress) bool {
	return p.Index >= s.proc.Len()
}

// CurrentStep returns the step at p's index, or OutOfRange once done.
func (s *Sequencer) CurrentStep(p *Progress) (models.StepDefinition, error) {
	step, ok := s.proc.Step(p.StepNumber())
	if !ok {
		return models.StepDefinition{}, models.NewError(models.KindOutOfRange,
			"procedure %q has no step %d", s.proc.Name, p.StepNumber()).
			WithStep(p.StepNumber())
	}
	return step, nil
}

// AttemptAdvance validates the current step with the submitted sample.
//
// The role gate runs first; a mismatch returns InsufficientRole and leaves p
// untouched. Otherwise the sample is appended to history whatever the outcome,
// and p advances by exactly one only when every rule passes and every required
// signoff is present. Samples dated after at plus the allowed skew are
// dropped before evaluation.
func (s *Sequencer) AttemptAdvance(p *Progress, user models.User, sample map[string]models.SensorSample, at time.Time) (models.AdvanceOutcome, error) {
	p.ensure()
	if s.Done(p) {
		return models.AdvanceOutcome{Kind: models.OutcomeAlreadyDone, Done: true}, nil
	}

	step, err := s.CurrentStep(p)
	if err != nil {
		return models.AdvanceOutcome{}, err
	}
	if err := checkRole(user, step); err != nil {
		return models.AdvanceOutcome{}, err
	}

	sample = s.current(sample, at)
	results := s.engine.Evaluate(step.Validations, sample, p.History)
	s.record(p, sample, at)

	missing := missingSignoffs(step, p.Signoffs)
	if !validation.AllValid(results) || len(missing) > 0 {
		p.LastBlocked = &BlockedAttempt{
			StepNumber:      step.StepNumber,
			UserID:          user.ID,
			At:              at,
			Results:         results,
			MissingSignoffs: missing,
		}
		return models.AdvanceOutcome{
			Kind:            models.OutcomeBlocked,
			StepNumber:      step.StepNumber,
			Results:         results,
			MissingSignoffs: missing,
		}, nil
	}

	return s.advance(p, step, results, nil), nil
}

// ForceAdvance completes the current step through a granted override.
// The outcome carries the record and the results of the blocked attempt.
func (s *Sequencer) ForceAdvance(p *Progress, record models.OverrideRecord) (models.AdvanceOutcome, error) {
	p.ensure()
	step, err := s.CurrentStep(p)
	if err != nil {
		return models.AdvanceOutcome{}, err
	}
	if record.StepNumber != step.StepNumber {
		return models.AdvanceOutcome{}, models.NewError(models.KindOverrideNotAllowed,
			"override is for step %d but the current step is %d", record.StepNumber, step.StepNumber).
			WithStep(step.StepNumber)
	}

	var results []models.ValidationResult
	if p.LastBlocked != nil {
		results = p.LastBlocked.Results
	}
	return s.advance(p, step, results, &record), nil
}

// Signoff records a user's acknowledgement of an interaction of the current step.
// A repeated signoff for the same interaction replaces the earlier one.
func (s *Sequencer) Signoff(p *Progress, user models.User, interaction int, response string, at time.Time) (models.Signoff, error) {
	p.ensure()
	step, err := s.CurrentStep(p)
	if err != nil {
		return models.Signoff{}, err
	}
	if err := checkRole(user, step); err != nil {
		return models.Signoff{}, err
	}
	if interaction < 0 || interaction >= len(step.Interactions) {
		return models.Signoff{}, models.NewError(models.KindInvalidSignoff,
			"step %d has no interaction %d", step.StepNumber, interaction).
			WithStep(step.StepNumber).WithUser(user.ID)
	}

	in := step.Interactions[interaction]
	response = strings.TrimSpace(response)
	switch in.Type {
	case models.InteractionInput:
		if response == "" {
			return models.Signoff{}, models.NewError(models.KindInvalidSignoff,
				"interaction %d of step %d requires a response", interaction, step.StepNumber).
				WithStep(step.StepNumber).WithUser(user.ID).WithConstraint(in.Message)
		}
	case models.InteractionSelection:
		if !contains(in.Options, response) {
			return models.Signoff{}, models.NewError(models.KindInvalidSignoff,
				"response %q is not one of %v", response, in.Options).
				WithStep(step.StepNumber).WithUser(user.ID).WithConstraint(in.Message)
		}
	}

	signoff := models.Signoff{
		StepNumber:  step.StepNumber,
		Interaction: interaction,
		UserID:      user.ID,
		Response:    response,
		Timestamp:   at,
	}
	p.Signoffs[interaction] = signoff
	return signoff, nil
}

func (s *Sequencer) advance(p *Progress, step models.StepDefinition, results []models.ValidationResult, record *models.OverrideRecord) models.AdvanceOutcome {
	p.Index++
	p.LastBlocked = nil
	p.Signoffs = make(map[int]models.Signoff)

	out := models.AdvanceOutcome{
		Kind:       models.OutcomeAdvanced,
		StepNumber: step.StepNumber,
		Results:    results,
		Override:   record,
	}
	if next, ok := s.proc.Step(p.StepNumber()); ok {
		out.NextStep = &next
	} else {
		out.Done = true
	}
	return out
}

// current returns sample without the entries dated after at plus the skew.
func (s *Sequencer) current(sample map[string]models.SensorSample, at time.Time) map[string]models.SensorSample {
	out := make(map[string]models.SensorSample, len(sample))
	for param, smp := range sample {
		if smp.FutureDated(at, s.maxSkew) {
			continue
		}
		out[param] = smp
	}
	return out
}

// record appends the sample to history and evicts entries outside the
// longest validation period of the procedure. Future-dated samples are
// refused, and any already held are discarded.
func (s *Sequencer) record(p *Progress, sample map[string]models.SensorSample, at time.Time) {
	window := s.proc.MaxValidationPeriod()
	for param, smp := range sample {
		if smp.FutureDated(at, s.maxSkew) {
			continue
		}
		buf := p.History[param]
		for len(buf) > 0 && buf[len(buf)-1].FutureDated(at, s.maxSkew) {
			buf = buf[:len(buf)-1]
		}
		if n := len(buf); n > 0 && !smp.Timestamp.After(buf[n-1].Timestamp) {
			// stale or repeated snapshot
			continue
		}
		buf = append(buf, smp)

		cutoff := smp.Timestamp.Add(-window)
		drop := 0
		for drop < len(buf)-1 && buf[drop].Timestamp.Before(cutoff) {
			drop++
		}
		if over := len(buf) - drop - s.historyCap; over > 0 {
			drop += over
		}
		if drop > 0 {
			buf = append([]models.SensorSample(nil), buf[drop:]...)
		}
		p.History[param] = buf
	}
}

func checkRole(user models.User, step models.StepDefinition) error {
	if user.Role.Satisfies(step.RequiredRole) {
		return nil
	}
	return models.NewError(models.KindInsufficientRole,
		"role %q cannot execute step %d", user.Role, step.StepNumber).
		WithStep(step.StepNumber).
		WithUser(user.ID).
		WithConstraint(fmt.Sprintf("requires %s or higher", step.RequiredRole))
}

func missingSignoffs(step models.StepDefinition, have map[int]models.Signoff) []int {
	var missing []int
	for _, idx := range step.RequiredSignoffs() {
		if _, ok := have[idx]; !ok {
			missing = append(missing, idx)
		}
	}
	return missing
}

func contains(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}
