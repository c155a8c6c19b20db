// Package procedure loads the static, ordered step table of a shutdown procedure.
package procedure

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/turbine-shutdown/backend/internal/models"
)

// DefaultValidationPeriod is applied to rate-limited rules that do not set a window.
const DefaultValidationPeriod = time.Minute

//go:embed default_procedure.yaml
var defaultProcedure []byte

// Procedure is an immutable step table shared read-only by every session.
type Procedure struct {
	Name      string                  `json:"name" yaml:"name"`
	Version   string                  `json:"version" yaml:"version"`
	Steps     []models.StepDefinition `json:"steps" yaml:"steps"`
	maxWindow time.Duration
}

// Default returns the embedded procedure.
func Default() (*Procedure, error) {
	return Load(bytes.NewReader(defaultProcedure))
}

// LoadFile reads a procedure from a YAML file.
func LoadFile(path string) (*Procedure, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening procedure: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses, normalizes and validates a procedure.
func Load(r io.Reader) (*Procedure, error) {
	var p Procedure
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parsing procedure: %w", err)
	}
	p.applyDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.maxWindow = p.computeMaxWindow()
	return &p, nil
}

// New builds a procedure from step definitions, applying the same checks as Load.
func New(name string, steps []models.StepDefinition) (*Procedure, error) {
	p := Procedure{Name: name, Steps: steps}
	p.applyDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.maxWindow = p.computeMaxWindow()
	return &p, nil
}

// Len returns the number of steps.
func (p *Procedure) Len() int { return len(p.Steps) }

// Step returns the definition with the given 1-based number.
func (p *Procedure) Step(number int) (models.StepDefinition, bool) {
	if number < 1 || number > len(p.Steps) {
		return models.StepDefinition{}, false
	}
	return p.Steps[number-1], true
}

// MaxValidationPeriod is the longest rule window and bounds per-session history.
func (p *Procedure) MaxValidationPeriod() time.Duration { return p.maxWindow }

func (p *Procedure) applyDefaults() {
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.RequiredRole == "" {
			step.RequiredRole = models.RoleOperator
		} else if parsed := models.ParseRole(string(step.RequiredRole)); parsed != "" {
			step.RequiredRole = parsed
		}
		if step.CriticalityLevel == "" {
			step.CriticalityLevel = models.CriticalityOperational
		}
		for j := range step.Validations {
			rule := &step.Validations[j]
			if rule.MaxRateOfChange != nil {
				if rule.RateUnit <= 0 {
					rule.RateUnit = time.Minute
				}
				if rule.ValidationPeriod <= 0 {
					rule.ValidationPeriod = DefaultValidationPeriod
				}
			}
		}
	}
}

func (p *Procedure) validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("procedure %q has no steps", p.Name)
	}
	for i, step := range p.Steps {
		if step.StepNumber != i+1 {
			return fmt.Errorf("step at position %d has number %d, steps must be numbered 1..N in order", i+1, step.StepNumber)
		}
		if strings.TrimSpace(step.Description) == "" {
			return fmt.Errorf("step %d: description is required", step.StepNumber)
		}
		switch step.CriticalityLevel {
		case models.CriticalitySafetyCritical, models.CriticalityOperational, models.CriticalityInformational:
		default:
			return fmt.Errorf("step %d: unknown criticality %q", step.StepNumber, step.CriticalityLevel)
		}
		if !step.RequiredRole.Valid() {
			return fmt.Errorf("step %d: unknown required role %q", step.StepNumber, step.RequiredRole)
		}
		if step.RequiredRole == models.RoleAuditor {
			return fmt.Errorf("step %d: auditors cannot execute steps", step.StepNumber)
		}
		for _, rule := range step.Validations {
			if strings.TrimSpace(rule.Parameter) == "" {
				return fmt.Errorf("step %d: validation parameter is required", step.StepNumber)
			}
			if rule.Min() > rule.Max() {
				return fmt.Errorf("step %d: %s range [%v, %v] is inverted", step.StepNumber, rule.Parameter, rule.Min(), rule.Max())
			}
			if rule.MaxRateOfChange != nil && *rule.MaxRateOfChange < 0 {
				return fmt.Errorf("step %d: %s max rate of change must be >= 0", step.StepNumber, rule.Parameter)
			}
		}
		for j, in := range step.Interactions {
			switch in.Type {
			case models.InteractionConfirmation, models.InteractionInput:
			case models.InteractionSelection:
				if len(in.Options) == 0 {
					return fmt.Errorf("step %d: interaction %d is a selection without options", step.StepNumber, j)
				}
			default:
				return fmt.Errorf("step %d: interaction %d has unknown type %q", step.StepNumber, j, in.Type)
			}
		}
	}
	return nil
}

func (p *Procedure) computeMaxWindow() time.Duration {
	var longest time.Duration
	for _, step := range p.Steps {
		for _, rule := range step.Validations {
			if rule.ValidationPeriod > longest {
				longest = rule.ValidationPeriod
			}
		}
	}
	return longest
}
