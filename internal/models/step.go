package models

import "time"

// Criticality classifies how dangerous it is to skip a step.
type Criticality string

const (
	CriticalitySafetyCritical Criticality = "safety-critical"
	CriticalityOperational    Criticality = "operational"
	CriticalityInformational  Criticality = "informational"
)

// InteractionType is the kind of operator interaction a step asks for.
type InteractionType string

const (
	InteractionConfirmation InteractionType = "confirmation"
	InteractionInput        InteractionType = "input"
	InteractionSelection    InteractionType = "selection"
)

// UserInteraction is a prompt shown to the operator while a step is current.
type UserInteraction struct {
	Type            InteractionType `json:"type" yaml:"type"`
	Message         string          `json:"message" yaml:"message"`
	RequiresSignoff bool            `json:"requiresSignoff" yaml:"requires_signoff"`
	Options         []string        `json:"options,omitempty" yaml:"options,omitempty"`
}

// StepDefinition is one ordered, gated unit of the procedure. Immutable once loaded.
type StepDefinition struct {
	StepNumber       int               `json:"stepNumber" yaml:"step"`
	Description      string            `json:"description" yaml:"description"`
	Instructions     string            `json:"instructions" yaml:"instructions"`
	ExpectedDuration time.Duration     `json:"expectedDuration" yaml:"expected_duration"`
	CriticalityLevel Criticality       `json:"criticalityLevel" yaml:"criticality"`
	RequiredRole     Role              `json:"requiredRole" yaml:"required_role"`
	Validations      []ValidationRule  `json:"validations" yaml:"validations"`
	Interactions     []UserInteraction `json:"interactions" yaml:"interactions"`
	AllowOverride    bool              `json:"allowOverride" yaml:"allow_override"`
}

// RequiredSignoffs returns the indexes of interactions that need a signoff.
func (s StepDefinition) RequiredSignoffs() []int {
	var out []int
	for i, in := range s.Interactions {
		if in.RequiresSignoff {
			out = append(out, i)
		}
	}
	return out
}

// Signoff records that a user acknowledged an interaction of a step.
type Signoff struct {
	StepNumber  int       `json:"stepNumber" msgpack:"stepNumber"`
	Interaction int       `json:"interaction" msgpack:"interaction"`
	UserID      string    `json:"userId" msgpack:"userId"`
	Response    string    `json:"response,omitempty" msgpack:"response,omitempty"`
	Timestamp   time.Time `json:"timestamp" msgpack:"timestamp"`
}
