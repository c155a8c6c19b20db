package models

// OutcomeKind tells the caller what an advance attempt did.
type OutcomeKind string

const (
	OutcomeAdvanced    OutcomeKind = "advanced"
	OutcomeBlocked     OutcomeKind = "blocked"
	OutcomeAlreadyDone OutcomeKind = "already-done"
)

// AdvanceOutcome is the result of validating or overriding the current step.
// Blocked is a normal outcome, not an error.
type AdvanceOutcome struct {
	Kind            OutcomeKind        `json:"kind" msgpack:"kind"`
	StepNumber      int                `json:"stepNumber" msgpack:"stepNumber"`
	NextStep        *StepDefinition    `json:"nextStep,omitempty" msgpack:"nextStep,omitempty"`
	Done            bool               `json:"done" msgpack:"done"`
	Results         []ValidationResult `json:"results" msgpack:"results"`
	MissingSignoffs []int              `json:"missingSignoffs,omitempty" msgpack:"missingSignoffs,omitempty"`
	Override        *OverrideRecord    `json:"override,omitempty" msgpack:"override,omitempty"`
}

// Overridden reports whether the step was completed through an override.
func (o AdvanceOutcome) Overridden() bool {
	return o.Override != nil && o.Override.Granted()
}
