package sequencer

import (
	"time"

	"github.com/turbine-shutdown/backend/internal/models"
)

// BlockedAttempt is the most recent failed attempt on the current step.
// An override can only be requested against one.
type BlockedAttempt struct {
	StepNumber      int                       `json:"stepNumber" msgpack:"stepNumber"`
	UserID          string                    `json:"userId" msgpack:"userId"`
	At              time.Time                 `json:"at" msgpack:"at"`
	Results         []models.ValidationResult `json:"results" msgpack:"results"`
	MissingSignoffs []int                     `json:"missingSignoffs,omitempty" msgpack:"missingSignoffs,omitempty"`
}

// Progress is the per-session cursor into the procedure.
// It is owned by the session and only mutated inside its critical section.
type Progress struct {
	Index       int                              `json:"index" msgpack:"index"` // 0-based; equal to the step count once done
	History     map[string][]models.SensorSample `json:"history" msgpack:"history"`
	Signoffs    map[int]models.Signoff           `json:"signoffs" msgpack:"signoffs"` // current step, by interaction index
	LastBlocked *BlockedAttempt                  `json:"lastBlocked,omitempty" msgpack:"lastBlocked,omitempty"`
}

// NewProgress returns a cursor positioned at step 1.
func NewProgress() *Progress {
	return &Progress{
		History:  make(map[string][]models.SensorSample),
		Signoffs: make(map[int]models.Signoff),
	}
}

// StepNumber returns the 1-based number of the current step.
func (p *Progress) StepNumber() int { return p.Index + 1 }

// Clone returns a deep copy so a tentative mutation can be discarded.
func (p *Progress) Clone() *Progress {
	c := &Progress{
		Index:    p.Index,
		History:  make(map[string][]models.SensorSample, len(p.History)),
		Signoffs: make(map[int]models.Signoff, len(p.Signoffs)),
	}
	for param, samples := range p.History {
		c.History[param] = append([]models.SensorSample(nil), samples...)
	}
	for idx, s := range p.Signoffs {
		c.Signoffs[idx] = s
	}
	if p.LastBlocked != nil {
		b := *p.LastBlocked
		b.Results = append([]models.ValidationResult(nil), p.LastBlocked.Results...)
		b.MissingSignoffs = append([]int(nil), p.LastBlocked.MissingSignoffs...)
		c.LastBlocked = &b
	}
	return c
}

// ensure initializes maps left nil by decoding.
func (p *Progress) ensure() {
	if p.History == nil {
		p.History = make(map[string][]models.SensorSample)
	}
	if p.Signoffs == nil {
		p.Signoffs = make(map[int]models.Signoff)
	}
}
