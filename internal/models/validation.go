package models

import "time"

// ValidationRule bounds a sensor parameter for a step.
type ValidationRule struct {
	Parameter        string        `json:"parameter" yaml:"parameter"`
	ExpectedRange    [2]float64    `json:"expectedRange" yaml:"expected_range,flow"`
	Units            string        `json:"units" yaml:"units"`
	MaxRateOfChange  *float64      `json:"maxRateOfChange,omitempty" yaml:"max_rate_of_change,omitempty"`
	RateUnit         time.Duration `json:"rateUnit,omitempty" yaml:"rate_unit,omitempty"` // time base of MaxRateOfChange
	ValidationPeriod time.Duration `json:"validationPeriod" yaml:"validation_period"`
}

// Min returns the lower bound of the expected range.
func (r ValidationRule) Min() float64 { return r.ExpectedRange[0] }

// Max returns the upper bound of the expected range.
func (r ValidationRule) Max() float64 { return r.ExpectedRange[1] }

// ValidationResult is the outcome of one rule for one attempt.
type ValidationResult struct {
	Parameter     string      `json:"parameter" msgpack:"parameter"`
	Valid         bool        `json:"valid" msgpack:"valid"`
	ActualValue   *float64    `json:"actualValue,omitempty" msgpack:"actualValue,omitempty"`
	ExpectedRange *[2]float64 `json:"expectedRange,omitempty" msgpack:"expectedRange,omitempty"`
	Message       string      `json:"message,omitempty" msgpack:"message,omitempty"`
}

// SensorSample is one reading supplied by the sensor feed.
type SensorSample struct {
	Parameter string    `json:"parameter" msgpack:"parameter"`
	Value     float64   `json:"value" msgpack:"value"`
	Unit      string    `json:"unit" msgpack:"unit"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	Quality   float64   `json:"quality" msgpack:"quality"`
}

// DefaultClockSkew is how far a sample may be dated ahead of the local clock.
const DefaultClockSkew = 5 * time.Second

// FutureDated reports whether the sample is dated more than skew after now.
func (s SensorSample) FutureDated(now time.Time, skew time.Duration) bool {
	return s.Timestamp.After(now.Add(skew))
}
