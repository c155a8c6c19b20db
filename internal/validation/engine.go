// Package validation evaluates step rules against a sensor sample and recent history.
package validation

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/turbine-shutdown/backend/internal/models"
)

// DefaultQualityThreshold is the lowest quality accepted as real data.
const DefaultQualityThreshold = 0.5

// DefaultRateUnit is the time base of a rule's MaxRateOfChange when none is set.
const DefaultRateUnit = time.Minute

// MsgNoData is returned for a missing or low-quality sample.
const MsgNoData = "No sensor data available"

// Engine evaluates validation rules. It holds no state between calls.
type Engine struct {
	QualityThreshold float64
}

// NewEngine creates an engine with the given quality threshold.
// A non-positive threshold falls back to DefaultQualityThreshold.
func NewEngine(qualityThreshold float64) Engine {
	if qualityThreshold <= 0 {
		qualityThreshold = DefaultQualityThreshold
	}
	return Engine{QualityThreshold: qualityThreshold}
}

// Evaluate checks every rule independently and returns one result per rule, in rule order.
// history holds earlier samples per parameter, oldest first; the current sample
// is treated as the newest point of the rate-of-change window.
func (e Engine) Evaluate(rules []models.ValidationRule, sample map[string]models.SensorSample, history map[string][]models.SensorSample) []models.ValidationResult {
	results := make([]models.ValidationResult, 0, len(rules))
	for _, rule := range rules {
		results = append(results, e.evaluateRule(rule, sample, history))
	}
	return results
}

func (e Engine) evaluateRule(rule models.ValidationRule, sample map[string]models.SensorSample, history map[string][]models.SensorSample) models.ValidationResult {
	current, ok := sample[rule.Parameter]
	if !ok || current.Quality < e.QualityThreshold || math.IsNaN(current.Value) {
		return models.ValidationResult{
			Parameter: rule.Parameter,
			Valid:     false,
			Message:   MsgNoData,
		}
	}

	value := current.Value
	if value < rule.Min() || value > rule.Max() {
		expected := rule.ExpectedRange
		return models.ValidationResult{
			Parameter:     rule.Parameter,
			Valid:         false,
			ActualValue:   &value,
			ExpectedRange: &expected,
			Message: fmt.Sprintf("Value %s%s outside acceptable range [%s, %s]%s",
				formatNumber(value), rule.Units, formatNumber(rule.Min()), formatNumber(rule.Max()), rule.Units),
		}
	}

	if rule.MaxRateOfChange != nil {
		return e.checkRate(rule, current, history[rule.Parameter])
	}

	return models.ValidationResult{
		Parameter:   rule.Parameter,
		Valid:       true,
		ActualValue: &value,
	}
}

func (e Engine) checkRate(rule models.ValidationRule, current models.SensorSample, past []models.SensorSample) models.ValidationResult {
	value := current.Value
	limit := *rule.MaxRateOfChange
	unit := rule.RateUnit
	if unit <= 0 {
		unit = DefaultRateUnit
	}

	window := Window(past, current, rule.ValidationPeriod, e.QualityThreshold)
	if len(window) < 2 {
		return models.ValidationResult{
			Parameter:   rule.Parameter,
			Valid:       true,
			ActualValue: &value,
			Message: fmt.Sprintf("Insufficient data for rate-of-change check (%d sample(s) in the last %s)",
				len(window), rule.ValidationPeriod),
		}
	}

	earliest, latest := window[0], window[len(window)-1]
	elapsed := latest.Timestamp.Sub(earliest.Timestamp)
	if elapsed <= 0 {
		return models.ValidationResult{
			Parameter:   rule.Parameter,
			Valid:       true,
			ActualValue: &value,
			Message:     "Insufficient data for rate-of-change check (no elapsed time in window)",
		}
	}

	rate := (latest.Value - earliest.Value) / (float64(elapsed) / float64(unit))
	if math.Abs(rate) > limit {
		expected := rule.ExpectedRange
		return models.ValidationResult{
			Parameter:     rule.Parameter,
			Valid:         false,
			ActualValue:   &value,
			ExpectedRange: &expected,
			Message: fmt.Sprintf("Rate of change %s%s/%s exceeds limit %s%s/%s",
				formatNumber(round(rate, 3)), rule.Units, unitName(unit),
				formatNumber(limit), rule.Units, unitName(unit)),
		}
	}

	return models.ValidationResult{
		Parameter:   rule.Parameter,
		Valid:       true,
		ActualValue: &value,
	}
}

// Window returns the usable samples within [now-period, now], oldest first,
// where now is the timestamp of current. current is always the last element.
func Window(past []models.SensorSample, current models.SensorSample, period time.Duration, qualityThreshold float64) []models.SensorSample {
	now := current.Timestamp
	from := now.Add(-period)
	out := make([]models.SensorSample, 0, len(past)+1)
	for _, s := range past {
		if s.Quality < qualityThreshold {
			continue
		}
		if s.Timestamp.Before(from) || !s.Timestamp.Before(now) {
			continue
		}
		out = append(out, s)
	}
	return append(out, current)
}

// AllValid reports whether every result passed.
func AllValid(results []models.ValidationResult) bool {
	for _, r := range results {
		if !r.Valid {
			return false
		}
	}
	return true
}

// Failures returns the failing results, preserving order.
func Failures(results []models.ValidationResult) []models.ValidationResult {
	var out []models.ValidationResult
	for _, r := range results {
		if !r.Valid {
			out = append(out, r)
		}
	}
	return out
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func unitName(d time.Duration) string {
	switch d {
	case time.Second:
		return "s"
	case time.Minute:
		return "min"
	case time.Hour:
		return "h"
	default:
		return d.String()
	}
}
