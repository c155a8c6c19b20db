package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbine-shutdown/backend/internal/models"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func rate(v float64) *float64 { return &v }

func msTempRule() models.ValidationRule {
	return models.ValidationRule{
		Parameter:     "MS_TEMP",
		ExpectedRange: [2]float64{535, 545},
		Units:         "C",
	}
}

func reading(param string, value float64, at time.Time) models.SensorSample {
	return models.SensorSample{Parameter: param, Value: value, Unit: "C", Timestamp: at, Quality: 1}
}

func TestEvaluate_Range(t *testing.T) {
	engine := NewEngine(0)

	tests := []struct {
		name      string
		value     float64
		wantValid bool
		wantMsg   string
	}{
		{name: "inside range", value: 540, wantValid: true},
		{name: "lower bound inclusive", value: 535, wantValid: true},
		{name: "upper bound inclusive", value: 545, wantValid: true},
		{name: "above range", value: 560, wantMsg: "Value 560C outside acceptable range [535, 545]C"},
		{name: "below range", value: 534.5, wantMsg: "Value 534.5C outside acceptable range [535, 545]C"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample := map[string]models.SensorSample{"MS_TEMP": reading("MS_TEMP", tt.value, t0)}
			results := engine.Evaluate([]models.ValidationRule{msTempRule()}, sample, nil)
			require.Len(t, results, 1)

			r := results[0]
			assert.Equal(t, "MS_TEMP", r.Parameter)
			assert.Equal(t, tt.wantValid, r.Valid)
			require.NotNil(t, r.ActualValue)
			assert.Equal(t, tt.value, *r.ActualValue)
			if !tt.wantValid {
				require.NotNil(t, r.ExpectedRange)
				assert.Equal(t, [2]float64{535, 545}, *r.ExpectedRange)
				assert.Equal(t, tt.wantMsg, r.Message)
			}
		})
	}
}

func TestEvaluate_NoData(t *testing.T) {
	engine := NewEngine(0.5)
	rules := []models.ValidationRule{msTempRule()}

	t.Run("missing parameter", func(t *testing.T) {
		results := engine.Evaluate(rules, map[string]models.SensorSample{}, nil)
		require.Len(t, results, 1)
		assert.False(t, results[0].Valid)
		assert.Equal(t, MsgNoData, results[0].Message)
		assert.Nil(t, results[0].ActualValue)
	})

	t.Run("low quality is treated as missing", func(t *testing.T) {
		s := reading("MS_TEMP", 540, t0)
		s.Quality = 0.2
		results := engine.Evaluate(rules, map[string]models.SensorSample{"MS_TEMP": s}, nil)
		assert.False(t, results[0].Valid)
		assert.Equal(t, MsgNoData, results[0].Message)
	})

	t.Run("nil sample map", func(t *testing.T) {
		results := engine.Evaluate(rules, nil, nil)
		assert.False(t, results[0].Valid)
	})
}

func TestEvaluate_RateOfChange(t *testing.T) {
	engine := NewEngine(0)
	rule := msTempRule()
	rule.MaxRateOfChange = rate(2)
	rule.RateUnit = time.Minute
	rule.ValidationPeriod = 2 * time.Minute

	t.Run("fast drop is blocked while value is in range", func(t *testing.T) {
		history := map[string][]models.SensorSample{
			"MS_TEMP": {reading("MS_TEMP", 545, t0)},
		}
		sample := map[string]models.SensorSample{"MS_TEMP": reading("MS_TEMP", 535, t0.Add(time.Minute))}

		results := engine.Evaluate([]models.ValidationRule{rule}, sample, history)
		require.Len(t, results, 1)
		assert.False(t, results[0].Valid)
		assert.Equal(t, "Rate of change -10C/min exceeds limit 2C/min", results[0].Message)
	})

	t.Run("slow drift passes", func(t *testing.T) {
		history := map[string][]models.SensorSample{
			"MS_TEMP": {reading("MS_TEMP", 541, t0)},
		}
		sample := map[string]models.SensorSample{"MS_TEMP": reading("MS_TEMP", 540, t0.Add(time.Minute))}

		results := engine.Evaluate([]models.ValidationRule{rule}, sample, history)
		assert.True(t, results[0].Valid)
		assert.Empty(t, results[0].Message)
	})

	t.Run("single sample is insufficient data, not a failure", func(t *testing.T) {
		sample := map[string]models.SensorSample{"MS_TEMP": reading("MS_TEMP", 540, t0)}
		results := engine.Evaluate([]models.ValidationRule{rule}, sample, nil)
		assert.True(t, results[0].Valid)
		assert.Contains(t, results[0].Message, "Insufficient data")
	})

	t.Run("samples outside the window are ignored", func(t *testing.T) {
		history := map[string][]models.SensorSample{
			"MS_TEMP": {reading("MS_TEMP", 545, t0)},
		}
		sample := map[string]models.SensorSample{"MS_TEMP": reading("MS_TEMP", 535, t0.Add(10*time.Minute))}
		results := engine.Evaluate([]models.ValidationRule{rule}, sample, history)
		assert.True(t, results[0].Valid)
		assert.Contains(t, results[0].Message, "Insufficient data")
	})

	t.Run("range failure wins over rate", func(t *testing.T) {
		history := map[string][]models.SensorSample{
			"MS_TEMP": {reading("MS_TEMP", 545, t0)},
		}
		sample := map[string]models.SensorSample{"MS_TEMP": reading("MS_TEMP", 500, t0.Add(time.Minute))}
		results := engine.Evaluate([]models.ValidationRule{rule}, sample, history)
		assert.False(t, results[0].Valid)
		assert.Contains(t, results[0].Message, "outside acceptable range")
	})
}

func TestEvaluate_DeterministicAndOrdered(t *testing.T) {
	engine := NewEngine(0)
	rules := []models.ValidationRule{
		{Parameter: "HRH_TEMP", ExpectedRange: [2]float64{535, 545}, Units: "C"},
		msTempRule(),
		{Parameter: "DRUM_LEVEL", ExpectedRange: [2]float64{-50, 50}, Units: "mm"},
	}
	sample := map[string]models.SensorSample{
		"MS_TEMP":  reading("MS_TEMP", 560, t0),
		"HRH_TEMP": reading("HRH_TEMP", 538, t0),
	}

	first := engine.Evaluate(rules, sample, nil)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, engine.Evaluate(rules, sample, nil))
	}

	require.Len(t, first, 3)
	assert.Equal(t, "HRH_TEMP", first[0].Parameter)
	assert.True(t, first[0].Valid)
	assert.Equal(t, "MS_TEMP", first[1].Parameter)
	assert.False(t, first[1].Valid)
	assert.Equal(t, "DRUM_LEVEL", first[2].Parameter)
	assert.Equal(t, MsgNoData, first[2].Message)

	assert.False(t, AllValid(first))
	failures := Failures(first)
	require.Len(t, failures, 2)
	assert.Equal(t, "MS_TEMP", failures[0].Parameter)
}

func TestWindow(t *testing.T) {
	past := []models.SensorSample{
		reading("P", 1, t0.Add(-5*time.Minute)),
		reading("P", 2, t0.Add(-time.Minute)),
		{Parameter: "P", Value: 3, Timestamp: t0.Add(-30 * time.Second), Quality: 0.1},
	}
	current := reading("P", 4, t0)

	w := Window(past, current, 2*time.Minute, 0.5)
	require.Len(t, w, 2)
	assert.Equal(t, 2.0, w[0].Value)
	assert.Equal(t, 4.0, w[1].Value)
}
