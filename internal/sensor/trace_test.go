package sensor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/turbine-shutdown/backend/internal/models"
)

func TestParseTrace(t *testing.T) {
	input := strings.Join([]string{
		"Timestamp,Parameter,Value,Unit,Quality",
		"# unit 3 drill",
		"2025-03-01T08:00:02Z, MS_TEMP, 541.5, C",
		"2025-03-01 08:00:00.250,HRH_TEMP,538,C,0.4",
		"",
		"2025-03-01 08:00:01,MS_TEMP,540,,",
		"yesterday,MS_TEMP,1",
		"2025-03-01 08:00:03,MS_TEMP,hot",
		"2025-03-01 08:00:04,MS_TEMP,1,C,1.5",
		"just text",
	}, "\n")

	samples, errs, err := ParseTrace(strings.NewReader(input), time.Time{})
	require.NoError(t, err)
	require.Len(t, samples, 3)

	assert.Equal(t, "HRH_TEMP", samples[0].Parameter, "sorted by timestamp")
	assert.Equal(t, 0.4, samples[0].Quality)
	assert.Equal(t, 250*time.Millisecond, samples[0].Timestamp.Sub(t0))
	assert.Equal(t, "MS_TEMP", samples[1].Parameter)
	assert.Equal(t, "", samples[1].Unit)
	assert.Equal(t, 1.0, samples[1].Quality)
	assert.Equal(t, 541.5, samples[2].Value)
	assert.Equal(t, "C", samples[2].Unit)

	reasons := make(map[int]string, len(errs))
	for _, e := range errs {
		reasons[e.Line] = e.Reason
	}
	assert.Equal(t, map[int]string{
		7:  "invalid timestamp",
		8:  "invalid value",
		9:  "quality must be within [0, 1]",
		10: "line does not match trace format",
	}, reasons)
}

func TestParseTrace_RejectsFutureLines(t *testing.T) {
	input := "2025-03-01T08:00:00Z,MS_TEMP,540\n2025-03-02T08:00:00Z,MS_TEMP,545\n"

	samples, errs, err := ParseTrace(strings.NewReader(input), t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 540.0, samples[0].Value)
	require.Len(t, errs, 1)
	assert.Equal(t, 2, errs[0].Line)
	assert.Equal(t, "timestamp is ahead of the server clock", errs[0].Reason)
}

func TestReplay_RebasesTimestamps(t *testing.T) {
	snap := NewSnapshot(0)
	samples := []models.SensorSample{
		sample("MS_TEMP", 540, t0),
		sample("MS_TEMP", 541, t0.Add(10*time.Second)),
		sample("HRH_TEMP", 538, t0.Add(20*time.Second)),
	}

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var waits []time.Duration
	r := newReplay(ReplayConfig{PlantID: 5, Speed: 2}, samples, snap, zap.NewNop().Sugar())
	r.now = func() time.Time { return clock }
	r.sleep = func(_ context.Context, d time.Duration) bool {
		waits = append(waits, d)
		clock = clock.Add(d)
		return true
	}

	r.Run(context.Background())

	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, waits)
	got, err := snap.CurrentSample(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 541.0, got["MS_TEMP"].Value)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC), got["MS_TEMP"].Timestamp)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC), got["HRH_TEMP"].Timestamp)
}

func TestReplay_StopsWithContext(t *testing.T) {
	snap := NewSnapshot(0)
	samples := []models.SensorSample{sample("MS_TEMP", 540, t0), sample("MS_TEMP", 541, t0.Add(time.Hour))}
	r := newReplay(ReplayConfig{PlantID: 5, Loop: true}, samples, snap, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("replay did not stop")
	}
}

func TestNewReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drill.csv")
	require.NoError(t, os.WriteFile(path, []byte("2025-03-01T08:00:00Z,MS_TEMP,540,C\nbroken\n"), 0o644))

	r, err := NewReplay(ReplayConfig{File: path, PlantID: 1}, NewSnapshot(0), nil)
	require.NoError(t, err)
	assert.Len(t, r.samples, 1)
	assert.Equal(t, 1.0, r.cfg.Speed)

	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o644))

	tests := []struct {
		name string
		cfg  ReplayConfig
	}{
		{"missing plant", ReplayConfig{File: path}},
		{"missing file", ReplayConfig{File: filepath.Join(dir, "nope.csv"), PlantID: 1}},
		{"no samples", ReplayConfig{File: empty, PlantID: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReplay(tt.cfg, NewSnapshot(0), nil)
			assert.Error(t, err)
		})
	}
}
