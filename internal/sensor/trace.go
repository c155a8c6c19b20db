package sensor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/turbine-shutdown/backend/internal/models"
)

// Trace timestamps are accepted in these layouts.
var traceLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
}

// Format: "Timestamp,Parameter,Value[,Unit[,Quality]]"
var traceLine = regexp.MustCompile(`^\s*([^,]+?)\s*,\s*([^,]+?)\s*,\s*([^,]+?)\s*(?:,\s*([^,]*?)\s*)?(?:,\s*([^,]*?)\s*)?$`)

// TraceError describes one rejected trace line.
type TraceError struct {
	Line    int    `json:"line"`
	Content string `json:"content"`
	Reason  string `json:"reason"`
}

func (e TraceError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// ParseTrace reads a CSV sensor trace. Blank lines, # comments and a
// leading header row are skipped; malformed lines are reported and skipped.
// When notAfter is set, lines dated after it are rejected too.
// Samples are returned sorted by timestamp.
func ParseTrace(r io.Reader, notAfter time.Time) ([]models.SensorSample, []TraceError, error) {
	var (
		samples []models.SensorSample
		errs    []TraceError
	)

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		m := traceLine.FindStringSubmatch(line)
		if m == nil {
			errs = append(errs, TraceError{Line: lineNum, Content: line, Reason: "line does not match trace format"})
			continue
		}

		ts, err := parseTimestamp(m[1])
		if err != nil {
			if len(samples) == 0 && len(errs) == 0 && strings.EqualFold(m[1], "timestamp") {
				continue // header
			}
			errs = append(errs, TraceError{Line: lineNum, Content: line, Reason: "invalid timestamp"})
			continue
		}
		if !notAfter.IsZero() && ts.After(notAfter) {
			errs = append(errs, TraceError{Line: lineNum, Content: line, Reason: "timestamp is ahead of the server clock"})
			continue
		}
		value, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			errs = append(errs, TraceError{Line: lineNum, Content: line, Reason: "invalid value"})
			continue
		}
		quality := 1.0
		if m[5] != "" {
			q, err := strconv.ParseFloat(m[5], 64)
			if err != nil || q < 0 || q > 1 {
				errs = append(errs, TraceError{Line: lineNum, Content: line, Reason: "quality must be within [0, 1]"})
				continue
			}
			quality = q
		}

		samples = append(samples, models.SensorSample{
			Parameter: m[2],
			Value:     value,
			Unit:      m[4],
			Timestamp: ts,
			Quality:   quality,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}

	sort.SliceStable(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })
	return samples, errs, nil
}

func parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range traceLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// ReplayConfig replays a recorded trace into the snapshot, for drills.
type ReplayConfig struct {
	File    string  `yaml:"file"`
	PlantID int64   `yaml:"plant_id"`
	Speed   float64 `yaml:"speed"` // 1 = real time
	Loop    bool    `yaml:"loop"`
}

// Replay pushes recorded samples into a Snapshot with their original spacing
// scaled by Speed. Timestamps are rebased onto the replay clock.
type Replay struct {
	cfg      ReplayConfig
	samples  []models.SensorSample
	snapshot *Snapshot
	log      *zap.SugaredLogger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) bool
}

// NewReplay loads the trace file named by cfg.
func NewReplay(cfg ReplayConfig, snapshot *Snapshot, log *zap.SugaredLogger) (*Replay, error) {
	if cfg.PlantID <= 0 {
		return nil, fmt.Errorf("replay plant_id is required")
	}
	f, err := os.Open(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("opening trace: %w", err)
	}
	defer f.Close()

	samples, errs, err := ParseTrace(f, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("reading trace %s: %w", cfg.File, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("trace %s has no samples", cfg.File)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if len(errs) > 0 {
		log.Warnw("Skipped malformed trace lines", "file", cfg.File, "count", len(errs), "first", errs[0].Error())
	}
	return newReplay(cfg, samples, snapshot, log), nil
}

func newReplay(cfg ReplayConfig, samples []models.SensorSample, snapshot *Snapshot, log *zap.SugaredLogger) *Replay {
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	return &Replay{
		cfg:      cfg,
		samples:  samples,
		snapshot: snapshot,
		log:      log,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Run replays until the trace ends (or forever with Loop) or ctx is done.
func (r *Replay) Run(ctx context.Context) {
	r.log.Infow("Sensor replay started", "file", r.cfg.File, "plant", r.cfg.PlantID,
		"samples", len(r.samples), "speed", r.cfg.Speed)
	for {
		if !r.pass(ctx) {
			return
		}
		if !r.cfg.Loop {
			r.log.Infow("Sensor replay finished", "plant", r.cfg.PlantID)
			return
		}
	}
}

func (r *Replay) pass(ctx context.Context) bool {
	first := r.samples[0].Timestamp
	start := r.now()
	for _, s := range r.samples {
		if ctx.Err() != nil {
			return false
		}
		offset := time.Duration(float64(s.Timestamp.Sub(first)) / r.cfg.Speed)
		if wait := start.Add(offset).Sub(r.now()); wait > 0 {
			if !r.sleep(ctx, wait) {
				return false
			}
		}
		s.Timestamp = start.Add(offset)
		r.snapshot.Update(r.cfg.PlantID, s)
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
