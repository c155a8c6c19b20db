// Package sensor keeps the latest instrumentation snapshot per plant and
// feeds it from OPC UA or HTTP ingest.
package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/turbine-shutdown/backend/internal/models"
)

// Snapshot holds the newest sample per plant and parameter. It implements
// session.SensorFeed and is safe for concurrent use.
type Snapshot struct {
	mu      sync.Mutex
	plants  map[int64]map[string]models.SensorSample
	notify  map[int64]chan struct{}
	maxAge  time.Duration
	maxSkew time.Duration
	now     func() time.Time
}

// NewSnapshot creates an empty snapshot. Samples older than maxAge are not
// served; a zero maxAge serves samples of any age.
func NewSnapshot(maxAge time.Duration) *Snapshot {
	return &Snapshot{
		plants:  make(map[int64]map[string]models.SensorSample),
		notify:  make(map[int64]chan struct{}),
		maxAge:  maxAge,
		maxSkew: models.DefaultClockSkew,
		now:     time.Now,
	}
}

// SetMaxSkew sets how far ahead of the local clock a sample may be dated.
// A non-positive d restores models.DefaultClockSkew.
func (s *Snapshot) SetMaxSkew(d time.Duration) {
	if d <= 0 {
		d = models.DefaultClockSkew
	}
	s.mu.Lock()
	s.maxSkew = d
	s.mu.Unlock()
}

// MaxSkew returns the allowed clock skew.
func (s *Snapshot) MaxSkew() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSkew
}

// Update stores samples for a plant and returns how many it kept. A sample
// older than the stored one for the same parameter is ignored, as is one
// dated beyond the allowed skew. A stored future-dated sample is replaced by
// the next valid one.
func (s *Snapshot) Update(plantID int64, samples ...models.SensorSample) int {
	if len(samples) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, ok := s.plants[plantID]
	if !ok {
		latest = make(map[string]models.SensorSample)
		s.plants[plantID] = latest
	}
	now := s.now()
	kept := 0
	for _, smp := range samples {
		if smp.Parameter == "" || smp.FutureDated(now, s.maxSkew) {
			continue
		}
		if cur, ok := latest[smp.Parameter]; ok && smp.Timestamp.Before(cur.Timestamp) && !cur.FutureDated(now, s.maxSkew) {
			continue
		}
		latest[smp.Parameter] = smp
		kept++
	}

	if ch, ok := s.notify[plantID]; ok && kept > 0 {
		close(ch)
		delete(s.notify, plantID)
	}
	return kept
}

// CurrentSample returns the fresh samples of a plant. When none are fresh it
// waits for an update until ctx is done and then returns ctx's error.
func (s *Snapshot) CurrentSample(ctx context.Context, plantID int64) (map[string]models.SensorSample, error) {
	for {
		s.mu.Lock()
		out := s.fresh(plantID)
		if len(out) > 0 {
			s.mu.Unlock()
			return out, nil
		}
		ch, ok := s.notify[plantID]
		if !ok {
			ch = make(chan struct{})
			s.notify[plantID] = ch
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

// Plants returns the ids of plants that have reported at least once.
func (s *Snapshot) Plants() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.plants))
	for id := range s.plants {
		out = append(out, id)
	}
	return out
}

// fresh copies the samples within maxAge. Caller holds s.mu.
func (s *Snapshot) fresh(plantID int64) map[string]models.SensorSample {
	latest := s.plants[plantID]
	out := make(map[string]models.SensorSample, len(latest))
	var cutoff time.Time
	if s.maxAge > 0 {
		cutoff = s.now().Add(-s.maxAge)
	}
	now := s.now()
	for param, smp := range latest {
		if !cutoff.IsZero() && smp.Timestamp.Before(cutoff) {
			continue
		}
		if smp.FutureDated(now, s.maxSkew) {
			continue
		}
		out[param] = smp
	}
	return out
}
