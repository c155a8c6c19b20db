// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/turbine-shutdown/backend/internal/identity"
	"github.com/turbine-shutdown/backend/internal/models"
	"github.com/turbine-shutdown/backend/internal/session"
	"github.com/turbine-shutdown/backend/internal/storage"
)

// ErrInjected is returned by fakes configured to fail.
var ErrInjected = errors.New("injected failure")

// Standard users, one per role plus an inactive operator.
var (
	Operator      = models.User{ID: "op-1", Username: "olga", Role: models.RoleOperator, IsActive: true}
	Operator2     = models.User{ID: "op-2", Username: "omar", Role: models.RoleOperator, IsActive: true}
	Supervisor    = models.User{ID: "sup-1", Username: "sam", Role: models.RoleSupervisor, IsActive: true}
	Engineer      = models.User{ID: "eng-1", Username: "erin", Role: models.RoleEngineer, IsActive: true}
	Administrator = models.User{ID: "adm-1", Username: "ada", Role: models.RoleAdministrator, IsActive: true}
	Auditor       = models.User{ID: "aud-1", Username: "aldo", Role: models.RoleAuditor, IsActive: true}
	Inactive      = models.User{ID: "op-9", Username: "ivan", Role: models.RoleOperator, IsActive: false}
)

// Users returns a directory holding the standard users.
func Users() *identity.Directory {
	return identity.NewDirectory(Operator, Operator2, Supervisor, Engineer, Administrator, Auditor, Inactive)
}

// Feed is a scripted session.SensorFeed.
type Feed struct {
	mu      sync.Mutex
	samples map[int64]map[string]models.SensorSample
	err     error
	block   bool
	calls   int
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{samples: make(map[int64]map[string]models.SensorSample)}
}

// Set replaces the plant's snapshot.
func (f *Feed) Set(plantID int64, samples ...models.SensorSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := make(map[string]models.SensorSample, len(samples))
	for _, s := range samples {
		snap[s.Parameter] = s
	}
	f.samples[plantID] = snap
}

// Fail makes every read return err. A nil err clears the failure.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Block makes reads wait until their context is done.
func (f *Feed) Block(block bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = block
}

// Calls returns the number of reads.
func (f *Feed) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Feed) CurrentSample(ctx context.Context, plantID int64) (map[string]models.SensorSample, error) {
	f.mu.Lock()
	f.calls++
	block, err := f.block, f.err
	snap := make(map[string]models.SensorSample, len(f.samples[plantID]))
	for k, v := range f.samples[plantID] {
		snap[k] = v
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Store wraps storage.Memory with switchable failures.
type Store struct {
	*storage.Memory

	mu           sync.Mutex
	failAudit    bool
	failSession  bool
	failOverride bool
}

// NewStore creates an in-memory store that succeeds until told otherwise.
func NewStore() *Store {
	return &Store{Memory: storage.NewMemory()}
}

// FailAudit toggles audit write failures.
func (s *Store) FailAudit(v bool) { s.mu.Lock(); s.failAudit = v; s.mu.Unlock() }

// FailSession toggles session save failures.
func (s *Store) FailSession(v bool) { s.mu.Lock(); s.failSession = v; s.mu.Unlock() }

// FailOverride toggles override save failures.
func (s *Store) FailOverride(v bool) { s.mu.Lock(); s.failOverride = v; s.mu.Unlock() }

func (s *Store) Record(ctx context.Context, event models.AuditEvent) error {
	s.mu.Lock()
	fail := s.failAudit
	s.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return s.Memory.Record(ctx, event)
}

func (s *Store) SaveSession(ctx context.Context, snap session.Snapshot) error {
	s.mu.Lock()
	fail := s.failSession
	s.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return s.Memory.SaveSession(ctx, snap)
}

func (s *Store) SaveOverride(ctx context.Context, r models.OverrideRecord) error {
	s.mu.Lock()
	fail := s.failOverride
	s.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return s.Memory.SaveOverride(ctx, r)
}

// Commit fails as a whole when any part it carries is set to fail, and
// otherwise commits through the memory store.
func (s *Store) Commit(ctx context.Context, c session.Commit) error {
	s.mu.Lock()
	failAudit := s.failAudit && len(c.Events) > 0
	failOverride := s.failOverride && c.Override != nil
	failSession := s.failSession && c.Snapshot != nil
	s.mu.Unlock()

	switch {
	case failAudit:
		return models.NewError(models.KindAuditFailed, "recording %s", c.Events[0].Action).Wrap(ErrInjected)
	case failOverride, failSession:
		return models.NewError(models.KindPersistenceFailed, "committing").Wrap(ErrInjected)
	}
	return s.Memory.Commit(ctx, c)
}

// Actions returns the audit actions recorded for a session, in order.
func (s *Store) Actions(sessionID string) []models.AuditAction {
	trail, _ := s.Memory.AuditTrail(context.Background(), sessionID)
	out := make([]models.AuditAction, 0, len(trail))
	for _, rec := range trail {
		out = append(out, rec.Event.Action)
	}
	return out
}

// Publisher records every published event.
type Publisher struct {
	mu     sync.Mutex
	events []models.SessionEvent
}

func (p *Publisher) Publish(event models.SessionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

// Types returns the published event types in order.
func (p *Publisher) Types() []models.SessionEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.SessionEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock { return &Clock{now: t} }

// Now returns the current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
