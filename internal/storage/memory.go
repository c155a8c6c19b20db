package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/turbine-shutdown/backend/internal/models"
	"github.com/turbine-shutdown/backend/internal/session"
)

// Memory implements Store in process memory. Contents are lost on restart.
type Memory struct {
	mu        sync.RWMutex
	sessions  map[string]session.Snapshot
	overrides map[string][]models.OverrideRecord
	audit     []AuditRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[string]session.Snapshot),
		overrides: make(map[string][]models.OverrideRecord),
	}
}

// SaveSession stores a copy of the snapshot.
func (m *Memory) SaveSession(_ context.Context, snap session.Snapshot) error {
	if snap.Progress != nil {
		snap.Progress = snap.Progress.Clone()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[snap.Session.ID] = snap
	return nil
}

// LoadActive returns copies of every non-terminal session, oldest first.
func (m *Memory) LoadActive(_ context.Context) ([]session.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var list []session.Snapshot
	for _, snap := range m.sessions {
		if snap.Session.Status.Terminal() {
			continue
		}
		if snap.Progress != nil {
			snap.Progress = snap.Progress.Clone()
		}
		list = append(list, snap)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Session.StartTime.Before(list[j].Session.StartTime)
	})
	return list, nil
}

// LoadSession returns a copy of one stored session in any state.
func (m *Memory) LoadSession(_ context.Context, id string) (session.Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.sessions[id]
	if ok && snap.Progress != nil {
		snap.Progress = snap.Progress.Clone()
	}
	return snap, ok, nil
}

// Session returns the stored snapshot of a session.
func (m *Memory) Session(id string) (session.Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.sessions[id]
	return snap, ok
}

// SaveOverride appends a record; a repeated id is ignored.
func (m *Memory) SaveOverride(_ context.Context, r models.OverrideRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendOverride(r)
	return nil
}

// appendOverride adds r unless its id is already stored. Caller holds m.mu.
func (m *Memory) appendOverride(r models.OverrideRecord) {
	for _, existing := range m.overrides[r.SessionID] {
		if existing.ID == r.ID {
			return
		}
	}
	m.overrides[r.SessionID] = append(m.overrides[r.SessionID], r)
}

// ListOverrides returns a session's records in insertion order.
func (m *Memory) ListOverrides(_ context.Context, sessionID string) ([]models.OverrideRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.OverrideRecord(nil), m.overrides[sessionID]...), nil
}

// Record seals and appends an audit event.
func (m *Memory) Record(_ context.Context, event models.AuditEvent) error {
	rec, err := sealRecord(event)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, rec)
	return nil
}

func sealRecord(event models.AuditEvent) (AuditRecord, error) {
	if err := validateEvent(event); err != nil {
		return AuditRecord{}, err
	}
	_, integrity, err := seal(event)
	if err != nil {
		return AuditRecord{}, err
	}
	event.OccurredAt = event.OccurredAt.UTC()
	return AuditRecord{
		ID:        uuid.New().String(),
		Event:     event,
		Integrity: integrity,
		Verified:  true,
	}, nil
}

// Commit applies every part of c under one lock once all events are sealed.
func (m *Memory) Commit(_ context.Context, c session.Commit) error {
	records := make([]AuditRecord, 0, len(c.Events))
	for _, ev := range c.Events {
		rec, err := sealRecord(ev)
		if err != nil {
			return models.NewError(models.KindAuditFailed, "recording %s", ev.Action).
				WithSession(ev.SessionID).WithStep(ev.StepNumber).Wrap(err)
		}
		records = append(records, rec)
	}
	var snap session.Snapshot
	if c.Snapshot != nil {
		snap = *c.Snapshot
		if snap.Progress != nil {
			snap.Progress = snap.Progress.Clone()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, records...)
	if c.Override != nil {
		m.appendOverride(*c.Override)
	}
	if c.Snapshot != nil {
		m.sessions[snap.Session.ID] = snap
	}
	return nil
}

// AuditTrail returns a session's audit events in insertion order.
func (m *Memory) AuditTrail(_ context.Context, sessionID string) ([]AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AuditRecord
	for _, rec := range m.audit {
		if rec.Event.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
