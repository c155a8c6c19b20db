// ports.go - Collaborators the session manager depends on
package session

import (
	"context"
	"time"

	"github.com/turbine-shutdown/backend/internal/models"
	"github.com/turbine-shutdown/backend/internal/sequencer"
)

// SensorFeed supplies the latest snapshot of a plant's instrumentation.
type SensorFeed interface {
	CurrentSample(ctx context.Context, plantID int64) (map[string]models.SensorSample, error)
}

// IdentityProvider resolves a user id to its role and active flag.
// Unknown users return an error of kind USER_NOT_FOUND.
type IdentityProvider interface {
	Resolve(ctx context.Context, userID string) (models.User, error)
}

// AuditSink stores audit events permanently.
type AuditSink interface {
	Record(ctx context.Context, event models.AuditEvent) error
}

// Snapshot is the persisted form of one session.
type Snapshot struct {
	Session  models.ShutdownSession
	Progress *sequencer.Progress
}

// Repository persists sessions and override records.
type Repository interface {
	SaveSession(ctx context.Context, snap Snapshot) error
	SaveOverride(ctx context.Context, record models.OverrideRecord) error
	// LoadActive returns every session that is not in a terminal state.
	LoadActive(ctx context.Context) ([]Snapshot, error)
	// LoadSession returns one session in any state; found is false when the
	// id is unknown.
	LoadSession(ctx context.Context, id string) (snap Snapshot, found bool, err error)
	ListOverrides(ctx context.Context, sessionID string) ([]models.OverrideRecord, error)
}

// Commit is the durable part of one operation.
type Commit struct {
	Events   []models.AuditEvent
	Override *models.OverrideRecord
	Snapshot *Snapshot // nil when the session itself is unchanged
}

// Committer stores a Commit as a unit: every part is written or none is.
// When configured, the manager writes through it in place of separate
// AuditSink and Repository calls. A failed audit write reports AUDIT_FAILED.
type Committer interface {
	Commit(ctx context.Context, c Commit) error
}

// Publisher receives committed session events. Publish must not block.
type Publisher interface {
	Publish(event models.SessionEvent)
}

// Recorder receives operational measurements.
type Recorder interface {
	ObserveValidation(kind models.OutcomeKind)
	ObserveOverride(granted bool)
	ObserveSessionEnd(status models.SessionStatus)
	SetActiveSessions(n int)
	ObserveFeedLatency(d time.Duration)
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, models.AuditEvent) error { return nil }

type nopRepository struct{}

func (nopRepository) SaveSession(context.Context, Snapshot) error               { return nil }
func (nopRepository) SaveOverride(context.Context, models.OverrideRecord) error { return nil }
func (nopRepository) LoadActive(context.Context) ([]Snapshot, error)            { return nil, nil }
func (nopRepository) LoadSession(context.Context, string) (Snapshot, bool, error) {
	return Snapshot{}, false, nil
}
func (nopRepository) ListOverrides(context.Context, string) ([]models.OverrideRecord, error) {
	return nil, nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(models.SessionEvent) {}

type nopRecorder struct{}

func (nopRecorder) ObserveValidation(models.OutcomeKind)   {}
func (nopRecorder) ObserveOverride(bool)                   {}
func (nopRecorder) ObserveSessionEnd(models.SessionStatus) {}
func (nopRecorder) SetActiveSessions(int)                  {}
func (nopRecorder) ObserveFeedLatency(time.Duration)       {}

type emptyFeed struct{}

func (emptyFeed) CurrentSample(context.Context, int64) (map[string]models.SensorSample, error) {
	return nil, nil
}
