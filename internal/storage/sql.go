package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/turbine-shutdown/backend/internal/models"
	"github.com/turbine-shutdown/backend/internal/sequencer"
	"github.com/turbine-shutdown/backend/internal/session"
)

// SQLStore implements Store over database/sql. Queries use $n placeholders,
// which both DuckDB and Postgres accept.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
	newID   func() string
}

// NewSQLStore wraps an open database. driver selects the column dialect.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialectFor(driver),
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// DB exposes the underlying handle for health checks.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Commit writes the audit events, override record and session snapshot in
// one transaction.
func (s *SQLStore) Commit(ctx context.Context, c session.Commit) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.NewError(models.KindPersistenceFailed, "beginning transaction").Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, ev := range c.Events {
		if err = s.record(ctx, tx, ev); err != nil {
			return models.NewError(models.KindAuditFailed, "recording %s", ev.Action).
				WithSession(ev.SessionID).WithStep(ev.StepNumber).Wrap(err)
		}
	}
	if c.Override != nil {
		if err = saveOverride(ctx, tx, *c.Override); err != nil {
			return models.NewError(models.KindPersistenceFailed, "saving override record").
				WithSession(c.Override.SessionID).WithStep(c.Override.StepNumber).Wrap(err)
		}
	}
	if c.Snapshot != nil {
		if err = s.saveSession(ctx, tx, *c.Snapshot); err != nil {
			return models.NewError(models.KindPersistenceFailed, "saving session").
				WithSession(c.Snapshot.Session.ID).Wrap(err)
		}
	}
	if err = tx.Commit(); err != nil {
		return models.NewError(models.KindPersistenceFailed, "committing transaction").Wrap(err)
	}
	return nil
}

const upsertSession = `
INSERT INTO shutdown_sessions (
	id, plant_id, status, start_time, end_time, initiated_by, completed_by,
	aborted_by, abort_reason, current_step, total_steps, progress, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET
	status = excluded.status,
	end_time = excluded.end_time,
	completed_by = excluded.completed_by,
	aborted_by = excluded.aborted_by,
	abort_reason = excluded.abort_reason,
	current_step = excluded.current_step,
	progress = excluded.progress,
	updated_at = excluded.updated_at`

// SaveSession upserts the session row with its encoded progress.
func (s *SQLStore) SaveSession(ctx context.Context, snap session.Snapshot) error {
	return s.saveSession(ctx, s.db, snap)
}

func (s *SQLStore) saveSession(ctx context.Context, ex execer, snap session.Snapshot) error {
	var blob []byte
	if snap.Progress != nil {
		var err error
		if blob, err = msgpack.Marshal(snap.Progress); err != nil {
			return fmt.Errorf("encoding progress: %w", err)
		}
	}

	sess := snap.Session
	_, err := ex.ExecContext(ctx, upsertSession,
		sess.ID,
		sess.PlantID,
		string(sess.Status),
		sess.StartTime.UTC(),
		nullTime(sess.EndTime),
		sess.InitiatedBy,
		nullString(sess.CompletedBy),
		nullString(sess.AbortedBy),
		nullString(sess.AbortReason),
		sess.CurrentStep,
		sess.TotalSteps,
		blob,
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	return nil
}

const selectActive = `
SELECT id, plant_id, status, start_time, end_time, initiated_by, completed_by,
	aborted_by, abort_reason, current_step, total_steps, progress
FROM shutdown_sessions
WHERE status NOT IN ($1, $2)
ORDER BY start_time`

// LoadActive returns every non-terminal session.
func (s *SQLStore) LoadActive(ctx context.Context) ([]session.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, selectActive,
		string(models.SessionStatusCompleted), string(models.SessionStatusAborted))
	if err != nil {
		return nil, fmt.Errorf("querying active sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Snapshot
	for rows.Next() {
		snap, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

const selectSession = `
SELECT id, plant_id, status, start_time, end_time, initiated_by, completed_by,
	aborted_by, abort_reason, current_step, total_steps, progress
FROM shutdown_sessions
WHERE id = $1`

// LoadSession returns one session in any state. found is false when no row
// has the id.
func (s *SQLStore) LoadSession(ctx context.Context, id string) (snap session.Snapshot, found bool, err error) {
	rows, err := s.db.QueryContext(ctx, selectSession, id)
	if err != nil {
		return session.Snapshot{}, false, fmt.Errorf("querying session %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return session.Snapshot{}, false, rows.Err()
	}
	snap, err = scanSession(rows)
	if err != nil {
		return session.Snapshot{}, false, err
	}
	return snap, true, nil
}

func scanSession(rows *sql.Rows) (session.Snapshot, error) {
	var (
		sess                              models.ShutdownSession
		status                            string
		endTime                           sql.NullTime
		completedBy, abortedBy, abortNote sql.NullString
		blob                              []byte
	)
	if err := rows.Scan(&sess.ID, &sess.PlantID, &status, &sess.StartTime, &endTime,
		&sess.InitiatedBy, &completedBy, &abortedBy, &abortNote,
		&sess.CurrentStep, &sess.TotalSteps, &blob); err != nil {
		return session.Snapshot{}, fmt.Errorf("scanning session: %w", err)
	}
	sess.Status = models.SessionStatus(status)
	if endTime.Valid {
		t := endTime.Time
		sess.EndTime = &t
	}
	sess.CompletedBy = completedBy.String
	sess.AbortedBy = abortedBy.String
	sess.AbortReason = abortNote.String

	snap := session.Snapshot{Session: sess}
	if len(blob) > 0 {
		var p sequencer.Progress
		if err := msgpack.Unmarshal(blob, &p); err != nil {
			return session.Snapshot{}, fmt.Errorf("decoding progress of session %s: %w", sess.ID, err)
		}
		snap.Progress = &p
	}
	return snap, nil
}

const insertOverride = `
INSERT INTO override_records (
	id, session_id, step_number, requested_by, executed_by, authorized_by, reason, denial, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING`

// SaveOverride appends an override record. Records are never updated.
func (s *SQLStore) SaveOverride(ctx context.Context, r models.OverrideRecord) error {
	return saveOverride(ctx, s.db, r)
}

func saveOverride(ctx context.Context, ex execer, r models.OverrideRecord) error {
	_, err := ex.ExecContext(ctx, insertOverride,
		r.ID, r.SessionID, r.StepNumber, r.RequestedBy,
		nullString(r.ExecutedBy), nullString(r.AuthorizedBy),
		r.Reason, nullString(r.Denial), r.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving override %s: %w", r.ID, err)
	}
	return nil
}

const selectOverrides = `
SELECT id, session_id, step_number, requested_by, executed_by, authorized_by, reason, denial, created_at
FROM override_records
WHERE session_id = $1
ORDER BY created_at, id`

// ListOverrides returns a session's override records, oldest first.
func (s *SQLStore) ListOverrides(ctx context.Context, sessionID string) ([]models.OverrideRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectOverrides, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying overrides: %w", err)
	}
	defer rows.Close()

	var out []models.OverrideRecord
	for rows.Next() {
		var (
			r                          models.OverrideRecord
			executed, authorized, deny sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.StepNumber, &r.RequestedBy,
			&executed, &authorized, &r.Reason, &deny, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning override: %w", err)
		}
		r.ExecutedBy = executed.String
		r.AuthorizedBy = authorized.String
		r.Denial = deny.String
		out = append(out, r)
	}
	return out, rows.Err()
}

const insertAudit = `
INSERT INTO audit_events (
	id, occurred_at, actor, action, session_id, plant_id, step_number, payload, integrity_sha256
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

// Record implements session.AuditSink.
func (s *SQLStore) Record(ctx context.Context, event models.AuditEvent) error {
	return s.record(ctx, s.db, event)
}

func (s *SQLStore) record(ctx context.Context, ex execer, event models.AuditEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}
	payload, integrity, err := seal(event)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, insertAudit,
		s.newID(), event.OccurredAt.UTC(), event.Actor, string(event.Action),
		event.SessionID, event.PlantID, event.StepNumber, string(payload), integrity,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

const selectAudit = `
SELECT id, payload, integrity_sha256
FROM audit_events
WHERE session_id = $1
ORDER BY occurred_at, id`

// AuditTrail returns a session's audit events, oldest first, each re-verified
// against its stored integrity hash.
func (s *SQLStore) AuditTrail(ctx context.Context, sessionID string) ([]AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectAudit, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			rec     AuditRecord
			payload string
		)
		if err := rows.Scan(&rec.ID, &payload, &rec.Integrity); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		rec.Event, rec.Verified = open([]byte(payload), rec.Integrity)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
