// Package session owns shutdown session lifecycles and serializes every
// mutation of a session behind its own lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turbine-shutdown/backend/internal/models"
	"github.com/turbine-shutdown/backend/internal/override"
	"github.com/turbine-shutdown/backend/internal/sequencer"
)

// DefaultFeedTimeout bounds the wait for a sensor snapshot.
const DefaultFeedTimeout = 2 * time.Second

// Options wires the manager's collaborators. Identity is required;
// the rest fall back to no-ops.
type Options struct {
	Feed        SensorFeed
	Identity    IdentityProvider
	Audit       AuditSink
	Repository  Repository
	Committer   Committer
	Publisher   Publisher
	Metrics     Recorder
	Logger      *zap.SugaredLogger
	FeedTimeout time.Duration
	Clock       func() time.Time
}

// Manager is the single entry point for session operations.
//
// Lock order: a session's mu is taken before m.mu, never the other way round.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	active   map[int64]string // plant -> non-terminal session id

	seq         *sequencer.Sequencer
	authority   *override.Authority
	feed        SensorFeed
	identity    IdentityProvider
	audit       AuditSink
	repo        Repository
	committer   Committer
	publisher   Publisher
	metrics     Recorder
	log         *zap.SugaredLogger
	feedTimeout time.Duration
	now         func() time.Time
	newID       func() string
}

// sessionState is one session's critical section.
type sessionState struct {
	mu        sync.Mutex
	session   models.ShutdownSession
	progress  *sequencer.Progress
	overrides []models.OverrideRecord
}

// NewManager creates a session manager.
func NewManager(seq *sequencer.Sequencer, authority *override.Authority, opts Options) (*Manager, error) {
	if seq == nil || authority == nil {
		return nil, errors.New("session manager requires a sequencer and an override authority")
	}
	if opts.Identity == nil {
		return nil, errors.New("session manager requires an identity provider")
	}
	m := &Manager{
		sessions:    make(map[string]*sessionState),
		active:      make(map[int64]string),
		seq:         seq,
		authority:   authority,
		feed:        opts.Feed,
		identity:    opts.Identity,
		audit:       opts.Audit,
		repo:        opts.Repository,
		committer:   opts.Committer,
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		feedTimeout: opts.FeedTimeout,
		now:         opts.Clock,
		newID:       func() string { return uuid.New().String() },
	}
	if m.feed == nil {
		m.feed = emptyFeed{}
	}
	if m.audit == nil {
		m.audit = nopAudit{}
	}
	if m.repo == nil {
		m.repo = nopRepository{}
	}
	if m.publisher == nil {
		m.publisher = nopPublisher{}
	}
	if m.metrics == nil {
		m.metrics = nopRecorder{}
	}
	if m.log == nil {
		m.log = zap.NewNop().Sugar()
	}
	if m.feedTimeout <= 0 {
		m.feedTimeout = DefaultFeedTimeout
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Start creates a session for the plant and moves it straight to in-progress.
func (m *Manager) Start(ctx context.Context, plantID int64, userID string) (models.ShutdownSession, error) {
	user, err := m.resolve(ctx, userID)
	if err != nil {
		return models.ShutdownSession{}, err
	}
	if user.Role.Level() == 0 {
		return models.ShutdownSession{}, models.NewError(models.KindInsufficientRole,
			"role %q cannot start a shutdown", user.Role).
			WithUser(user.ID).
			WithConstraint("requires operator or higher")
	}

	now := m.now()
	st := &sessionState{
		session:  *models.NewShutdownSession(m.newID(), plantID, user.ID, now, m.seq.Procedure().Len()),
		progress: sequencer.NewProgress(),
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := m.reserve(st); err != nil {
		return models.ShutdownSession{}, err
	}

	next := st.session
	status, err := nextStatus(ctx, next, eventBegin)
	if err != nil {
		m.release(st, true)
		return models.ShutdownSession{}, err
	}
	next.Status = status
	next.CurrentStep = st.progress.StepNumber()

	event := models.AuditEvent{
		OccurredAt: now,
		Actor:      user.ID,
		Action:     models.AuditSessionStarted,
		SessionID:  next.ID,
		PlantID:    plantID,
		StepNumber: next.CurrentStep,
	}
	if err := m.commitWrites(ctx, next, st.progress, nil, event); err != nil {
		m.release(st, true)
		return models.ShutdownSession{}, err
	}

	st.session = next
	m.metrics.SetActiveSessions(m.activeCount())
	m.publisher.Publish(models.SessionEvent{
		Type: models.EventSessionStarted, SessionID: next.ID, PlantID: plantID, Session: next, Timestamp: now,
	})
	m.log.Infow("Session started", "session", short(next.ID), "plant", plantID, "user", user.ID)
	return next, nil
}

// ValidateStep validates the current step against the feed snapshot merged
// with the submitted sample. Entries in sample take precedence.
func (m *Manager) ValidateStep(ctx context.Context, sessionID, userID string, sample map[string]models.SensorSample) (models.AdvanceOutcome, error) {
	user, err := m.resolve(ctx, userID)
	if err != nil {
		return models.AdvanceOutcome{}, err
	}
	st, err := m.lookupMutable(ctx, sessionID)
	if err != nil {
		return models.AdvanceOutcome{}, err
	}

	// Cheap rejections before any sensor I/O.
	st.mu.Lock()
	plantID := st.session.PlantID
	err = m.precheck(st, user)
	st.mu.Unlock()
	if err != nil {
		return models.AdvanceOutcome{}, err
	}

	snapshot, err := m.fetch(ctx, plantID)
	if err != nil {
		return models.AdvanceOutcome{}, models.NewError(models.KindSensorUnavailable,
			"sensor feed for plant %d failed", plantID).
			WithSession(sessionID).
			Wrap(err)
	}
	for param, s := range sample {
		if s.Parameter == "" {
			s.Parameter = param
		}
		snapshot[param] = s
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := m.requireInProgress(st); err != nil {
		return models.AdvanceOutcome{}, err
	}

	now := m.now()
	progress := st.progress.Clone()
	outcome, err := m.seq.AttemptAdvance(progress, user, snapshot, now)
	if err != nil {
		var de *models.Error
		if errors.As(err, &de) {
			de.WithSession(sessionID)
		}
		return models.AdvanceOutcome{}, err
	}
	if outcome.Kind == models.OutcomeAlreadyDone {
		return outcome, nil
	}

	next := st.session
	next.CurrentStep = m.cursor(progress)

	action := models.AuditStepValidated
	if outcome.Kind == models.OutcomeBlocked {
		action = models.AuditStepBlocked
	}
	events := []models.AuditEvent{{
		OccurredAt: now,
		Actor:      user.ID,
		Action:     action,
		SessionID:  sessionID,
		PlantID:    plantID,
		StepNumber: outcome.StepNumber,
		Results:    outcome.Results,
	}}
	if outcome.Done {
		completed, err := m.complete(ctx, next, user.ID, now)
		if err != nil {
			return models.AdvanceOutcome{}, err
		}
		next = completed
		events = append(events, completionEvent(next, now))
	}

	if err := m.commitWrites(ctx, next, progress, nil, events...); err != nil {
		return models.AdvanceOutcome{}, err
	}

	st.session = next
	st.progress = progress
	m.metrics.ObserveValidation(outcome.Kind)
	m.afterAdvance(st, outcome, nil, now)

	if outcome.Kind == models.OutcomeBlocked {
		m.log.Infow("Step blocked", "session", short(sessionID), "step", outcome.StepNumber,
			"failures", len(outcome.Results)-countValid(outcome.Results), "missingSignoffs", len(outcome.MissingSignoffs))
	} else {
		m.log.Infow("Step advanced", "session", short(sessionID), "step", outcome.StepNumber, "done", outcome.Done)
	}
	return outcome, nil
}

// RequestOverride asks to bypass the current, blocked step. The returned
// outcome carries the granted OverrideRecord. Denied requests are recorded
// and audited before the denial is returned.
func (m *Manager) RequestOverride(ctx context.Context, sessionID, userID, reason string) (models.AdvanceOutcome, error) {
	user, err := m.resolve(ctx, userID)
	if err != nil {
		return models.AdvanceOutcome{}, err
	}
	st, err := m.lookupMutable(ctx, sessionID)
	if err != nil {
		return models.AdvanceOutcome{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := m.requireInProgress(st); err != nil {
		return models.AdvanceOutcome{}, err
	}
	step, err := m.seq.CurrentStep(st.progress)
	if err != nil {
		return models.AdvanceOutcome{}, err
	}

	var executor string
	if b := st.progress.LastBlocked; b != nil && b.StepNumber == step.StepNumber {
		executor = b.UserID
	}

	now := m.now()
	record, authErr := m.authority.Authorize(override.Request{
		SessionID: sessionID,
		Step:      step,
		Requester: user,
		Executor:  executor,
		Reason:    reason,
		At:        now,
	})

	if authErr != nil {
		event := models.AuditEvent{
			OccurredAt: now,
			Actor:      user.ID,
			Action:     models.AuditOverrideDenied,
			SessionID:  sessionID,
			PlantID:    st.session.PlantID,
			StepNumber: step.StepNumber,
			Override:   &record,
			Detail:     record.Denial,
		}
		if err := m.recordOverride(ctx, record, event); err != nil {
			return models.AdvanceOutcome{}, err
		}
		st.overrides = append(st.overrides, record)
		m.metrics.ObserveOverride(false)
		m.publisher.Publish(models.SessionEvent{
			Type: models.EventOverrideDenied, SessionID: sessionID, PlantID: st.session.PlantID,
			Session: st.session, Override: &record, Timestamp: now,
		})
		m.log.Warnw("Override denied", "session", short(sessionID), "step", step.StepNumber,
			"requester", user.ID, "reason", record.Denial)
		return models.AdvanceOutcome{}, authErr
	}

	progress := st.progress.Clone()
	outcome, err := m.seq.ForceAdvance(progress, record)
	if err != nil {
		return models.AdvanceOutcome{}, err
	}

	next := st.session
	next.CurrentStep = m.cursor(progress)
	events := []models.AuditEvent{{
		OccurredAt: now,
		Actor:      user.ID,
		Action:     models.AuditOverrideGranted,
		SessionID:  sessionID,
		PlantID:    next.PlantID,
		StepNumber: step.StepNumber,
		Results:    outcome.Results,
		Override:   &record,
		Detail:     record.Reason,
	}}
	if outcome.Done {
		completed, err := m.complete(ctx, next, user.ID, now)
		if err != nil {
			return models.AdvanceOutcome{}, err
		}
		next = completed
		events = append(events, completionEvent(next, now))
	}

	if err := m.commitWrites(ctx, next, progress, &record, events...); err != nil {
		return models.AdvanceOutcome{}, err
	}

	st.session = next
	st.progress = progress
	st.overrides = append(st.overrides, record)
	m.metrics.ObserveOverride(true)
	m.afterAdvance(st, outcome, &record, now)
	m.log.Warnw("Override granted", "session", short(sessionID), "step", step.StepNumber,
		"authorizedBy", record.AuthorizedBy, "executedBy", record.ExecutedBy)
	return outcome, nil
}

// Signoff records the user's acknowledgement of an interaction of the current step.
func (m *Manager) Signoff(ctx context.Context, sessionID, userID string, interaction int, response string) (models.Signoff, error) {
	user, err := m.resolve(ctx, userID)
	if err != nil {
		return models.Signoff{}, err
	}
	st, err := m.lookupMutable(ctx, sessionID)
	if err != nil {
		return models.Signoff{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := m.requireInProgress(st); err != nil {
		return models.Signoff{}, err
	}

	now := m.now()
	progress := st.progress.Clone()
	signoff, err := m.seq.Signoff(progress, user, interaction, response, now)
	if err != nil {
		var de *models.Error
		if errors.As(err, &de) {
			de.WithSession(sessionID)
		}
		return models.Signoff{}, err
	}

	event := models.AuditEvent{
		OccurredAt: now,
		Actor:      user.ID,
		Action:     models.AuditStepSignedOff,
		SessionID:  sessionID,
		PlantID:    st.session.PlantID,
		StepNumber: signoff.StepNumber,
		Signoff:    &signoff,
	}
	if err := m.commitWrites(ctx, st.session, progress, nil, event); err != nil {
		return models.Signoff{}, err
	}

	st.progress = progress
	m.publisher.Publish(models.SessionEvent{
		Type: models.EventStepSignedOff, SessionID: sessionID, PlantID: st.session.PlantID,
		Session: st.session, Signoff: &signoff, Timestamp: now,
	})
	m.log.Infow("Step signed off", "session", short(sessionID), "step", signoff.StepNumber,
		"interaction", interaction, "user", user.ID)
	return signoff, nil
}

// Abort ends a non-terminal session. Terminal sessions stay terminal.
func (m *Manager) Abort(ctx context.Context, sessionID, userID, reason string) (models.ShutdownSession, error) {
	user, err := m.resolve(ctx, userID)
	if err != nil {
		return models.ShutdownSession{}, err
	}
	if user.Role.Level() == 0 {
		return models.ShutdownSession{}, models.NewError(models.KindInsufficientRole,
			"role %q cannot abort a shutdown", user.Role).
			WithSession(sessionID).
			WithUser(user.ID).
			WithConstraint("requires operator or higher")
	}
	st, err := m.lookupMutable(ctx, sessionID)
	if err != nil {
		return models.ShutdownSession{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	status, err := nextStatus(ctx, st.session, eventAbort)
	if err != nil {
		return models.ShutdownSession{}, err
	}

	now := m.now()
	next := st.session
	next.Status = status
	next.EndTime = &now
	next.AbortedBy = user.ID
	next.AbortReason = reason

	event := models.AuditEvent{
		OccurredAt: now,
		Actor:      user.ID,
		Action:     models.AuditSessionAborted,
		SessionID:  sessionID,
		PlantID:    next.PlantID,
		StepNumber: next.CurrentStep,
		Detail:     reason,
	}
	if err := m.commitWrites(ctx, next, st.progress, nil, event); err != nil {
		return models.ShutdownSession{}, err
	}

	st.session = next
	m.release(st, false)
	m.metrics.ObserveSessionEnd(next.Status)
	m.metrics.SetActiveSessions(m.activeCount())
	m.publisher.Publish(models.SessionEvent{
		Type: models.EventSessionAborted, SessionID: sessionID, PlantID: next.PlantID, Session: next, Timestamp: now,
	})
	m.log.Warnw("Session aborted", "session", short(sessionID), "plant", next.PlantID, "user", user.ID, "reason", reason)
	return next, nil
}

// Get returns a copy of the session.
func (m *Manager) Get(sessionID string) (models.ShutdownSession, error) {
	st, err := m.lookup(sessionID)
	if err != nil {
		return models.ShutdownSession{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session, nil
}

// ActiveSession returns the non-terminal session of a plant, if any.
func (m *Manager) ActiveSession(plantID int64) (models.ShutdownSession, bool) {
	m.mu.RLock()
	id, ok := m.active[plantID]
	m.mu.RUnlock()
	if !ok {
		return models.ShutdownSession{}, false
	}
	sess, err := m.Get(id)
	return sess, err == nil
}

// CurrentStep returns the step the session is on. Completed sessions return OutOfRange.
func (m *Manager) CurrentStep(sessionID string) (models.StepDefinition, error) {
	st, err := m.lookup(sessionID)
	if err != nil {
		return models.StepDefinition{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	step, err := m.seq.CurrentStep(st.progress)
	if err != nil {
		var de *models.Error
		if errors.As(err, &de) {
			de.WithSession(sessionID)
		}
		return models.StepDefinition{}, err
	}
	return step, nil
}

// Overrides returns every override record of the session, granted or denied,
// oldest first. Sessions no longer held in memory are read from the repository.
func (m *Manager) Overrides(ctx context.Context, sessionID string) ([]models.OverrideRecord, error) {
	st, err := m.lookup(sessionID)
	if err != nil {
		if !errors.Is(err, models.ErrSessionNotFound) {
			return nil, err
		}
		records, rerr := m.repo.ListOverrides(ctx, sessionID)
		if rerr != nil {
			return nil, models.NewError(models.KindPersistenceFailed, "listing overrides").
				WithSession(sessionID).Wrap(rerr)
		}
		if len(records) == 0 {
			return nil, err
		}
		return records, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]models.OverrideRecord(nil), st.overrides...), nil
}

// Restore rehydrates non-terminal sessions from the repository.
// It must run before the manager serves requests.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	snaps, err := m.repo.LoadActive(ctx)
	if err != nil {
		return 0, models.NewError(models.KindPersistenceFailed, "loading active sessions").Wrap(err)
	}

	restored := 0
	for _, snap := range snaps {
		if snap.Session.Status.Terminal() {
			continue
		}
		progress := snap.Progress
		if progress == nil {
			progress = sequencer.NewProgress()
			progress.Index = max(snap.Session.CurrentStep-1, 0)
		}
		records, err := m.repo.ListOverrides(ctx, snap.Session.ID)
		if err != nil {
			return restored, models.NewError(models.KindPersistenceFailed, "listing overrides").
				WithSession(snap.Session.ID).Wrap(err)
		}

		st := &sessionState{session: snap.Session, progress: progress, overrides: records}
		m.mu.Lock()
		if other, ok := m.active[snap.Session.PlantID]; ok && other != snap.Session.ID {
			m.mu.Unlock()
			m.log.Errorw("Skipping session: plant already has an active session",
				"session", short(snap.Session.ID), "plant", snap.Session.PlantID, "active", short(other))
			continue
		}
		m.sessions[snap.Session.ID] = st
		m.active[snap.Session.PlantID] = snap.Session.ID
		m.mu.Unlock()
		restored++
	}

	m.metrics.SetActiveSessions(m.activeCount())
	if restored > 0 {
		m.log.Infow("Restored sessions", "count", restored)
	}
	return restored, nil
}

// CleanupTerminalSessions drops completed and aborted sessions that ended
// more than maxAge ago from memory. Their records remain in the repository.
func (m *Manager) CleanupTerminalSessions(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.RLock()
	candidates := make([]*sessionState, 0, len(m.sessions))
	for _, st := range m.sessions {
		candidates = append(candidates, st)
	}
	m.mu.RUnlock()

	removed := 0
	for _, st := range candidates {
		st.mu.Lock()
		sess := st.session
		if sess.Status.Terminal() && sess.EndTime != nil && sess.EndTime.Before(cutoff) {
			m.mu.Lock()
			delete(m.sessions, sess.ID)
			m.mu.Unlock()
			removed++
			m.log.Debugw("Cleaned up terminal session", "session", short(sess.ID), "status", sess.Status)
		}
		st.mu.Unlock()
	}
	return removed
}

// RunCleanup calls CleanupTerminalSessions every interval until ctx is done.
func (m *Manager) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.CleanupTerminalSessions(maxAge); n > 0 {
				m.log.Infow("Cleaned up terminal sessions", "count", n)
			}
		}
	}
}

// List returns copies of the sessions held in memory, newest first.
func (m *Manager) List() []models.ShutdownSession {
	m.mu.RLock()
	states := make([]*sessionState, 0, len(m.sessions))
	for _, st := range m.sessions {
		states = append(states, st)
	}
	m.mu.RUnlock()

	out := make([]models.ShutdownSession, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, st.session)
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

func (m *Manager) resolve(ctx context.Context, userID string) (models.User, error) {
	if userID == "" {
		return models.User{}, models.NewError(models.KindUserNotFound, "no user id supplied")
	}
	user, err := m.identity.Resolve(ctx, userID)
	if err != nil {
		if models.KindOf(err) != "" {
			return models.User{}, err
		}
		return models.User{}, models.NewError(models.KindUserNotFound, "resolving user %s", userID).
			WithUser(userID).Wrap(err)
	}
	if !user.IsActive {
		return models.User{}, models.NewError(models.KindUserInactive, "user %s is inactive", userID).
			WithUser(userID)
	}
	return user, nil
}

func (m *Manager) lookup(sessionID string) (*sessionState, error) {
	m.mu.RLock()
	st, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, models.NewError(models.KindSessionNotFound, "session %s not found", sessionID).
			WithSession(sessionID)
	}
	return st, nil
}

// lookupMutable resolves a session a caller intends to change. A session
// that ended and has left memory is read from the repository so it keeps
// rejecting changes with InvalidSessionState.
func (m *Manager) lookupMutable(ctx context.Context, sessionID string) (*sessionState, error) {
	st, err := m.lookup(sessionID)
	if err == nil {
		return st, nil
	}
	snap, found, rerr := m.repo.LoadSession(ctx, sessionID)
	if rerr != nil {
		return nil, models.NewError(models.KindPersistenceFailed, "loading session %s", sessionID).
			WithSession(sessionID).Wrap(rerr)
	}
	if !found || !snap.Session.Status.Terminal() {
		return nil, err
	}
	return nil, models.NewError(models.KindInvalidSessionState,
		"session %s is %s", sessionID, snap.Session.Status).
		WithSession(sessionID).
		WithConstraint("requires " + string(models.SessionStatusInProgress))
}

// reserve indexes st under its plant. Caller holds st.mu.
func (m *Manager) reserve(st *sessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	plantID := st.session.PlantID
	if id, ok := m.active[plantID]; ok {
		return models.NewError(models.KindAlreadyActive,
			"plant %d already has an active shutdown session %s", plantID, id).
			WithSession(id).
			WithConstraint("one active session per plant")
	}
	m.sessions[st.session.ID] = st
	m.active[plantID] = st.session.ID
	return nil
}

// release removes st from the plant index, and from the session index when
// forget is set. Caller holds st.mu.
func (m *Manager) release(st *sessionState, forget bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[st.session.PlantID] == st.session.ID {
		delete(m.active, st.session.PlantID)
	}
	if forget {
		delete(m.sessions, st.session.ID)
	}
}

func (m *Manager) activeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

func (m *Manager) requireInProgress(st *sessionState) error {
	if st.session.Status == models.SessionStatusInProgress {
		return nil
	}
	return models.NewError(models.KindInvalidSessionState,
		"session %s is %s", st.session.ID, st.session.Status).
		WithSession(st.session.ID).
		WithConstraint("requires " + string(models.SessionStatusInProgress))
}

// precheck rejects calls that would fail regardless of the sensor snapshot.
func (m *Manager) precheck(st *sessionState, user models.User) error {
	if err := m.requireInProgress(st); err != nil {
		return err
	}
	step, err := m.seq.CurrentStep(st.progress)
	if err != nil {
		return err
	}
	if !user.Role.Satisfies(step.RequiredRole) {
		return models.NewError(models.KindInsufficientRole,
			"role %q cannot execute step %d", user.Role, step.StepNumber).
			WithSession(st.session.ID).
			WithStep(step.StepNumber).
			WithUser(user.ID).
			WithConstraint(fmt.Sprintf("requires %s or higher", step.RequiredRole))
	}
	return nil
}

// fetch reads the feed with a bounded wait. A deadline yields an empty snapshot.
func (m *Manager) fetch(ctx context.Context, plantID int64) (map[string]models.SensorSample, error) {
	fctx, cancel := context.WithTimeout(ctx, m.feedTimeout)
	defer cancel()

	start := time.Now()
	snapshot, err := m.feed.CurrentSample(fctx, plantID)
	m.metrics.ObserveFeedLatency(time.Since(start))

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			m.log.Warnw("Sensor feed timed out", "plant", plantID, "timeout", m.feedTimeout)
			return make(map[string]models.SensorSample), nil
		}
		return nil, err
	}

	out := make(map[string]models.SensorSample, len(snapshot))
	for k, v := range snapshot {
		out[k] = v
	}
	return out, nil
}

func (m *Manager) complete(ctx context.Context, sess models.ShutdownSession, userID string, at time.Time) (models.ShutdownSession, error) {
	status, err := nextStatus(ctx, sess, eventComplete)
	if err != nil {
		return models.ShutdownSession{}, err
	}
	sess.Status = status
	sess.EndTime = &at
	sess.CompletedBy = userID
	sess.CurrentStep = 0
	return sess, nil
}

// commitWrites stores the operation's audit events, override record and
// session. With a Committer they land in one unit; otherwise it audits
// first, then persists. Nothing is committed in memory unless all succeed.
func (m *Manager) commitWrites(ctx context.Context, sess models.ShutdownSession, progress *sequencer.Progress, record *models.OverrideRecord, events ...models.AuditEvent) error {
	if m.committer != nil {
		return m.commit(ctx, sess.ID, Commit{
			Events:   events,
			Override: record,
			Snapshot: &Snapshot{Session: sess, Progress: progress},
		})
	}
	for _, ev := range events {
		if err := m.audit.Record(ctx, ev); err != nil {
			m.log.Errorw("Audit write failed", "session", short(sess.ID), "action", ev.Action, "error", err)
			return models.NewError(models.KindAuditFailed, "recording %s", ev.Action).
				WithSession(sess.ID).WithStep(ev.StepNumber).Wrap(err)
		}
	}
	if record != nil {
		if err := m.repo.SaveOverride(ctx, *record); err != nil {
			m.log.Errorw("Saving override failed", "session", short(sess.ID), "error", err)
			return models.NewError(models.KindPersistenceFailed, "saving override record").
				WithSession(sess.ID).WithStep(record.StepNumber).Wrap(err)
		}
	}
	if err := m.repo.SaveSession(ctx, Snapshot{Session: sess, Progress: progress}); err != nil {
		m.log.Errorw("Saving session failed", "session", short(sess.ID), "error", err)
		return models.NewError(models.KindPersistenceFailed, "saving session").
			WithSession(sess.ID).Wrap(err)
	}
	return nil
}

func (m *Manager) recordOverride(ctx context.Context, record models.OverrideRecord, event models.AuditEvent) error {
	if m.committer != nil {
		return m.commit(ctx, record.SessionID, Commit{Events: []models.AuditEvent{event}, Override: &record})
	}
	if err := m.audit.Record(ctx, event); err != nil {
		return models.NewError(models.KindAuditFailed, "recording %s", event.Action).
			WithSession(record.SessionID).WithStep(record.StepNumber).Wrap(err)
	}
	if err := m.repo.SaveOverride(ctx, record); err != nil {
		return models.NewError(models.KindPersistenceFailed, "saving override record").
			WithSession(record.SessionID).WithStep(record.StepNumber).Wrap(err)
	}
	return nil
}

func (m *Manager) commit(ctx context.Context, sessionID string, c Commit) error {
	err := m.committer.Commit(ctx, c)
	if err == nil {
		return nil
	}
	m.log.Errorw("Commit failed", "session", short(sessionID), "events", len(c.Events), "error", err)
	if models.KindOf(err) != "" {
		return err
	}
	return models.NewError(models.KindPersistenceFailed, "committing session changes").
		WithSession(sessionID).Wrap(err)
}

// afterAdvance publishes the committed outcome. Caller holds st.mu.
func (m *Manager) afterAdvance(st *sessionState, outcome models.AdvanceOutcome, record *models.OverrideRecord, at time.Time) {
	sess := st.session
	typ := models.EventStepAdvanced
	switch {
	case record != nil:
		typ = models.EventOverrideGranted
	case outcome.Kind == models.OutcomeBlocked:
		typ = models.EventStepBlocked
	}
	m.publisher.Publish(models.SessionEvent{
		Type: typ, SessionID: sess.ID, PlantID: sess.PlantID, Session: sess,
		Outcome: &outcome, Override: record, Timestamp: at,
	})

	if sess.Status == models.SessionStatusCompleted {
		m.release(st, false)
		m.metrics.ObserveSessionEnd(sess.Status)
		m.metrics.SetActiveSessions(m.activeCount())
		m.publisher.Publish(models.SessionEvent{
			Type: models.EventSessionCompleted, SessionID: sess.ID, PlantID: sess.PlantID, Session: sess, Timestamp: at,
		})
		m.log.Infow("Session completed", "session", short(sess.ID), "plant", sess.PlantID, "completedBy", sess.CompletedBy)
	}
}

func (m *Manager) cursor(p *sequencer.Progress) int {
	if m.seq.Done(p) {
		return 0
	}
	return p.StepNumber()
}

func completionEvent(sess models.ShutdownSession, at time.Time) models.AuditEvent {
	return models.AuditEvent{
		OccurredAt: at,
		Actor:      sess.CompletedBy,
		Action:     models.AuditSessionCompleted,
		SessionID:  sess.ID,
		PlantID:    sess.PlantID,
	}
}

func countValid(results []models.ValidationResult) int {
	n := 0
	for _, r := range results {
		if r.Valid {
			n++
		}
	}
	return n
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
