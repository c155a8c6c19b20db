package session

import (
	"context"
	"strings"

	"github.com/looplab/fsm"

	"github.com/turbine-shutdown/backend/internal/models"
)

const (
	eventBegin    = "begin"
	eventComplete = "complete"
	eventAbort    = "abort"
)

var lifecycleEvents = fsm.Events{
	{Name: eventBegin, Src: []string{string(models.SessionStatusPending)}, Dst: string(models.SessionStatusInProgress)},
	{Name: eventComplete, Src: []string{string(models.SessionStatusInProgress)}, Dst: string(models.SessionStatusCompleted)},
	{
		Name: eventAbort,
		Src:  []string{string(models.SessionStatusPending), string(models.SessionStatusInProgress)},
		Dst:  string(models.SessionStatusAborted),
	},
}

// nextStatus returns the status the lifecycle moves to on event, without
// touching the session. Completed and aborted have no outgoing transitions.
func nextStatus(ctx context.Context, sess models.ShutdownSession, event string) (models.SessionStatus, error) {
	machine := fsm.NewFSM(string(sess.Status), lifecycleEvents, fsm.Callbacks{})
	if err := machine.Event(ctx, event); err != nil {
		return "", models.NewError(models.KindInvalidSessionState,
			"cannot %s a session that is %s", event, sess.Status).
			WithSession(sess.ID).
			WithConstraint("allowed from: " + allowedFrom(event)).
			Wrap(err)
	}
	return models.SessionStatus(machine.Current()), nil
}

func allowedFrom(event string) string {
	for _, e := range lifecycleEvents {
		if e.Name != event {
			continue
		}
		return strings.Join(e.Src, ", ")
	}
	return ""
}
