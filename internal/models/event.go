package models

import "time"

// SessionEventType names a committed change pushed to live subscribers.
type SessionEventType string

const (
	EventSessionStarted   SessionEventType = "session:started"
	EventStepAdvanced     SessionEventType = "step:advanced"
	EventStepBlocked      SessionEventType = "step:blocked"
	EventStepSignedOff    SessionEventType = "step:signed_off"
	EventOverrideGranted  SessionEventType = "override:granted"
	EventOverrideDenied   SessionEventType = "override:denied"
	EventSessionCompleted SessionEventType = "session:completed"
	EventSessionAborted   SessionEventType = "session:aborted"
)

// SessionEvent is published after a session mutation commits.
type SessionEvent struct {
	Type      SessionEventType `json:"type" msgpack:"type"`
	SessionID string           `json:"sessionId" msgpack:"sessionId"`
	PlantID   int64            `json:"plantId" msgpack:"plantId"`
	Session   ShutdownSession  `json:"session" msgpack:"session"`
	Outcome   *AdvanceOutcome  `json:"outcome,omitempty" msgpack:"outcome,omitempty"`
	Override  *OverrideRecord  `json:"override,omitempty" msgpack:"override,omitempty"`
	Signoff   *Signoff         `json:"signoff,omitempty" msgpack:"signoff,omitempty"`
	Timestamp time.Time        `json:"timestamp" msgpack:"timestamp"`
}
