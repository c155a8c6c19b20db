package models

import "time"

// OverrideRecord is the audit trail of a request to bypass a failed step.
// AuthorizedBy is set only when the override was granted. Records are never deleted.
type OverrideRecord struct {
	ID           string    `json:"id" msgpack:"id"`
	SessionID    string    `json:"sessionId" msgpack:"sessionId"`
	StepNumber   int       `json:"stepNumber" msgpack:"stepNumber"`
	RequestedBy  string    `json:"requestedBy" msgpack:"requestedBy"`
	ExecutedBy   string    `json:"executedBy,omitempty" msgpack:"executedBy,omitempty"` // user whose attempt was blocked
	AuthorizedBy string    `json:"authorizedBy,omitempty" msgpack:"authorizedBy,omitempty"`
	Reason       string    `json:"reason" msgpack:"reason"`
	Denial       string    `json:"denial,omitempty" msgpack:"denial,omitempty"`
	Timestamp    time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Granted reports whether the override was authorized.
func (r OverrideRecord) Granted() bool {
	return r.AuthorizedBy != ""
}
