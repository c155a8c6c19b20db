package models

import "time"

// AuditAction names what an audit event records.
type AuditAction string

const (
	AuditSessionStarted   AuditAction = "session.started"
	AuditSessionCompleted AuditAction = "session.completed"
	AuditSessionAborted   AuditAction = "session.aborted"
	AuditStepValidated    AuditAction = "step.validated"
	AuditStepBlocked      AuditAction = "step.blocked"
	AuditStepSignedOff    AuditAction = "step.signed_off"
	AuditOverrideGranted  AuditAction = "override.granted"
	AuditOverrideDenied   AuditAction = "override.denied"
)

// AuditEvent is handed to the audit sink for permanent storage.
type AuditEvent struct {
	OccurredAt time.Time          `json:"occurredAt"`
	Actor      string             `json:"actor"`
	Action     AuditAction        `json:"action"`
	SessionID  string             `json:"sessionId"`
	PlantID    int64              `json:"plantId"`
	StepNumber int                `json:"stepNumber,omitempty"`
	Results    []ValidationResult `json:"results,omitempty"`
	Override   *OverrideRecord    `json:"override,omitempty"`
	Signoff    *Signoff           `json:"signoff,omitempty"`
	Detail     string             `json:"detail,omitempty"`
}
