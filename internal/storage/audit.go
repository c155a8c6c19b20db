package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/turbine-shutdown/backend/internal/models"
)

func validateEvent(e models.AuditEvent) error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.Actor) == "" {
		return errors.New("Actor is required")
	}
	if strings.TrimSpace(string(e.Action)) == "" {
		return errors.New("Action is required")
	}
	if strings.TrimSpace(e.SessionID) == "" {
		return errors.New("SessionID is required")
	}
	return nil
}

// seal encodes the event and computes its integrity hash.
func seal(e models.AuditEvent) ([]byte, string, error) {
	e.OccurredAt = e.OccurredAt.UTC()
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, "", fmt.Errorf("marshal payload: %w", err)
	}
	integrity, err := ComputeIntegritySHA256(e, payload)
	if err != nil {
		return nil, "", err
	}
	return payload, integrity, nil
}

// open decodes a stored payload and reports whether it still matches its hash.
func open(payload []byte, integrity string) (models.AuditEvent, bool) {
	var e models.AuditEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return models.AuditEvent{}, false
	}
	want, err := ComputeIntegritySHA256(e, payload)
	if err != nil {
		return e, false
	}
	return e, want == integrity
}

// ComputeIntegritySHA256 hashes a canonical envelope of the event identity
// and its encoded payload.
func ComputeIntegritySHA256(e models.AuditEvent, payloadJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt time.Time       `json:"occurred_at"`
		Actor      string          `json:"actor"`
		Action     string          `json:"action"`
		SessionID  string          `json:"session_id"`
		PlantID    int64           `json:"plant_id"`
		StepNumber int             `json:"step_number,omitempty"`
		Payload    json.RawMessage `json:"payload"`
	}

	blob, err := json.Marshal(integrityInput{
		OccurredAt: e.OccurredAt.UTC(),
		Actor:      strings.TrimSpace(e.Actor),
		Action:     strings.TrimSpace(string(e.Action)),
		SessionID:  strings.TrimSpace(e.SessionID),
		PlantID:    e.PlantID,
		StepNumber: e.StepNumber,
		Payload:    payloadJSON,
	})
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
