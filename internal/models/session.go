// Package models contains domain types for the turbine shutdown engine.
package models

import "time"

// SessionStatus represents the lifecycle status of a shutdown session.
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusInProgress SessionStatus = "in-progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusAborted    SessionStatus = "aborted"
)

// Terminal reports whether no further transition is possible from s.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusAborted
}

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusPending, SessionStatusInProgress, SessionStatusCompleted, SessionStatusAborted:
		return true
	}
	return false
}

// ShutdownSession is one execution of the shutdown procedure for one plant.
type ShutdownSession struct {
	ID          string        `json:"id" msgpack:"id"`
	PlantID     int64         `json:"plantId" msgpack:"plantId"`
	StartTime   time.Time     `json:"startTime" msgpack:"startTime"`
	EndTime     *time.Time    `json:"endTime,omitempty" msgpack:"endTime,omitempty"`
	Status      SessionStatus `json:"status" msgpack:"status"`
	InitiatedBy string        `json:"initiatedBy" msgpack:"initiatedBy"`
	CompletedBy string        `json:"completedBy,omitempty" msgpack:"completedBy,omitempty"`
	AbortedBy   string        `json:"abortedBy,omitempty" msgpack:"abortedBy,omitempty"`
	AbortReason string        `json:"abortReason,omitempty" msgpack:"abortReason,omitempty"`
	CurrentStep int           `json:"currentStep" msgpack:"currentStep"` // 0 once the procedure is done
	TotalSteps  int           `json:"totalSteps" msgpack:"totalSteps"`
}

// NewShutdownSession creates a session in pending status.
func NewShutdownSession(id string, plantID int64, initiatedBy string, start time.Time, totalSteps int) *ShutdownSession {
	return &ShutdownSession{
		ID:          id,
		PlantID:     plantID,
		StartTime:   start,
		Status:      SessionStatusPending,
		InitiatedBy: initiatedBy,
		TotalSteps:  totalSteps,
	}
}
