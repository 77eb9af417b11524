// Package model defines the core data types shared by the scan pipeline.
package model

import "time"

// JobStatus represents the lifecycle state of a scan job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether a job in status s may move to next.
// Self-transitions on running are allowed so progress can be written.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusRunning || next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Job is one scan request and its progress.
type Job struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	City           string     `json:"city"`
	Category       string     `json:"category"`
	Status         JobStatus  `json:"status"`
	Progress       int        `json:"progress"`
	LeadsFound     int        `json:"leads_found"`
	RealLeadsCount int        `json:"real_leads_count"`
	DemoLeadsCount int        `json:"demo_leads_count"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// JobUpdate is a partial mutation of a job. Nil fields are left unchanged.
type JobUpdate struct {
	Status         *JobStatus
	Progress       *int
	LeadsFound     *int
	RealLeadsCount *int
	CompletedAt    *time.Time
	Error          *string
}
