package models

import "time"

// SessionStatus captures the lifecycle of an attendance session.
type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "SCHEDULED"
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusClosed    SessionStatus = "CLOSED"
)

// Valid returns true when the status is a supported value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusScheduled, SessionStatusActive, SessionStatusClosed:
		return true
	default:
		return false
	}
}

// Session is a scheduled class slot during which biometric attendance is taken.
type Session struct {
	ID             string        `db:"id" json:"id"`
	ClassID        string        `db:"class_id" json:"class_id"`
	Subject        string        `db:"subject" json:"subject"`
	ScheduledStart time.Time     `db:"scheduled_start" json:"scheduled_start"`
	ScheduledEnd   time.Time     `db:"scheduled_end" json:"scheduled_end"`
	ActualStart    *time.Time    `db:"actual_start" json:"actual_start,omitempty"`
	ActualEnd      *time.Time    `db:"actual_end" json:"actual_end,omitempty"`
	Status         SessionStatus `db:"status" json:"status"`
	CreatedBy      *string       `db:"created_by" json:"created_by,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// SessionFilter describes query params for listing sessions.
type SessionFilter struct {
	ClassID   string
	Status    *SessionStatus
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
