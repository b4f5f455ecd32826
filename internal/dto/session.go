package dto

import (
	"time"

	"github.com/noah-isme/sma-attendance-coordinator/internal/models"
)

// CreateSessionRequest schedules an attendance session for a class slot.
type CreateSessionRequest struct {
	ClassID        string    `json:"class_id" validate:"required"`
	Subject        string    `json:"subject" validate:"required,max=120"`
	ScheduledStart time.Time `json:"scheduled_start" validate:"required"`
	ScheduledEnd   time.Time `json:"scheduled_end" validate:"required,gtfield=ScheduledStart"`
}

// ListSessionsQuery holds query params for session listing.
type ListSessionsQuery struct {
	ClassID   string `form:"class_id"`
	Status    string `form:"status"`
	From      string `form:"from"`
	To        string `form:"to"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
	SortBy    string `form:"sort_by"`
	SortOrder string `form:"sort_order"`
}

// SessionAttendanceReport is the attendance of one session with its summary.
type SessionAttendanceReport struct {
	Session models.Session                  `json:"session"`
	Summary models.AttendanceSummary        `json:"summary"`
	Records []models.AttendanceRecordDetail `json:"records"`
}

// ExportFile is a rendered report ready for download.
type ExportFile struct {
	Filename    string
	ContentType string
	Content     []byte
}
