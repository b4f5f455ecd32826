package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-coordinator/internal/dto"
	"github.com/noah-isme/sma-attendance-coordinator/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-coordinator/pkg/errors"
	"github.com/noah-isme/sma-attendance-coordinator/pkg/export"
)

type sessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error)
}

type attendanceReportRepository interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecordDetail, error)
}

type tableRenderer interface {
	Render(table export.Table) ([]byte, error)
}

// SessionService schedules sessions and reports their attendance.
type SessionService struct {
	sessions  sessionRepository
	records   attendanceReportRepository
	validator *validator.Validate
	renderers map[export.Format]tableRenderer
	logger    *zap.Logger
}

// NewSessionService constructs the session service.
func NewSessionService(sessions sessionRepository, records attendanceReportRepository, validate *validator.Validate, logger *zap.Logger) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessions:  sessions,
		records:   records,
		validator: validate,
		renderers: map[export.Format]tableRenderer{
			export.FormatCSV: export.NewCSVExporter(),
			export.FormatPDF: export.NewPDFExporter(),
		},
		logger: logger,
	}
}

// Create schedules a new session.
func (s *SessionService) Create(ctx context.Context, req dto.CreateSessionRequest, createdBy string) (*models.Session, error) {
	req.ClassID = strings.TrimSpace(req.ClassID)
	req.Subject = strings.TrimSpace(req.Subject)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}

	session := &models.Session{
		ClassID:        req.ClassID,
		Subject:        req.Subject,
		ScheduledStart: req.ScheduledStart.UTC(),
		ScheduledEnd:   req.ScheduledEnd.UTC(),
		Status:         models.SessionStatusScheduled,
	}
	if createdBy != "" {
		session.CreatedBy = &createdBy
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	s.logger.Info("session scheduled", zap.String("session_id", session.ID), zap.String("class_id", session.ClassID))
	return session, nil
}

const (
	defaultSessionPageSize = 20
	maxSessionPageSize     = 200
)

// List returns sessions matching the query. The page size is clamped here so
// the pagination metadata matches the rows returned.
func (s *SessionService) List(ctx context.Context, query dto.ListSessionsQuery) ([]models.Session, *models.Pagination, error) {
	filter := models.SessionFilter{
		ClassID:   strings.TrimSpace(query.ClassID),
		Page:      query.Page,
		PageSize:  query.PageSize,
		SortBy:    query.SortBy,
		SortOrder: query.SortOrder,
	}
	if query.Status != "" {
		status := models.SessionStatus(strings.ToUpper(query.Status))
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid status filter")
		}
		filter.Status = &status
	}
	var err error
	if filter.From, err = parseDateParam(query.From); err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid from date")
	}
	if filter.To, err = parseDateParam(query.To); err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid to date")
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = defaultSessionPageSize
	}
	if filter.PageSize > maxSessionPageSize {
		filter.PageSize = maxSessionPageSize
	}

	sessions, total, err := s.sessions.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a session by id.
func (s *SessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// AttendanceReport returns the recorded attendance of a session.
func (s *SessionService) AttendanceReport(ctx context.Context, id string) (*dto.SessionAttendanceReport, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := s.records.ListBySession(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}
	if records == nil {
		records = []models.AttendanceRecordDetail{}
	}
	return &dto.SessionAttendanceReport{
		Session: *session,
		Summary: models.Summarize(id, records),
		Records: records,
	}, nil
}

// ExportAttendance renders the attendance report in the requested format.
func (s *SessionService) ExportAttendance(ctx context.Context, id, format string) (*dto.ExportFile, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported export format")
	}
	report, err := s.AttendanceReport(ctx, id)
	if err != nil {
		return nil, err
	}

	content, err := s.renderers[f].Render(attendanceTable(report))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render attendance export")
	}
	return &dto.ExportFile{
		Filename:    fmt.Sprintf("attendance_%s_%s.%s", report.Session.ClassID, report.Session.ScheduledStart.Format("20060102_1504"), f.Extension()),
		ContentType: f.ContentType(),
		Content:     content,
	}, nil
}

func attendanceTable(report *dto.SessionAttendanceReport) export.Table {
	session := report.Session
	summary := report.Summary
	table := export.Table{
		Title: fmt.Sprintf("Attendance %s", session.Subject),
		Meta: []string{
			fmt.Sprintf("Class: %s", session.ClassID),
			fmt.Sprintf("Scheduled: %s - %s", session.ScheduledStart.Format(time.RFC3339), session.ScheduledEnd.Format(time.RFC3339)),
			fmt.Sprintf("Status: %s", session.Status),
			fmt.Sprintf("Present: %d  Face only: %d  Fingerprint only: %d", summary.Present, summary.FaceOnly, summary.FingerprintOnly),
		},
		Headers: []string{"Student ID", "Name", "Face Seen", "Face Confidence", "Fingerprint Seen", "Status"},
		Rows:    make([][]string, 0, len(report.Records)),
	}
	for _, rec := range report.Records {
		name := ""
		if rec.StudentName != nil {
			name = *rec.StudentName
		}
		confidence := ""
		if rec.FaceConfidence != nil {
			confidence = strconv.Itoa(*rec.FaceConfidence) + "%"
		}
		table.Rows = append(table.Rows, []string{
			strconv.FormatInt(rec.StudentID, 10),
			name,
			formatTimePtr(rec.FaceSeenAt),
			confidence,
			formatTimePtr(rec.FingerprintSeenAt),
			string(rec.Status),
		})
	}
	return table
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("15:04:05")
}

func parseDateParam(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
