package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-coordinator/internal/models"
)

// ErrStaleSession is returned when a conditional status update matched no row,
// meaning the stored session was not in the expected state.
var ErrStaleSession = errors.New("session not in expected state")

const sessionColumns = `id, class_id, subject, scheduled_start, scheduled_end, actual_start, actual_end, status, created_by, created_at, updated_at`

// SessionRepository persists attendance sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a scheduled session.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	now := time.Now().UTC()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Status == "" {
		session.Status = models.SessionStatusScheduled
	}
	session.CreatedAt = now
	session.UpdatedAt = now
	query := `INSERT INTO attendance_sessions (id, class_id, subject, scheduled_start, scheduled_end, status, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := r.db.ExecContext(ctx, query, session.ID, session.ClassID, session.Subject, session.ScheduledStart, session.ScheduledEnd, session.Status, session.CreatedBy, session.CreatedAt, session.UpdatedAt); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns a session by id.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	query := `SELECT ` + sessionColumns + ` FROM attendance_sessions WHERE id = $1`
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns sessions filtered by class, status and scheduled window.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.ClassID != "" {
		where = append(where, fmt.Sprintf("class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.From != nil {
		where = append(where, fmt.Sprintf("scheduled_start >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		where = append(where, fmt.Sprintf("scheduled_start <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	whereClause := strings.Join(where, " AND ")

	allowedSort := map[string]string{
		"scheduled_start": "scheduled_start",
		"created_at":      "created_at",
		"subject":         "subject",
	}
	column, ok := allowedSort[filter.SortBy]
	if !ok {
		column = "scheduled_start"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	if size > 200 {
		size = 200
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM attendance_sessions WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d`, sessionColumns, whereClause, column, order, size, offset)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) FROM attendance_sessions WHERE %s", whereClause), args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	return sessions, total, nil
}

// MarkActive moves a scheduled session to ACTIVE and stamps its actual start.
func (r *SessionRepository) MarkActive(ctx context.Context, id string, startedAt time.Time) (*models.Session, error) {
	query := `UPDATE attendance_sessions SET status = $1, actual_start = $2, updated_at = $2
WHERE id = $3 AND status = $4
RETURNING ` + sessionColumns
	return r.transition(ctx, query, models.SessionStatusActive, startedAt, id, models.SessionStatusScheduled)
}

// MarkClosed moves an active session to CLOSED and stamps its actual end.
func (r *SessionRepository) MarkClosed(ctx context.Context, id string, endedAt time.Time) (*models.Session, error) {
	query := `UPDATE attendance_sessions SET status = $1, actual_end = $2, updated_at = $2
WHERE id = $3 AND status = $4
RETURNING ` + sessionColumns
	return r.transition(ctx, query, models.SessionStatusClosed, endedAt, id, models.SessionStatusActive)
}

func (r *SessionRepository) transition(ctx context.Context, query string, to models.SessionStatus, at time.Time, id string, from models.SessionStatus) (*models.Session, error) {
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, to, at.UTC(), id, from); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transition session %s to %s: %w", id, to, ErrStaleSession)
		}
		return nil, fmt.Errorf("transition session %s to %s: %w", id, to, err)
	}
	return &session, nil
}
