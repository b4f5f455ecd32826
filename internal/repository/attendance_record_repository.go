package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-attendance-coordinator/internal/models"
)

// ErrRecordExists is returned by Insert when a row for the same
// (session, student) already exists.
var ErrRecordExists = errors.New("attendance record already exists")

const recordColumns = `id, session_id, student_id, face_seen_at, face_confidence, fingerprint_seen_at, status, created_at, updated_at`

// AttendanceRecordRepository persists biometric attendance records.
type AttendanceRecordRepository struct {
	db *sqlx.DB
}

// NewAttendanceRecordRepository constructs the repository.
func NewAttendanceRecordRepository(db *sqlx.DB) *AttendanceRecordRepository {
	return &AttendanceRecordRepository{db: db}
}

// Find returns the record for a session and student, or sql.ErrNoRows.
func (r *AttendanceRecordRepository) Find(ctx context.Context, sessionID string, studentID int64) (*models.AttendanceRecord, error) {
	var rec models.AttendanceRecord
	query := `SELECT ` + recordColumns + ` FROM attendance_records WHERE session_id = $1 AND student_id = $2`
	if err := r.db.GetContext(ctx, &rec, query, sessionID, studentID); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Insert creates a record. It never overwrites: a concurrent insert for the
// same key yields ErrRecordExists.
func (r *AttendanceRecordRepository) Insert(ctx context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	query := `INSERT INTO attendance_records (id, session_id, student_id, face_seen_at, face_confidence, fingerprint_seen_at, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (session_id, student_id) DO NOTHING
RETURNING ` + recordColumns
	var stored models.AttendanceRecord
	err := r.db.GetContext(ctx, &stored, query, rec.ID, rec.SessionID, rec.StudentID, rec.FaceSeenAt, rec.FaceConfidence, rec.FingerprintSeenAt, rec.Status, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return nil, ErrRecordExists
		}
		return nil, fmt.Errorf("insert attendance record: %w", err)
	}
	return &stored, nil
}

// SetFace stamps the face columns when they are still empty and derives the
// status from the fingerprint column in the same statement. It returns
// sql.ErrNoRows when the face modality was already recorded.
func (r *AttendanceRecordRepository) SetFace(ctx context.Context, id string, seenAt time.Time, confidence *int) (*models.AttendanceRecord, error) {
	query := `UPDATE attendance_records SET face_seen_at = $1, face_confidence = $2,
    status = CASE WHEN fingerprint_seen_at IS NOT NULL THEN $3 ELSE $4 END, updated_at = $5
WHERE id = $6 AND face_seen_at IS NULL
RETURNING ` + recordColumns
	var stored models.AttendanceRecord
	if err := r.db.GetContext(ctx, &stored, query, seenAt, confidence, models.AttendanceStatusPresent, models.AttendanceStatusFaceOnly, time.Now().UTC(), id); err != nil {
		return nil, err
	}
	return &stored, nil
}

// SetFingerprint stamps the fingerprint column when it is still empty. It
// returns sql.ErrNoRows when the fingerprint modality was already recorded.
func (r *AttendanceRecordRepository) SetFingerprint(ctx context.Context, id string, seenAt time.Time) (*models.AttendanceRecord, error) {
	query := `UPDATE attendance_records SET fingerprint_seen_at = $1,
    status = CASE WHEN face_seen_at IS NOT NULL THEN $2 ELSE $3 END, updated_at = $4
WHERE id = $5 AND fingerprint_seen_at IS NULL
RETURNING ` + recordColumns
	var stored models.AttendanceRecord
	if err := r.db.GetContext(ctx, &stored, query, seenAt, models.AttendanceStatusPresent, models.AttendanceStatusFingerprintOnly, time.Now().UTC(), id); err != nil {
		return nil, err
	}
	return &stored, nil
}

// ListBySession returns every record of a session with student names.
func (r *AttendanceRecordRepository) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecordDetail, error) {
	query := `SELECT ar.id, ar.session_id, ar.student_id, ar.face_seen_at, ar.face_confidence, ar.fingerprint_seen_at, ar.status, ar.created_at, ar.updated_at,
        s.full_name AS student_name
FROM attendance_records ar
LEFT JOIN students s ON s.id = ar.student_id
WHERE ar.session_id = $1
ORDER BY s.full_name ASC NULLS LAST, ar.student_id ASC`
	var rows []models.AttendanceRecordDetail
	if err := r.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	return rows, nil
}

// Counts returns how many students were detected in the session and how many
// of them are fully present.
func (r *AttendanceRecordRepository) Counts(ctx context.Context, sessionID string) (models.AttendanceCounts, error) {
	var counts models.AttendanceCounts
	query := `SELECT COUNT(*) AS detected, COUNT(*) FILTER (WHERE status = $2) AS present
FROM attendance_records WHERE session_id = $1`
	if err := r.db.GetContext(ctx, &counts, query, sessionID, models.AttendanceStatusPresent); err != nil {
		return models.AttendanceCounts{}, fmt.Errorf("count attendance records: %w", err)
	}
	return counts, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
