package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-coordinator/internal/models"
)

// StudentRepository reads the student roster with biometric enrolment keys.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a student repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// ListRoster returns the active students of a class ordered by name.
func (r *StudentRepository) ListRoster(ctx context.Context, classID string) ([]models.RosterEntry, error) {
	query := `SELECT s.id, s.full_name, s.face_key, s.fingerprint_key
FROM students s
WHERE s.class_id = $1 AND s.active = TRUE
ORDER BY s.full_name ASC, s.id ASC`
	var entries []models.RosterEntry
	if err := r.db.SelectContext(ctx, &entries, query, classID); err != nil {
		return nil, fmt.Errorf("list roster for class %s: %w", classID, err)
	}
	return entries, nil
}
