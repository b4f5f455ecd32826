package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-coordinator/internal/models"
	"github.com/noah-isme/sma-attendance-coordinator/internal/repository"
	appErrors "github.com/noah-isme/sma-attendance-coordinator/pkg/errors"
)

type attendanceRecordRepository interface {
	Find(ctx context.Context, sessionID string, studentID int64) (*models.AttendanceRecord, error)
	Insert(ctx context.Context, rec *models.AttendanceRecord) (*models.AttendanceRecord, error)
	SetFace(ctx context.Context, id string, seenAt time.Time, confidence *int) (*models.AttendanceRecord, error)
	SetFingerprint(ctx context.Context, id string, seenAt time.Time) (*models.AttendanceRecord, error)
	Counts(ctx context.Context, sessionID string) (models.AttendanceCounts, error)
}

// Attendance writer results reported to metrics.
const (
	writeInserted = "inserted"
	writeUpdated  = "updated"
	writeNoop     = "noop"
	writeConflict = "conflict"
	writeError    = "error"
)

var errLostRace = errors.New("attendance row changed concurrently")

// AttendanceWriter applies detections to attendance records with
// first-detection-wins semantics per modality.
type AttendanceWriter struct {
	repo    attendanceRecordRepository
	locks   *keyedMutex
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewAttendanceWriter constructs the writer.
func NewAttendanceWriter(repo attendanceRecordRepository, metrics *MetricsService, logger *zap.Logger) *AttendanceWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceWriter{repo: repo, locks: newKeyedMutex(), metrics: metrics, logger: logger, now: time.Now}
}

// RecordDetection creates or completes the record for (sessionID, studentID).
// A modality that is already recorded is left untouched and the stored record
// is returned. A lost race is retried once before ErrWriteConflict is returned.
func (w *AttendanceWriter) RecordDetection(ctx context.Context, sessionID string, studentID int64, modality models.Modality, confidence *float64) (*models.AttendanceRecord, error) {
	unlock := w.locks.Lock(fmt.Sprintf("%s:%d", sessionID, studentID))
	defer unlock()

	seenAt := w.now().UTC()
	label := string(modality)
	for attempt := 0; attempt < 2; attempt++ {
		rec, result, err := w.apply(ctx, sessionID, studentID, modality, seenAt, confidence)
		if errors.Is(err, errLostRace) {
			w.metrics.RecordWrite(label, writeConflict)
			w.logger.Debug("attendance write lost race, re-reading",
				zap.String("session_id", sessionID),
				zap.Int64("student_id", studentID),
				zap.String("modality", label),
			)
			continue
		}
		if err != nil {
			w.metrics.RecordWrite(label, writeError)
			return nil, err
		}
		w.metrics.RecordWrite(label, result)
		return rec, nil
	}
	return nil, appErrors.Clone(appErrors.ErrWriteConflict, fmt.Sprintf("attendance for student %d in session %s changed concurrently", studentID, sessionID))
}

func (w *AttendanceWriter) apply(ctx context.Context, sessionID string, studentID int64, modality models.Modality, seenAt time.Time, confidence *float64) (*models.AttendanceRecord, string, error) {
	existing, err := w.repo.Find(ctx, sessionID, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		rec := &models.AttendanceRecord{SessionID: sessionID, StudentID: studentID}
		rec.Apply(modality, seenAt, confidence)
		stored, err := w.repo.Insert(ctx, rec)
		if errors.Is(err, repository.ErrRecordExists) {
			return nil, "", errLostRace
		}
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to insert attendance record")
		}
		return stored, writeInserted, nil
	}
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read attendance record")
	}
	if existing.Has(modality) {
		return existing, writeNoop, nil
	}

	var stored *models.AttendanceRecord
	switch modality {
	case models.ModalityFingerprint:
		stored, err = w.repo.SetFingerprint(ctx, existing.ID, seenAt)
	default:
		var pct *int
		if confidence != nil {
			v := models.ConfidencePercent(*confidence)
			pct = &v
		}
		stored, err = w.repo.SetFace(ctx, existing.ID, seenAt, pct)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", errLostRace
	}
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update attendance record")
	}
	return stored, writeUpdated, nil
}

// Progress returns the detected and present counts from the attendance store.
func (w *AttendanceWriter) Progress(ctx context.Context, sessionID string) (models.AttendanceCounts, error) {
	counts, err := w.repo.Counts(ctx, sessionID)
	if err != nil {
		return models.AttendanceCounts{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attendance")
	}
	return counts, nil
}

// keyedMutex serializes work per key and drops idle entries.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
