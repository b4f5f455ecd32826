package service

import (
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-coordinator/internal/biometric"
	"github.com/noah-isme/sma-attendance-coordinator/internal/models"
)

// ReconcileResult is the outcome of resolving one polled batch.
type ReconcileResult struct {
	Detections []models.ResolvedDetection
	Notices    []models.Notice
}

// Reconciler filters biometric results and resolves them against a roster.
// It is stateless; per-session dedup is owned by the coordinator consumer.
type Reconciler struct {
	threshold float64
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewReconciler constructs a reconciler accepting face matches strictly above threshold.
func NewReconciler(threshold float64, metrics *MetricsService, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{threshold: threshold, metrics: metrics, logger: logger, now: time.Now}
}

// FaceEvents keeps matched face results whose confidence exceeds the threshold.
func (r *Reconciler) FaceEvents(results []biometric.FaceResult) []models.DetectionEvent {
	events := make([]models.DetectionEvent, 0, len(results))
	for _, res := range results {
		if !res.Matched {
			r.metrics.RecordDetection(sourceFace, outcomeUnmatched)
			continue
		}
		if res.Confidence <= r.threshold {
			r.metrics.RecordDetection(sourceFace, outcomeBelowThreshold)
			continue
		}
		identity := strings.TrimSpace(res.Identity)
		if identity == "" {
			r.metrics.RecordDetection(sourceFace, outcomeUnmatched)
			continue
		}
		confidence := res.Confidence
		events = append(events, models.DetectionEvent{Source: models.ModalityFace, RawKey: identity, Confidence: &confidence})
	}
	return events
}

// FingerprintEvents converts a successful fingerprint match into an event.
func (r *Reconciler) FingerprintEvents(result *biometric.FingerprintResult) []models.DetectionEvent {
	if result == nil || !result.Success {
		return nil
	}
	key := strings.TrimSpace(result.StudentID)
	if key == "" {
		r.metrics.RecordDetection(sourceFingerprint, outcomeUnmatched)
		return nil
	}
	return []models.DetectionEvent{{Source: models.ModalityFingerprint, RawKey: key}}
}

// Resolve maps events to internal student ids. Duplicates within the batch
// collapse to the first occurrence.
func (r *Reconciler) Resolve(sessionID string, roster *models.ClassRoster, events []models.DetectionEvent) ReconcileResult {
	var result ReconcileResult
	if len(events) == 0 {
		return result
	}
	now := r.now().UTC()
	seen := make(map[models.Modality]map[int64]struct{}, 2)
	noticed := make(map[string]struct{})

	for _, ev := range events {
		source := sourceLabel(ev.Source)
		var (
			entry models.RosterEntry
			found bool
		)
		if ev.Source == models.ModalityFingerprint {
			entry, found = roster.ByFingerprintKey(ev.RawKey)
			if !found {
				r.metrics.RecordDetection(source, outcomeUnmatched)
				r.logger.Debug("fingerprint key not on roster", zap.String("session_id", sessionID), zap.String("key", ev.RawKey))
				continue
			}
		} else {
			entry, found = resolveFace(roster, ev.RawKey)
		}

		detection := models.ResolvedDetection{
			SessionID:  sessionID,
			Modality:   ev.Source,
			Confidence: ev.Confidence,
			InRoster:   found,
			RawKey:     ev.RawKey,
			DetectedAt: now,
		}

		if found {
			detection.StudentID = entry.ID
		} else {
			id, err := strconv.ParseInt(ev.RawKey, 10, 64)
			notice := models.Notice{
				Kind:       models.NoticeNotInRoster,
				SessionID:  sessionID,
				RawKey:     ev.RawKey,
				Confidence: ev.Confidence,
				RaisedAt:   now,
			}
			if err == nil {
				notice.StudentID = &id
			}
			if _, dup := noticed[ev.RawKey]; !dup {
				noticed[ev.RawKey] = struct{}{}
				result.Notices = append(result.Notices, notice)
				r.metrics.RecordDetection(source, outcomeNotInRoster)
			}
			if err != nil {
				continue
			}
			detection.StudentID = id
		}

		ids, ok := seen[ev.Source]
		if !ok {
			ids = make(map[int64]struct{})
			seen[ev.Source] = ids
		}
		if _, dup := ids[detection.StudentID]; dup {
			r.metrics.RecordDetection(source, outcomeDuplicate)
			continue
		}
		ids[detection.StudentID] = struct{}{}
		if found {
			r.metrics.RecordDetection(source, outcomeAccepted)
		}
		result.Detections = append(result.Detections, detection)
	}
	return result
}

// resolveFace applies the face lookup precedence: exact face key, numeric
// face key, then the identity read as an internal id.
func resolveFace(roster *models.ClassRoster, identity string) (models.RosterEntry, bool) {
	if entry, ok := roster.ByFaceKey(identity); ok {
		return entry, true
	}
	n, err := strconv.ParseInt(identity, 10, 64)
	if err != nil {
		return models.RosterEntry{}, false
	}
	if entry, ok := roster.ByNumericFaceKey(n); ok {
		return entry, true
	}
	return roster.ByID(n)
}

const (
	sourceFace        = "face"
	sourceFingerprint = "fingerprint"
)

func sourceLabel(m models.Modality) string {
	if m == models.ModalityFingerprint {
		return sourceFingerprint
	}
	return sourceFace
}
