package models

import (
	"math"
	"time"
)

// AttendanceStatus is the combined biometric evidence for a student in a session.
type AttendanceStatus string

const (
	AttendanceStatusFaceOnly        AttendanceStatus = "FACE_ONLY"
	AttendanceStatusFingerprintOnly AttendanceStatus = "FINGERPRINT_ONLY"
	AttendanceStatusPresent         AttendanceStatus = "PRESENT"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusFaceOnly, AttendanceStatusFingerprintOnly, AttendanceStatusPresent:
		return true
	default:
		return false
	}
}

// Modality identifies a biometric channel.
type Modality string

const (
	ModalityFace        Modality = "FACE"
	ModalityFingerprint Modality = "FINGERPRINT"
)

// OnlyStatus is the status of a record carrying evidence from this modality alone.
func (m Modality) OnlyStatus() AttendanceStatus {
	if m == ModalityFingerprint {
		return AttendanceStatusFingerprintOnly
	}
	return AttendanceStatusFaceOnly
}

// AttendanceRecord is the per (session, student) row written from biometric detections.
// A modality column is never overwritten once set.
type AttendanceRecord struct {
	ID                string           `db:"id" json:"id"`
	SessionID         string           `db:"session_id" json:"session_id"`
	StudentID         int64            `db:"student_id" json:"student_id"`
	FaceSeenAt        *time.Time       `db:"face_seen_at" json:"face_seen_at,omitempty"`
	FaceConfidence    *int             `db:"face_confidence" json:"face_confidence,omitempty"`
	FingerprintSeenAt *time.Time       `db:"fingerprint_seen_at" json:"fingerprint_seen_at,omitempty"`
	Status            AttendanceStatus `db:"status" json:"status"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

// Has reports whether the modality column is already populated.
func (r *AttendanceRecord) Has(m Modality) bool {
	if r == nil {
		return false
	}
	if m == ModalityFingerprint {
		return r.FingerprintSeenAt != nil
	}
	return r.FaceSeenAt != nil
}

// Apply sets the modality evidence when absent and recomputes the status.
// It returns false when the modality was already present and nothing changed.
func (r *AttendanceRecord) Apply(m Modality, seenAt time.Time, confidence *float64) bool {
	if r.Has(m) {
		return false
	}
	ts := seenAt
	switch m {
	case ModalityFingerprint:
		r.FingerprintSeenAt = &ts
	default:
		r.FaceSeenAt = &ts
		if confidence != nil {
			pct := ConfidencePercent(*confidence)
			r.FaceConfidence = &pct
		}
	}
	r.Status = ResolveStatus(r.FaceSeenAt != nil, r.FingerprintSeenAt != nil)
	return true
}

// ResolveStatus derives the combined status from modality presence.
func ResolveStatus(face, fingerprint bool) AttendanceStatus {
	switch {
	case face && fingerprint:
		return AttendanceStatusPresent
	case fingerprint:
		return AttendanceStatusFingerprintOnly
	default:
		return AttendanceStatusFaceOnly
	}
}

// ConfidencePercent converts a 0..1 score into a rounded 0..100 integer.
func ConfidencePercent(confidence float64) int {
	pct := int(math.Round(confidence * 100))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// AttendanceRecordDetail joins the student name for reports.
type AttendanceRecordDetail struct {
	AttendanceRecord
	StudentName *string `db:"student_name" json:"student_name,omitempty"`
}

// AttendanceSummary aggregates a session's records by status.
type AttendanceSummary struct {
	SessionID       string `json:"session_id"`
	Total           int    `json:"total"`
	Present         int    `json:"present"`
	FaceOnly        int    `json:"face_only"`
	FingerprintOnly int    `json:"fingerprint_only"`
}

// AttendanceCounts is the system-of-record view of a session's progress.
type AttendanceCounts struct {
	Detected int `db:"detected" json:"detected"`
	Present  int `db:"present" json:"present"`
}

// Summarize counts records per status.
func Summarize(sessionID string, records []AttendanceRecordDetail) AttendanceSummary {
	summary := AttendanceSummary{SessionID: sessionID, Total: len(records)}
	for _, rec := range records {
		switch rec.Status {
		case AttendanceStatusPresent:
			summary.Present++
		case AttendanceStatusFingerprintOnly:
			summary.FingerprintOnly++
		default:
			summary.FaceOnly++
		}
	}
	return summary
}
