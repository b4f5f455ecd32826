package models

import "time"

// DetectionEvent is a single match reported by a biometric source, before
// roster resolution. It is never persisted.
type DetectionEvent struct {
	Source     Modality
	RawKey     string
	Confidence *float64
}

// ResolvedDetection is an accepted detection keyed by internal student id.
type ResolvedDetection struct {
	SessionID  string
	StudentID  int64
	Modality   Modality
	Confidence *float64
	InRoster   bool
	RawKey     string
	DetectedAt time.Time
}

// NoticeKind classifies non-fatal coordinator notifications.
type NoticeKind string

const (
	NoticeNotInRoster NoticeKind = "NOT_IN_ROSTER"
)

// Notice is surfaced to the presentation layer without interrupting the session.
type Notice struct {
	Kind       NoticeKind `json:"kind"`
	SessionID  string     `json:"session_id"`
	RawKey     string     `json:"raw_key"`
	StudentID  *int64     `json:"student_id,omitempty"`
	Confidence *float64   `json:"confidence,omitempty"`
	RaisedAt   time.Time  `json:"raised_at"`
}
