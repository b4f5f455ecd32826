package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-coordinator/internal/biometric"
	"github.com/noah-isme/sma-attendance-coordinator/internal/models"
)

func strPtr(s string) *string { return &s }

func newTestReconciler() *Reconciler {
	r := NewReconciler(0.5, nil, nil)
	r.now = func() time.Time { return time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC) }
	return r
}

func TestReconcilerFaceThresholdIsStrict(t *testing.T) {
	r := newTestReconciler()
	events := r.FaceEvents([]biometric.FaceResult{
		{Identity: "F1", Confidence: 0.4, Matched: true},
		{Identity: "F1", Confidence: 0.5, Matched: true},
		{Identity: "F1", Confidence: 0.9, Matched: false},
		{Identity: " ", Confidence: 0.9, Matched: true},
		{Identity: "F2", Confidence: 0.51, Matched: true},
	})
	require.Len(t, events, 1)
	assert.Equal(t, "F2", events[0].RawKey)
	assert.Equal(t, models.ModalityFace, events[0].Source)
	require.NotNil(t, events[0].Confidence)
	assert.InDelta(t, 0.51, *events[0].Confidence, 1e-9)
}

func TestReconcilerFingerprintEvents(t *testing.T) {
	r := newTestReconciler()
	assert.Nil(t, r.FingerprintEvents(nil))
	assert.Nil(t, r.FingerprintEvents(&biometric.FingerprintResult{Success: false, StudentID: "FP1"}))
	assert.Nil(t, r.FingerprintEvents(&biometric.FingerprintResult{Success: true}))

	events := r.FingerprintEvents(&biometric.FingerprintResult{Success: true, StudentID: " FP1 "})
	require.Len(t, events, 1)
	assert.Equal(t, "FP1", events[0].RawKey)
	assert.Nil(t, events[0].Confidence)
}

func TestReconcilerFacePrecedence(t *testing.T) {
	roster := models.NewClassRoster("class-1", []models.RosterEntry{
		{ID: 1, DisplayName: "Alice", FaceKey: strPtr("F1")},
		{ID: 2, DisplayName: "Bob", FaceKey: strPtr("0042")},
		{ID: 42, DisplayName: "Chandra"},
		{ID: 7, DisplayName: "Dewi"},
	})
	r := newTestReconciler()

	cases := []struct {
		identity string
		want     int64
	}{
		{identity: "F1", want: 1},
		{identity: "42", want: 2},
		{identity: "7", want: 7},
		{identity: "0042", want: 2},
	}
	for _, tc := range cases {
		t.Run(tc.identity, func(t *testing.T) {
			conf := 0.8
			result := r.Resolve("s-1", roster, []models.DetectionEvent{{Source: models.ModalityFace, RawKey: tc.identity, Confidence: &conf}})
			require.Len(t, result.Detections, 1)
			assert.Empty(t, result.Notices)
			assert.True(t, result.Detections[0].InRoster)
			assert.Equal(t, tc.want, result.Detections[0].StudentID)
		})
	}
}

func TestReconcilerOutOfRosterFaceIsForwarded(t *testing.T) {
	roster := models.NewClassRoster("class-1", []models.RosterEntry{
		{ID: 1, DisplayName: "A", FaceKey: strPtr("F1")},
		{ID: 2, DisplayName: "B"},
	})
	r := newTestReconciler()
	events := r.FaceEvents([]biometric.FaceResult{
		{Identity: "F1", Confidence: 0.8, Matched: true},
		{Identity: "999", Confidence: 0.8, Matched: true},
	})

	result := r.Resolve("s-1", roster, events)
	require.Len(t, result.Detections, 2)
	assert.Equal(t, int64(1), result.Detections[0].StudentID)
	assert.True(t, result.Detections[0].InRoster)
	assert.Equal(t, int64(999), result.Detections[1].StudentID)
	assert.False(t, result.Detections[1].InRoster)

	require.Len(t, result.Notices, 1)
	notice := result.Notices[0]
	assert.Equal(t, models.NoticeNotInRoster, notice.Kind)
	assert.Equal(t, "999", notice.RawKey)
	require.NotNil(t, notice.StudentID)
	assert.Equal(t, int64(999), *notice.StudentID)
}

func TestReconcilerNonNumericOutOfRosterIsDroppedAfterNotice(t *testing.T) {
	roster := models.NewClassRoster("class-1", []models.RosterEntry{{ID: 1, DisplayName: "A", FaceKey: strPtr("F1")}})
	conf := 0.9
	result := newTestReconciler().Resolve("s-1", roster, []models.DetectionEvent{{Source: models.ModalityFace, RawKey: "stranger", Confidence: &conf}})
	assert.Empty(t, result.Detections)
	require.Len(t, result.Notices, 1)
	assert.Nil(t, result.Notices[0].StudentID)
}

func TestReconcilerFingerprintMissIsDroppedSilently(t *testing.T) {
	roster := models.NewClassRoster("class-1", []models.RosterEntry{{ID: 2, DisplayName: "B", FingerprintKey: strPtr("FP2")}})
	r := newTestReconciler()

	result := r.Resolve("s-1", roster, []models.DetectionEvent{
		{Source: models.ModalityFingerprint, RawKey: "999"},
		{Source: models.ModalityFingerprint, RawKey: "2"},
	})
	assert.Empty(t, result.Detections)
	assert.Empty(t, result.Notices)

	result = r.Resolve("s-1", roster, []models.DetectionEvent{{Source: models.ModalityFingerprint, RawKey: "FP2"}})
	require.Len(t, result.Detections, 1)
	assert.Equal(t, int64(2), result.Detections[0].StudentID)
	assert.Equal(t, models.ModalityFingerprint, result.Detections[0].Modality)
}

func TestReconcilerCollapsesDuplicatesInBatch(t *testing.T) {
	roster := models.NewClassRoster("class-1", []models.RosterEntry{{ID: 1, DisplayName: "A", FaceKey: strPtr("F1")}})
	r := newTestReconciler()
	events := r.FaceEvents([]biometric.FaceResult{
		{Identity: "F1", Confidence: 0.7, Matched: true},
		{Identity: "1", Confidence: 0.95, Matched: true},
		{Identity: "999", Confidence: 0.8, Matched: true},
		{Identity: "999", Confidence: 0.9, Matched: true},
	})

	result := r.Resolve("s-1", roster, events)
	require.Len(t, result.Detections, 2)
	require.NotNil(t, result.Detections[0].Confidence)
	assert.InDelta(t, 0.7, *result.Detections[0].Confidence, 1e-9)
	assert.Equal(t, int64(999), result.Detections[1].StudentID)
	assert.Len(t, result.Notices, 1)
}
