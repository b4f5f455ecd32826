package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(v string) *string { return &v }

func TestClassRosterIndexes(t *testing.T) {
	roster := NewClassRoster("class-1", []RosterEntry{
		{ID: 1, DisplayName: "Alice", FaceKey: strPtr("F1"), FingerprintKey: strPtr("FP-1")},
		{ID: 2, DisplayName: "Bob"},
		{ID: 3, DisplayName: "Cara", FaceKey: strPtr(" 007 ")},
	})

	require.Equal(t, 3, roster.Len())

	entry, ok := roster.ByFaceKey("F1")
	require.True(t, ok)
	assert.Equal(t, int64(1), entry.ID)

	entry, ok = roster.ByNumericFaceKey(7)
	require.True(t, ok)
	assert.Equal(t, "Cara", entry.DisplayName)

	entry, ok = roster.ByFingerprintKey("FP-1")
	require.True(t, ok)
	assert.Equal(t, int64(1), entry.ID)

	_, ok = roster.ByID(2)
	assert.True(t, ok)
	_, ok = roster.ByFingerprintKey("")
	assert.False(t, ok)
	assert.Empty(t, roster.Duplicates())
}

func TestClassRosterDuplicateKeysLastWriteWins(t *testing.T) {
	roster := NewClassRoster("class-1", []RosterEntry{
		{ID: 1, FaceKey: strPtr("dup"), FingerprintKey: strPtr("fp")},
		{ID: 2, FaceKey: strPtr("dup"), FingerprintKey: strPtr("fp")},
	})

	entry, ok := roster.ByFaceKey("dup")
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.ID)

	dups := roster.Duplicates()
	require.Len(t, dups, 2)
	assert.Equal(t, DuplicateKey{Kind: "face", Key: "dup", Replaced: 1, Replacing: 2}, dups[0])
	assert.Equal(t, "fingerprint", dups[1].Kind)
}

func TestClassRosterNilSafe(t *testing.T) {
	var roster *ClassRoster
	assert.Equal(t, 0, roster.Len())
	_, ok := roster.ByID(1)
	assert.False(t, ok)
	_, ok = roster.ByFaceKey("x")
	assert.False(t, ok)
}
