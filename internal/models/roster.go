package models

import (
	"strconv"
	"strings"
)

// RosterEntry is a student eligible for attendance in a session. Students
// without biometric enrolment have nil keys and can never be auto-matched.
type RosterEntry struct {
	ID             int64   `db:"id" json:"id"`
	DisplayName    string  `db:"full_name" json:"display_name"`
	FaceKey        *string `db:"face_key" json:"face_key,omitempty"`
	FingerprintKey *string `db:"fingerprint_key" json:"fingerprint_key,omitempty"`
}

// DuplicateKey reports a biometric key shared by more than one roster entry.
type DuplicateKey struct {
	Kind      string `json:"kind"`
	Key       string `json:"key"`
	Replaced  int64  `json:"replaced"`
	Replacing int64  `json:"replacing"`
}

// ClassRoster is the immutable snapshot of a class used for one session.
type ClassRoster struct {
	ClassID string
	Entries []RosterEntry

	byID          map[int64]int
	byFace        map[string]int
	byFaceNumeric map[int64]int
	byFingerprint map[string]int
	duplicates    []DuplicateKey
}

// NewClassRoster copies the entries and indexes them. Duplicate keys are
// last-write-wins and reported through Duplicates.
func NewClassRoster(classID string, entries []RosterEntry) *ClassRoster {
	r := &ClassRoster{
		ClassID:       classID,
		Entries:       make([]RosterEntry, len(entries)),
		byID:          make(map[int64]int, len(entries)),
		byFace:        make(map[string]int, len(entries)),
		byFaceNumeric: make(map[int64]int, len(entries)),
		byFingerprint: make(map[string]int, len(entries)),
	}
	copy(r.Entries, entries)

	for i := range r.Entries {
		entry := r.Entries[i]
		if prev, ok := put(r.byID, entry.ID, i); ok {
			r.noteDuplicate("id", strconv.FormatInt(entry.ID, 10), prev, i)
		}
		if key := normalizeKey(entry.FaceKey); key != "" {
			if prev, ok := put(r.byFace, key, i); ok {
				r.noteDuplicate("face", key, prev, i)
			}
			if n, err := strconv.ParseInt(key, 10, 64); err == nil {
				put(r.byFaceNumeric, n, i)
			}
		}
		if key := normalizeKey(entry.FingerprintKey); key != "" {
			if prev, ok := put(r.byFingerprint, key, i); ok {
				r.noteDuplicate("fingerprint", key, prev, i)
			}
		}
	}
	return r
}

func put[K comparable](index map[K]int, key K, i int) (int, bool) {
	prev, ok := index[key]
	index[key] = i
	return prev, ok
}

func (r *ClassRoster) noteDuplicate(kind, key string, prev, next int) {
	r.duplicates = append(r.duplicates, DuplicateKey{
		Kind:      kind,
		Key:       key,
		Replaced:  r.Entries[prev].ID,
		Replacing: r.Entries[next].ID,
	})
}

// Len returns the number of students on the roster.
func (r *ClassRoster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Entries)
}

// Duplicates returns the data-quality warnings collected while indexing.
func (r *ClassRoster) Duplicates() []DuplicateKey {
	if r == nil {
		return nil
	}
	return append([]DuplicateKey(nil), r.duplicates...)
}

// ByID looks up an entry by internal id.
func (r *ClassRoster) ByID(id int64) (RosterEntry, bool) {
	if r == nil {
		return RosterEntry{}, false
	}
	i, ok := r.byID[id]
	return r.lookup(i, ok)
}

// ByFaceKey looks up an entry by exact face key.
func (r *ClassRoster) ByFaceKey(key string) (RosterEntry, bool) {
	if r == nil {
		return RosterEntry{}, false
	}
	i, ok := r.byFace[key]
	return r.lookup(i, ok)
}

// ByNumericFaceKey looks up an entry whose face key has the given integer value.
func (r *ClassRoster) ByNumericFaceKey(n int64) (RosterEntry, bool) {
	if r == nil {
		return RosterEntry{}, false
	}
	i, ok := r.byFaceNumeric[n]
	return r.lookup(i, ok)
}

// ByFingerprintKey looks up an entry by exact fingerprint key.
func (r *ClassRoster) ByFingerprintKey(key string) (RosterEntry, bool) {
	if r == nil {
		return RosterEntry{}, false
	}
	i, ok := r.byFingerprint[key]
	return r.lookup(i, ok)
}

func (r *ClassRoster) lookup(i int, ok bool) (RosterEntry, bool) {
	if !ok {
		return RosterEntry{}, false
	}
	return r.Entries[i], true
}

func normalizeKey(key *string) string {
	if key == nil {
		return ""
	}
	return strings.TrimSpace(*key)
}
