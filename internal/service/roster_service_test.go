package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-coordinator/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-coordinator/pkg/errors"
)

type rosterRepoStub struct {
	entries []models.RosterEntry
	err     error
	calls   int
}

func (s *rosterRepoStub) ListRoster(ctx context.Context, classID string) ([]models.RosterEntry, error) {
	s.calls++
	return s.entries, s.err
}

type memoryCacheRepo struct {
	items map[string][]byte
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.items[key] = raw
	return nil
}

func TestRosterServiceLoadRoster(t *testing.T) {
	repo := &rosterRepoStub{entries: []models.RosterEntry{
		{ID: 1, DisplayName: "Alice", FaceKey: strPtr("F1")},
		{ID: 2, DisplayName: "Bob", FingerprintKey: strPtr("FP2")},
	}}
	svc := NewRosterService(repo, nil, nil)

	roster, err := svc.LoadRoster(context.Background(), "class-10a")
	require.NoError(t, err)
	assert.Equal(t, 2, roster.Len())
	entry, ok := roster.ByFingerprintKey("FP2")
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.ID)
}

func TestRosterServiceEmptyRoster(t *testing.T) {
	svc := NewRosterService(&rosterRepoStub{}, nil, nil)
	_, err := svc.LoadRoster(context.Background(), "class-10a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrRosterLoad))
	assert.Equal(t, http.StatusUnprocessableEntity, appErrors.FromError(err).Status)
}

func TestRosterServiceQueryFailure(t *testing.T) {
	svc := NewRosterService(&rosterRepoStub{err: errors.New("db down")}, nil, nil)
	_, err := svc.LoadRoster(context.Background(), "class-10a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrRosterLoad))
	assert.Equal(t, http.StatusServiceUnavailable, appErrors.FromError(err).Status)

	_, err = svc.LoadRoster(context.Background(), "")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestRosterServiceReadThroughCache(t *testing.T) {
	repo := &rosterRepoStub{entries: []models.RosterEntry{{ID: 1, DisplayName: "Alice", FaceKey: strPtr("F1")}}}
	metrics := NewMetricsService()
	cache := NewCacheService(&memoryCacheRepo{items: map[string][]byte{}}, metrics, time.Minute, nil, true)
	svc := NewRosterService(repo, cache, nil)

	for i := 0; i < 3; i++ {
		roster, err := svc.LoadRoster(context.Background(), "class-10a")
		require.NoError(t, err)
		entry, ok := roster.ByFaceKey("F1")
		require.True(t, ok)
		assert.Equal(t, "Alice", entry.DisplayName)
	}
	assert.Equal(t, 1, repo.calls)
}
