package service

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-coordinator/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-coordinator/pkg/errors"
)

type rosterRepository interface {
	ListRoster(ctx context.Context, classID string) ([]models.RosterEntry, error)
}

// RosterService loads class rosters and builds the lookup indices used by
// the detection reconciler.
type RosterService struct {
	repo   rosterRepository
	cache  *CacheService
	logger *zap.Logger
}

// NewRosterService constructs the roster service. cache may be nil.
func NewRosterService(repo rosterRepository, cache *CacheService, logger *zap.Logger) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{repo: repo, cache: cache, logger: logger}
}

func rosterCacheKey(classID string) string {
	return fmt.Sprintf("roster:class:%s", classID)
}

// LoadRoster returns a fresh roster snapshot for the class. A class without
// enrolled students yields ErrRosterLoad, which callers may treat as degraded.
func (s *RosterService) LoadRoster(ctx context.Context, classID string) (*models.ClassRoster, error) {
	if classID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "class id is required")
	}

	var entries []models.RosterEntry
	key := rosterCacheKey(classID)
	if !s.cache.Get(ctx, key, &entries) {
		loaded, err := s.repo.ListRoster(ctx, classID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrRosterLoad.Code, http.StatusServiceUnavailable, "failed to load class roster")
		}
		entries = loaded
		if len(entries) > 0 {
			s.cache.Set(ctx, key, entries, 0)
		}
	}

	if len(entries) == 0 {
		return nil, appErrors.Clone(appErrors.ErrRosterLoad, fmt.Sprintf("class %s has no enrolled students", classID))
	}

	roster := models.NewClassRoster(classID, entries)
	for _, dup := range roster.Duplicates() {
		s.logger.Warn("duplicate biometric key in roster",
			zap.String("class_id", classID),
			zap.String("kind", dup.Kind),
			zap.String("key", dup.Key),
			zap.Int64("replaced_student_id", dup.Replaced),
			zap.Int64("student_id", dup.Replacing),
		)
	}
	return roster, nil
}
