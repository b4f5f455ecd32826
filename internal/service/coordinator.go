package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-coordinator/internal/biometric"
	"github.com/noah-isme/sma-attendance-coordinator/internal/models"
	"github.com/noah-isme/sma-attendance-coordinator/internal/repository"
	appErrors "github.com/noah-isme/sma-attendance-coordinator/pkg/errors"
)

type sessionStore interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	MarkActive(ctx context.Context, id string, startedAt time.Time) (*models.Session, error)
	MarkClosed(ctx context.Context, id string, endedAt time.Time) (*models.Session, error)
}

type rosterLoader interface {
	LoadRoster(ctx context.Context, classID string) (*models.ClassRoster, error)
}

type attendanceRecorder interface {
	RecordDetection(ctx context.Context, sessionID string, studentID int64, modality models.Modality, confidence *float64) (*models.AttendanceRecord, error)
	Progress(ctx context.Context, sessionID string) (models.AttendanceCounts, error)
}

type faceSource interface {
	Poll(ctx context.Context) ([]biometric.FaceResult, error)
}

type fingerprintSource interface {
	Poll(ctx context.Context) (*biometric.FingerprintResult, error)
}

// tickerFunc returns a tick channel and its stop function.
type tickerFunc func(d time.Duration) (<-chan time.Time, func())

func systemTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// End reasons reported on the closing snapshot.
const (
	EndReasonManual  = "manual"
	EndReasonExpired = "expired"
)

// CoordinatorConfig tunes timers and thresholds of a live session.
type CoordinatorConfig struct {
	SessionDuration         time.Duration
	Tick                    time.Duration
	FacePollInterval        time.Duration
	FingerprintPollInterval time.Duration
	PersistTimeout          time.Duration
	// StopTimeout bounds how long ending a session waits for in-flight polls
	// to observe cancellation.
	StopTimeout  time.Duration
	NoticeBuffer int
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.SessionDuration <= 0 {
		c.SessionDuration = 10 * time.Minute
	}
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.FacePollInterval <= 0 {
		c.FacePollInterval = 2 * time.Second
	}
	if c.FingerprintPollInterval <= 0 {
		c.FingerprintPollInterval = 3 * time.Second
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 5 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	if c.NoticeBuffer <= 0 {
		c.NoticeBuffer = 50
	}
	return c
}

// StartSessionRequest activates a scheduled session.
type StartSessionRequest struct {
	SessionID string `json:"-"`
	// AllowEmptyRoster starts the session when the class has no enrolled
	// students. Only out-of-roster face detections can be recorded then.
	// Roster query failures are never started degraded.
	AllowEmptyRoster bool `json:"allow_empty_roster"`
}

// SessionSnapshot is the coordinator's local view of a live session.
type SessionSnapshot struct {
	Session          models.Session  `json:"session"`
	RemainingSeconds int64           `json:"remaining_seconds"`
	RosterSize       int             `json:"roster_size"`
	Detected         int             `json:"detected"`
	Present          int             `json:"present"`
	Degraded         bool            `json:"degraded"`
	Notices          []models.Notice `json:"notices"`
	EndReason        string          `json:"end_reason,omitempty"`
}

// Coordinator drives the single active attendance session of this process:
// the countdown, both biometric poll loops and the detection consumer.
type Coordinator struct {
	sessions    sessionStore
	rosters     rosterLoader
	writer      attendanceRecorder
	face        faceSource
	fingerprint fingerprintSource
	reconciler  *Reconciler
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         CoordinatorConfig
	newTicker   tickerFunc
	now         func() time.Time

	mu       sync.Mutex
	active   *liveSession
	starting bool
}

// NewCoordinator wires the coordinator.
func NewCoordinator(
	sessions sessionStore,
	rosters rosterLoader,
	writer attendanceRecorder,
	face faceSource,
	fingerprint fingerprintSource,
	reconciler *Reconciler,
	metrics *MetricsService,
	cfg CoordinatorConfig,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reconciler == nil {
		reconciler = NewReconciler(0.5, metrics, logger)
	}
	return &Coordinator{
		sessions:    sessions,
		rosters:     rosters,
		writer:      writer,
		face:        face,
		fingerprint: fingerprint,
		reconciler:  reconciler,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg.withDefaults(),
		newTicker:   systemTicker,
		now:         time.Now,
	}
}

// liveSession is the session-scoped context created on start and discarded on end.
type liveSession struct {
	session  models.Session
	roster   *models.ClassRoster
	degraded bool

	ctx          context.Context
	cancel       context.CancelFunc
	detections    chan []models.ResolvedDetection
	consumerDone  chan struct{}
	countdownDone chan struct{}
	polls         sync.WaitGroup

	// owned by the consumer goroutine
	seen map[models.Modality]map[int64]struct{}

	mu        sync.Mutex
	remaining time.Duration
	counts    models.AttendanceCounts
	notices   []models.Notice
}

func (s *liveSession) snapshot() *SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &SessionSnapshot{
		Session:          s.session,
		RemainingSeconds: int64(s.remaining / time.Second),
		RosterSize:       s.roster.Len(),
		Detected:         s.counts.Detected,
		Present:          s.counts.Present,
		Degraded:         s.degraded,
		Notices:          append([]models.Notice{}, s.notices...),
	}
}

func (s *liveSession) addNotice(n models.Notice, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, n)
	if len(s.notices) > limit {
		s.notices = append([]models.Notice(nil), s.notices[len(s.notices)-limit:]...)
	}
}

func (s *liveSession) setCounts(counts models.AttendanceCounts) {
	s.mu.Lock()
	s.counts = counts
	s.mu.Unlock()
}

// stop waits for the consumer, both poll loops and, when withCountdown is
// set, the countdown. It reports false when timeout elapsed first.
func (s *liveSession) stop(withCountdown bool, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		<-s.consumerDone
		s.polls.Wait()
		if withCountdown {
			<-s.countdownDone
		}
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// elapse subtracts d from the remaining time and returns what is left.
func (s *liveSession) elapse(d time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remaining -= d
	if s.remaining < 0 {
		s.remaining = 0
	}
	return s.remaining
}

// StartSession activates a scheduled session. The stored session moves to
// ACTIVE before any timer or poll loop starts. The coordinator lock is not
// held during store or roster I/O; a concurrent start is rejected instead.
func (c *Coordinator) StartSession(ctx context.Context, req StartSessionRequest) (*SessionSnapshot, error) {
	if req.SessionID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session id is required")
	}

	c.mu.Lock()
	if c.active != nil {
		id := c.active.session.ID
		c.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("session %s is already active", id))
	}
	if c.starting {
		c.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "another session is starting")
	}
	c.starting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	session, err := c.sessions.FindByID(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrSessionPersist.Code, appErrors.ErrSessionPersist.Status, "failed to load session")
	}
	if session.Status != models.SessionStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("session %s is %s", session.ID, session.Status))
	}

	roster, err := c.rosters.LoadRoster(ctx, session.ClassID)
	degraded := false
	if err != nil {
		if !req.AllowEmptyRoster || !emptyRoster(err) {
			return nil, err
		}
		c.logger.Warn("starting session without roster",
			zap.String("session_id", session.ID),
			zap.String("class_id", session.ClassID),
			zap.Error(err),
		)
		roster = models.NewClassRoster(session.ClassID, nil)
		degraded = true
	}

	persistCtx, cancel := context.WithTimeout(ctx, c.cfg.PersistTimeout)
	stored, err := c.sessions.MarkActive(persistCtx, session.ID, c.now())
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrStaleSession) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("session %s is no longer scheduled", session.ID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrSessionPersist.Code, appErrors.ErrSessionPersist.Status, "failed to activate session")
	}

	live := &liveSession{
		session:       *stored,
		roster:        roster,
		degraded:      degraded,
		detections:    make(chan []models.ResolvedDetection, 16),
		consumerDone:  make(chan struct{}),
		countdownDone: make(chan struct{}),
		seen: map[models.Modality]map[int64]struct{}{
			models.ModalityFace:        {},
			models.ModalityFingerprint: {},
		},
		remaining: c.cfg.SessionDuration,
	}
	live.ctx, live.cancel = context.WithCancel(context.Background())

	countdownTicks, stopCountdown := c.newTicker(c.cfg.Tick)
	faceTicks, stopFace := c.newTicker(c.cfg.FacePollInterval)
	fingerprintTicks, stopFingerprint := c.newTicker(c.cfg.FingerprintPollInterval)

	c.mu.Lock()
	c.active = live
	go c.consume(live)
	go c.countdown(live, countdownTicks, stopCountdown)
	live.polls.Add(2)
	go c.pollLoop(live, faceTicks, stopFace, c.pollFace)
	go c.pollLoop(live, fingerprintTicks, stopFingerprint, c.pollFingerprint)
	c.mu.Unlock()

	c.metrics.SetActiveSessions(1)
	c.logger.Info("attendance session started",
		zap.String("session_id", stored.ID),
		zap.String("class_id", stored.ClassID),
		zap.Int("roster_size", roster.Len()),
		zap.Bool("degraded", degraded),
		zap.Duration("duration", c.cfg.SessionDuration),
	)
	return live.snapshot(), nil
}

// emptyRoster reports a roster error caused by a class without students, as
// opposed to a failed roster query.
func emptyRoster(err error) bool {
	if !errors.Is(err, appErrors.ErrRosterLoad) {
		return false
	}
	return appErrors.FromError(err).Status == appErrors.ErrRosterLoad.Status
}

// EndSession closes the active session. It returns nil, nil when no session
// is active. When the close cannot be persisted the session stays active and
// a retryable error is returned.
func (c *Coordinator) EndSession(ctx context.Context) (*SessionSnapshot, error) {
	c.mu.Lock()
	live := c.active
	c.mu.Unlock()
	if live == nil {
		return nil, nil
	}
	return c.terminate(ctx, live, EndReasonManual)
}

// Active returns a snapshot of the live session, or nil when idle.
func (c *Coordinator) Active() *SessionSnapshot {
	c.mu.Lock()
	live := c.active
	c.mu.Unlock()
	if live == nil {
		return nil
	}
	return live.snapshot()
}

// terminate persists the close, then cancels the session and waits for its
// goroutines. The countdown is not waited on when it is the caller.
func (c *Coordinator) terminate(ctx context.Context, live *liveSession, reason string) (*SessionSnapshot, error) {
	stored, err := c.close(ctx, live, reason)
	if err != nil || stored == nil {
		return nil, err
	}

	if !live.stop(reason != EndReasonExpired, c.cfg.StopTimeout) {
		c.logger.Warn("biometric poll still in flight after session end",
			zap.String("session_id", stored.ID),
			zap.Duration("waited", c.cfg.StopTimeout),
		)
	}

	snapshot := live.snapshot()
	snapshot.Session = *stored
	snapshot.EndReason = reason
	c.logger.Info("attendance session ended",
		zap.String("session_id", stored.ID),
		zap.String("reason", reason),
		zap.Int("detected", snapshot.Detected),
		zap.Int("present", snapshot.Present),
	)
	return snapshot, nil
}

// close moves live to CLOSED in the store and detaches it. It returns nil, nil
// when live is no longer the active session.
func (c *Coordinator) close(ctx context.Context, live *liveSession, reason string) (*models.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != live {
		return nil, nil
	}

	persistCtx, cancel := context.WithTimeout(ctx, c.cfg.PersistTimeout)
	stored, err := c.sessions.MarkClosed(persistCtx, live.session.ID, c.now())
	cancel()
	if err != nil && errors.Is(err, repository.ErrStaleSession) {
		stored, err = c.alreadyClosed(ctx, live.session.ID, err)
	}
	if err != nil {
		c.logger.Warn("failed to persist session end",
			zap.String("session_id", live.session.ID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return nil, appErrors.Wrap(err, appErrors.ErrSessionPersist.Code, appErrors.ErrSessionPersist.Status, "failed to close session")
	}

	live.cancel()
	c.active = nil
	c.metrics.SetActiveSessions(0)
	return stored, nil
}

// alreadyClosed accepts a stale close when the stored session is already CLOSED.
func (c *Coordinator) alreadyClosed(ctx context.Context, id string, staleErr error) (*models.Session, error) {
	session, err := c.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusClosed {
		return nil, staleErr
	}
	return session, nil
}

func (c *Coordinator) countdown(live *liveSession, ticks <-chan time.Time, stop func()) {
	defer close(live.countdownDone)
	defer stop()
	for {
		select {
		case <-live.ctx.Done():
			return
		case <-ticks:
			if live.elapse(c.cfg.Tick) > 0 {
				continue
			}
			if _, err := c.terminate(context.Background(), live, EndReasonExpired); err != nil {
				// retried on the next tick
				continue
			}
			return
		}
	}
}

// pollLoop runs poll on every tick. Calls never overlap; ticks that arrive
// while a poll is in flight are dropped by the ticker.
func (c *Coordinator) pollLoop(live *liveSession, ticks <-chan time.Time, stop func(), poll func(*liveSession)) {
	defer live.polls.Done()
	defer stop()
	for {
		select {
		case <-live.ctx.Done():
			return
		case <-ticks:
			poll(live)
		}
	}
}

func (c *Coordinator) pollFace(live *liveSession) {
	started := time.Now()
	results, err := c.face.Poll(live.ctx)
	if live.ctx.Err() != nil {
		return
	}
	c.metrics.ObservePoll(sourceFace, err, time.Since(started))
	if err != nil {
		c.pollFailed(live, sourceFace, err)
		return
	}
	c.dispatch(live, c.reconciler.Resolve(live.session.ID, live.roster, c.reconciler.FaceEvents(results)))
}

func (c *Coordinator) pollFingerprint(live *liveSession) {
	started := time.Now()
	result, err := c.fingerprint.Poll(live.ctx)
	if live.ctx.Err() != nil {
		return
	}
	c.metrics.ObservePoll(sourceFingerprint, err, time.Since(started))
	if err != nil {
		c.pollFailed(live, sourceFingerprint, err)
		return
	}
	c.dispatch(live, c.reconciler.Resolve(live.session.ID, live.roster, c.reconciler.FingerprintEvents(result)))
}

func (c *Coordinator) pollFailed(live *liveSession, source string, err error) {
	c.logger.Warn("biometric poll failed",
		zap.String("session_id", live.session.ID),
		zap.String("source", source),
		zap.Error(err),
	)
}

func (c *Coordinator) dispatch(live *liveSession, result ReconcileResult) {
	if live.ctx.Err() != nil {
		return
	}
	for _, notice := range result.Notices {
		live.addNotice(notice, c.cfg.NoticeBuffer)
		c.logger.Warn("detection not in roster",
			zap.String("session_id", notice.SessionID),
			zap.String("raw_key", notice.RawKey),
		)
	}
	if len(result.Detections) == 0 {
		return
	}
	select {
	case live.detections <- result.Detections:
	case <-live.ctx.Done():
	}
}

// consume is the only writer of attendance for the session and the only
// reader of its dedup sets.
func (c *Coordinator) consume(live *liveSession) {
	defer close(live.consumerDone)
	for {
		select {
		case <-live.ctx.Done():
			return
		case batch := <-live.detections:
			for _, detection := range batch {
				if live.ctx.Err() != nil {
					return
				}
				c.record(live, detection)
			}
		}
	}
}

func (c *Coordinator) record(live *liveSession, d models.ResolvedDetection) {
	source := sourceLabel(d.Modality)
	seen := live.seen[d.Modality]
	if _, dup := seen[d.StudentID]; dup && d.InRoster {
		c.metrics.RecordDetection(source, outcomeDuplicate)
		return
	}

	if _, err := c.writer.RecordDetection(live.ctx, d.SessionID, d.StudentID, d.Modality, d.Confidence); err != nil {
		if live.ctx.Err() != nil {
			c.metrics.RecordDetection(source, outcomeDiscarded)
			return
		}
		c.logger.Warn("attendance write failed",
			zap.String("session_id", d.SessionID),
			zap.Int64("student_id", d.StudentID),
			zap.String("modality", string(d.Modality)),
			zap.Error(err),
		)
		return
	}
	if d.InRoster {
		seen[d.StudentID] = struct{}{}
	}

	counts, err := c.writer.Progress(live.ctx, d.SessionID)
	if err != nil {
		c.logger.Debug("failed to refresh attendance counts", zap.String("session_id", d.SessionID), zap.Error(err))
		return
	}
	live.setCounts(counts)
}
