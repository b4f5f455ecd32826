package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-coordinator/internal/dto"
	"github.com/noah-isme/sma-attendance-coordinator/internal/models"
	"github.com/noah-isme/sma-attendance-coordinator/internal/service"
	appErrors "github.com/noah-isme/sma-attendance-coordinator/pkg/errors"
)

type sessionServiceMock struct {
	created     *models.Session
	createErr   error
	createdBy   string
	listResp    []models.Session
	lastQuery   dto.ListSessionsQuery
	getErr      error
	report      *dto.SessionAttendanceReport
	file        *dto.ExportFile
	exportErr   error
	exportParam string
}

func (m *sessionServiceMock) Create(ctx context.Context, req dto.CreateSessionRequest, createdBy string) (*models.Session, error) {
	m.createdBy = createdBy
	return m.created, m.createErr
}

func (m *sessionServiceMock) List(ctx context.Context, query dto.ListSessionsQuery) ([]models.Session, *models.Pagination, error) {
	m.lastQuery = query
	return m.listResp, &models.Pagination{Page: 1, PageSize: 20, TotalCount: len(m.listResp)}, nil
}

func (m *sessionServiceMock) Get(ctx context.Context, id string) (*models.Session, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &models.Session{ID: id}, nil
}

func (m *sessionServiceMock) AttendanceReport(ctx context.Context, id string) (*dto.SessionAttendanceReport, error) {
	return m.report, nil
}

func (m *sessionServiceMock) ExportAttendance(ctx context.Context, id, format string) (*dto.ExportFile, error) {
	m.exportParam = format
	return m.file, m.exportErr
}

type coordinatorMock struct {
	startReq  service.StartSessionRequest
	startResp *service.SessionSnapshot
	startErr  error
	endResp   *service.SessionSnapshot
	endErr    error
	active    *service.SessionSnapshot
}

func (m *coordinatorMock) StartSession(ctx context.Context, req service.StartSessionRequest) (*service.SessionSnapshot, error) {
	m.startReq = req
	return m.startResp, m.startErr
}

func (m *coordinatorMock) EndSession(ctx context.Context) (*service.SessionSnapshot, error) {
	return m.endResp, m.endErr
}

func (m *coordinatorMock) Active() *service.SessionSnapshot {
	return m.active
}

type staticValidator struct {
	role models.UserRole
}

func (v staticValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "valid" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return &models.JWTClaims{UserID: "teacher-1", Role: v.role}, nil
}

func newTestRouter(sessions *sessionServiceMock, coordinator *coordinatorMock, role models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	Routes{
		Sessions:  NewSessionHandler(sessions, coordinator),
		Metrics:   NewMetricsHandler(service.NewMetricsService(), nil),
		Validator: staticValidator{role: role},
	}.Register(engine, "/api/v1")
	return engine
}

func doRequest(r http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer valid")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func TestSessionHandlerCreate(t *testing.T) {
	sessions := &sessionServiceMock{created: &models.Session{ID: "s-1", Status: models.SessionStatusScheduled}}
	r := newTestRouter(sessions, &coordinatorMock{}, models.RoleTeacher)

	payload, _ := json.Marshal(dto.CreateSessionRequest{
		ClassID:        "class-10a",
		Subject:        "Physics",
		ScheduledStart: time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC),
		ScheduledEnd:   time.Date(2026, 3, 2, 7, 45, 0, 0, time.UTC),
	})
	w := doRequest(r, http.MethodPost, "/api/v1/sessions", payload)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "teacher-1", sessions.createdBy)

	w = doRequest(r, http.MethodPost, "/api/v1/sessions", []byte(`{"class_id":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandlerListBindsQuery(t *testing.T) {
	sessions := &sessionServiceMock{listResp: []models.Session{{ID: "s-1"}}}
	r := newTestRouter(sessions, &coordinatorMock{}, models.RoleAdmin)

	w := doRequest(r, http.MethodGet, "/api/v1/sessions?class_id=class-10a&status=ACTIVE&page=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "class-10a", sessions.lastQuery.ClassID)
	assert.Equal(t, "ACTIVE", sessions.lastQuery.Status)
	assert.Equal(t, 2, sessions.lastQuery.Page)
	assert.Contains(t, decodeEnvelope(t, w), "pagination")
}

func TestSessionHandlerGetNotFound(t *testing.T) {
	sessions := &sessionServiceMock{getErr: appErrors.Clone(appErrors.ErrNotFound, "session not found")}
	r := newTestRouter(sessions, &coordinatorMock{}, models.RoleTeacher)
	w := doRequest(r, http.MethodGet, "/api/v1/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandlerStart(t *testing.T) {
	coordinator := &coordinatorMock{startResp: &service.SessionSnapshot{Session: models.Session{ID: "s-1", Status: models.SessionStatusActive}, RemainingSeconds: 600}}
	r := newTestRouter(&sessionServiceMock{}, coordinator, models.RoleTeacher)

	w := doRequest(r, http.MethodPost, "/api/v1/sessions/s-1/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s-1", coordinator.startReq.SessionID)
	assert.False(t, coordinator.startReq.AllowEmptyRoster)

	w = doRequest(r, http.MethodPost, "/api/v1/sessions/s-1/start", []byte(`{"allow_empty_roster":true}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, coordinator.startReq.AllowEmptyRoster)
}

func TestSessionHandlerStartErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{err: appErrors.Clone(appErrors.ErrInvalidTransition, "session s-1 is CLOSED"), want: http.StatusConflict},
		{err: appErrors.Clone(appErrors.ErrRosterLoad, "class has no enrolled students"), want: http.StatusUnprocessableEntity},
		{err: appErrors.Wrap(errors.New("timeout"), appErrors.ErrSessionPersist.Code, appErrors.ErrSessionPersist.Status, "failed to activate session"), want: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		coordinator := &coordinatorMock{startErr: tc.err}
		r := newTestRouter(&sessionServiceMock{}, coordinator, models.RoleTeacher)
		w := doRequest(r, http.MethodPost, "/api/v1/sessions/s-1/start", nil)
		assert.Equal(t, tc.want, w.Code)
		if tc.want == http.StatusServiceUnavailable {
			assert.Equal(t, "1", w.Header().Get("Retry-After"))
		}
	}
}

func TestSessionHandlerStudentForbidden(t *testing.T) {
	r := newTestRouter(&sessionServiceMock{}, &coordinatorMock{}, models.RoleStudent)
	w := doRequest(r, http.MethodPost, "/api/v1/sessions/s-1/start", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSessionHandlerEndIdleReturnsNull(t *testing.T) {
	r := newTestRouter(&sessionServiceMock{}, &coordinatorMock{}, models.RoleTeacher)
	w := doRequest(r, http.MethodPost, "/api/v1/sessions/active/end", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", string(decodeEnvelope(t, w)["data"]))
}

func TestSessionHandlerEndWithSnapshot(t *testing.T) {
	coordinator := &coordinatorMock{endResp: &service.SessionSnapshot{Session: models.Session{ID: "s-1", Status: models.SessionStatusClosed}, EndReason: service.EndReasonManual}}
	r := newTestRouter(&sessionServiceMock{}, coordinator, models.RoleTeacher)
	w := doRequest(r, http.MethodPost, "/api/v1/sessions/active/end", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snapshot service.SessionSnapshot
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w)["data"], &snapshot))
	assert.Equal(t, models.SessionStatusClosed, snapshot.Session.Status)
	assert.Equal(t, service.EndReasonManual, snapshot.EndReason)
}

func TestSessionHandlerActive(t *testing.T) {
	coordinator := &coordinatorMock{}
	r := newTestRouter(&sessionServiceMock{}, coordinator, models.RoleTeacher)
	w := doRequest(r, http.MethodGet, "/api/v1/sessions/active", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	coordinator.active = &service.SessionSnapshot{Session: models.Session{ID: "s-1"}, RosterSize: 30, Present: 4}
	w = doRequest(r, http.MethodGet, "/api/v1/sessions/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snapshot service.SessionSnapshot
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w)["data"], &snapshot))
	assert.Equal(t, 30, snapshot.RosterSize)
	assert.Equal(t, 4, snapshot.Present)
}

func TestSessionHandlerExport(t *testing.T) {
	sessions := &sessionServiceMock{file: &dto.ExportFile{Filename: "attendance.csv", ContentType: "text/csv; charset=utf-8", Content: []byte("a,b\n")}}
	r := newTestRouter(sessions, &coordinatorMock{}, models.RoleTeacher)

	w := doRequest(r, http.MethodGet, "/api/v1/sessions/s-1/attendance/export?format=csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", sessions.exportParam)
	assert.Equal(t, `attachment; filename="attendance.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "a,b\n", w.Body.String())
}

func TestSessionHandlerRequiresToken(t *testing.T) {
	r := newTestRouter(&sessionServiceMock{}, &coordinatorMock{}, models.RoleTeacher)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/active", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProbeEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	Routes{
		Sessions:  NewSessionHandler(&sessionServiceMock{}, &coordinatorMock{}),
		Validator: staticValidator{role: models.RoleTeacher},
		Metrics: NewMetricsHandler(service.NewMetricsService(), map[string]Pinger{
			"postgres": func(ctx context.Context) error { return nil },
			"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
		}),
	}.Register(engine, "/api/v1")

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "active_sessions")
}
