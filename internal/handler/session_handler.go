package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-coordinator/internal/dto"
	"github.com/noah-isme/sma-attendance-coordinator/internal/models"
	"github.com/noah-isme/sma-attendance-coordinator/internal/service"
	appErrors "github.com/noah-isme/sma-attendance-coordinator/pkg/errors"
	"github.com/noah-isme/sma-attendance-coordinator/pkg/response"
)

type sessionService interface {
	Create(ctx context.Context, req dto.CreateSessionRequest, createdBy string) (*models.Session, error)
	List(ctx context.Context, query dto.ListSessionsQuery) ([]models.Session, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	AttendanceReport(ctx context.Context, id string) (*dto.SessionAttendanceReport, error)
	ExportAttendance(ctx context.Context, id, format string) (*dto.ExportFile, error)
}

type sessionCoordinator interface {
	StartSession(ctx context.Context, req service.StartSessionRequest) (*service.SessionSnapshot, error)
	EndSession(ctx context.Context) (*service.SessionSnapshot, error)
	Active() *service.SessionSnapshot
}

// SessionHandler exposes scheduling, lifecycle and attendance endpoints.
type SessionHandler struct {
	sessions    sessionService
	coordinator sessionCoordinator
}

// NewSessionHandler builds a session handler.
func NewSessionHandler(sessions sessionService, coordinator sessionCoordinator) *SessionHandler {
	return &SessionHandler{sessions: sessions, coordinator: coordinator}
}

// Create godoc
// @Summary Schedule an attendance session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.CreateSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid session payload"))
		return
	}
	session, err := h.sessions.Create(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// List godoc
// @Summary List attendance sessions
// @Tags Sessions
// @Produce json
// @Param class_id query string false "Class ID"
// @Param status query string false "SCHEDULED, ACTIVE or CLOSED"
// @Param from query string false "Scheduled start lower bound (RFC3339 or YYYY-MM-DD)"
// @Param to query string false "Scheduled start upper bound (RFC3339 or YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	var query dto.ListSessionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	sessions, pagination, err := h.sessions.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, pagination)
}

// Get godoc
// @Summary Get a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Start godoc
// @Summary Start a scheduled session
// @Description Loads the class roster, marks the session active and starts biometric polling.
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body service.StartSessionRequest false "Start options"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /sessions/{id}/start [post]
func (h *SessionHandler) Start(c *gin.Context) {
	var req service.StartSessionRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid start payload"))
			return
		}
	}
	req.SessionID = c.Param("id")
	snapshot, err := h.coordinator.StartSession(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// End godoc
// @Summary End the active session
// @Description Idempotent. Responds with data null when no session is active.
// @Tags Sessions
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /sessions/active/end [post]
func (h *SessionHandler) End(c *gin.Context) {
	snapshot, err := h.coordinator.EndSession(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	if snapshot == nil {
		response.JSON(c, http.StatusOK, nil, nil)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// Active godoc
// @Summary Get the live session
// @Tags Sessions
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/active [get]
func (h *SessionHandler) Active(c *gin.Context) {
	snapshot := h.coordinator.Active()
	if snapshot == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "no active session"))
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// Attendance godoc
// @Summary Attendance records of a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/attendance [get]
func (h *SessionHandler) Attendance(c *gin.Context) {
	report, err := h.sessions.AttendanceReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Export godoc
// @Summary Download the attendance report
// @Tags Sessions
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Session ID"
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Router /sessions/{id}/attendance/export [get]
func (h *SessionHandler) Export(c *gin.Context) {
	file, err := h.sessions.ExportAttendance(c.Request.Context(), c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Content)
}
