package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-coordinator/internal/middleware"
	"github.com/noah-isme/sma-attendance-coordinator/internal/models"
)

// Routes groups the handlers mounted under the API prefix.
type Routes struct {
	Sessions  *SessionHandler
	Metrics   *MetricsHandler
	Validator middleware.TokenValidator
	Logger    *zap.Logger
}

// Register mounts probe endpoints at the root and the session API under prefix.
func (r Routes) Register(engine *gin.Engine, prefix string) {
	engine.GET("/health", r.Metrics.Health)
	engine.GET("/ready", r.Metrics.Ready)
	engine.GET("/metrics", r.Metrics.Prometheus)

	api := engine.Group(prefix)
	api.Use(middleware.JWT(r.Validator))

	staff := middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin)
	sessions := api.Group("/sessions")
	sessions.GET("", staff, r.Sessions.List)
	sessions.POST("", staff, r.Sessions.Create)
	sessions.GET("/active", staff, r.Sessions.Active)
	sessions.POST("/active/end", staff, middleware.Audit(r.Logger, "session.end"), r.Sessions.End)
	sessions.GET("/:id", staff, r.Sessions.Get)
	sessions.POST("/:id/start", staff, middleware.Audit(r.Logger, "session.start"), r.Sessions.Start)
	sessions.GET("/:id/attendance", staff, r.Sessions.Attendance)
	sessions.GET("/:id/attendance/export", staff, r.Sessions.Export)
}
