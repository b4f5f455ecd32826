package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-attendance-coordinator/api/swagger"
	"github.com/noah-isme/sma-attendance-coordinator/internal/biometric"
	"github.com/noah-isme/sma-attendance-coordinator/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-attendance-coordinator/internal/middleware"
	"github.com/noah-isme/sma-attendance-coordinator/internal/repository"
	"github.com/noah-isme/sma-attendance-coordinator/internal/service"
	"github.com/noah-isme/sma-attendance-coordinator/pkg/cache"
	"github.com/noah-isme/sma-attendance-coordinator/pkg/config"
	"github.com/noah-isme/sma-attendance-coordinator/pkg/database"
	"github.com/noah-isme/sma-attendance-coordinator/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-attendance-coordinator/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-attendance-coordinator/pkg/middleware/requestid"
)

// @title Attendance Session Coordinator API
// @version 1.0.0
// @description Schedules class attendance sessions and records biometric detections while a session is live.
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis, cfg.Roster.CacheEnabled)
	if err != nil {
		logr.Fatal("failed to connect to redis", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	sessionRepo := repository.NewSessionRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	recordRepo := repository.NewAttendanceRecordRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Roster.CacheTTL, logr, redisClient != nil)
	rosterSvc := service.NewRosterService(studentRepo, cacheSvc, logr)
	writer := service.NewAttendanceWriter(recordRepo, metricsSvc, logr)
	reconciler := service.NewReconciler(cfg.Biometrics.FaceConfidenceThreshold, metricsSvc, logr)

	faceClient := biometric.NewFaceClient(biometric.Config{
		BaseURL:  cfg.Biometrics.FaceURL,
		PollPath: cfg.Biometrics.FacePollPath,
		Timeout:  cfg.Biometrics.HTTPTimeout,
	})
	fingerprintClient := biometric.NewFingerprintClient(biometric.Config{
		BaseURL:  cfg.Biometrics.FingerprintURL,
		PollPath: cfg.Biometrics.FingerprintPollPath,
		Timeout:  cfg.Biometrics.HTTPTimeout,
	})

	coordinator := service.NewCoordinator(
		sessionRepo,
		rosterSvc,
		writer,
		faceClient,
		fingerprintClient,
		reconciler,
		metricsSvc,
		service.CoordinatorConfig{
			SessionDuration:         cfg.Coordinator.SessionDuration,
			Tick:                    cfg.Coordinator.Tick,
			FacePollInterval:        cfg.Biometrics.FacePollInterval,
			FingerprintPollInterval: cfg.Biometrics.FingerprintPollInterval,
			PersistTimeout:          cfg.Coordinator.PersistTimeout,
			StopTimeout:             cfg.Coordinator.StopTimeout,
			NoticeBuffer:            cfg.Coordinator.NoticeBuffer,
		},
		logr,
	)
	sessionSvc := service.NewSessionService(sessionRepo, recordRepo, validator.New(), logr)
	authSvc := service.NewAuthService(service.AuthConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		Leeway:   30 * time.Second,
	})

	checks := map[string]handler.Pinger{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	handler.Routes{
		Sessions:  handler.NewSessionHandler(sessionSvc, coordinator),
		Metrics:   handler.NewMetricsHandler(metricsSvc, checks),
		Validator: authSvc,
		Logger:    logr,
	}.Register(r, cfg.APIPrefix)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http server shutdown", zap.Error(err))
	}
	if snapshot, err := coordinator.EndSession(shutdownCtx); err != nil {
		logr.Error("failed to close active session on shutdown", zap.Error(err))
	} else if snapshot != nil {
		logr.Info("active session closed on shutdown", zap.String("session_id", snapshot.Session.ID))
	}
}
