// Package main runs the live classroom HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-classroom/backend/config"
	"github.com/aura-classroom/backend/internal/auth"
	"github.com/aura-classroom/backend/internal/chat"
	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/polls"
	"github.com/aura-classroom/backend/internal/presence"
	"github.com/aura-classroom/backend/internal/realtime"
	"github.com/aura-classroom/backend/internal/session"
	"github.com/aura-classroom/backend/internal/sessionlog"
	"github.com/aura-classroom/backend/pkg/database"
	"github.com/aura-classroom/backend/pkg/queue"
	"github.com/aura-classroom/backend/pkg/redis"
	"github.com/aura-classroom/backend/pkg/response"
	"github.com/aura-classroom/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Redis is optional: without it there is no event mirror and no export queue.
	var (
		mirror   realtime.EventMirror
		jobQueue *queue.Queue
	)
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("redis disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			redisMirror := realtime.NewRedisMirror(rdb.Client, cfg.Session.EventsChannel, logger)
			go redisMirror.Run(bgCtx)
			mirror = redisMirror
			jobQueue = queue.NewQueue(rdb.Client, logger)
		}
	}

	var s3Client *storage.S3
	if cfg.AWS.ExportsBucket != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ExportsBucket:        cfg.AWS.ExportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	hub := realtime.NewHub(logger, mirror)
	registry := presence.NewRegistry()

	// Polls
	pollRepo := polls.NewRepository(pool)
	engine := polls.NewEngine(pollRepo, hub, polls.RealScheduler(), polls.Options{
		MinDuration:     cfg.Session.PollMinDuration,
		MaxDuration:     cfg.Session.PollMaxDuration,
		DefaultDuration: cfg.Session.PollDefaultDuration,
		GraceDelay:      cfg.Session.QueueGraceDelay,
		StoreTimeout:    cfg.Session.StoreTimeout,
	}, logger)
	if jobQueue != nil {
		engine.SetEndedHandler(func(p models.Poll) {
			if p.Status != models.PollCompleted {
				return
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.Session.StoreTimeout)
				defer cancel()
				if err := jobQueue.EnqueuePollExport(ctx, queue.PollExportPayload{PollID: p.ID}); err != nil {
					logger.Warn("enqueue poll export", zap.String("poll_id", p.ID.String()), zap.Error(err))
				}
			}()
		})
	}
	var presigner polls.Presigner
	if s3Client != nil {
		presigner = s3Client
	}
	pollHandler := polls.NewHandler(engine, pollRepo, presigner, logger)

	// Chat
	chatRepo := chat.NewRepository(pool)
	relay := chat.NewRelay(chatRepo, hub, chat.Options{
		MaxLength:    cfg.Session.ChatMaxLength,
		HistoryLimit: cfg.Session.ChatHistoryLimit,
		Retain:       cfg.Session.ChatRetain,
		StoreTimeout: cfg.Session.StoreTimeout,
	}, logger)
	if err := relay.Load(ctx); err != nil {
		logger.Warn("chat history not loaded", zap.Error(err))
	}
	chatHandler := chat.NewHandler(relay)

	// Attendance
	sessionLogRepo := sessionlog.NewRepository(pool)
	sessionLogHandler := sessionlog.NewHandler(sessionLogRepo)

	// Session supervisor
	userRepo := auth.NewRepository(pool)
	supervisor := session.NewSupervisor(
		registry, engine, relay, hub,
		session.NewResolver(userRepo, cfg.Session.StoreTimeout, logger),
		sessionLogRepo,
		session.Options{
			RosterIncludeEphemeral: cfg.Session.RosterIncludeEphemeral,
			StoreTimeout:           cfg.Session.StoreTimeout,
		},
		logger,
	)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok", "connections": hub.Count(), "participants": registry.Count()})
	})

	// Polls and chat (read-only)
	router.GET("/polls", pollHandler.List)
	router.GET("/polls/:id", pollHandler.Get)
	router.GET("/polls/:id/results", pollHandler.Results)
	router.GET("/polls/:id/export", pollHandler.Export)
	router.GET("/messages", chatHandler.List)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/attendance", middleware.RequireRole(string(models.RoleTeacher)), sessionLogHandler.GetAttendance)
	}

	// WebSocket (optional token in query)
	router.GET("/ws", realtime.ServeWs(hub, supervisor, jwtService.ValidateIdentity, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	engine.Shutdown()
	hub.Close()
	bgCancel()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
