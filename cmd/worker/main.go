// Package main runs the background job worker (poll result export to S3) and tails the session event stream.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-classroom/backend/config"
	"github.com/aura-classroom/backend/internal/polls"
	"github.com/aura-classroom/backend/internal/realtime"
	"github.com/aura-classroom/backend/internal/worker"
	"github.com/aura-classroom/backend/pkg/database"
	"github.com/aura-classroom/backend/pkg/queue"
	"github.com/aura-classroom/backend/pkg/redis"
	"github.com/aura-classroom/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.AWS.ExportsBucket == "" {
		logger.Fatal("AWS_S3_EXPORTS_BUCKET is required for the export worker")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		ExportsBucket:        cfg.AWS.ExportsBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	pollRepo := polls.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewPollExportProcessor(pollRepo, s3Client, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session activity trail from the server's event mirror.
	events := realtime.NewRedisMirror(rdb.Client, cfg.Session.EventsChannel, logger)
	stopTail, err := events.Subscribe(workerCtx, func(event string, payload []byte) {
		switch event {
		case realtime.EventPollCreated, realtime.EventPollStarted, realtime.EventPollEnded, realtime.EventPollCancelled, realtime.EventParticipantKicked:
			logger.Info("session event", zap.String("event", event), zap.ByteString("payload", payload))
		default:
			logger.Debug("session event", zap.String("event", event))
		}
	})
	if err != nil {
		logger.Warn("event tail disabled", zap.Error(err))
	} else {
		defer stopTail()
	}

	go processor.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
