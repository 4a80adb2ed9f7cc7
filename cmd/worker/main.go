package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"faceattend/internal/attendance"
	"faceattend/internal/config"
	"faceattend/internal/fraud"
	"faceattend/internal/logging"
	"faceattend/internal/metrics"
	"faceattend/internal/queue"
	"faceattend/internal/store"
)

// Worker consumes attendance events and runs the pattern detector over each
// marked user's history.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	var q queue.Queue
	switch cfg.QueueBackend {
	case "redis":
		redisClient := store.NewRedis(cfg.RedisAddr)
		q = queue.NewRedisQueue(redisClient.Client, "faceattend:attendance")
	case "kafka":
		q = queue.NewKafkaQueue(cfg.KafkaBrokers, cfg.KafkaTopic, "faceattend-worker", logger)
	default:
		log.Fatalf("worker needs a shared queue backend, got %q", cfg.QueueBackend)
	}

	recordRepo := attendance.NewRepository(db)
	alertRepo := fraud.NewRepository(db)
	detector := fraud.NewDetector(alertRepo, recordRepo, fraud.NewRing(256), metrics.New(), time.Now, logger)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	logger.Info("worker started")
	for msg := range messages {
		if msg.Type != queue.TypeAttendanceMarked {
			continue
		}
		evt := msg.Marked
		if evt == nil || evt.UserID == "" {
			logger.Warn("malformed event", "type", msg.Type)
			continue
		}

		alert, err := detector.CheckPattern(ctx, evt.UserID)
		if err != nil {
			logger.Error("pattern check failed", "user_id", evt.UserID, "err", err)
			continue
		}
		if alert != nil {
			logger.Info("pattern alert raised", "user_id", evt.UserID, "alert_id", alert.ID)
		}
	}

	logger.Info("worker stopped")
}
