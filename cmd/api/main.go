package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faceattend/internal/attendance"
	"faceattend/internal/config"
	"faceattend/internal/face"
	"faceattend/internal/fraud"
	"faceattend/internal/httpmiddleware"
	"faceattend/internal/logging"
	"faceattend/internal/metrics"
	"faceattend/internal/queue"
	"faceattend/internal/session"
	"faceattend/internal/store"
	"faceattend/internal/users"
	"faceattend/internal/vault"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("api failed: %v", err)
	}
}

func run(cfg config.App) error {
	logger := logging.NewLogger(cfg.LogLevel)

	db, err := store.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	var redisClient *store.Redis
	if cfg.RedisAddr != "" {
		redisClient = store.NewRedis(cfg.RedisAddr)
	}

	var q queue.Queue
	switch cfg.QueueBackend {
	case "redis":
		if redisClient == nil {
			logger.Warn("redis queue requested without REDIS_ADDR, using memory")
			q = queue.NewInMemory(64)
		} else {
			q = queue.NewRedisQueue(redisClient.Client, "faceattend:attendance")
		}
	case "kafka":
		q = queue.NewKafkaQueue(cfg.KafkaBrokers, cfg.KafkaTopic, "faceattend-api", logger)
	default:
		q = queue.NewInMemory(64)
	}

	var locks store.Locker = store.NewKeyedMutex()
	if redisClient != nil {
		locks = redisClient.Locker(30 * time.Second)
	}

	mtr := metrics.New()

	keys := vault.NewFileKeyProvider(cfg.KeyFile)
	templates := vault.NewStore(keys)

	extractor := face.NewExtractor(face.ExtractorConfig{
		MinWidth:  cfg.Face.MinWidth,
		MinHeight: cfg.Face.MinHeight,
	}, logger)
	engine := face.NewEngine(cfg.Face.Tolerance, cfg.Face.MinConfidence, logger)

	userRepo := users.NewRepository(db)
	enroller := users.NewEnroller(userRepo, extractor, templates, logger)

	sessionRepo := session.NewRepository(db)
	sessions := session.NewManager(sessionRepo, userRepo, cfg.LateThreshold, time.Now, logger)

	alertRepo := fraud.NewRepository(db)
	recordRepo := attendance.NewRepository(db)
	detector := fraud.NewDetector(alertRepo, recordRepo, fraud.NewRing(256), mtr, time.Now, logger)

	recorder := attendance.NewRecorder(attendance.RecorderOpts{
		Records:   recordRepo,
		Sessions:  sessions,
		Directory: userRepo,
		Alerts:    detector,
		Extractor: meteredExtractor{extractor, mtr},
		Verifier:  meteredVerifier{engine, mtr},
		Cipher:    templates,
		Notifier:  queueNotifier{q, logger},
		Observer:  mtr,
		Locks:     locks,
		Cooldown:  cfg.Cooldown,
		Clock:     time.Now,
		Logger:    logger,
	})

	api := &api{
		cfg:       cfg,
		markLimit: httpmiddleware.NewTokenBucket(cfg.MarkRatePerMin, cfg.MarkRatePerMin).GinMiddleware(),
		logger:    logger,
		users:     userRepo,
		enroller:  enroller,
		sessions:  sessions,
		recorder:  recorder,
		records:   recordRepo,
		alerts:    alertRepo,
		detector:  detector,
		engine:    engine,
		extract:   meteredExtractor{extractor, mtr},
		templates: templates,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		body := gin.H{"status": "ok", "db": dbHealthy}
		if redisClient != nil {
			redisHealthy := redisClient.Healthy(c.Request.Context())
			body["redis"] = redisHealthy
			if !redisHealthy {
				status = http.StatusServiceUnavailable
			}
		}
		if !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	})

	api.register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api listening", "port", cfg.HTTPPort, "driver", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "err", err)
	}
	return nil
}

// meteredExtractor records extraction latency around the real pipeline.
type meteredExtractor struct {
	ext *face.Extractor
	m   *metrics.Metrics
}

func (e meteredExtractor) Extract(data []byte) (*face.Capture, error) {
	start := time.Now()
	capture, err := e.ext.Extract(data)
	e.m.ObserveExtraction(time.Since(start))
	return capture, err
}

// meteredVerifier counts verification outcomes.
type meteredVerifier struct {
	engine *face.Engine
	m      *metrics.Metrics
}

func (v meteredVerifier) Verify(live, stored face.Descriptor) (bool, float64) {
	ok, conf := v.engine.Verify(live, stored)
	v.m.Verified(ok)
	return ok, conf
}

// queueNotifier hands successful marks to the background queue.
type queueNotifier struct {
	q      queue.Queue
	logger *slog.Logger
}

func (n queueNotifier) AttendanceMarked(ctx context.Context, rec *attendance.Record) {
	msg := queue.NewMarked(queue.Marked{
		RecordID:  rec.ID,
		UserID:    rec.UserID,
		Status:    rec.Status,
		SessionID: rec.SessionID,
	})
	if err := n.q.Publish(ctx, msg); err != nil {
		n.logger.Warn("queue publish failed", "err", err)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
