package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Face holds the biometric pipeline tuning knobs. These may be overridden from
// the optional YAML file so operators can tighten thresholds without a redeploy.
type Face struct {
	Tolerance     float64 `yaml:"tolerance"`
	MinConfidence float64 `yaml:"min_confidence"`
	MinWidth      int     `yaml:"min_width"`
	MinHeight     int     `yaml:"min_height"`
}

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env             string
	HTTPPort        string
	LogLevel        string
	DBDriver        string
	DatabaseURL     string
	RedisAddr       string
	QueueBackend    string
	KafkaBrokers    []string
	KafkaTopic      string
	JWTIssuer       string
	JWTSigningKey   string
	AccessTTL       time.Duration
	KeyFile         string
	Cooldown        time.Duration
	LateThreshold   time.Duration
	RateLimitPerMin int
	MarkRatePerMin  int
	Face            Face
}

type fileOverlay struct {
	Face *Face `yaml:"face"`
}

// Load returns application config populated from environment variables with
// sensible defaults. When CONFIG_FILE points at a YAML file, its face block
// overrides the environment-derived thresholds.
func Load() App {
	cfg := App{
		Env:             getEnv("APP_ENV", "dev"),
		HTTPPort:        getEnv("HTTP_PORT", "8081"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DBDriver:        getEnv("DB_DRIVER", "sqlite"),
		DatabaseURL:     getEnv("DATABASE_URL", "file:faceattend.db?_pragma=busy_timeout(5000)"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		QueueBackend:    getEnv("QUEUE_BACKEND", "memory"),
		KafkaBrokers:    splitEnv("KAFKA_BROKERS"),
		KafkaTopic:      getEnv("KAFKA_TOPIC", "faceattend.attendance"),
		JWTIssuer:       getEnv("JWT_ISSUER", "faceattend"),
		JWTSigningKey:   getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		AccessTTL:       durationEnv("ACCESS_TTL", 24*time.Hour),
		KeyFile:         getEnv("TEMPLATE_KEY_FILE", ".face_key"),
		Cooldown:        durationEnv("ATTENDANCE_COOLDOWN", 60*time.Minute),
		LateThreshold:   durationEnv("LATE_THRESHOLD", 15*time.Minute),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 120),
		MarkRatePerMin:  intEnv("RATE_LIMIT_ATTENDANCE", 5),
		Face: Face{
			Tolerance:     floatEnv("FACE_TOLERANCE", 0.4),
			MinConfidence: floatEnv("FACE_MIN_CONFIDENCE", 0.7),
			MinWidth:      intEnv("FACE_MIN_WIDTH", 640),
			MinHeight:     intEnv("FACE_MIN_HEIGHT", 480),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			log.Printf("config file %s ignored: %v", path, err)
		}
	}
	return cfg
}

func applyFile(cfg *App, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}
	if overlay.Face != nil {
		if overlay.Face.Tolerance > 0 {
			cfg.Face.Tolerance = overlay.Face.Tolerance
		}
		if overlay.Face.MinConfidence > 0 {
			cfg.Face.MinConfidence = overlay.Face.MinConfidence
		}
		if overlay.Face.MinWidth > 0 {
			cfg.Face.MinWidth = overlay.Face.MinWidth
		}
		if overlay.Face.MinHeight > 0 {
			cfg.Face.MinHeight = overlay.Face.MinHeight
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func splitEnv(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		var parsed float64
		if _, err := fmt.Sscanf(val, "%g", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid float for %s, using fallback %g", key, fallback)
	}
	return fallback
}
