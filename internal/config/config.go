package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string

	KafkaBrokers []string
	KafkaTopic   string

	PredictorURL     string
	PredictorTimeout time.Duration

	AuditBucket string
	AuditPrefix string

	CheckSchedule   string
	PendingStatuses []string
	Concurrency     int

	AllowDebugToken bool
	DebugToken      string
}

const (
	defaultAddr          = ":8074"
	defaultKafkaTopic    = "sla.escalations"
	defaultCheckSchedule = "*/15 * * * *"
	defaultPredTimeout   = 10 * time.Second
	defaultConcurrency   = 4
)

func Load() (Config, error) {
	cfg := Config{
		Addr:             getEnv("SLA_ENGINE_ADDR", defaultAddr),
		DatabaseURL:      firstNonEmpty(os.Getenv("SLA_ENGINE_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		KafkaBrokers:     splitCSV(os.Getenv("SLA_ENGINE_KAFKA_BROKERS")),
		KafkaTopic:       getEnv("SLA_ENGINE_KAFKA_TOPIC", defaultKafkaTopic),
		PredictorURL:     os.Getenv("SLA_ENGINE_PREDICTOR_URL"),
		PredictorTimeout: getDuration("SLA_ENGINE_PREDICTOR_TIMEOUT", defaultPredTimeout),
		AuditBucket:      os.Getenv("SLA_ENGINE_AUDIT_BUCKET"),
		AuditPrefix:      getEnv("SLA_ENGINE_AUDIT_PREFIX", "sla-engine"),
		CheckSchedule:    getEnv("SLA_ENGINE_CHECK_SCHEDULE", defaultCheckSchedule),
		PendingStatuses:  splitCSV(os.Getenv("SLA_ENGINE_PENDING_STATUSES")),
		Concurrency:      getInt("SLA_ENGINE_CHECK_CONCURRENCY", defaultConcurrency),
		AllowDebugToken:  getBool("SLA_ENGINE_ALLOW_DEBUG_TOKEN", false),
		DebugToken:       os.Getenv("SLA_ENGINE_DEBUG_TOKEN"),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL or SLA_ENGINE_DATABASE_URL required")
	}
	if cfg.Concurrency <= 0 {
		return Config{}, fmt.Errorf("SLA_ENGINE_CHECK_CONCURRENCY must be positive")
	}
	if os.Getenv("NODE_ENV") == "production" && cfg.AllowDebugToken {
		return Config{}, fmt.Errorf("SLA_ENGINE_ALLOW_DEBUG_TOKEN must not be set in production")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
