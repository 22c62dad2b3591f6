package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coi-platform/sla-engine/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/sla_engine_test")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":8074", cfg.Addr)
	assert.Equal(t, "sla.escalations", cfg.KafkaTopic)
	assert.Equal(t, "*/15 * * * *", cfg.CheckSchedule)
	assert.Equal(t, 10*time.Second, cfg.PredictorTimeout)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.AllowDebugToken)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SLA_ENGINE_DATABASE_URL", "")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SLA_ENGINE_DATABASE_URL", "postgres://db1/sla")
	t.Setenv("SLA_ENGINE_KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("SLA_ENGINE_PREDICTOR_TIMEOUT", "3s")
	t.Setenv("SLA_ENGINE_CHECK_CONCURRENCY", "8")
	t.Setenv("SLA_ENGINE_PENDING_STATUSES", "Draft,Pending Compliance")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://db1/sla", cfg.DatabaseURL)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3*time.Second, cfg.PredictorTimeout)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, []string{"Draft", "Pending Compliance"}, cfg.PendingStatuses)
}

func TestLoadRejectsDebugTokenInProduction(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/sla")
	t.Setenv("SLA_ENGINE_ALLOW_DEBUG_TOKEN", "true")
	t.Setenv("NODE_ENV", "production")

	_, err := config.Load()
	require.Error(t, err)
}
