package sla_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coi-platform/sla-engine/internal/models"
	"github.com/coi-platform/sla-engine/internal/sla"
	"github.com/coi-platform/sla-engine/internal/store"
)

func TestResolvePrecedence(t *testing.T) {
	st := store.NewMemoryStore()
	stage := "Pending Compliance"

	st.SeedSLAConfig(models.SLAConfigEntry{
		WorkflowStage:   stage,
		ScopeType:       models.ScopePIE,
		TargetHours:     24,
		WarningPercent:  60,
		CriticalPercent: 80,
		IsActive:        true,
	})
	st.SeedSLAConfig(models.SLAConfigEntry{
		WorkflowStage:   stage,
		ScopeType:       models.ScopeServiceType,
		ScopeValue:      "STATUTORY_AUDIT",
		TargetHours:     36,
		WarningPercent:  70,
		CriticalPercent: 85,
		IsActive:        true,
	})
	st.SeedSLAConfig(models.SLAConfigEntry{
		WorkflowStage:   stage,
		ScopeType:       models.ScopeNone,
		TargetHours:     48,
		WarningPercent:  75,
		CriticalPercent: 90,
		IsActive:        true,
	})

	resolver := sla.NewResolver(st)
	ctx := context.Background()

	// PIE wins even when a service-type override also matches.
	cfg, err := resolver.Resolve(ctx, stage, "STATUTORY_AUDIT", true)
	require.NoError(t, err)
	assert.Equal(t, float64(24), cfg.TargetHours)
	assert.Equal(t, models.SourcePIEOverride, cfg.Source)

	cfg, err = resolver.Resolve(ctx, stage, "STATUTORY_AUDIT", false)
	require.NoError(t, err)
	assert.Equal(t, float64(36), cfg.TargetHours)
	assert.Equal(t, models.SourceServiceTypeOverride, cfg.Source)

	cfg, err = resolver.Resolve(ctx, stage, "", false)
	require.NoError(t, err)
	assert.Equal(t, float64(48), cfg.TargetHours)
	assert.Equal(t, models.SourceDefault, cfg.Source)

	// Unmatched service type falls through to the stage default.
	cfg, err = resolver.Resolve(ctx, stage, "ADVISORY", false)
	require.NoError(t, err)
	assert.Equal(t, models.SourceDefault, cfg.Source)
}

func TestResolveSkipsInactiveEntries(t *testing.T) {
	st := store.NewMemoryStore()
	stage := "Pending Partner"

	st.SeedSLAConfig(models.SLAConfigEntry{
		WorkflowStage:   stage,
		ScopeType:       models.ScopePIE,
		TargetHours:     12,
		WarningPercent:  60,
		CriticalPercent: 80,
		IsActive:        false,
	})
	st.SeedSLAConfig(models.SLAConfigEntry{
		WorkflowStage:   stage,
		ScopeType:       models.ScopeNone,
		TargetHours:     72,
		WarningPercent:  75,
		CriticalPercent: 90,
		IsActive:        true,
	})

	resolver := sla.NewResolver(st)
	cfg, err := resolver.Resolve(context.Background(), stage, "", true)
	require.NoError(t, err)
	assert.Equal(t, float64(72), cfg.TargetHours)
	assert.Equal(t, models.SourceDefault, cfg.Source)
}

func TestResolveFallbackWhenUnconfigured(t *testing.T) {
	resolver := sla.NewResolver(store.NewMemoryStore())

	cfg, err := resolver.Resolve(context.Background(), "Pending Finance", "", false)
	require.NoError(t, err)
	assert.Equal(t, float64(48), cfg.TargetHours)
	assert.Equal(t, 75, cfg.WarningPercent)
	assert.Equal(t, 90, cfg.CriticalPercent)
	assert.Equal(t, models.SourceFallback, cfg.Source)
}
