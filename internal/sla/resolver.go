// Package sla resolves turnaround configuration and computes the timing
// status of workflow items against the business calendar.
package sla

import (
	"context"
	"errors"
	"fmt"

	"github.com/coi-platform/sla-engine/internal/models"
	"github.com/coi-platform/sla-engine/internal/store"
)

// Resolver picks the single applicable SLA config for a workflow stage.
// Precedence, first match wins: PIE-scoped entry (when the item is PIE),
// service-type-scoped entry, unscoped stage default, hard-coded fallback.
// A missing configuration is never an error; the fallback is tagged
// source=fallback so callers can tell.
type Resolver struct {
	store store.Store
}

func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

func (r *Resolver) Resolve(ctx context.Context, stage, serviceType string, isPIE bool) (models.SLAConfigEntry, error) {
	if isPIE {
		entry, err := r.store.ActiveSLAConfig(ctx, stage, models.ScopePIE, "")
		if err == nil {
			entry.Source = models.SourcePIEOverride
			return entry, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return models.SLAConfigEntry{}, fmt.Errorf("resolve pie config: %w", err)
		}
	}

	if serviceType != "" {
		entry, err := r.store.ActiveSLAConfig(ctx, stage, models.ScopeServiceType, serviceType)
		if err == nil {
			entry.Source = models.SourceServiceTypeOverride
			return entry, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return models.SLAConfigEntry{}, fmt.Errorf("resolve service type config: %w", err)
		}
	}

	entry, err := r.store.ActiveSLAConfig(ctx, stage, models.ScopeNone, "")
	if err == nil {
		entry.Source = models.SourceDefault
		return entry, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.SLAConfigEntry{}, fmt.Errorf("resolve default config: %w", err)
	}

	return models.FallbackSLAConfig(stage), nil
}
