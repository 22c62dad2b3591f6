// Package service is the facade exposed to controllers: config
// resolution, status/score computation, breach monitoring, and audited
// configuration mutation.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/coi-platform/sla-engine/internal/audit"
	"github.com/coi-platform/sla-engine/internal/calendar"
	"github.com/coi-platform/sla-engine/internal/models"
	"github.com/coi-platform/sla-engine/internal/monitor"
	"github.com/coi-platform/sla-engine/internal/priority"
	"github.com/coi-platform/sla-engine/internal/sla"
	"github.com/coi-platform/sla-engine/internal/store"

	"github.com/google/uuid"
)

// DefaultPendingStatuses are the workflow stages monitored for SLA
// compliance when no override is configured.
var DefaultPendingStatuses = []string{
	"Draft",
	"More Info Requested",
	"Pending Director Approval",
	"Pending Compliance",
	"Pending Partner",
	"Pending Finance",
}

// Weight and threshold bounds enforced at the mutation boundary.
const (
	MinWeight = 0.0
	MaxWeight = 10.0
)

type Service struct {
	store           store.Store
	resolver        *sla.Resolver
	clock           *sla.Clock
	scorer          *priority.Scorer
	monitor         *monitor.Monitor
	auditor         audit.Recorder
	cal             *calendar.StoreProvider
	pendingStatuses []string
}

type Config struct {
	// PendingStatuses overrides DefaultPendingStatuses when non-empty.
	PendingStatuses []string
}

func New(st store.Store, resolver *sla.Resolver, clock *sla.Clock, scorer *priority.Scorer, mon *monitor.Monitor, auditor audit.Recorder, cal *calendar.StoreProvider, cfg Config) *Service {
	pending := cfg.PendingStatuses
	if len(pending) == 0 {
		pending = DefaultPendingStatuses
	}
	return &Service{
		store:           st,
		resolver:        resolver,
		clock:           clock,
		scorer:          scorer,
		monitor:         mon,
		auditor:         auditor,
		cal:             cal,
		pendingStatuses: pending,
	}
}

// ResolveConfig returns the single applicable SLA config for the given
// stage, with resolution provenance.
func (s *Service) ResolveConfig(ctx context.Context, stage, serviceType string, isPIE bool) (models.SLAConfigEntry, error) {
	return s.resolver.Resolve(ctx, stage, serviceType, isPIE)
}

// ComputeStatus derives the item's current SLA timing status. No side
// effects.
func (s *Service) ComputeStatus(ctx context.Context, item models.WorkflowItem) (sla.Status, error) {
	return s.clock.Status(ctx, item)
}

// EffectiveDeadline returns the deadline the item is held to; an external
// deadline always wins over the SLA projection.
func (s *Service) EffectiveDeadline(ctx context.Context, item models.WorkflowItem) (sla.Deadline, error) {
	return s.clock.EffectiveDeadline(ctx, item)
}

// ComputeScore returns the item's urgency score, delegating to the
// external predictor when available and falling back to rules otherwise.
func (s *Service) ComputeScore(ctx context.Context, item models.WorkflowItem) (priority.Result, error) {
	return s.scorer.Score(ctx, item)
}

// ScoreBatch scores several items in one call.
func (s *Service) ScoreBatch(ctx context.Context, items []models.WorkflowItem) ([]priority.ScoredItem, error) {
	return s.scorer.ScoreBatch(ctx, items)
}

// CheckPending fetches all items in monitored stages and runs one
// evaluation pass over them.
func (s *Service) CheckPending(ctx context.Context) (monitor.Summary, error) {
	items, err := s.store.PendingItems(ctx, s.pendingStatuses)
	if err != nil {
		return monitor.Summary{}, fmt.Errorf("fetch pending items: %w", err)
	}
	return s.monitor.CheckAll(ctx, items), nil
}

// CheckItems runs one evaluation pass over the given items.
func (s *Service) CheckItems(ctx context.Context, items []models.WorkflowItem) monitor.Summary {
	return s.monitor.CheckAll(ctx, items)
}

// ResolveBreach closes open breach records for the item, optionally
// scoped to a stage. Called on stage transitions by the workflow layer.
func (s *Service) ResolveBreach(ctx context.Context, itemID, stage string) (int, error) {
	if itemID == "" {
		return 0, fmt.Errorf("item id is required")
	}
	return s.monitor.Resolve(ctx, itemID, stage)
}

// OpenBreaches lists all currently unresolved breach records.
func (s *Service) OpenBreaches(ctx context.Context) ([]models.BreachRecord, error) {
	return s.store.ListOpenBreaches(ctx)
}

// BreachHistory lists the full breach log of one item.
func (s *Service) BreachHistory(ctx context.Context, itemID string) ([]models.BreachRecord, error) {
	return s.store.ListBreachHistory(ctx, itemID)
}

// BreachStats aggregates the breach log per stage over a time window.
func (s *Service) BreachStats(ctx context.Context, start, end time.Time) ([]models.BreachStageStats, error) {
	return s.store.BreachStats(ctx, start, end)
}

// ListSLAConfigs returns all active SLA config entries.
func (s *Service) ListSLAConfigs(ctx context.Context) ([]models.SLAConfigEntry, error) {
	return s.store.ListActiveSLAConfigs(ctx)
}

// SLAConfigUpdate is a partial, validated SLA config mutation.
type SLAConfigUpdate struct {
	TargetHours     *float64 `json:"targetHours,omitempty"`
	WarningPercent  *int     `json:"warningPercent,omitempty"`
	CriticalPercent *int     `json:"criticalPercent,omitempty"`
	IsActive        *bool    `json:"isActive,omitempty"`
}

// UpdateSLAConfig validates and applies a partial update to an SLA config
// entry and appends one audit row. Entries are never deleted; deactivate
// via IsActive instead.
func (s *Service) UpdateSLAConfig(ctx context.Context, id uuid.UUID, updates SLAConfigUpdate, actor, reason string) (models.SLAConfigEntry, error) {
	current, err := s.store.GetSLAConfig(ctx, id)
	if err != nil {
		return models.SLAConfigEntry{}, err
	}

	if err := validateSLAUpdate(current, updates); err != nil {
		return models.SLAConfigEntry{}, err
	}
	if updates.TargetHours == nil && updates.WarningPercent == nil && updates.CriticalPercent == nil && updates.IsActive == nil {
		return models.SLAConfigEntry{}, fmt.Errorf("no fields to update")
	}

	updated, err := s.store.UpdateSLAConfig(ctx, store.SLAConfigUpdate{
		ID:              id,
		TargetHours:     updates.TargetHours,
		WarningPercent:  updates.WarningPercent,
		CriticalPercent: updates.CriticalPercent,
		IsActive:        updates.IsActive,
		Actor:           actor,
	})
	if err != nil {
		return models.SLAConfigEntry{}, err
	}

	oldJSON, _ := json.Marshal(current)
	newJSON, _ := json.Marshal(updates)
	s.appendAudit(ctx, &models.ConfigAuditEntry{
		FactorID:     "sla_" + current.WorkflowStage,
		FieldChanged: "sla_config",
		OldValue:     string(oldJSON),
		NewValue:     string(newJSON),
		ChangedBy:    actor,
		Reason:       reason,
	})
	return updated, nil
}

func validateSLAUpdate(current models.SLAConfigEntry, updates SLAConfigUpdate) error {
	target := current.TargetHours
	if updates.TargetHours != nil {
		target = *updates.TargetHours
	}
	warning := current.WarningPercent
	if updates.WarningPercent != nil {
		warning = *updates.WarningPercent
	}
	critical := current.CriticalPercent
	if updates.CriticalPercent != nil {
		critical = *updates.CriticalPercent
	}
	if target <= 0 {
		return fmt.Errorf("target hours must be greater than zero")
	}
	if warning < 1 || warning > 99 {
		return fmt.Errorf("warning threshold must be between 1 and 99")
	}
	if critical < 1 || critical > 99 {
		return fmt.Errorf("critical threshold must be between 1 and 99")
	}
	if warning >= critical {
		return fmt.Errorf("warning threshold must be below critical threshold")
	}
	return nil
}

// ListFactors returns all active priority factors.
func (s *Service) ListFactors(ctx context.Context) ([]models.PriorityFactorConfig, error) {
	return s.store.ListActiveFactors(ctx)
}

// GetFactor returns one priority factor regardless of active state.
func (s *Service) GetFactor(ctx context.Context, factorID string) (models.PriorityFactorConfig, error) {
	return s.store.GetFactor(ctx, factorID)
}

// UpdateWeight changes a factor's weight within [0,10] and appends one
// audit row. One of the three legal factor mutations.
func (s *Service) UpdateWeight(ctx context.Context, factorID string, weight float64, actor, reason string) (models.PriorityFactorConfig, error) {
	if weight < MinWeight || weight > MaxWeight {
		return models.PriorityFactorConfig{}, fmt.Errorf("weight must be between %g and %g", MinWeight, MaxWeight)
	}
	current, err := s.store.GetFactor(ctx, factorID)
	if err != nil {
		return models.PriorityFactorConfig{}, err
	}
	updated, err := s.store.UpdateFactorWeight(ctx, factorID, weight, actor)
	if err != nil {
		return models.PriorityFactorConfig{}, err
	}
	s.appendAudit(ctx, &models.ConfigAuditEntry{
		FactorID:     factorID,
		FieldChanged: "weight",
		OldValue:     formatFloat(current.Weight),
		NewValue:     formatFloat(weight),
		ChangedBy:    actor,
		Reason:       reason,
	})
	return updated, nil
}

// UpdateValueMappings replaces a factor's value mappings. Every mapped
// score must be in [0,100].
func (s *Service) UpdateValueMappings(ctx context.Context, factorID string, mappings map[string]int, actor, reason string) (models.PriorityFactorConfig, error) {
	if len(mappings) == 0 {
		return models.PriorityFactorConfig{}, fmt.Errorf("value mappings must not be empty")
	}
	for value, score := range mappings {
		if score < 0 || score > 100 {
			return models.PriorityFactorConfig{}, fmt.Errorf("mapping score for %q must be between 0 and 100", value)
		}
	}
	current, err := s.store.GetFactor(ctx, factorID)
	if err != nil {
		return models.PriorityFactorConfig{}, err
	}
	updated, err := s.store.UpdateFactorMappings(ctx, factorID, mappings, actor)
	if err != nil {
		return models.PriorityFactorConfig{}, err
	}
	oldJSON, _ := json.Marshal(current.ValueMappings)
	newJSON, _ := json.Marshal(mappings)
	s.appendAudit(ctx, &models.ConfigAuditEntry{
		FactorID:     factorID,
		FieldChanged: "value_mappings",
		OldValue:     string(oldJSON),
		NewValue:     string(newJSON),
		ChangedBy:    actor,
		Reason:       reason,
	})
	return updated, nil
}

// ToggleFactorActive flips a factor in or out of the active scoring set.
func (s *Service) ToggleFactorActive(ctx context.Context, factorID string, active bool, actor, reason string) (models.PriorityFactorConfig, error) {
	current, err := s.store.GetFactor(ctx, factorID)
	if err != nil {
		return models.PriorityFactorConfig{}, err
	}
	updated, err := s.store.SetFactorActive(ctx, factorID, active, actor)
	if err != nil {
		return models.PriorityFactorConfig{}, err
	}
	s.appendAudit(ctx, &models.ConfigAuditEntry{
		FactorID:     factorID,
		FieldChanged: "is_active",
		OldValue:     strconv.FormatBool(current.IsActive),
		NewValue:     strconv.FormatBool(active),
		ChangedBy:    actor,
		Reason:       reason,
	})
	return updated, nil
}

// appendAudit records a config mutation. Audit is best-effort: the
// mutation it describes has already been applied, so a failed append is
// logged and swallowed rather than rolled back.
func (s *Service) appendAudit(ctx context.Context, entry *models.ConfigAuditEntry) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Append(ctx, entry); err != nil {
		log.Printf("[service] audit append failed for %s/%s: %v", entry.FactorID, entry.FieldChanged, err)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FactorAuditHistory lists the audit trail of one factor, newest first.
func (s *Service) FactorAuditHistory(ctx context.Context, factorID string, limit int) ([]models.ConfigAuditEntry, error) {
	return s.store.ListFactorAudit(ctx, factorID, limit)
}

// AuditHistory lists the full config audit trail, newest first.
func (s *Service) AuditHistory(ctx context.Context, limit int) ([]models.ConfigAuditEntry, error) {
	return s.store.ListConfigAudit(ctx, limit)
}

// SyncHolidays upserts HRMS holiday entries into the business calendar.
func (s *Service) SyncHolidays(ctx context.Context, holidays []calendar.Holiday) (calendar.SyncResult, error) {
	return s.cal.SyncHolidays(ctx, holidays)
}

// GenerateWeekdays seeds the calendar with upcoming weekdays.
func (s *Service) GenerateWeekdays(ctx context.Context, days int) (int, error) {
	return s.cal.GenerateWeekdays(ctx, days)
}

// Calendar lists the stored calendar between two YYYY-MM-DD dates.
func (s *Service) Calendar(ctx context.Context, startDate, endDate string) ([]models.CalendarDay, error) {
	return s.cal.Range(ctx, startDate, endDate)
}
