package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coi-platform/sla-engine/internal/models"
)

// MemoryStore is the in-memory Store used by tests and local development.
type MemoryStore struct {
	mu          sync.RWMutex
	slaConfigs  map[uuid.UUID]models.SLAConfigEntry
	calendar    map[string]models.CalendarDay
	factors     map[string]models.PriorityFactorConfig
	audit       []models.ConfigAuditEntry
	breaches    map[uuid.UUID]models.BreachRecord
	predictions []models.PredictionRecord
	items       map[string]models.WorkflowItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slaConfigs: map[uuid.UUID]models.SLAConfigEntry{},
		calendar:   map[string]models.CalendarDay{},
		factors:    map[string]models.PriorityFactorConfig{},
		breaches:   map[uuid.UUID]models.BreachRecord{},
		items:      map[string]models.WorkflowItem{},
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// SeedSLAConfig inserts an SLA config entry directly. Test helper.
func (m *MemoryStore) SeedSLAConfig(entry models.SLAConfigEntry) models.SLAConfigEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	m.slaConfigs[entry.ID] = entry
	return entry
}

// SeedFactor inserts a priority factor directly. Test helper.
func (m *MemoryStore) SeedFactor(factor models.PriorityFactorConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if factor.ValueMappings == nil {
		factor.ValueMappings = map[string]int{}
	}
	if factor.UpdatedAt.IsZero() {
		factor.UpdatedAt = time.Now().UTC()
	}
	m.factors[factor.FactorID] = factor
}

// SeedItem inserts a workflow item snapshot directly. Test helper.
func (m *MemoryStore) SeedItem(item models.WorkflowItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
}

func (m *MemoryStore) ActiveSLAConfig(ctx context.Context, stage string, scopeType models.ConfigScopeType, scopeValue string) (models.SLAConfigEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, entry := range m.slaConfigs {
		if entry.IsActive && entry.WorkflowStage == stage && entry.ScopeType == scopeType && entry.ScopeValue == scopeValue {
			return entry, nil
		}
	}
	return models.SLAConfigEntry{}, ErrNotFound
}

func (m *MemoryStore) ListActiveSLAConfigs(ctx context.Context) ([]models.SLAConfigEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []models.SLAConfigEntry
	for _, entry := range m.slaConfigs {
		if entry.IsActive {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].WorkflowStage != entries[j].WorkflowStage {
			return entries[i].WorkflowStage < entries[j].WorkflowStage
		}
		return entries[i].ScopeType < entries[j].ScopeType
	})
	return entries, nil
}

func (m *MemoryStore) GetSLAConfig(ctx context.Context, id uuid.UUID) (models.SLAConfigEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.slaConfigs[id]
	if !ok {
		return models.SLAConfigEntry{}, ErrNotFound
	}
	return entry, nil
}

func (m *MemoryStore) UpdateSLAConfig(ctx context.Context, in SLAConfigUpdate) (models.SLAConfigEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.slaConfigs[in.ID]
	if !ok {
		return models.SLAConfigEntry{}, ErrNotFound
	}
	if in.TargetHours != nil {
		entry.TargetHours = *in.TargetHours
	}
	if in.WarningPercent != nil {
		entry.WarningPercent = *in.WarningPercent
	}
	if in.CriticalPercent != nil {
		entry.CriticalPercent = *in.CriticalPercent
	}
	if in.IsActive != nil {
		entry.IsActive = *in.IsActive
	}
	entry.UpdatedBy = in.Actor
	entry.UpdatedAt = time.Now().UTC()
	m.slaConfigs[in.ID] = entry
	return entry, nil
}

func (m *MemoryStore) UpsertCalendarDay(ctx context.Context, day models.CalendarDay) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.calendar[day.Date]
	m.calendar[day.Date] = day
	return !existed, nil
}

func (m *MemoryStore) IsWorkingDay(ctx context.Context, date string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	day, ok := m.calendar[date]
	if !ok {
		return false, nil
	}
	return day.IsWorkingDay, nil
}

func (m *MemoryStore) CountWorkingDays(ctx context.Context, startDate, endDate string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for date, day := range m.calendar {
		if date >= startDate && date <= endDate && day.IsWorkingDay {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListCalendar(ctx context.Context, startDate, endDate string) ([]models.CalendarDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var days []models.CalendarDay
	for date, day := range m.calendar {
		if date >= startDate && date <= endDate {
			days = append(days, day)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	return days, nil
}

func (m *MemoryStore) ListActiveFactors(ctx context.Context) ([]models.PriorityFactorConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var factors []models.PriorityFactorConfig
	for _, factor := range m.factors {
		if factor.IsActive {
			factors = append(factors, copyFactor(factor))
		}
	}
	sort.Slice(factors, func(i, j int) bool { return factors[i].Weight > factors[j].Weight })
	return factors, nil
}

func copyFactor(f models.PriorityFactorConfig) models.PriorityFactorConfig {
	mappings := make(map[string]int, len(f.ValueMappings))
	for k, v := range f.ValueMappings {
		mappings[k] = v
	}
	f.ValueMappings = mappings
	return f
}

func (m *MemoryStore) GetFactor(ctx context.Context, factorID string) (models.PriorityFactorConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	factor, ok := m.factors[factorID]
	if !ok {
		return models.PriorityFactorConfig{}, ErrNotFound
	}
	return copyFactor(factor), nil
}

func (m *MemoryStore) UpdateFactorWeight(ctx context.Context, factorID string, weight float64, actor string) (models.PriorityFactorConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	factor, ok := m.factors[factorID]
	if !ok {
		return models.PriorityFactorConfig{}, ErrNotFound
	}
	factor.Weight = weight
	factor.UpdatedBy = actor
	factor.UpdatedAt = time.Now().UTC()
	m.factors[factorID] = factor
	return copyFactor(factor), nil
}

func (m *MemoryStore) UpdateFactorMappings(ctx context.Context, factorID string, mappings map[string]int, actor string) (models.PriorityFactorConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	factor, ok := m.factors[factorID]
	if !ok {
		return models.PriorityFactorConfig{}, ErrNotFound
	}
	copied := make(map[string]int, len(mappings))
	for k, v := range mappings {
		copied[k] = v
	}
	factor.ValueMappings = copied
	factor.UpdatedBy = actor
	factor.UpdatedAt = time.Now().UTC()
	m.factors[factorID] = factor
	return copyFactor(factor), nil
}

func (m *MemoryStore) SetFactorActive(ctx context.Context, factorID string, active bool, actor string) (models.PriorityFactorConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	factor, ok := m.factors[factorID]
	if !ok {
		return models.PriorityFactorConfig{}, ErrNotFound
	}
	factor.IsActive = active
	factor.UpdatedBy = actor
	factor.UpdatedAt = time.Now().UTC()
	m.factors[factorID] = factor
	return copyFactor(factor), nil
}

func (m *MemoryStore) AppendConfigAudit(ctx context.Context, entry *models.ConfigAuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	m.audit = append(m.audit, *entry)
	return nil
}

func (m *MemoryStore) ListFactorAudit(ctx context.Context, factorID string, limit int) ([]models.ConfigAuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []models.ConfigAuditEntry
	for _, entry := range m.audit {
		if entry.FactorID == factorID {
			entries = append(entries, entry)
		}
	}
	return latestAudit(entries, normalizeLimit(limit, 50)), nil
}

func (m *MemoryStore) ListConfigAudit(ctx context.Context, limit int) ([]models.ConfigAuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := append([]models.ConfigAuditEntry(nil), m.audit...)
	return latestAudit(entries, normalizeLimit(limit, 100)), nil
}

func latestAudit(entries []models.ConfigAuditEntry, limit int) []models.ConfigAuditEntry {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ChangedAt.After(entries[j].ChangedAt) })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func (m *MemoryStore) OpenBreach(ctx context.Context, in BreachInput) (models.BreachRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.breaches {
		if rec.ItemID == in.ItemID && rec.WorkflowStage == in.WorkflowStage && rec.ResolvedAt == nil {
			return rec, false, nil
		}
	}
	rec := models.BreachRecord{
		ID:              uuid.New(),
		ItemID:          in.ItemID,
		WorkflowStage:   in.WorkflowStage,
		BreachType:      in.BreachType,
		TargetHours:     in.TargetHours,
		ActualHours:     in.ActualHours,
		NotifiedUserIDs: append([]string(nil), in.NotifiedUserIDs...),
		DetectedAt:      time.Now().UTC(),
	}
	m.breaches[rec.ID] = rec
	return rec, true, nil
}

func (m *MemoryStore) ResolveBreaches(ctx context.Context, itemID, stage string, resolvedAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resolved := 0
	for id, rec := range m.breaches {
		if rec.ItemID != itemID || rec.ResolvedAt != nil {
			continue
		}
		if stage != "" && rec.WorkflowStage != stage {
			continue
		}
		t := resolvedAt
		rec.ResolvedAt = &t
		m.breaches[id] = rec
		resolved++
	}
	return resolved, nil
}

func (m *MemoryStore) ListOpenBreaches(ctx context.Context) ([]models.BreachRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var records []models.BreachRecord
	for _, rec := range m.breaches {
		if rec.ResolvedAt == nil {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].DetectedAt.Before(records[j].DetectedAt) })
	return records, nil
}

func (m *MemoryStore) ListBreachHistory(ctx context.Context, itemID string) ([]models.BreachRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var records []models.BreachRecord
	for _, rec := range m.breaches {
		if rec.ItemID == itemID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].DetectedAt.After(records[j].DetectedAt) })
	return records, nil
}

func (m *MemoryStore) BreachStats(ctx context.Context, start, end time.Time) ([]models.BreachStageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byStage := map[string]*models.BreachStageStats{}
	overdue := map[string]float64{}
	resolution := map[string]float64{}
	for _, rec := range m.breaches {
		if rec.DetectedAt.Before(start) || rec.DetectedAt.After(end) {
			continue
		}
		st, ok := byStage[rec.WorkflowStage]
		if !ok {
			st = &models.BreachStageStats{WorkflowStage: rec.WorkflowStage}
			byStage[rec.WorkflowStage] = st
		}
		st.TotalBreaches++
		overdue[rec.WorkflowStage] += rec.ActualHours - rec.TargetHours
		if rec.ResolvedAt != nil {
			st.ResolvedBreaches++
			resolution[rec.WorkflowStage] += rec.ResolvedAt.Sub(rec.DetectedAt).Hours()
		}
	}
	var stats []models.BreachStageStats
	for stage, st := range byStage {
		st.AvgHoursOverdue = overdue[stage] / float64(st.TotalBreaches)
		if st.ResolvedBreaches > 0 {
			st.AvgResolutionHours = resolution[stage] / float64(st.ResolvedBreaches)
		}
		stats = append(stats, *st)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].WorkflowStage < stats[j].WorkflowStage })
	return stats, nil
}

func (m *MemoryStore) InsertPrediction(ctx context.Context, rec *models.PredictionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.predictions = append(m.predictions, *rec)
	return nil
}

// Predictions returns the recorded prediction log. Test helper.
func (m *MemoryStore) Predictions() []models.PredictionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.PredictionRecord(nil), m.predictions...)
}

func (m *MemoryStore) PendingItems(ctx context.Context, statuses []string) ([]models.WorkflowItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var items []models.WorkflowItem
	for _, item := range m.items {
		for _, status := range statuses {
			if strings.EqualFold(item.WorkflowStage, status) {
				items = append(items, item)
				break
			}
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].StageEnteredAt.Before(items[j].StageEnteredAt) })
	return items, nil
}

func (m *MemoryStore) GetItem(ctx context.Context, id string) (models.WorkflowItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return models.WorkflowItem{}, ErrNotFound
	}
	return item, nil
}

func (m *MemoryStore) CountOpenItemsForRequester(ctx context.Context, requesterID, excludeItemID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, item := range m.items {
		if item.RequesterID != requesterID || item.ID == excludeItemID {
			continue
		}
		switch item.WorkflowStage {
		case "Approved", "Rejected", "Lapsed":
			continue
		}
		count++
	}
	return count, nil
}
