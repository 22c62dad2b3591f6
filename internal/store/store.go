package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/coi-platform/sla-engine/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence abstraction of the SLA engine: SLA configs, the
// business calendar, priority factors, the config audit trail, the breach
// log, and read-only workflow item snapshots fed in by the request CRUD
// layer.
type Store interface {
	// SLA configuration.
	ActiveSLAConfig(ctx context.Context, stage string, scopeType models.ConfigScopeType, scopeValue string) (models.SLAConfigEntry, error)
	ListActiveSLAConfigs(ctx context.Context) ([]models.SLAConfigEntry, error)
	GetSLAConfig(ctx context.Context, id uuid.UUID) (models.SLAConfigEntry, error)
	UpdateSLAConfig(ctx context.Context, in SLAConfigUpdate) (models.SLAConfigEntry, error)

	// Business calendar.
	UpsertCalendarDay(ctx context.Context, day models.CalendarDay) (bool, error)
	IsWorkingDay(ctx context.Context, date string) (bool, error)
	CountWorkingDays(ctx context.Context, startDate, endDate string) (int, error)
	ListCalendar(ctx context.Context, startDate, endDate string) ([]models.CalendarDay, error)

	// Priority factors.
	ListActiveFactors(ctx context.Context) ([]models.PriorityFactorConfig, error)
	GetFactor(ctx context.Context, factorID string) (models.PriorityFactorConfig, error)
	UpdateFactorWeight(ctx context.Context, factorID string, weight float64, actor string) (models.PriorityFactorConfig, error)
	UpdateFactorMappings(ctx context.Context, factorID string, mappings map[string]int, actor string) (models.PriorityFactorConfig, error)
	SetFactorActive(ctx context.Context, factorID string, active bool, actor string) (models.PriorityFactorConfig, error)

	// Config audit trail (append-only).
	AppendConfigAudit(ctx context.Context, entry *models.ConfigAuditEntry) error
	ListFactorAudit(ctx context.Context, factorID string, limit int) ([]models.ConfigAuditEntry, error)
	ListConfigAudit(ctx context.Context, limit int) ([]models.ConfigAuditEntry, error)

	// Breach log.
	OpenBreach(ctx context.Context, in BreachInput) (models.BreachRecord, bool, error)
	ResolveBreaches(ctx context.Context, itemID, stage string, resolvedAt time.Time) (int, error)
	ListOpenBreaches(ctx context.Context) ([]models.BreachRecord, error)
	ListBreachHistory(ctx context.Context, itemID string) ([]models.BreachRecord, error)
	BreachStats(ctx context.Context, start, end time.Time) ([]models.BreachStageStats, error)

	// Prediction observability log (best-effort).
	InsertPrediction(ctx context.Context, rec *models.PredictionRecord) error

	// Workflow item snapshots (read-only; owned by the request CRUD layer).
	PendingItems(ctx context.Context, statuses []string) ([]models.WorkflowItem, error)
	GetItem(ctx context.Context, id string) (models.WorkflowItem, error)
	CountOpenItemsForRequester(ctx context.Context, requesterID, excludeItemID string) (int, error)

	Ping(ctx context.Context) error
}

// SLAConfigUpdate carries a partial SLA config mutation. Nil fields are
// left unchanged. Validation happens in the service layer before any write.
type SLAConfigUpdate struct {
	ID              uuid.UUID
	TargetHours     *float64
	WarningPercent  *int
	CriticalPercent *int
	IsActive        *bool
	Actor           string
}

// BreachInput describes a breach to open. The insert is idempotent: if an
// open record already exists for (ItemID, Stage), nothing is written.
type BreachInput struct {
	ItemID          string
	WorkflowStage   string
	BreachType      string
	TargetHours     float64
	ActualHours     float64
	NotifiedUserIDs []string
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}
