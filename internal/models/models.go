// Package models contains the canonical records used by the SLA engine:
// SLA configuration, business calendar days, priority factors, workflow
// item snapshots and the breach log.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SLAStatusValue is the four-state timing status of a workflow item.
type SLAStatusValue string

const (
	StatusOnTrack  SLAStatusValue = "ON_TRACK"
	StatusWarning  SLAStatusValue = "WARNING"
	StatusCritical SLAStatusValue = "CRITICAL"
	StatusBreached SLAStatusValue = "BREACHED"
)

// Rank orders statuses from ON_TRACK (0) to BREACHED (3). Unknown values
// rank as ON_TRACK so a corrupted cache entry can only under-report.
func (s SLAStatusValue) Rank() int {
	switch s {
	case StatusWarning:
		return 1
	case StatusCritical:
		return 2
	case StatusBreached:
		return 3
	default:
		return 0
	}
}

// ConfigScopeType narrows an SLA config entry to a subset of items.
type ConfigScopeType string

const (
	ScopeNone        ConfigScopeType = "none"
	ScopePIE         ConfigScopeType = "pie"
	ScopeServiceType ConfigScopeType = "service_type"
)

// Resolution provenance for SLA config lookups.
const (
	SourcePIEOverride         = "pie_override"
	SourceServiceTypeOverride = "service_type_override"
	SourceDefault             = "default"
	SourceFallback            = "fallback"
)

// SLAConfigEntry is one turnaround target for a workflow stage, optionally
// scoped to PIE clients or a service type. For a given (stage, scope) pair
// at most one entry is active. Entries are deactivated, never deleted.
type SLAConfigEntry struct {
	ID              uuid.UUID       `json:"id"`
	WorkflowStage   string          `json:"workflowStage"`
	ScopeType       ConfigScopeType `json:"scopeType"`
	ScopeValue      string          `json:"scopeValue,omitempty"`
	TargetHours     float64         `json:"targetHours"`
	WarningPercent  int             `json:"warningPercent"`
	CriticalPercent int             `json:"criticalPercent"`
	IsActive        bool            `json:"isActive"`
	Source          string          `json:"source,omitempty"`
	UpdatedBy       string          `json:"updatedBy,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// FallbackSLAConfig is returned when no configuration matches a stage.
// Callers can tell the two cases apart via Source.
func FallbackSLAConfig(stage string) SLAConfigEntry {
	return SLAConfigEntry{
		WorkflowStage:   stage,
		ScopeType:       ScopeNone,
		TargetHours:     48,
		WarningPercent:  75,
		CriticalPercent: 90,
		IsActive:        true,
		Source:          SourceFallback,
	}
}

// CalendarDay is one entry of the business calendar. Dates are stored as
// YYYY-MM-DD strings; absent dates count as non-working.
type CalendarDay struct {
	Date           string     `json:"date"`
	IsWorkingDay   bool       `json:"isWorkingDay"`
	HolidayName    string     `json:"holidayName,omitempty"`
	SyncedFromHRMS bool       `json:"syncedFromHrms"`
	SyncedAt       *time.Time `json:"syncedAt,omitempty"`
}

// PriorityFactorConfig is one weighted input of the urgency score. Value
// mappings translate a raw factor value (e.g. "CRITICAL", "Yes") into a
// score in [0,100].
type PriorityFactorConfig struct {
	FactorID      string         `json:"factorId"`
	DisplayName   string         `json:"displayName"`
	Weight        float64        `json:"weight"`
	ValueMappings map[string]int `json:"valueMappings"`
	IsActive      bool           `json:"isActive"`
	UpdatedBy     string         `json:"updatedBy,omitempty"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// ConfigAuditEntry is one append-only audit row for a config mutation.
type ConfigAuditEntry struct {
	ID           uuid.UUID `json:"id"`
	FactorID     string    `json:"factorId"`
	FieldChanged string    `json:"fieldChanged"`
	OldValue     string    `json:"oldValue"`
	NewValue     string    `json:"newValue"`
	ChangedBy    string    `json:"changedBy"`
	Reason       string    `json:"reason,omitempty"`
	ChangedAt    time.Time `json:"changedAt"`
}

// WorkflowItem is the read-only snapshot of a COI request the engine
// evaluates. Owned by the request CRUD layer; never mutated here.
type WorkflowItem struct {
	ID                 string     `json:"id"`
	WorkflowStage      string     `json:"workflowStage"`
	StageEnteredAt     time.Time  `json:"stageEnteredAt"`
	CreatedAt          time.Time  `json:"createdAt"`
	RequesterID        string     `json:"requesterId,omitempty"`
	ServiceType        string     `json:"serviceType,omitempty"`
	IsPIE              bool       `json:"isPie"`
	IsInternational    bool       `json:"isInternational"`
	EscalationCount    int        `json:"escalationCount"`
	ExternalDeadline   *time.Time `json:"externalDeadline,omitempty"`
	DeadlineReason     string     `json:"deadlineReason,omitempty"`
}

// BreachRecord is the durable log of an SLA breach. At most one open
// record (ResolvedAt == nil) exists per (item, stage) pair.
type BreachRecord struct {
	ID              uuid.UUID  `json:"id"`
	ItemID          string     `json:"itemId"`
	WorkflowStage   string     `json:"workflowStage"`
	BreachType      string     `json:"breachType"`
	TargetHours     float64    `json:"targetHours"`
	ActualHours     float64    `json:"actualHours"`
	NotifiedUserIDs []string   `json:"notifiedUserIds,omitempty"`
	DetectedAt      time.Time  `json:"detectedAt"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
}

// BreachStageStats aggregates the breach log per workflow stage.
type BreachStageStats struct {
	WorkflowStage      string  `json:"workflowStage"`
	TotalBreaches      int     `json:"totalBreaches"`
	ResolvedBreaches   int     `json:"resolvedBreaches"`
	AvgHoursOverdue    float64 `json:"avgHoursOverdue"`
	AvgResolutionHours float64 `json:"avgResolutionHours"`
}

// PredictionRecord logs one external-predictor call for observability.
// Writes are best-effort; a failed insert never fails the prediction.
type PredictionRecord struct {
	ID        uuid.UUID `json:"id"`
	ItemID    string    `json:"itemId"`
	Score     int       `json:"score"`
	Level     string    `json:"level"`
	Method    string    `json:"method"`
	ModelID   string    `json:"modelId,omitempty"`
	Features  []byte    `json:"features,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
