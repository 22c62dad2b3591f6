package predictor

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/coi-platform/sla-engine/internal/models"
	"github.com/coi-platform/sla-engine/internal/sla"
)

// Workflow stage ordinals for the current_stage feature. Unknown stages
// map to 0.
var stageOrdinals = map[string]int{
	"Pending Director Approval": 1,
	"Pending Compliance":        2,
	"Pending Partner":           3,
	"Pending Finance":           4,
	"Active":                    5,
}

// WorkloadFunc counts a requester's other open items. Optional; a nil
// function yields workload 0.
type WorkloadFunc func(ctx context.Context, requesterID, excludeItemID string) (int, error)

// Extractor builds the versioned feature vector for one item.
type Extractor struct {
	clock    *sla.Clock
	workload WorkloadFunc
	now      func() time.Time
}

func NewExtractor(clock *sla.Clock, workload WorkloadFunc) *Extractor {
	return &Extractor{clock: clock, workload: workload, now: time.Now}
}

// WithNow returns a copy of the extractor using the given time source.
func (e *Extractor) WithNow(now func() time.Time) *Extractor {
	return &Extractor{clock: e.clock, workload: e.workload, now: now}
}

func (e *Extractor) Extract(ctx context.Context, item models.WorkflowItem) (Features, error) {
	status, err := e.clock.Status(ctx, item)
	if err != nil {
		return Features{}, fmt.Errorf("sla status for features: %w", err)
	}

	now := e.now().UTC()

	hoursRemaining := int(math.Round(status.HoursRemaining))
	if hoursRemaining < 0 {
		hoursRemaining = 0
	}
	percentElapsed := status.PercentUsed
	if percentElapsed > 100 {
		percentElapsed = 100
	}

	created := item.CreatedAt
	if created.IsZero() {
		created = now
	}
	daysToDeadline := 999
	hasDeadline := 0
	if item.ExternalDeadline != nil {
		hasDeadline = 1
		days := int(math.Round(item.ExternalDeadline.Sub(created).Hours() / 24))
		if days < 0 {
			days = 0
		}
		daysToDeadline = days
	}

	workload := 0
	if e.workload != nil && item.RequesterID != "" {
		workload, err = e.workload(ctx, item.RequesterID, item.ID)
		if err != nil {
			return Features{}, fmt.Errorf("requester workload: %w", err)
		}
	}

	stageStart := item.StageEnteredAt
	if stageStart.IsZero() {
		stageStart = created
	}
	hoursInStage := int(math.Round(now.Sub(stageStart).Hours()))
	if hoursInStage < 0 {
		hoursInStage = 0
	}

	escalations := item.EscalationCount
	if escalations > 3 {
		escalations = 3
	}

	month := created.Month()

	return Features{
		SLAHoursRemaining:   hoursRemaining,
		SLAPercentElapsed:   percentElapsed,
		HasExternalDeadline: hasDeadline,
		DaysToDeadline:      daysToDeadline,
		IsPIE:               boolFeature(item.IsPIE),
		IsInternational:     boolFeature(item.IsInternational),
		IsStatutoryAudit:    boolFeature(item.ServiceType == "STATUTORY_AUDIT"),
		IsTaxCompliance:     boolFeature(item.ServiceType == "TAX_COMPLIANCE"),
		EscalationCount:     escalations,
		CurrentStage:        stageOrdinals[item.WorkflowStage],
		HoursInStage:        hoursInStage,
		RequesterWorkload:   workload,
		DayOfWeek:           int(created.Weekday()),
		IsEndOfMonth:        boolFeature(created.Day() > 25),
		IsQ4:                boolFeature(month >= time.October),
	}, nil
}

func boolFeature(b bool) int {
	if b {
		return 1
	}
	return 0
}
