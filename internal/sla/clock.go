package sla

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/coi-platform/sla-engine/internal/calendar"
	"github.com/coi-platform/sla-engine/internal/models"
)

// WorkingHoursPerDay is the flat per-working-day hour count used for
// multi-day spans. Same-day spans use hour-of-day arithmetic instead;
// partial-day accounting across day boundaries is a documented
// approximation of this engine, not a bug.
const WorkingHoursPerDay = 9

// Status is the derived, ephemeral timing state of one item. Recomputed on
// every call and never persisted (only breach transitions are).
type Status struct {
	Status            models.SLAStatusValue `json:"status"`
	TargetHours       float64               `json:"targetHours"`
	HoursElapsed      float64               `json:"hoursElapsed"`
	HoursRemaining    float64               `json:"hoursRemaining"`
	PercentUsed       int                   `json:"percentUsed"`
	BreachTime        time.Time             `json:"breachTime"`
	WarningThreshold  int                   `json:"warningThreshold"`
	CriticalThreshold int                   `json:"criticalThreshold"`
	ConfigSource      string                `json:"configSource"`
}

// Deadline is the effective deadline of an item. An external deadline
// always wins over the SLA projection and is measured in calendar time.
type Deadline struct {
	Deadline       time.Time `json:"deadline"`
	Source         string    `json:"source"`
	Reason         string    `json:"reason,omitempty"`
	IsOverdue      bool      `json:"isOverdue"`
	HoursRemaining float64   `json:"hoursRemaining"`
}

// Deadline proximity buckets used as the external_deadline factor value.
const (
	DeadlineOverdue  = "OVERDUE"
	DeadlineToday    = "TODAY"
	DeadlineThisWeek = "THIS_WEEK"
	DeadlineNextWeek = "NEXT_WEEK"
	DeadlineNone     = "NONE"
)

// Clock computes elapsed business hours and timing status. It has no side
// effects; Now is injectable for tests.
type Clock struct {
	calendar calendar.Provider
	resolver *Resolver
	now      func() time.Time
}

func NewClock(cal calendar.Provider, resolver *Resolver) *Clock {
	return &Clock{calendar: cal, resolver: resolver, now: time.Now}
}

// WithNow returns a copy of the clock using the given time source.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	return &Clock{calendar: c.calendar, resolver: c.resolver, now: now}
}

// ElapsedBusinessHours computes business hours between start and now.
// Same calendar day: hour-of-day difference, clamped at zero. Across days:
// stored working days in the span times WorkingHoursPerDay. Calendar gaps
// count as zero working days (conservative under-count).
func (c *Clock) ElapsedBusinessHours(ctx context.Context, start, now time.Time) (float64, error) {
	start = start.UTC()
	now = now.UTC()
	if !start.Before(now) {
		return 0, nil
	}
	startDay := start.Format(calendar.DateLayout)
	endDay := now.Format(calendar.DateLayout)
	if startDay == endDay {
		hours := float64(now.Hour() - start.Hour())
		if hours < 0 {
			hours = 0
		}
		return hours, nil
	}
	days, err := c.calendar.CountWorkingDays(ctx, start, now)
	if err != nil {
		return 0, fmt.Errorf("count working days: %w", err)
	}
	return float64(days) * WorkingHoursPerDay, nil
}

// Status resolves the item's SLA config and derives the four-state timing
// status. Pure given the stored calendar and config: identical inputs
// produce identical output.
func (c *Clock) Status(ctx context.Context, item models.WorkflowItem) (Status, error) {
	cfg, err := c.resolver.Resolve(ctx, item.WorkflowStage, item.ServiceType, item.IsPIE)
	if err != nil {
		return Status{}, err
	}

	elapsed, err := c.ElapsedBusinessHours(ctx, item.StageEnteredAt, c.now())
	if err != nil {
		return Status{}, err
	}

	percent := int(math.Round(elapsed / cfg.TargetHours * 100))
	remaining := cfg.TargetHours - elapsed
	if remaining < 0 {
		remaining = 0
	}

	var status models.SLAStatusValue
	switch {
	case percent >= 100:
		status = models.StatusBreached
	case percent >= cfg.CriticalPercent:
		status = models.StatusCritical
	case percent >= cfg.WarningPercent:
		status = models.StatusWarning
	default:
		status = models.StatusOnTrack
	}

	// Calendar-naive projection of the breach instant; the precise value
	// depends on future working days, which are not modelled here.
	breachTime := item.StageEnteredAt.Add(time.Duration(cfg.TargetHours * float64(time.Hour)))

	return Status{
		Status:            status,
		TargetHours:       cfg.TargetHours,
		HoursElapsed:      roundTenth(elapsed),
		HoursRemaining:    roundTenth(remaining),
		PercentUsed:       percent,
		BreachTime:        breachTime,
		WarningThreshold:  cfg.WarningPercent,
		CriticalThreshold: cfg.CriticalPercent,
		ConfigSource:      cfg.Source,
	}, nil
}

// EffectiveDeadline returns the deadline the item is actually held to. A
// set external deadline always takes precedence over the SLA projection,
// and overdue/remaining are computed against it in calendar hours.
func (c *Clock) EffectiveDeadline(ctx context.Context, item models.WorkflowItem) (Deadline, error) {
	now := c.now()
	if item.ExternalDeadline != nil {
		d := *item.ExternalDeadline
		remaining := d.Sub(now).Hours()
		if remaining < 0 {
			remaining = 0
		}
		return Deadline{
			Deadline:       d,
			Source:         "external",
			Reason:         item.DeadlineReason,
			IsOverdue:      now.After(d),
			HoursRemaining: roundTenth(remaining),
		}, nil
	}

	status, err := c.Status(ctx, item)
	if err != nil {
		return Deadline{}, err
	}
	return Deadline{
		Deadline:       status.BreachTime,
		Source:         "sla",
		Reason:         fmt.Sprintf("SLA: %.0fh for %s", status.TargetHours, item.WorkflowStage),
		IsOverdue:      status.Status == models.StatusBreached,
		HoursRemaining: status.HoursRemaining,
	}, nil
}

// DeadlineBucket classifies an external deadline by proximity to now.
func DeadlineBucket(deadline *time.Time, now time.Time) string {
	if deadline == nil {
		return DeadlineNone
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case deadline.Before(now):
		return DeadlineOverdue
	case deadline.Before(today.AddDate(0, 0, 1)):
		return DeadlineToday
	case deadline.Before(today.AddDate(0, 0, 7)):
		return DeadlineThisWeek
	case deadline.Before(today.AddDate(0, 0, 14)):
		return DeadlineNextWeek
	default:
		return DeadlineNone
	}
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
