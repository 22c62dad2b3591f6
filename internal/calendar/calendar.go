// Package calendar provides the business calendar: which dates are working
// days, holiday overrides, and working-day counting for SLA math.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/coi-platform/sla-engine/internal/models"
	"github.com/coi-platform/sla-engine/internal/store"
)

// DateLayout is the canonical YYYY-MM-DD form calendar dates are stored in.
const DateLayout = "2006-01-02"

// Provider answers working-day questions. Dates absent from the stored
// calendar are treated as non-working, so gaps under-count rather than
// error.
type Provider interface {
	IsWorkingDay(ctx context.Context, date time.Time) (bool, error)
	CountWorkingDays(ctx context.Context, start, end time.Time) (int, error)
}

// Holiday is one HRMS holiday entry to sync into the calendar.
type Holiday struct {
	Date string `json:"date"`
	Name string `json:"name"`
}

// SyncResult reports how many calendar rows a sync touched.
type SyncResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
}

// StoreProvider is the store-backed Provider plus calendar maintenance.
type StoreProvider struct {
	store store.Store
}

func NewStoreProvider(st store.Store) *StoreProvider {
	return &StoreProvider{store: st}
}

func (p *StoreProvider) IsWorkingDay(ctx context.Context, date time.Time) (bool, error) {
	return p.store.IsWorkingDay(ctx, date.UTC().Format(DateLayout))
}

// CountWorkingDays counts stored working days in [start, end], both ends
// inclusive. Returns 0 when start is after end.
func (p *StoreProvider) CountWorkingDays(ctx context.Context, start, end time.Time) (int, error) {
	if start.After(end) {
		return 0, nil
	}
	return p.store.CountWorkingDays(ctx, start.UTC().Format(DateLayout), end.UTC().Format(DateLayout))
}

// SyncHolidays upserts HRMS holiday entries as non-working days. Idempotent
// by date.
func (p *StoreProvider) SyncHolidays(ctx context.Context, holidays []Holiday) (SyncResult, error) {
	var result SyncResult
	now := time.Now().UTC()
	for _, h := range holidays {
		if _, err := time.Parse(DateLayout, h.Date); err != nil {
			return result, fmt.Errorf("invalid holiday date %q: %w", h.Date, err)
		}
		inserted, err := p.store.UpsertCalendarDay(ctx, models.CalendarDay{
			Date:           h.Date,
			IsWorkingDay:   false,
			HolidayName:    h.Name,
			SyncedFromHRMS: true,
			SyncedAt:       &now,
		})
		if err != nil {
			return result, fmt.Errorf("sync holiday %s: %w", h.Date, err)
		}
		if inserted {
			result.Added++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

// GenerateWeekdays seeds the calendar with the next n days starting today,
// marking Monday-Friday as working. Existing rows (holiday overrides) are
// preserved.
func (p *StoreProvider) GenerateWeekdays(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, fmt.Errorf("days must be positive")
	}
	generated := 0
	today := time.Now().UTC()
	for i := 0; i < days; i++ {
		date := today.AddDate(0, 0, i)
		dateStr := date.Format(DateLayout)
		if working, err := p.store.IsWorkingDay(ctx, dateStr); err != nil {
			return generated, fmt.Errorf("check existing day %s: %w", dateStr, err)
		} else if working {
			continue
		}
		// Only write rows that are not already present; a stored
		// non-working day may be a holiday override we must keep.
		if existing, err := p.store.ListCalendar(ctx, dateStr, dateStr); err != nil {
			return generated, fmt.Errorf("check existing day %s: %w", dateStr, err)
		} else if len(existing) > 0 {
			continue
		}
		weekday := date.Weekday()
		working := weekday != time.Saturday && weekday != time.Sunday
		if _, err := p.store.UpsertCalendarDay(ctx, models.CalendarDay{
			Date:         dateStr,
			IsWorkingDay: working,
		}); err != nil {
			return generated, fmt.Errorf("generate day %s: %w", dateStr, err)
		}
		generated++
	}
	return generated, nil
}

// Range returns the stored calendar between two YYYY-MM-DD dates.
func (p *StoreProvider) Range(ctx context.Context, startDate, endDate string) ([]models.CalendarDay, error) {
	if _, err := time.Parse(DateLayout, startDate); err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", startDate, err)
	}
	if _, err := time.Parse(DateLayout, endDate); err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", endDate, err)
	}
	return p.store.ListCalendar(ctx, startDate, endDate)
}
