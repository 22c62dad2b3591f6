// Package monitor re-evaluates pending workflow items against their SLA,
// emits escalation events on upward status transitions only, and keeps
// the durable breach-open/breach-resolve log.
package monitor

import (
	"context"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/coi-platform/sla-engine/internal/events"
	"github.com/coi-platform/sla-engine/internal/models"
	"github.com/coi-platform/sla-engine/internal/sla"
	"github.com/coi-platform/sla-engine/internal/store"
)

const lockStripes = 32

// Config tunes a Monitor.
type Config struct {
	// Concurrency bounds how many items one CheckAll pass evaluates in
	// parallel. Defaults to 4.
	Concurrency int
}

// Summary reports one evaluation pass.
type Summary struct {
	Checked  int      `json:"checked"`
	Warnings []string `json:"warnings"`
	Critical []string `json:"critical"`
	Breached []string `json:"breached"`
}

// CheckResult reports the evaluation of a single item.
type CheckResult struct {
	Previous     models.SLAStatusValue `json:"previous,omitempty"`
	Current      models.SLAStatusValue `json:"current"`
	Status       sla.Status            `json:"status"`
	EventEmitted bool                  `json:"eventEmitted"`
}

// Monitor owns the last-known-status cache. The cache only suppresses
// duplicate notifications; the breach log in the store is the source of
// truth for open breaches, so resetting the cache (e.g. on restart) is
// safe.
type Monitor struct {
	store       store.Store
	clock       *sla.Clock
	sink        events.Sink
	concurrency int

	mu        sync.Mutex
	lastLevel map[string]models.SLAStatusValue

	// Per-item stripe locks serialize concurrent evaluations of the
	// same item so two passes cannot both observe a stale level and
	// double-emit.
	stripes [lockStripes]sync.Mutex
}

func New(st store.Store, clock *sla.Clock, sink events.Sink, cfg Config) *Monitor {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Monitor{
		store:       st,
		clock:       clock,
		sink:        sink,
		concurrency: concurrency,
		lastLevel:   map[string]models.SLAStatusValue{},
	}
}

func (m *Monitor) stripe(itemID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(itemID))
	return &m.stripes[h.Sum32()%lockStripes]
}

// CheckAll evaluates every item, in parallel up to the configured
// concurrency. Items evaluate independently; per-item serialization is
// handled inside CheckItem. Evaluation errors are logged and skip the
// item rather than aborting the pass.
func (m *Monitor) CheckAll(ctx context.Context, items []models.WorkflowItem) Summary {
	summary := Summary{
		Warnings: []string{},
		Critical: []string{},
		Breached: []string{},
	}
	var summaryMu sync.Mutex

	jobs := make(chan models.WorkflowItem)
	var wg sync.WaitGroup
	for i := 0; i < m.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				result, err := m.CheckItem(ctx, item)
				if err != nil {
					log.Printf("[sla-monitor] check failed for item %s: %v", item.ID, err)
					continue
				}
				summaryMu.Lock()
				summary.Checked++
				if result.EventEmitted {
					switch result.Current {
					case models.StatusWarning:
						summary.Warnings = append(summary.Warnings, item.ID)
					case models.StatusCritical:
						summary.Critical = append(summary.Critical, item.ID)
					case models.StatusBreached:
						summary.Breached = append(summary.Breached, item.ID)
					}
				}
				summaryMu.Unlock()
			}
		}()
	}
	for _, item := range items {
		jobs <- item
	}
	close(jobs)
	wg.Wait()

	log.Printf("[sla-monitor] checked %d items: %d warnings, %d critical, %d breached",
		summary.Checked, len(summary.Warnings), len(summary.Critical), len(summary.Breached))
	return summary
}

// CheckItem recomputes the item's SLA status and compares it against the
// last observed level. An event fires only when the new level is strictly
// greater than the previous one; re-observing a level or regressing emits
// nothing. On the first BREACHED observation a breach record is opened,
// idempotently.
func (m *Monitor) CheckItem(ctx context.Context, item models.WorkflowItem) (CheckResult, error) {
	lock := m.stripe(item.ID)
	lock.Lock()
	defer lock.Unlock()

	status, err := m.clock.Status(ctx, item)
	if err != nil {
		return CheckResult{}, err
	}
	current := status.Status

	m.mu.Lock()
	previous, seen := m.lastLevel[item.ID]
	m.lastLevel[item.ID] = current
	m.mu.Unlock()

	result := CheckResult{Current: current, Status: status}
	if seen {
		result.Previous = previous
	}

	if current.Rank() <= previous.Rank() {
		return result, nil
	}

	if current == models.StatusBreached {
		m.openBreach(ctx, item, status)
	}

	payload := events.Payload{
		ItemID:         item.ID,
		WorkflowStage:  item.WorkflowStage,
		TargetHours:    status.TargetHours,
		ActualHours:    status.HoursElapsed,
		HoursRemaining: status.HoursRemaining,
		PercentUsed:    status.PercentUsed,
		BreachTime:     status.BreachTime,
		RequesterID:    item.RequesterID,
		Timestamp:      time.Now().UTC(),
	}
	var eventType events.Type
	switch current {
	case models.StatusWarning:
		eventType = events.TypeWarning
	case models.StatusCritical:
		eventType = events.TypeCritical
	case models.StatusBreached:
		eventType = events.TypeBreach
	default:
		return result, nil
	}
	if err := m.sink.Emit(ctx, eventType, payload); err != nil {
		log.Printf("[sla-monitor] emit %s failed for item %s: %v", eventType, item.ID, err)
	}
	result.EventEmitted = true
	return result, nil
}

func (m *Monitor) openBreach(ctx context.Context, item models.WorkflowItem, status sla.Status) {
	var notified []string
	if item.RequesterID != "" {
		notified = []string{item.RequesterID}
	}
	_, opened, err := m.store.OpenBreach(ctx, store.BreachInput{
		ItemID:          item.ID,
		WorkflowStage:   item.WorkflowStage,
		BreachType:      string(models.StatusBreached),
		TargetHours:     status.TargetHours,
		ActualHours:     status.HoursElapsed,
		NotifiedUserIDs: notified,
	})
	if err != nil {
		log.Printf("[sla-monitor] breach log write failed for item %s: %v", item.ID, err)
		return
	}
	if opened {
		log.Printf("[sla-monitor] breach opened for item %s in stage %q", item.ID, item.WorkflowStage)
	}
}

// Resolve closes all open breach records for the item, optionally scoped
// to one stage, and emits a RESOLVED notification if anything was closed.
// Driven by external stage-transition notifications, not polling.
func (m *Monitor) Resolve(ctx context.Context, itemID, stage string) (int, error) {
	lock := m.stripe(itemID)
	lock.Lock()
	defer lock.Unlock()

	resolved, err := m.store.ResolveBreaches(ctx, itemID, stage, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if resolved == 0 {
		return 0, nil
	}

	// The item moved on; the next observation of its new stage starts
	// from a clean slate.
	m.mu.Lock()
	delete(m.lastLevel, itemID)
	m.mu.Unlock()

	if err := m.sink.Emit(ctx, events.TypeResolved, events.Payload{
		ItemID:        itemID,
		WorkflowStage: stage,
		Timestamp:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[sla-monitor] emit RESOLVED failed for item %s: %v", itemID, err)
	}
	log.Printf("[sla-monitor] resolved %d breach(es) for item %s", resolved, itemID)
	return resolved, nil
}

// ResetCache drops the last-known-status cache. Persisted breach records
// are untouched; the next pass may re-emit notifications for levels that
// were already reported before the reset.
func (m *Monitor) ResetCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLevel = map[string]models.SLAStatusValue{}
}
