// Package scheduler drives the periodic SLA evaluation pass on a cron
// schedule.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/coi-platform/sla-engine/internal/monitor"
)

// Checker is the subset of the service the scheduler drives.
type Checker interface {
	CheckPending(ctx context.Context) (monitor.Summary, error)
}

type Scheduler struct {
	cron    *cron.Cron
	checker Checker
}

// Start registers the check pass under the given five-field cron spec
// (e.g. "*/15 * * * *") and starts the scheduler. Each run gets its own
// timeout so one stuck pass cannot pile up behind the next.
func Start(checker Checker, schedule string) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser))

	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := checker.CheckPending(ctx); err != nil {
			log.Printf("[scheduler] sla check pass failed: %v", err)
		}
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	log.Printf("[scheduler] sla check scheduled: %s", schedule)
	return &Scheduler{cron: c, checker: checker}, nil
}

// Stop halts the scheduler and waits for any in-flight run to finish.
func (s *Scheduler) Stop() {
	if s == nil || s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
