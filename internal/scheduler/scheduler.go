// Package scheduler wires up the cron job that periodically recomputes every
// active employee's compliance snapshot and publishes alerts.
package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"medstaff/workforce-service/internal/compliance"
)

// Scheduler wraps robfig/cron and manages the compliance sweep loop.
type Scheduler struct {
	cron *cron.Cron
	svc  *compliance.Service
	spec string // cron spec, e.g. "@every 24h"
}

// New creates a Scheduler that fires every intervalHours hours.
func New(svc *compliance.Service, intervalHours int) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLogger(cron.DefaultLogger)),
		svc:  svc,
		spec: fmt.Sprintf("@every %dh", intervalHours),
	}
}

// Start registers the job and starts the scheduler. Also runs one sweep
// immediately so alerts go out without waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.runSweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	log.Printf("[scheduler] Cron started — spec: %s", s.spec)

	// Run immediately on startup (non-blocking)
	go s.runSweep(ctx)

	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("[scheduler] Cron stopped")
}

// runSweep recomputes every active employee's snapshot and publishes an
// alert for anyone non-compliant or with a deadline inside the window.
func (s *Scheduler) runSweep(ctx context.Context) {
	log.Println("[scheduler] Compliance sweep started")

	ids, err := s.svc.ActiveEmployeeIDs(ctx)
	if err != nil {
		log.Printf("[scheduler] ActiveEmployeeIDs error: %v", err)
		return
	}

	if len(ids) == 0 {
		log.Println("[scheduler] No active employees — nothing to sweep")
		return
	}

	alerts := 0
	for _, id := range ids {
		snap, err := s.svc.EmployeeSnapshot(ctx, id)
		if err != nil {
			log.Printf("[scheduler] Snapshot error for employee %s: %v", id, err)
			continue
		}
		if snap.Classification != compliance.NonCompliant && len(snap.UpcomingDeadlines) == 0 {
			continue
		}
		if err := s.svc.PublishAlert(ctx, snap); err != nil {
			log.Printf("[scheduler] PublishAlert error for employee %s: %v", id, err)
			continue
		}
		alerts++
	}

	log.Printf("[scheduler] Compliance sweep complete — %d employee(s), %d alert(s)", len(ids), alerts)
}
