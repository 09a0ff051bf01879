// Package scheduler starts marketplace sync runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mrlokans/marketsync/internal/pipeline"
	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Target is one tenant and marketplace pair to keep in sync.
type Target struct {
	TenantID    string
	Marketplace string
}

// ParseTargets parses "tenant:marketplace" pairs separated by commas.
func ParseTargets(raw string) ([]Target, error) {
	var targets []Target
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		tenant, mkt, ok := strings.Cut(part, ":")
		if !ok || tenant == "" || mkt == "" {
			return nil, fmt.Errorf("invalid sync target %q, want tenant:marketplace", part)
		}
		targets = append(targets, Target{TenantID: tenant, Marketplace: mkt})
	}
	return targets, nil
}

// ValidateCronSchedule validates a standard 5-field cron expression.
func ValidateCronSchedule(schedule string) error {
	_, err := parser.Parse(schedule)
	return err
}

// SyncStarter starts a sync run.
type SyncStarter interface {
	StartSyncRun(ctx context.Context, tenantID, marketplace string) (string, error)
}

// MarketplaceSyncScheduler periodically starts a sync run for each target.
// Targets whose previous run is still going are skipped.
type MarketplaceSyncScheduler struct {
	starter  SyncStarter
	schedule string
	targets  []Target

	cron      *cron.Cron
	entryID   cron.EntryID
	mu        sync.RWMutex
	isRunning bool
}

func NewMarketplaceSyncScheduler(starter SyncStarter, schedule string, targets []Target) *MarketplaceSyncScheduler {
	return &MarketplaceSyncScheduler{
		starter:  starter,
		schedule: schedule,
		targets:  targets,
		cron:     cron.New(cron.WithParser(parser)),
	}
}

// AddHousekeeping runs fn on its own schedule alongside the sync entry.
// Must be called before Start.
func (s *MarketplaceSyncScheduler) AddHousekeeping(schedule string, fn func()) error {
	if _, err := s.cron.AddFunc(schedule, fn); err != nil {
		return fmt.Errorf("schedule housekeeping: %w", err)
	}
	return nil
}

// Start begins the scheduler. It stops by itself when ctx is done.
func (s *MarketplaceSyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}
	if err := ValidateCronSchedule(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", s.schedule, err)
	}
	if len(s.targets) == 0 {
		log.Printf("[SCHEDULER] No sync targets configured, skipping")
		return nil
	}

	entryID, err := s.cron.AddFunc(s.schedule, func() {
		s.runSync(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sync job: %w", err)
	}
	s.entryID = entryID

	s.cron.Start()
	s.isRunning = true

	log.Printf("[SCHEDULER] Started with schedule '%s' for %d targets. Next run: %v",
		s.schedule, len(s.targets), s.cron.Entry(entryID).Next)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop stops the scheduler and waits for a running tick to return.
func (s *MarketplaceSyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	done := s.cron.Stop()
	<-done.Done()
	s.isRunning = false

	log.Printf("[SCHEDULER] Stopped")
}

// RunNow starts runs for every target immediately.
func (s *MarketplaceSyncScheduler) RunNow(ctx context.Context) {
	s.runSync(ctx)
}

func (s *MarketplaceSyncScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetNextRunTime returns when the next tick will occur.
func (s *MarketplaceSyncScheduler) GetNextRunTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return nil
	}
	next := s.cron.Entry(s.entryID).Next
	return &next
}

func (s *MarketplaceSyncScheduler) runSync(ctx context.Context) {
	for _, target := range s.targets {
		runID, err := s.starter.StartSyncRun(ctx, target.TenantID, target.Marketplace)
		switch {
		case errors.Is(err, pipeline.ErrSyncInProgress):
			log.Printf("[SCHEDULER] Skipped %s on %s: sync already in progress", target.TenantID, target.Marketplace)
		case err != nil:
			log.Printf("[SCHEDULER] Failed to start sync for %s on %s: %v", target.TenantID, target.Marketplace, err)
		default:
			log.Printf("[SCHEDULER] Started sync run %s for %s on %s", runID, target.TenantID, target.Marketplace)
		}
	}
}
