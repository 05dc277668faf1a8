package airgap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler periodically syncs enabled configurations whose next sync is due.
type Scheduler struct {
	mgr    *Manager
	cron   *cron.Cron
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler that sweeps on the given cron spec
// (for example "@every 1m").
func NewScheduler(mgr *Manager, spec string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		mgr:    mgr,
		cron:   cron.New(cron.WithParser(scheduleParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid scheduler spec %q: %w", spec, err)
	}
	return s, nil
}

// Start begins sweeping in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("air-gap sync scheduler started")
}

// Stop stops the scheduler and waits for a running sweep to finish or ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	if _, err := s.Sweep(s.ctx); err != nil {
		s.logger.Error("air-gap sync sweep failed", "error", err)
	}
}

// Sweep syncs every enabled config with a due schedule and returns how many
// were synced. A failing config is logged and does not stop the sweep.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	configs, err := s.mgr.repo.ListAirGapConfigs(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("listing air-gapped configs: %w", err)
	}

	now := s.mgr.now()
	synced := 0
	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if !cfg.Enabled || cfg.SyncSchedule == nil || cfg.SyncSchedule.NextSync == nil {
			continue
		}
		if cfg.SyncSchedule.NextSync.After(now) {
			continue
		}

		start := time.Now()
		res, err := s.mgr.Sync(ctx, cfg.ID)
		if err != nil {
			s.logger.Warn("scheduled sync failed", "id", cfg.ID, "error", err)
			continue
		}
		synced++
		s.logger.Debug("scheduled sync", "id", cfg.ID, "items", res.ItemsSynced, "duration", time.Since(start))
	}
	return synced, nil
}
