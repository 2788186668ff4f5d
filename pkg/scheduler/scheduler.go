// Package scheduler runs periodic incremental sync passes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/specmgr/internal/tracing"
	"github.com/harun/specmgr/pkg/syncengine"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultInterval is the pause between passes when no cron expression is set.
const DefaultInterval = 30 * time.Second

// Syncer is the part of the sync engine the scheduler drives.
type Syncer interface {
	Status() syncengine.Status
	ExecuteBulkSync(ctx context.Context, force bool) (*syncengine.Result, error)
}

// Config holds scheduler configuration
type Config struct {
	Interval time.Duration
	// Cron is an optional five-field expression. When set it replaces Interval.
	Cron   string
	Logger zerolog.Logger
}

// Scheduler triggers an incremental pass on every tick.
type Scheduler struct {
	syncer   Syncer
	interval time.Duration
	schedule cron.Schedule
	logger   zerolog.Logger

	now func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a scheduler for syncer.
func New(syncer Syncer, cfg Config) (*Scheduler, error) {
	if syncer == nil {
		return nil, errors.New("syncer is required")
	}

	s := &Scheduler{
		syncer:   syncer,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		now:      time.Now,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}

	if cfg.Cron != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		sched, err := parser.Parse(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression: %w", err)
		}
		s.schedule = sched
	}

	return s, nil
}

// NextDelay returns how long to wait before the next tick.
func (s *Scheduler) NextDelay() time.Duration {
	if s.schedule == nil {
		return s.interval
	}
	now := s.now()
	d := s.schedule.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Run ticks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Bool("cron", s.schedule != nil).
		Msg("Sync scheduler started")

	for {
		timer := time.NewTimer(s.NextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("Sync scheduler stopping")
			return
		case <-timer.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduled pass unless a pass is already underway. Failures are
// logged; they never stop the scheduler.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.syncer.Status().IsRunning {
		s.logger.Debug().Msg("Sync already running, skipping scheduled pass")
		return
	}

	ctx = tracing.WithTrigger(ctx, "scheduler")
	result, err := s.syncer.ExecuteBulkSync(ctx, false)
	switch {
	case errors.Is(err, syncengine.ErrSyncInProgress):
		s.logger.Debug().Msg("Sync started elsewhere, skipping scheduled pass")
	case err != nil:
		s.logger.Error().Err(err).Msg("Scheduled sync failed")
	case result != nil && result.ProcessedFiles > 0:
		s.logger.Info().
			Int("processed", result.ProcessedFiles).
			Int("total", result.TotalFiles).
			Bool("success", result.Success).
			Msg("Scheduled sync completed")
	}
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go func(done chan struct{}) {
		defer close(done)
		s.Run(ctx)
	}(s.done)

	return nil
}

// Stop cancels the background loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}
