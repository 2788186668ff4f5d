package daemon

import (
	"context"
	"time"

	"github.com/harun/specmgr/internal/observability"
)

// EventLoop refreshes gauges and logs backlog on a fixed cadence
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:   d,
		interval: 30 * time.Second,
	}
}

// Run runs the event loop with periodic maintenance tasks
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Info().Msg("Event loop started")

	e.processTasks(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Info().Msg("Event loop stopping")
			return

		case <-ticker.C:
			e.processTasks(ctx)
		}
	}
}

// processTasks refreshes the manifest and queue gauges.
func (e *EventLoop) processTasks(ctx context.Context) {
	if stats, err := e.daemon.manifest.Stats(); err != nil {
		e.daemon.logger.Warn().Err(err).Msg("Manifest stats failed")
	} else {
		observability.SetManifestFiles(stats.TotalFiles)
	}

	stats, err := e.daemon.queue.Stats(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.daemon.logger.Warn().Err(err).Msg("Queue stats failed")
		}
		return
	}

	if stats.Pending > 0 || stats.Failed > 0 {
		e.daemon.logger.Debug().
			Int("pending", stats.Pending).
			Int("failed", stats.Failed).
			Msg("Queue stats")
	}
	if stats.Failed > 0 {
		e.daemon.logger.Warn().
			Int("failed", stats.Failed).
			Msg("Dead-lettered jobs waiting; use 'specmgr queue retry-failed'")
	}
}
