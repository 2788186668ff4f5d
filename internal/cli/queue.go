package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/specmgr/internal/config"
	"github.com/harun/specmgr/internal/observability"
	"github.com/harun/specmgr/pkg/changequeue"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the change queue",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show pending and dead-lettered job counts",
	RunE:  runQueueStats,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Move dead-lettered jobs back onto the sync queue",
	RunE:  runQueueRetry,
}

func init() {
	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueRetryCmd)
	rootCmd.AddCommand(queueCmd)
}

// openQueue opens the durable queue shared with a running daemon.
func openQueue(ctx context.Context, cfg *config.Config) (*changequeue.Queue, error) {
	if cfg.Queue.Ephemeral {
		return nil, fmt.Errorf("queue is ephemeral; it only exists inside the daemon")
	}
	backend, err := changequeue.NewSQLiteBackend(ctx, changequeue.SQLiteConfig{
		Path:   cfg.Queue.Path,
		Logger: zerolog.Nop(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open change queue: %w", err)
	}
	return changequeue.New(changequeue.Config{Backend: backend, Logger: zerolog.Nop()}), nil
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	q, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	stats, err := q.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue stats: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	q, err := openQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	moved, err := q.RetryDeadLetters(ctx)
	if err != nil {
		observability.RecordQueueAudit(ctx, "retry_failed", "cli", "failure", map[string]interface{}{
			"requeued": moved,
			"error":    err.Error(),
		})
		return fmt.Errorf("failed to requeue jobs: %w", err)
	}
	observability.RecordQueueAudit(ctx, "retry_failed", "cli", "success", map[string]interface{}{
		"requeued": moved,
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d dead-lettered jobs\n", moved)
	return nil
}
