package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harun/specmgr/internal/daemon"
	"github.com/harun/specmgr/internal/tracing"
	"github.com/spf13/cobra"
)

var (
	syncForce     bool
	syncEphemeral bool
	syncJSON      bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one bulk sync pass",
	Long: `Run one bulk sync pass against the documents root and print the result.
Without --force only files whose fingerprint changed since the last pass are
re-indexed and files that disappeared are removed from the index.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "re-index every document regardless of the manifest")
	syncCmd.Flags().BoolVar(&syncEphemeral, "ephemeral", false, "use an in-memory change queue")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// A one-shot pass needs the engine only.
	cfg.Server.Enabled = false
	cfg.Scheduler.Enabled = false
	cfg.Documents.Watch.Enabled = false
	cfg.Sync.OnStartup = false
	if syncEphemeral {
		cfg.Queue.Ephemeral = true
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create sync engine: %w", err)
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = tracing.WithTrigger(ctx, "cli")

	result, err := d.GetEngine().ExecuteBulkSync(ctx, syncForce)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if syncJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintf(out, "Processed %d of %d files (%d chunks) in %.2fs\n",
		result.ProcessedFiles, result.TotalFiles, result.TotalChunks, result.ProcessingTime)
	for _, msg := range result.Errors {
		fmt.Fprintf(out, "  error: %s\n", msg)
	}
	if !result.Success {
		return fmt.Errorf("sync completed with %d errors", len(result.Errors))
	}
	return nil
}
