package cli

import (
	"encoding/json"
	"fmt"

	"github.com/harun/specmgr/internal/observability"
	"github.com/harun/specmgr/pkg/manifest"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect or reset the sync manifest",
}

var manifestStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show manifest statistics",
	RunE:  runManifestStats,
}

var manifestClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the manifest so the next sync re-indexes every document",
	Long: `Clear the manifest so the next sync re-indexes every document.
The previous manifest is kept next to it as a timestamped backup.`,
	RunE: runManifestClear,
}

func init() {
	manifestCmd.AddCommand(manifestStatsCmd)
	manifestCmd.AddCommand(manifestClearCmd)
	rootCmd.AddCommand(manifestCmd)
}

func openManifest(cmd *cobra.Command) (*manifest.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return manifest.NewStore(manifest.Config{
		Root:   cfg.Documents.Path,
		Logger: zerolog.Nop(),
	}), nil
}

func runManifestStats(cmd *cobra.Command, args []string) error {
	store, err := openManifest(cmd)
	if err != nil {
		return err
	}

	stats, err := store.Stats()
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func runManifestClear(cmd *cobra.Command, args []string) error {
	store, err := openManifest(cmd)
	if err != nil {
		return err
	}

	if err := store.Clear(); err != nil {
		return fmt.Errorf("failed to clear manifest: %w", err)
	}
	observability.RecordManifestAudit(cmd.Context(), "manifest_clear", "cli", "success", map[string]interface{}{
		"path": store.Path(),
	})

	fmt.Fprintln(cmd.OutOrStdout(), "Manifest cleared; the next sync re-indexes every document")
	return nil
}
