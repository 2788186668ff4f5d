package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/harun/specmgr/internal/config"
	"github.com/harun/specmgr/pkg/syncengine"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Show whether the specmgr daemon is running and, when its HTTP API is
enabled, the progress of the current sync pass.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pidFile := cfg.PIDFile()
	pid, running := runningPID(pidFile)
	if !running {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)

	// Get PID file modification time for uptime calculation
	if fileInfo, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(fileInfo.ModTime())))
	}

	if !cfg.Server.Enabled {
		return nil
	}

	status, err := fetchSyncStatus(&http.Client{Timeout: 5 * time.Second}, statusURL(cfg))
	if err != nil {
		fmt.Fprintf(out, "Sync: unknown (%v)\n", err)
		return nil
	}
	if status.IsRunning {
		fmt.Fprintf(out, "Sync: running %d/%d %s\n", status.Current, status.Total, status.CurrentFile)
	} else {
		fmt.Fprintln(out, "Sync: idle")
	}
	return nil
}

func statusURL(cfg *config.Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d/api/sync/status", host, cfg.Server.Port)
}

type statusEnvelope struct {
	Success bool              `json:"success"`
	Data    syncengine.Status `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func fetchSyncStatus(client *http.Client, url string) (*syncengine.Status, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var env statusEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unexpected response: %w", err)
	}
	if !env.Success {
		if env.Error != nil {
			return nil, fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
		}
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return &env.Data, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
