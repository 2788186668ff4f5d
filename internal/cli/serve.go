package cli

import (
	"errors"
	"fmt"

	"github.com/harun/specmgr/internal/daemon"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the specmgr daemon in the foreground",
	Long: `Run the specmgr daemon in the foreground.
The daemon watches the documents root, drains the change queue, runs the
periodic sync and serves the HTTP API until it receives SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if pid, running := runningPID(cfg.PIDFile()); running {
		return fmt.Errorf("daemon is already running (pid %d)", pid)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		_ = d.Close()
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return err
		}
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	d.Wait()
	return nil
}

// runningPID reports the PID recorded in pidFile when that process is alive.
func runningPID(pidFile string) (int, bool) {
	pid, err := daemon.ReadPIDFile(pidFile)
	if err != nil {
		return 0, false
	}
	return pid, daemon.ProcessAlive(pid)
}
