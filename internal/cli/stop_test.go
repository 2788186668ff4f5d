package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		out, err := execute(t, "", "stop", "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "Stop the specmgr daemon")
		assert.Contains(t, out, "timeout")
	})

	t.Run("not running", func(t *testing.T) {
		configPath, _ := writeTestConfig(t)

		_, err := execute(t, "", "stop", "--config", configPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not running")
	})
}

func TestRunningPID(t *testing.T) {
	dir := t.TempDir()

	_, running := runningPID(filepath.Join(dir, "missing.pid"))
	assert.False(t, running)

	invalid := filepath.Join(dir, "invalid.pid")
	require.NoError(t, os.WriteFile(invalid, []byte("invalid"), 0644))
	_, running = runningPID(invalid)
	assert.False(t, running)

	stale := filepath.Join(dir, "stale.pid")
	require.NoError(t, os.WriteFile(stale, []byte("999999999"), 0644))
	_, running = runningPID(stale)
	assert.False(t, running)
}
