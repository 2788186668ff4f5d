package daemon

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newTestDaemon(t, cfg)
	defer d.Close()

	lm := NewLifecycleManager(d)
	assert.NotNil(t, lm)
	assert.Equal(t, d, lm.daemon)
	assert.Equal(t, cfg.PIDFile(), lm.pidFile)
}

func TestLifecycleManagerStartStop(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newTestDaemon(t, cfg)
	defer d.Close()

	lm := NewLifecycleManager(d)
	require.NoError(t, lm.Start())

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, lm.IsRunning())

	require.NoError(t, lm.Stop())
	_, err = os.Stat(lm.pidFile)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, lm.IsRunning())

	// Stopping twice is harmless.
	assert.NoError(t, lm.Stop())
}

func TestLifecycleManager_StalePIDFile(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newTestDaemon(t, cfg)
	defer d.Close()

	lm := NewLifecycleManager(d)
	require.NoError(t, os.WriteFile(lm.pidFile, []byte("999999999"), 0644))

	require.NoError(t, lm.Start())
	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	require.NoError(t, lm.Stop())
}

func TestLifecycleManager_LiveProcess(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newTestDaemon(t, cfg)
	defer d.Close()

	lm := NewLifecycleManager(d)
	require.NoError(t, os.WriteFile(lm.pidFile, []byte(strconv.Itoa(os.Getppid())), 0644))

	err := lm.Start()
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestReadPIDFile(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadPIDFile(dir + "/missing.pid")
	assert.True(t, os.IsNotExist(err))

	path := dir + "/bad.pid"
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0644))
	_, err = ReadPIDFile(path)
	assert.Error(t, err)

	path = dir + "/ok.pid"
	require.NoError(t, os.WriteFile(path, []byte("42\n"), 0644))
	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, 42, pid)
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
	assert.False(t, ProcessAlive(0))
	assert.False(t, ProcessAlive(-1))
}
