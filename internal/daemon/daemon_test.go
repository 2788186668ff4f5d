package daemon

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/specmgr/internal/config"
	"github.com/harun/specmgr/internal/logger"
	"github.com/harun/specmgr/pkg/changequeue"
	"github.com/harun/specmgr/pkg/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Documents.Path = filepath.Join(dir, "docs")
	cfg.Documents.Watch.Enabled = false
	cfg.VectorDB.Path = filepath.Join(cfg.DataDir, "vectors.db")
	cfg.VectorDB.VectorSize = 8
	cfg.Queue.Path = filepath.Join(cfg.DataDir, "queue.db")
	cfg.Embedding.Provider = "hash"
	cfg.Server.Enabled = false
	cfg.Scheduler.Enabled = false
	cfg.Sync.OnStartup = false
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Console: false})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func newTestDaemon(t *testing.T, cfg *config.Config) (*Daemon, *vectorstore.MemoryStore) {
	t.Helper()
	store := vectorstore.NewMemoryStore(cfg.VectorDB.VectorSize)
	d, err := New(cfg, testLogger(t),
		WithVectorStore(store),
		WithQueueBackend(changequeue.NewMemoryBackend()),
	)
	require.NoError(t, err)
	return d, store
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newTestDaemon(t, cfg)
	defer d.Close()

	assert.NotNil(t, d.GetEngine())
	assert.NotNil(t, d.GetManifest())
	assert.NotNil(t, d.GetQueue())
	assert.Nil(t, d.GetAPIServer())
	assert.Equal(t, cfg, d.GetConfig())
	assert.False(t, d.Status().Running)

	_, err := os.Stat(cfg.Documents.Path)
	assert.NoError(t, err, "documents root is created")
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.VectorDB.VectorSize = 0

	_, err := New(cfg, testLogger(t))
	assert.Error(t, err)

	_, err = New(nil, testLogger(t))
	assert.Error(t, err)
}

func TestDaemon_StartupSync(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.OnStartup = true
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Documents.Path, "guides"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Documents.Path, "readme.md"), []byte("# Readme"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Documents.Path, "guides", "setup.md"), []byte("# Setup"), 0644))

	d, store := newTestDaemon(t, cfg)
	require.NoError(t, d.Start())

	assert.Eventually(t, func() bool {
		return len(store.Keys()) == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.ElementsMatch(t, []string{"readme.md", "guides/setup.md"}, store.Keys())

	_, err := os.Stat(cfg.PIDFile())
	assert.NoError(t, err)

	require.NoError(t, d.Stop())
	_, err = os.Stat(cfg.PIDFile())
	assert.True(t, os.IsNotExist(err))

	stats, err := d.GetManifest().Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalFiles)
}

func TestDaemon_WatcherFeedsQueue(t *testing.T) {
	cfg := testConfig(t)
	cfg.Documents.Watch.Enabled = true
	cfg.Documents.Watch.DebounceMs = 50

	d, store := newTestDaemon(t, cfg)
	require.NoError(t, d.Start())
	defer d.Stop()

	path := filepath.Join(d.GetEngine().Root(), "live.md")
	require.NoError(t, os.WriteFile(path, []byte("# Live"), 0644))

	assert.Eventually(t, func() bool {
		for _, k := range store.Keys() {
			if k == "live.md" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		return len(store.Keys()) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDaemon_APIServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Enabled = true
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)

	d, _ := newTestDaemon(t, cfg)
	require.NoError(t, d.Start())
	defer d.Stop()

	require.NotNil(t, d.GetAPIServer())
	resp, err := http.Get(fmt.Sprintf("http://%s/api/sync/status", d.GetAPIServer().Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDaemon_StartStopTwice(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newTestDaemon(t, cfg)

	require.NoError(t, d.Start())
	assert.Error(t, d.Start())
	assert.True(t, d.Status().Running)
	assert.False(t, d.Status().StartTime.IsZero())

	require.NoError(t, d.Stop())
	assert.Error(t, d.Stop())
	assert.False(t, d.Status().Running)
}

func TestDaemon_CloseWithoutStart(t *testing.T) {
	cfg := testConfig(t)
	d, _ := newTestDaemon(t, cfg)

	result, err := d.GetEngine().ExecuteBulkSync(t.Context(), false)
	require.NoError(t, err)
	assert.True(t, result.Success)

	assert.NoError(t, d.Close())
}
