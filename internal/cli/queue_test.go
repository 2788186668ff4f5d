package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/specmgr/pkg/changequeue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueCommands(t *testing.T) {
	configPath, _ := writeTestConfig(t)
	queuePath := filepath.Join(filepath.Dir(configPath), ".specmgr", "queue.db")
	require.NoError(t, os.MkdirAll(filepath.Dir(queuePath), 0755))

	// Seed one dead-lettered job the way a worker would.
	ctx := context.Background()
	backend, err := changequeue.NewSQLiteBackend(ctx, changequeue.SQLiteConfig{Path: queuePath, Logger: zerolog.Nop()})
	require.NoError(t, err)
	job, err := changequeue.NewJob(changequeue.Event{Type: changequeue.EventModified, Path: "/docs/a.md"}, time.Now())
	require.NoError(t, err)
	job.RetryCount = 6
	job.LastError = "embedding failed"
	payload, err := changequeue.EncodeJob(job)
	require.NoError(t, err)
	require.NoError(t, backend.Push(ctx, changequeue.DeadLetterQueue, payload))
	require.NoError(t, backend.Close())

	out, err := execute(t, "", "queue", "stats", "--config", configPath)
	require.NoError(t, err)
	var stats changequeue.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 1, stats.Failed)

	out, err = execute(t, "", "queue", "retry-failed", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Requeued 1 dead-lettered jobs")

	out, err = execute(t, "", "queue", "stats", "--config", configPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 0, stats.Failed)
}
