package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/specmgr/pkg/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestCommands(t *testing.T) {
	configPath, docsDir := writeTestConfig(t)

	out, err := execute(t, "", "manifest", "stats", "--config", configPath)
	require.NoError(t, err)

	var stats manifest.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.False(t, stats.Exists)
	assert.Equal(t, 0, stats.TotalFiles)

	manifestPath := filepath.Join(docsDir, manifest.DefaultFileName)
	require.NoError(t, os.WriteFile(manifestPath, []byte(`{"files":{"a.md":"abc","b.md":"def"},"last_updated":null}`), 0644))

	out, err = execute(t, "", "manifest", "stats", "--config", configPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.True(t, stats.Exists)
	assert.Equal(t, 2, stats.TotalFiles)

	out, err = execute(t, "", "manifest", "clear", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Manifest cleared")

	_, err = os.Stat(manifestPath)
	assert.True(t, os.IsNotExist(err))
	backups, err := filepath.Glob(manifestPath + ".bak-*")
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}
