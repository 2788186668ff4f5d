package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytes(t *testing.T) {
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", HashBytes(nil))
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", HashBytes([]byte("abc")))
	assert.Equal(t, HashBytes([]byte("same")), HashBytes([]byte("same")))
	assert.NotEqual(t, HashBytes([]byte("one")), HashBytes([]byte("two")))
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	assert.Equal(t, HashBytes([]byte("abc")), HashFile(path))
	assert.Equal(t, "", HashFile(filepath.Join(dir, "missing.md")))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "a.md", NormalizePath("./a.md"))
	assert.Equal(t, "docs/a.md", NormalizePath("docs//a.md"))
	assert.Equal(t, "docs/a.md", NormalizePath("docs/sub/../a.md"))
}
