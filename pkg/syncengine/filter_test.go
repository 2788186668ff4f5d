package syncengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter(t *testing.T) {
	f := NewFilter(nil, nil)

	tests := []struct {
		path  string
		match bool
	}{
		{"a.md", true},
		{"docs/A.MD", true},
		{"docs/b.markdown", true},
		{"notes.txt", false},
		{".git/HEAD.md", false},
		{"x/node_modules/y.md", false},
		{".specmgr-manifest.json", false},
		{".specmgr-cache/a.md", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.match, f.Match(tt.path))
		})
	}
}

func TestFilter_Custom(t *testing.T) {
	f := NewFilter([]string{"txt"}, []string{"drafts/*"})

	assert.True(t, f.Match("notes.txt"))
	assert.False(t, f.Match("a.md"))
	assert.False(t, f.Match("drafts/wip.txt"))
	assert.True(t, f.Excluded("drafts/wip.txt"))
}
