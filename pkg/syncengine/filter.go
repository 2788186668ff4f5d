package syncengine

import (
	"path"
	"strings"
)

// DefaultExtensions are the document types indexed when none are configured.
var DefaultExtensions = []string{".md", ".markdown"}

// DefaultExclude lists path components skipped during scans and watching.
var DefaultExclude = []string{".git", "node_modules", ".specmgr-*"}

// Filter decides which relative paths are eligible documents.
type Filter struct {
	extensions map[string]struct{}
	exclude    []string
}

// NewFilter builds a filter. Empty arguments fall back to the defaults.
func NewFilter(extensions, exclude []string) Filter {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	if exclude == nil {
		exclude = DefaultExclude
	}

	f := Filter{
		extensions: make(map[string]struct{}, len(extensions)),
		exclude:    exclude,
	}
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f.extensions[ext] = struct{}{}
	}
	return f
}

// Excluded reports whether rel (slash separated) or any of its components
// matches an exclude pattern.
func (f Filter) Excluded(rel string) bool {
	for _, pattern := range f.exclude {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		for _, part := range strings.Split(rel, "/") {
			if ok, _ := path.Match(pattern, part); ok {
				return true
			}
		}
	}
	return false
}

// Match reports whether rel is an eligible document.
func (f Filter) Match(rel string) bool {
	if _, ok := f.extensions[strings.ToLower(path.Ext(rel))]; !ok {
		return false
	}
	return !f.Excluded(rel)
}

// IsZero reports whether f was never built with NewFilter.
func (f Filter) IsZero() bool {
	return f.extensions == nil
}
