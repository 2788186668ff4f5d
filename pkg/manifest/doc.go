// Package manifest tracks which document files are represented in the vector store.
//
// Invariants:
// - A path is present in the manifest iff its content is believed to be indexed.
// - Saves are atomic (temp file + rename); a reader sees either the old or the new document.
// - Loading never fails on corruption: a damaged manifest degrades to an empty one.
//
// Usage:
//
//	store := manifest.NewStore(manifest.Config{Root: "/docs"})
//	changes, _ := store.Diff(map[string]string{"a.md": manifest.HashBytes(data)})
//	_ = store.UpdateOne("a.md", manifest.HashBytes(data))
//	_ = changes
package manifest
