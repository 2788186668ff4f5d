package syncengine

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/harun/specmgr/pkg/manifest"
)

// Scan walks the documents root and fingerprints every eligible file. Files
// that cannot be read are left out of the result and logged.
func (e *Engine) Scan(ctx context.Context) (map[string]string, error) {
	current := make(map[string]string)

	err := filepath.WalkDir(e.root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			if p == e.root {
				return err
			}
			e.logger.Warn().Err(err).Str("path", p).Msg("Skipping unreadable path")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if p == e.root {
			return nil
		}

		rel, err := filepath.Rel(e.root, p)
		if err != nil {
			return nil
		}
		rel = manifest.NormalizePath(rel)

		if d.IsDir() {
			if e.filter.Excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || !e.filter.Match(rel) {
			return nil
		}

		fp := manifest.HashFile(p)
		if fp == "" {
			e.logger.Warn().Str("path", rel).Msg("Could not fingerprint file, skipping this pass")
			return nil
		}
		current[rel] = fp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", e.root, err)
	}

	return current, nil
}
