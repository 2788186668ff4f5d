package syncengine

import (
	"errors"
	"fmt"
)

var (
	// ErrSyncInProgress is returned when a bulk pass is requested while one is
	// already running. Callers should retry later.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrSync marks a single-file processing failure.
	ErrSync = errors.New("sync failed")

	// ErrOutsideRoot is returned for paths that do not live under the documents root.
	ErrOutsideRoot = errors.New("path outside documents root")
)

// SyncError wraps a failure to sync or remove one file.
type SyncError struct {
	Path string
	Op   string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrSync) match every *SyncError.
func (e *SyncError) Is(target error) bool {
	return target == ErrSync
}
