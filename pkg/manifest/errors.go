package manifest

import (
	"errors"
	"fmt"
)

var (
	// ErrManifestIO is returned when a manifest save or mutation fails.
	ErrManifestIO = errors.New("manifest I/O error")

	// ErrManifestCorrupted marks a manifest that could not be parsed. Load
	// absorbs it; it only shows up in logs and in the relocation path.
	ErrManifestCorrupted = errors.New("manifest corrupted")
)

// Error describes a failed manifest operation.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("manifest %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrManifestIO) match every *Error.
func (e *Error) Is(target error) bool {
	return target == ErrManifestIO
}
