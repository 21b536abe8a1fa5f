package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidName is returned when a display name is empty after trimming.
	ErrInvalidName = errors.New("invalid display name")

	// ErrFingerprintUnavailable is returned by a Fingerprinter when no
	// environment attribute could be read. Resolution falls through to
	// minting a fresh token instead of failing.
	ErrFingerprintUnavailable = errors.New("fingerprint unavailable")
)

// DirectoryWriteError wraps a failed remote directory upsert. Local identity
// state is never rolled back on this error; callers log it or surface it as
// "save failed" in rename flows.
type DirectoryWriteError struct {
	ID  string
	Err error
}

func (e *DirectoryWriteError) Error() string {
	return fmt.Sprintf("directory write for %s: %v", e.ID, e.Err)
}

func (e *DirectoryWriteError) Unwrap() error {
	return e.Err
}
