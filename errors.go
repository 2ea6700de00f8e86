package sos

import (
	"errors"
	"fmt"
)

// Error is a sos error with the operation that produced it.
type Error struct {
	Op      string
	Message string
	Err     error // wrapped error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sos: %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("sos: %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Sentinel errors
var (
	// ErrBusy indicates the engine reported a transient lock conflict;
	// checkpointing retries on it.
	ErrBusy = errors.New("engine busy")

	// ErrShortFile indicates the source file ends before the requested
	// page.
	ErrShortFile = errors.New("file too short for page")

	// ErrShortBuffer indicates a decode ran off the end of its input.
	ErrShortBuffer = errors.New("short buffer")

	// ErrBadPage indicates a page failed structural validation.
	ErrBadPage = errors.New("malformed page")
)

// IsBusy reports whether err is (or wraps) the engine's transient lock
// conflict.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
