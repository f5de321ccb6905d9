package platformview

import (
	"errors"
	"fmt"
)

var (
	// ErrDisplayUnavailable reports that no virtual display could be created.
	ErrDisplayUnavailable = errors.New("platformview: virtual display unavailable")
	ErrNotAttached        = errors.New("platformview: no session attached")
	ErrAlreadyAttached    = errors.New("platformview: session already attached")
	ErrDisposed           = errors.New("platformview: host disposed")
	ErrInvalidSize        = errors.New("platformview: width and height must be positive")
	// ErrContentDetached rejects Attach while a failed resize's content is
	// still held; see Host.ReclaimContent.
	ErrContentDetached = errors.New("platformview: content from a failed resize is still held")
)

// CreationError reports a failed attach or resize. Nothing from the failed
// attempt is retained.
type CreationError struct {
	Op     string
	Width  int
	Height int
	Err    error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("platformview: %s %dx%d: %v", e.Op, e.Width, e.Height, e.Err)
}

func (e *CreationError) Unwrap() error {
	return e.Err
}

func displayUnavailable(op string, width, height int, cause error) *CreationError {
	err := ErrDisplayUnavailable
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrDisplayUnavailable, cause)
	}
	return &CreationError{Op: op, Width: width, Height: height, Err: err}
}
