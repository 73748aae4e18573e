package dispatch

import (
	"errors"
	"fmt"

	"github.com/ytget/media-dispatch/internal/model"
)

// AbortError reports that a guard refused to dispatch an item
type AbortError struct {
	ID     string
	Reason string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("dispatch %s aborted: %s", e.ID, e.Reason)
}

// IsAbort returns true when err is (or wraps) an AbortError
func IsAbort(err error) bool {
	var target *AbortError
	return errors.As(err, &target)
}

// BackendError reports a failed exchange with a download backend
type BackendError struct {
	Backend model.BackendKind
	ID      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("dispatch %s via %s: %v", e.ID, e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsBackendError returns true when err is (or wraps) a BackendError
func IsBackendError(err error) bool {
	var target *BackendError
	return errors.As(err, &target)
}
