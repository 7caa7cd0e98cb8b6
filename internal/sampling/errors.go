package sampling

import (
	"errors"
	"fmt"
)

// AbortError reports that sampling stopped early because the probe failed.
// Samples forwarded before the failure remain valid.
type AbortError struct {
	// Sample is the zero-based iteration whose probe read failed.
	Sample int
	Err    error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("sampling aborted at sample %d: %v", e.Sample, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

// JoinError reports that the workload failed or panicked. It is fatal to the
// step that ran the coordinator.
type JoinError struct {
	Err      error
	Panicked bool
}

func (e *JoinError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("workload panicked: %v", e.Err)
	}
	return fmt.Sprintf("workload failed: %v", e.Err)
}

func (e *JoinError) Unwrap() error { return e.Err }

// IsAbort reports whether err is, or wraps, an AbortError.
func IsAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}

// IsJoinFailure reports whether err is, or wraps, a JoinError.
func IsJoinFailure(err error) bool {
	var je *JoinError
	return errors.As(err, &je)
}

// panicError carries a recovered workload panic value.
type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprint(e.value) }
