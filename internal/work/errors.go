package work

import (
	"errors"
	"fmt"
	"runtime/debug"
)

var (
	// ErrFull is returned when a pool has no free slot within the put timeout.
	ErrFull = errors.New("pool is at capacity")
	// ErrTimedOut is returned when a wait exceeded its bound. The job may still be running.
	ErrTimedOut = errors.New("timed out")
	// ErrNotReady is returned when a result is requested before its output exists.
	// Callers should poll again.
	ErrNotReady = errors.New("result not ready")
	// ErrJobStopped is returned when the external scheduler holds, suspends or removes a job.
	ErrJobStopped = errors.New("job stopped by scheduler")
	// ErrClosed is returned when work is offered to a closed pool.
	ErrClosed = errors.New("pool is closed")
	// ErrWouldDeadlock is returned when a worker blocks on its own pool.
	ErrWouldDeadlock = errors.New("blocking wait from inside the owning pool would deadlock")
	// ErrNoDevice is returned when no accelerator set satisfies a request in time.
	ErrNoDevice = errors.New("no accelerator meets the requirement")
	// ErrUnknownFunction is returned when a descriptor names an unregistered function.
	ErrUnknownFunction = errors.New("unknown work function")
)

// NonZeroExitError reports a remote job that ran and exited with a failure code.
type NonZeroExitError struct {
	JobID string
	Code  int
}

func (e *NonZeroExitError) Error() string {
	return fmt.Sprintf("job %s exited with code %d", e.JobID, e.Code)
}

// ErrorValue is a failure captured inside a work function and carried as data.
// It is only surfaced as an error when a consumer asks for the value.
type ErrorValue struct {
	Function string
	Message  string
	Stack    string
}

func (e *ErrorValue) Error() string {
	if e.Function == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Function, e.Message)
}

// Capture wraps err as an ErrorValue. An err that already is an ErrorValue is
// returned unchanged.
func Capture(function string, err error) *ErrorValue {
	if err == nil {
		return nil
	}
	var ev *ErrorValue
	if errors.As(err, &ev) {
		return ev
	}
	return &ErrorValue{Function: function, Message: err.Error()}
}

// CapturePanic converts a recovered panic into an ErrorValue with the current stack.
func CapturePanic(function string, r any) *ErrorValue {
	return &ErrorValue{
		Function: function,
		Message:  fmt.Sprintf("panic: %v", r),
		Stack:    string(debug.Stack()),
	}
}
