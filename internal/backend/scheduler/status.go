package scheduler

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is the scheduler's job state, numbered as the scheduler reports it.
type Status int

const (
	Unexpanded Status = iota
	Idle
	Running
	Removed
	Completed
	Held
	Transferring
	Suspended
)

var statusNames = [...]string{"unexpanded", "idle", "running", "removed", "completed", "held", "transferring", "suspended"}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Stopped reports whether the scheduler will not run the job further
// without intervention.
func (s Status) Stopped() bool {
	return s == Held || s == Suspended || s == Removed
}

// ParseStatus parses the numeric status code.
func ParseStatus(s string) (Status, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 || n >= len(statusNames) {
		return 0, fmt.Errorf("unknown job status %q", s)
	}
	return Status(n), nil
}
