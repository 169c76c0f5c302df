// Package checker decides per pipeline stage whether work is already done,
// records completion durably, and drives the one bounded retry of a failed
// pipeline suffix.
//
// Markers follow "last writer wins, readers tolerate transient absence"
// semantics: a marker is only written after the stage's artifacts are
// complete, and always atomically.
package checker

import (
	"context"
	"fmt"
	"sync"

	"github.com/specialistvlad/jobgrid/internal/fsutil"
)

// State is a stage's position in the completion state machine.
type State int

const (
	Unknown State = iota
	Running
	Finished
	Failed
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Output is what a stage run reports about itself.
type Output struct {
	Finished bool
	// Payload is stored as the marker's content.
	Payload []byte
}

// Checker tracks completion of one stage.
type Checker interface {
	// TaskFinished with a nil output only consults the durable marker.
	// With an output it judges a run that just ended, persisting the marker
	// when the run finished.
	TaskFinished(ctx context.Context, out *Output) (bool, error)
	// Start records that the stage is running.
	Start()
	// SetUnfinished deletes the marker.
	SetUnfinished(ctx context.Context) error
	State() State
}

// MarkerChecker is finished exactly when its marker exists.
type MarkerChecker struct {
	store MarkerStore
	key   string

	mu    sync.Mutex
	state State
}

var _ Checker = (*MarkerChecker)(nil)

// NewMarkerChecker tracks the marker stored under key.
func NewMarkerChecker(store MarkerStore, key string) *MarkerChecker {
	return &MarkerChecker{store: store, key: key}
}

// Key returns the marker key.
func (c *MarkerChecker) Key() string { return c.key }

func (c *MarkerChecker) TaskFinished(ctx context.Context, out *Output) (bool, error) {
	if out == nil {
		ok, err := c.store.Exists(ctx, c.key)
		if err != nil {
			return false, err
		}
		if ok {
			c.set(Finished)
		}
		return ok, nil
	}
	if !out.Finished {
		c.set(Failed)
		return false, nil
	}
	if err := c.store.Write(ctx, c.key, out.Payload); err != nil {
		c.set(Failed)
		return false, err
	}
	c.set(Finished)
	return true, nil
}

func (c *MarkerChecker) Start() { c.set(Running) }

func (c *MarkerChecker) SetUnfinished(ctx context.Context) error {
	if err := c.store.Delete(ctx, c.key); err != nil {
		return err
	}
	c.set(Unknown)
	return nil
}

func (c *MarkerChecker) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *MarkerChecker) set(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// ArtifactChecker judges multi-artifact stages: a run finished when every
// artifact exists and the error log is absent or empty.
type ArtifactChecker struct {
	*MarkerChecker
	Artifacts []string
	ErrorLog  string
}

var _ Checker = (*ArtifactChecker)(nil)

// NewArtifactChecker tracks key and judges runs by the given files.
func NewArtifactChecker(store MarkerStore, key string, artifacts []string, errorLog string) *ArtifactChecker {
	return &ArtifactChecker{MarkerChecker: NewMarkerChecker(store, key), Artifacts: artifacts, ErrorLog: errorLog}
}

func (c *ArtifactChecker) TaskFinished(ctx context.Context, out *Output) (bool, error) {
	if out == nil {
		return c.MarkerChecker.TaskFinished(ctx, nil)
	}
	judged := &Output{Finished: true, Payload: out.Payload}
	for _, a := range c.Artifacts {
		ok, err := fsutil.Exists(a)
		if err != nil {
			return false, err
		}
		if !ok {
			judged.Finished = false
		}
	}
	if c.ErrorLog != "" {
		ok, err := fsutil.NonEmpty(c.ErrorLog)
		if err != nil {
			return false, err
		}
		if ok {
			judged.Finished = false
		}
	}
	return c.MarkerChecker.TaskFinished(ctx, judged)
}
