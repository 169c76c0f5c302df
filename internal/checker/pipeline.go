package checker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/events"
)

// DefaultRetryDelay is the pause before the single retry of a failed suffix.
const DefaultRetryDelay = 15 * time.Second

// Stage is one step of a Pipeline.
type Stage struct {
	Name    string
	Checker Checker
	Run     func(ctx context.Context) (*Output, error)
}

// Pipeline runs stages in order, skipping finished ones. When a stage fails,
// every later stage's marker is deleted, and after RetryDelay the failed
// stage and everything after it run once more. A second failure is returned.
// A zero RetryDelay means DefaultRetryDelay and a negative one retries at once.
type Pipeline struct {
	Stages     []Stage
	RetryDelay time.Duration
	Sink       events.Sink
}

// StageError names the stage a pipeline stopped at.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

var errNotFinished = errors.New("run did not produce a finished output")

// Run executes the pipeline.
func (p *Pipeline) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	sink := events.OrLog(p.Sink)

	failedAt, err := p.pass(ctx, sink, 0)
	if err == nil {
		return nil
	}
	logger.Warn("Pipeline stage failed, invalidating downstream stages.", "stage", p.Stages[failedAt].Name, "error", err)

	for _, st := range p.Stages[failedAt+1:] {
		if err := st.Checker.SetUnfinished(ctx); err != nil {
			return &StageError{Stage: st.Name, Err: fmt.Errorf("invalidate marker: %w", err)}
		}
	}

	delay := p.RetryDelay
	if delay == 0 {
		delay = DefaultRetryDelay
	}
	sink.Emit(ctx, events.Event{Kind: events.Retrying, Source: "pipeline", Job: p.Stages[failedAt].Name, Attempt: 1, Err: err, Time: time.Now()})
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if _, err := p.pass(ctx, sink, failedAt); err != nil {
		return fmt.Errorf("pipeline failed after retry: %w", err)
	}
	return nil
}

// pass runs stages from index from on, returning the failing index.
func (p *Pipeline) pass(ctx context.Context, sink events.Sink, from int) (int, error) {
	logger := ctxlog.FromContext(ctx)
	for i := from; i < len(p.Stages); i++ {
		st := p.Stages[i]
		done, err := st.Checker.TaskFinished(ctx, nil)
		if err != nil {
			return i, &StageError{Stage: st.Name, Err: err}
		}
		if done {
			logger.Info("Stage already finished, skipping.", "stage", st.Name)
			sink.Emit(ctx, events.Event{Kind: events.Completed, Source: "pipeline", Job: st.Name, Status: "cached", Time: time.Now()})
			continue
		}

		st.Checker.Start()
		sink.Emit(ctx, events.Event{Kind: events.Started, Source: "pipeline", Job: st.Name, Time: time.Now()})
		out, runErr := st.Run(ctx)
		if out == nil || runErr != nil {
			out = &Output{}
		}
		finished, err := st.Checker.TaskFinished(ctx, out)
		switch {
		case runErr != nil:
			err = runErr
		case err == nil && !finished:
			err = errNotFinished
		}
		if err != nil {
			sink.Emit(ctx, events.Event{Kind: events.Failed, Source: "pipeline", Job: st.Name, Err: err, Time: time.Now()})
			return i, &StageError{Stage: st.Name, Err: err}
		}
		sink.Emit(ctx, events.Event{Kind: events.Completed, Source: "pipeline", Job: st.Name, Status: "finished", Time: time.Now()})
	}
	return -1, nil
}
