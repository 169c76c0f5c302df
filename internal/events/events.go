// Package events carries typed job lifecycle events from pools and backends
// to a caller-supplied Sink, so status reporting does not depend on any
// global logger state.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/specialistvlad/jobgrid/internal/ctxlog"
)

// Kind is the lifecycle stage an event reports.
type Kind string

const (
	Submitted Kind = "submitted"
	Started   Kind = "started"
	Polling   Kind = "polling"
	Retrying  Kind = "retrying"
	Completed Kind = "completed"
	Failed    Kind = "failed"
)

// Event is one lifecycle transition of one job.
type Event struct {
	Kind    Kind
	Source  string
	Batch   string
	Job     string
	Status  string
	Attempt int
	Err     error
	Time    time.Time
}

// Sink consumes events. Implementations must be safe for concurrent use and
// must not block for long: they are called from worker goroutines.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event)

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

// LogSink writes events to the logger found in the context.
type LogSink struct{}

// Emit implements Sink.
func (LogSink) Emit(ctx context.Context, ev Event) {
	logger := ctxlog.FromContext(ctx).With("source", ev.Source, "job", ev.Job)
	if ev.Batch != "" {
		logger = logger.With("batch", ev.Batch)
	}
	switch ev.Kind {
	case Failed:
		logger.Warn("Job failed.", "status", ev.Status, "error", ev.Err)
	case Retrying:
		logger.Warn("Retrying job.", "attempt", ev.Attempt, "error", ev.Err)
	case Completed:
		logger.Info("Job completed.", "status", ev.Status)
	default:
		logger.Debug("Job "+string(ev.Kind)+".", "status", ev.Status)
	}
}

// OrLog returns s, or a LogSink when s is nil.
func OrLog(s Sink) Sink {
	if s == nil {
		return LogSink{}
	}
	return s
}

type multi []Sink

func (m multi) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}

// Multi fans every event out to all non-nil sinks in order.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the kinds recorded for job, in emission order.
func (r *Recorder) Kinds(job string) []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Kind
	for _, ev := range r.events {
		if ev.Job == job {
			out = append(out, ev.Kind)
		}
	}
	return out
}
