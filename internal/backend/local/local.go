// Package local runs work functions in-process on a bounded worker pool.
package local

import (
	"context"
	"fmt"

	"github.com/specialistvlad/jobgrid/internal/backend"
	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/dag"
	"github.com/specialistvlad/jobgrid/internal/events"
	"github.com/specialistvlad/jobgrid/internal/pool"
	"github.com/specialistvlad/jobgrid/internal/registry"
	"github.com/specialistvlad/jobgrid/internal/result"
	"github.com/specialistvlad/jobgrid/internal/unit"
	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/zclconf/go-cty/cty"
)

// Name identifies this backend in configuration and events.
const Name = "local"

// Options configures the in-process backend.
type Options struct {
	Workers  int
	Capacity int
	// WorkDir is where DAG batches are materialized.
	WorkDir string
	Unit    unit.Options
	Sink    events.Sink
	OnError pool.ErrorHandler
}

// Backend is the in-process backend.
type Backend struct {
	reg  *registry.Registry
	pool *pool.Pool
	opts Options
}

var (
	_ backend.Backend      = (*Backend)(nil)
	_ backend.DAGSubmitter = (*Backend)(nil)
)

// New starts the backend's worker pool.
func New(ctx context.Context, reg *registry.Registry, opts Options) (*Backend, error) {
	p, err := pool.New(ctx, pool.Options{
		Name:     Name,
		Workers:  opts.Workers,
		Capacity: opts.Capacity,
		OnError:  opts.OnError,
		Sink:     opts.Sink,
	})
	if err != nil {
		return nil, err
	}
	return &Backend{reg: reg, pool: p, opts: opts}, nil
}

func (b *Backend) Name() string { return Name }

// Map submits one pool item per call, blocking while the pool is full. A
// call the pool refuses is a failed result; the ones already queued keep
// running and stay in the Container.
func (b *Backend) Map(ctx context.Context, function string, calls []work.Call) (*result.Container, error) {
	fn, err := b.reg.Lookup(function)
	if err != nil {
		return nil, err
	}
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Mapping work function in-process.", "function", function, "jobs", len(calls))

	asyncs := make([]*result.Async, 0, len(calls))
	for i, call := range calls {
		a, err := b.pool.Put(ctx, pool.Item{
			ID:       fmt.Sprintf("%s-%d", function, i),
			Function: function,
			Fn:       fn,
			Call:     call,
		}, -1)
		if err != nil {
			a = backend.NotQueued(function, i, err)
		}
		asyncs = append(asyncs, a)
	}
	return result.NewContainer(asyncs), nil
}

// SubmitDAG materializes the batch and runs it as one pool item, so the
// pool bounds concurrent batches while subPoolSize bounds jobs within one.
func (b *Backend) SubmitDAG(ctx context.Context, name string, jobs []backend.DAGJob, subPoolSize int) (*result.Async, error) {
	batch, err := backend.PrepareDAG(b.reg, b.opts.WorkDir, name, jobs, b.opts.Unit, nil)
	if err != nil {
		return nil, err
	}
	exec, err := dag.NewExecutor(batch.Description, subPoolSize, func(ctx context.Context, j dag.Job) error {
		u := batch.Units[j.ID]
		if u.Succeeded() {
			ctxlog.FromContext(ctx).Debug("Reusing finished unit.", "job", j.ID)
			return nil
		}
		return unit.Execute(ctx, u.Dir, b.reg)
	})
	if err != nil {
		return nil, err
	}
	exec.Batch = name
	exec.Sink = b.opts.Sink

	return b.pool.Put(ctx, pool.Item{
		ID:       name,
		Batch:    name,
		Dir:      batch.Dir,
		Function: "dag",
		Fn: func(ctx context.Context, _ work.Call) (cty.Value, error) {
			if err := exec.Run(ctx); err != nil {
				return cty.NilVal, err
			}
			return batch.Collect()
		},
	}, -1)
}

// Close drains the pool.
func (b *Backend) Close() error {
	return b.pool.Close()
}
