// Package scheduler runs jobs on an external batch scheduler: each unit is
// submitted with a submit description, tracked through a Handle and
// collected from its output file. DAG batches are handed to the
// scheduler's DAG manager as one description.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/specialistvlad/jobgrid/internal/backend"
	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/events"
	"github.com/specialistvlad/jobgrid/internal/pool"
	"github.com/specialistvlad/jobgrid/internal/result"
	"github.com/specialistvlad/jobgrid/internal/unit"
	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/zclconf/go-cty/cty"
)

// Name identifies this backend in configuration and events.
const Name = "scheduler"

// Options configures the scheduler backend.
type Options struct {
	WorkDir   string
	Unit      unit.Options
	Resources Resources

	PollInterval time.Duration
	Freshness    time.Duration
	// WaitTimeout bounds each job's wait; negative waits forever.
	WaitTimeout time.Duration

	SubmitAttempts int
	SubmitBackoff  time.Duration

	// Workers bounds the jobs tracked at once.
	Workers  int
	Capacity int
	Sink     events.Sink
}

func (o *Options) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.Freshness <= 0 {
		o.Freshness = o.PollInterval / 2
	}
	if o.WaitTimeout == 0 {
		o.WaitTimeout = -1
	}
	if o.SubmitAttempts <= 0 {
		o.SubmitAttempts = 5
	}
	if o.SubmitBackoff <= 0 {
		o.SubmitBackoff = 5 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
}

// Backend submits units to the scheduler.
type Backend struct {
	reg    backend.Lookup
	client Client
	pool   *pool.Pool
	sink   events.Sink
	opts   Options
}

var (
	_ backend.Backend      = (*Backend)(nil)
	_ backend.DAGSubmitter = (*Backend)(nil)
)

// New builds the backend and its tracking pool.
func New(ctx context.Context, reg backend.Lookup, client Client, opts Options) (*Backend, error) {
	opts.setDefaults()
	p, err := pool.New(ctx, pool.Options{
		Name:     Name,
		Workers:  opts.Workers,
		Capacity: opts.Capacity,
		Sink:     opts.Sink,
	})
	if err != nil {
		return nil, err
	}
	return &Backend{reg: reg, client: client, pool: p, sink: events.OrLog(opts.Sink), opts: opts}, nil
}

func (b *Backend) Name() string { return Name }

// Map materializes and submits one job per call. Finished units with an
// identical input are returned without submitting.
func (b *Backend) Map(ctx context.Context, function string, calls []work.Call) (*result.Container, error) {
	descs, err := backend.Descriptors(b.reg, function, calls)
	if err != nil {
		return nil, err
	}

	asyncs := make([]*result.Async, len(descs))
	for i, d := range descs {
		u, reused, err := unit.Materialize(backend.UnitDir(b.opts.WorkDir, function, i), d, b.opts.Unit)
		if err != nil {
			return nil, err
		}
		id := fmt.Sprintf("%s-%d", function, i)
		if reused && u.Succeeded() {
			ctxlog.FromContext(ctx).Debug("Reusing finished unit.", "job", id)
			asyncs[i] = backend.FromUnit(u)
			continue
		}

		a, err := b.pool.Put(ctx, pool.Item{
			ID:       id,
			Dir:      u.Dir,
			Function: function,
			Fn: func(ctx context.Context, _ work.Call) (cty.Value, error) {
				h, err := b.Submit(ctx, id, u)
				if err != nil {
					return cty.NilVal, err
				}
				return b.collect(ctx, h, u)
			},
		}, -1)
		if err != nil {
			a = backend.NotQueued(function, i, err)
		}
		asyncs[i] = a
	}
	return result.NewContainer(asyncs), nil
}

// Submit queues u, or re-attaches to the job recorded in its cluster file.
func (b *Backend) Submit(ctx context.Context, name string, u *unit.Unit) (*Handle, error) {
	logPath := filepath.Join(u.Dir, LogFile)
	if id, ok, err := u.Cluster(); err != nil {
		return nil, err
	} else if ok {
		h := b.handle(id, name, logPath)
		if _, err := h.Status(ctx); err == nil {
			ctxlog.FromContext(ctx).Info("Re-attached to submitted job.", "job", name, "id", id)
			return h, nil
		} else if !errors.Is(err, ErrUnknownJob) {
			return nil, err
		}
	}

	submitFile, err := WriteSubmit(u, b.opts.Resources)
	if err != nil {
		return nil, err
	}
	id, err := b.retrySubmit(ctx, name, func() (string, error) {
		return b.client.Submit(ctx, submitFile)
	})
	if err != nil {
		return nil, err
	}
	if err := u.WriteCluster(id); err != nil {
		return nil, err
	}
	b.sink.Emit(ctx, events.Event{Kind: events.Submitted, Source: Name, Job: name, Status: id, Time: time.Now()})
	return b.handle(id, name, logPath), nil
}

func (b *Backend) handle(id, name, logPath string) *Handle {
	return NewHandle(b.client, id, name, logPath, b.opts.Freshness, b.opts.Sink)
}

// retrySubmit retries transient submission failures at a constant interval.
func (b *Backend) retrySubmit(ctx context.Context, name string, submit func() (string, error)) (string, error) {
	var id string
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		id, err = submit()
		if err != nil && attempt < b.opts.SubmitAttempts {
			b.sink.Emit(ctx, events.Event{Kind: events.Retrying, Source: Name, Job: name, Attempt: attempt, Err: err, Time: time.Now()})
		}
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(b.opts.SubmitBackoff), uint64(b.opts.SubmitAttempts-1))
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return "", fmt.Errorf("submission failed after %d attempts: %w", attempt, err)
	}
	return id, nil
}

func (b *Backend) collect(ctx context.Context, h *Handle, u *unit.Unit) (cty.Value, error) {
	if err := h.Wait(ctx, b.opts.WaitTimeout, b.opts.PollInterval); err != nil {
		// A job that wrote its own failure explains a non-zero exit better.
		var exitErr *work.NonZeroExitError
		if errors.As(err, &exitErr) {
			if _, verr := u.Value(); verr != nil && !errors.Is(verr, work.ErrNotReady) {
				return cty.NilVal, verr
			}
		}
		return cty.NilVal, err
	}
	v, err := u.Value()
	if errors.Is(err, work.ErrNotReady) {
		return cty.NilVal, fmt.Errorf("job %s completed without output: %w", h.ID, err)
	}
	return v, err
}

// SubmitDAG materializes the batch, writes one submit description per job
// and the DAG file, and submits it with at most subPoolSize live jobs. The
// returned result resolves to an object of job outputs keyed by job id.
// Jobs that already succeeded are marked DONE in the DAG file, and a batch
// with nothing left to run resolves without submitting.
func (b *Backend) SubmitDAG(ctx context.Context, name string, jobs []backend.DAGJob, subPoolSize int) (*result.Async, error) {
	batch, err := backend.PrepareDAG(b.reg, b.opts.WorkDir, name, jobs, b.opts.Unit, func(u *unit.Unit) string {
		return filepath.Join(u.Dir, SubmitFile)
	})
	if err != nil {
		return nil, err
	}
	if batch.Description.AllDone() {
		ctxlog.FromContext(ctx).Debug("Reusing finished batch.", "batch", name)
		v, err := batch.Collect()
		if err != nil {
			return result.Failed(err), nil
		}
		return result.Resolved(v), nil
	}
	for _, u := range batch.Units {
		if _, err := WriteSubmit(u, b.opts.Resources); err != nil {
			return nil, err
		}
	}
	dagFile := filepath.Join(batch.Dir, name+".dag")
	if err := batch.Description.WriteFile(dagFile); err != nil {
		return nil, err
	}

	return b.pool.Put(ctx, pool.Item{
		ID:       name,
		Batch:    name,
		Dir:      batch.Dir,
		Function: "dag",
		Fn: func(ctx context.Context, _ work.Call) (cty.Value, error) {
			id, err := b.retrySubmit(ctx, name, func() (string, error) {
				return b.client.SubmitDAG(ctx, dagFile, subPoolSize)
			})
			if err != nil {
				return cty.NilVal, err
			}
			b.sink.Emit(ctx, events.Event{Kind: events.Submitted, Source: Name, Batch: name, Job: name, Status: id, Time: time.Now()})

			h := b.handle(id, name, dagFile+".dagman.log")
			if err := h.Wait(ctx, b.opts.WaitTimeout, b.opts.PollInterval); err != nil {
				return cty.NilVal, err
			}
			return batch.Collect()
		},
	}, -1)
}

// Close stops tracking once every submitted job is collected.
func (b *Backend) Close() error {
	return b.pool.Close()
}
