// Package container runs each job's materialized unit inside a docker
// container, either inline or through a bounded worker pool, optionally
// pinned to accelerators reserved from a gpu.Table.
package container

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/jobgrid/internal/backend"
	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/events"
	"github.com/specialistvlad/jobgrid/internal/fsutil"
	"github.com/specialistvlad/jobgrid/internal/gpu"
	"github.com/specialistvlad/jobgrid/internal/pool"
	"github.com/specialistvlad/jobgrid/internal/result"
	"github.com/specialistvlad/jobgrid/internal/unit"
	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/zclconf/go-cty/cty"
)

// Name identifies this backend in configuration and events.
const Name = "container"

// Options configures the container backend.
type Options struct {
	Image   string
	WorkDir string
	Unit    unit.Options
	// Volumes are extra "host:container[:mode]" mounts.
	Volumes []string
	Env     map[string]string

	// GPUs is the accelerator count per job; zero disables reservation.
	GPUs        int
	GPUMemoryMB int
	// AdmissionTimeout bounds the wait for accelerators. Zero fails at once.
	AdmissionTimeout time.Duration

	// Workers is the number of concurrent containers. Zero runs each job
	// inline inside Map.
	Workers  int
	Capacity int
	Sink     events.Sink
}

// Backend runs units in containers.
type Backend struct {
	reg    backend.Lookup
	runner Runner
	table  *gpu.Table
	pool   *pool.Pool
	sink   events.Sink
	opts   Options
}

var _ backend.Backend = (*Backend)(nil)

// New builds the backend. table may be nil when Options.GPUs is zero.
func New(ctx context.Context, reg backend.Lookup, runner Runner, table *gpu.Table, opts Options) (*Backend, error) {
	if strings.TrimSpace(opts.Image) == "" {
		return nil, errors.New("container image is required")
	}
	if opts.GPUs > 0 && table == nil {
		return nil, errors.New("gpu jobs need an accelerator table")
	}
	b := &Backend{reg: reg, runner: runner, table: table, sink: events.OrLog(opts.Sink), opts: opts}
	if opts.Workers > 0 {
		p, err := pool.New(ctx, pool.Options{
			Name:     Name,
			Workers:  opts.Workers,
			Capacity: opts.Capacity,
			Sink:     opts.Sink,
		})
		if err != nil {
			return nil, err
		}
		b.pool = p
	}
	return b, nil
}

func (b *Backend) Name() string { return Name }

// Map materializes one unit per call and runs each in its own container.
// A unit whose identical input already has an output is not run again.
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

		if b.pool == nil {
			asyncs[i] = b.runInline(ctx, function, id, u)
			continue
		}

		a, err := b.pool.Put(ctx, pool.Item{
			ID:       id,
			Dir:      u.Dir,
			Function: function,
			Fn: func(ctx context.Context, _ work.Call) (cty.Value, error) {
				return b.runUnit(ctx, id, u)
			},
		}, -1)
		if err != nil {
			a = backend.NotQueued(function, i, err)
		}
		asyncs[i] = a
	}
	return result.NewContainer(asyncs), nil
}

// runInline runs a unit on the calling goroutine and reports it like a
// pool would.
func (b *Backend) runInline(ctx context.Context, function, id string, u *unit.Unit) *result.Async {
	a := result.New(nil, u.Dir)
	b.sink.Emit(ctx, events.Event{Kind: events.Started, Source: Name, Job: id, Time: time.Now()})
	v, err := b.runUnit(ctx, id, u)
	if err != nil {
		ev := work.Capture(function, err)
		a.Fail(ev)
		b.sink.Emit(ctx, events.Event{Kind: events.Failed, Source: Name, Job: id, Err: ev, Time: time.Now()})
		return a
	}
	a.Set(v)
	b.sink.Emit(ctx, events.Event{Kind: events.Completed, Source: Name, Job: id, Time: time.Now()})
	return a
}

func (b *Backend) runUnit(ctx context.Context, id string, u *unit.Unit) (cty.Value, error) {
	logger := ctxlog.FromContext(ctx).With("job", id)

	var devices []int
	if b.opts.GPUs > 0 {
		r, err := b.table.Reserve(ctx, b.opts.GPUs, b.opts.GPUMemoryMB, b.opts.AdmissionTimeout)
		if err != nil {
			return cty.NilVal, err
		}
		defer r.Release()
		devices = r.Devices
	}

	args := b.RunArgs(u, "jobgrid-"+uuid.NewString(), devices)
	logger.Debug("Starting container.", "image", b.opts.Image, "devices", devices)
	out, runErr := b.runner.Run(ctx, args)
	if runErr != nil && len(out) > 0 {
		if err := fsutil.WriteFileAtomic(u.ErrorPath(), out, 0o644); err != nil {
			logger.Warn("Failed to save container output.", "error", err)
		}
	}

	v, err := u.Value()
	switch {
	case err == nil:
		return v, nil
	case !errors.Is(err, work.ErrNotReady):
		// The job wrote a failure, which explains the exit better.
		return cty.NilVal, err
	case runErr != nil:
		var exitErr *ExitError
		if errors.As(runErr, &exitErr) {
			return cty.NilVal, fmt.Errorf("%w: %s", &work.NonZeroExitError{JobID: id, Code: exitErr.Code}, exitErr.Output)
		}
		return cty.NilVal, runErr
	default:
		return cty.NilVal, fmt.Errorf("container for %s exited without writing output", id)
	}
}

// RunArgs builds the docker run arguments for u.
func (b *Backend) RunArgs(u *unit.Unit, name string, devices []int) []string {
	args := []string{
		"run", "--rm",
		"--name", name,
		"-v", u.Dir + ":" + u.Dir,
	}
	for _, v := range b.opts.Volumes {
		args = append(args, "-v", v)
	}
	args = append(args, "-w", u.Dir)

	keys := make([]string, 0, len(b.opts.Env))
	for k := range b.opts.Env {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+b.opts.Env[k])
	}

	if len(devices) > 0 {
		ids := make([]string, len(devices))
		for i, d := range devices {
			ids[i] = strconv.Itoa(d)
		}
		args = append(args, "--gpus", `"device=`+strings.Join(ids, ",")+`"`)
	}
	return append(args, b.opts.Image, "/bin/sh", u.ScriptPath())
}

// Close drains the pool, if any.
func (b *Backend) Close() error {
	if b.pool == nil {
		return nil
	}
	return b.pool.Close()
}
