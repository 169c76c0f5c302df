// Package pool implements a bounded worker pool: N workers, at most M items
// in flight, blocking submission with a timeout, and per-job failure
// isolation.
//
// Results produced by a pool must not be waited on from one of the same
// pool's workers. Worker contexts are tagged so that such waits, and
// blocking Put calls, fail fast instead of starving the pool.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/events"
	"github.com/specialistvlad/jobgrid/internal/result"
	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/zclconf/go-cty/cty"
)

// Item is one unit of work offered to the pool.
type Item struct {
	ID       string
	Batch    string
	Dir      string
	Function string
	Fn       work.Func
	Call     work.Call
}

// ErrorHandler is told about every failed job. It runs on the worker that
// ran the job.
type ErrorHandler func(ctx context.Context, item Item, ev *work.ErrorValue)

// Options configures a Pool.
type Options struct {
	Name     string
	Workers  int
	Capacity int
	OnError  ErrorHandler
	Sink     events.Sink
}

type task struct {
	item  Item
	async *result.Async
}

// Pool runs submitted items on a fixed set of workers.
type Pool struct {
	name    string
	ctx     context.Context
	onError ErrorHandler
	sink    events.Sink

	slots chan struct{}
	queue chan task

	mu       sync.Mutex
	closed   bool
	inflight int
	idle     chan struct{}

	workers   sync.WaitGroup
	closeOnce sync.Once
}

// New starts a pool. Capacity defaults to Workers and may not be smaller.
// ctx supplies the logger and is the parent of every job context.
func New(ctx context.Context, opts Options) (*Pool, error) {
	if opts.Workers < 1 {
		return nil, fmt.Errorf("pool needs at least one worker, got %d", opts.Workers)
	}
	if opts.Capacity == 0 {
		opts.Capacity = opts.Workers
	}
	if opts.Capacity < opts.Workers {
		return nil, fmt.Errorf("pool capacity %d is smaller than worker count %d", opts.Capacity, opts.Workers)
	}
	if opts.Name == "" {
		opts.Name = "pool"
	}

	p := &Pool{
		name:    opts.Name,
		onError: opts.OnError,
		sink:    events.OrLog(opts.Sink),
		slots:   make(chan struct{}, opts.Capacity),
		queue:   make(chan task, opts.Capacity),
		idle:    make(chan struct{}),
	}
	if p.onError == nil {
		p.onError = logError
	}
	close(p.idle)
	p.ctx = result.WithOwner(ctxlog.WithLogger(ctx, ctxlog.FromContext(ctx).With("pool", p.name)), p)

	ctxlog.FromContext(p.ctx).Debug("Starting worker pool.", "workers", opts.Workers, "capacity", opts.Capacity)
	p.workers.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go p.worker(i)
	}
	return p, nil
}

func logError(ctx context.Context, item Item, ev *work.ErrorValue) {
	logger := ctxlog.FromContext(ctx)
	logger.Error("Job failed.", "job", item.ID, "function", item.Function, "error", ev.Message)
	if ev.Stack != "" {
		logger.Debug("Job failure stack.", "job", item.ID, "stack", ev.Stack)
	}
}

// Name returns the name the pool reports its events under.
func (p *Pool) Name() string { return p.name }

// Put submits item and returns its future. A negative timeout blocks until
// a slot frees or ctx is done, zero never blocks. Put returns work.ErrFull
// when no slot freed in time and work.ErrClosed after Close. Calls made from
// one of this pool's own workers never block.
func (p *Pool) Put(ctx context.Context, item Item, timeout time.Duration) (*result.Async, error) {
	if item.Fn == nil {
		return nil, fmt.Errorf("pool item %q has no function", item.ID)
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if p.isClosed() {
		return nil, work.ErrClosed
	}
	if result.OwnerFrom(ctx) == p {
		timeout = 0
	}
	if err := p.acquire(ctx, timeout); err != nil {
		return nil, err
	}

	t := task{item: item, async: result.New(p, item.Dir)}
	if !p.enqueue(t) {
		<-p.slots
		return nil, work.ErrClosed
	}
	p.sink.Emit(p.ctx, events.Event{Kind: events.Submitted, Source: p.name, Batch: item.Batch, Job: item.ID, Time: time.Now()})
	return t.async, nil
}

// enqueue hands t to the workers unless the pool was closed meanwhile.
// The caller already holds a slot, so the send never blocks.
func (p *Pool) enqueue(t task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if p.inflight == 0 {
		p.idle = make(chan struct{})
	}
	p.inflight++
	p.queue <- t
	return true
}

func (p *Pool) acquire(ctx context.Context, timeout time.Duration) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	default:
	}
	if timeout == 0 {
		return work.ErrFull
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-expired:
		return work.ErrFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight--
	if p.inflight == 0 {
		close(p.idle)
	}
	<-p.slots
}

// Close stops accepting items and waits for everything already accepted to
// finish. It is safe to call more than once.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
		p.workers.Wait()
		ctxlog.FromContext(p.ctx).Debug("Worker pool closed.")
	})
	return nil
}

// Join waits until every accepted item has finished. A negative timeout
// waits indefinitely. It reports whether the pool drained in time.
func (p *Pool) Join(timeout time.Duration) bool {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()

	select {
	case <-idle:
		return true
	default:
	}
	if timeout < 0 {
		<-idle
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-idle:
		return true
	case <-timer.C:
		return false
	}
}

func (p *Pool) worker(workerID int) {
	defer p.workers.Done()
	logger := ctxlog.FromContext(p.ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for t := range p.queue {
		p.run(workerID, t)
		p.finish()
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

func (p *Pool) run(workerID int, t task) {
	item := t.item
	ctx := ctxlog.WithLogger(p.ctx, ctxlog.FromContext(p.ctx).With("workerID", workerID, "job", item.ID))
	ctxlog.FromContext(ctx).Debug("Worker picked up job.")
	p.sink.Emit(ctx, events.Event{Kind: events.Started, Source: p.name, Batch: item.Batch, Job: item.ID, Time: time.Now()})

	v, err := work.Invoke(ctx, item.Function, item.Fn, item.Call)
	if err != nil {
		ev := work.Capture(item.Function, err)
		p.report(ctx, item, ev)
		t.async.Fail(ev)
		p.sink.Emit(ctx, events.Event{Kind: events.Failed, Source: p.name, Batch: item.Batch, Job: item.ID, Err: ev, Time: time.Now()})
		return
	}
	if v.Type() == cty.NilType {
		v = cty.NullVal(cty.DynamicPseudoType)
	}
	t.async.Set(v)
	p.sink.Emit(ctx, events.Event{Kind: events.Completed, Source: p.name, Batch: item.Batch, Job: item.ID, Time: time.Now()})
}

// report calls the error handler, which must not take the worker down either.
func (p *Pool) report(ctx context.Context, item Item, ev *work.ErrorValue) {
	defer func() {
		if r := recover(); r != nil {
			ctxlog.FromContext(ctx).Error("Error handler panicked.", "panic", r)
		}
	}()
	p.onError(ctx, item, ev)
}
