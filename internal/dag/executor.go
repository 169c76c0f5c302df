package dag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/events"
)

// State is the execution state of one job in a local run.
type State int32

const (
	// Pending jobs wait for their parents.
	Pending State = iota
	Running
	Done
	Failed
	// Skipped jobs never ran because an ancestor failed.
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// RunFunc executes one job.
type RunFunc func(ctx context.Context, job Job) error

type jobNode struct {
	job      Job
	depCount atomic.Int32
	state    atomic.Int32
	err      error
	skipOnce sync.Once
}

// Executor runs a Description in parent-before-child order with at most
// SubPoolSize jobs live at once.
type Executor struct {
	Batch       string
	SubPoolSize int
	Sink        events.Sink

	desc  *Description
	graph *Graph
	run   RunFunc
	nodes map[string]*jobNode
	wg    sync.WaitGroup
}

// NewExecutor prepares a run of desc. A sub-pool size below one means one
// worker per job.
func NewExecutor(desc *Description, subPoolSize int, run RunFunc) (*Executor, error) {
	g, err := desc.Graph()
	if err != nil {
		return nil, err
	}
	e := &Executor{
		SubPoolSize: subPoolSize,
		desc:        desc,
		graph:       g,
		run:         run,
		nodes:       make(map[string]*jobNode, len(desc.Jobs)),
	}
	for _, j := range desc.Jobs {
		n := &jobNode{job: j}
		deps, err := g.Dependencies(j.ID)
		if err != nil {
			return nil, err
		}
		n.depCount.Store(int32(len(deps)))
		e.nodes[j.ID] = n
	}
	return e, nil
}

// Run executes every job and returns an error naming the jobs that failed.
// Jobs skipped because of an upstream failure are not reported as causes.
func (e *Executor) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx).With("batch", e.Batch)
	ctx = ctxlog.WithLogger(ctx, logger)
	e.Sink = events.OrLog(e.Sink)

	workers := e.SubPoolSize
	if workers < 1 || workers > len(e.nodes) {
		workers = len(e.nodes)
	}

	readyChan := make(chan *jobNode, len(e.nodes))
	e.wg.Add(len(e.nodes))
	for _, j := range e.desc.Jobs {
		if n := e.nodes[j.ID]; n.depCount.Load() == 0 {
			readyChan <- n
		}
	}

	logger.Debug("Starting DAG workers.", "workers", workers, "jobs", len(e.nodes))
	var workersDone sync.WaitGroup
	workersDone.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer workersDone.Done()
			e.worker(ctx, readyChan, i)
		}()
	}

	e.wg.Wait()
	close(readyChan)
	workersDone.Wait()
	logger.Debug("All DAG jobs settled.")

	var failed []string
	var rootCause error
	for _, j := range e.desc.Jobs {
		n := e.nodes[j.ID]
		if State(n.state.Load()) == Failed {
			failed = append(failed, j.ID)
			if rootCause == nil {
				rootCause = n.err
			}
		}
	}
	if rootCause != nil {
		return fmt.Errorf("execution failed for %s: %w", strings.Join(failed, ", "), rootCause)
	}
	return nil
}

// States returns the final state of every job.
func (e *Executor) States() map[string]State {
	out := make(map[string]State, len(e.nodes))
	for id, n := range e.nodes {
		out[id] = State(n.state.Load())
	}
	return out
}

// Err returns the error recorded for a job, if any.
func (e *Executor) Err(id string) error {
	if n, ok := e.nodes[id]; ok {
		return n.err
	}
	return nil
}

func (e *Executor) worker(ctx context.Context, readyChan chan *jobNode, workerID int) {
	logger := ctxlog.FromContext(ctx)

	for n := range readyChan {
		jobLogger := logger.With("workerID", workerID, "job", n.job.ID)

		if ctx.Err() != nil {
			e.fail(ctx, n, ctx.Err())
			continue
		}

		jobLogger.Debug("Worker picked up job.")
		n.state.Store(int32(Running))
		e.emit(ctx, events.Started, n, nil)

		if err := e.run(ctx, n.job); err != nil {
			jobLogger.Error("Job execution failed.", "error", err)
			e.fail(ctx, n, err)
			continue
		}

		n.state.Store(int32(Done))
		e.emit(ctx, events.Completed, n, nil)

		dependents, err := e.graph.Dependents(n.job.ID)
		if err != nil {
			jobLogger.Error("Failed to get dependents for completed job.", "error", err)
		}
		for _, id := range dependents {
			if e.nodes[id].depCount.Add(-1) == 0 {
				jobLogger.Debug("Unlocking dependent job.", "dependent", id)
				readyChan <- e.nodes[id]
			}
		}
		e.wg.Done()
	}
}

func (e *Executor) fail(ctx context.Context, n *jobNode, err error) {
	n.skipOnce.Do(func() {
		n.state.Store(int32(Failed))
		n.err = err
		e.emit(ctx, events.Failed, n, err)
		e.skipDependents(ctx, n)
		e.wg.Done()
	})
}

// skipDependents marks every descendant skipped, exactly once each.
func (e *Executor) skipDependents(ctx context.Context, n *jobNode) {
	logger := ctxlog.FromContext(ctx)
	dependents, _ := e.graph.Dependents(n.job.ID)
	for _, id := range dependents {
		dependent := e.nodes[id]
		dependent.skipOnce.Do(func() {
			logger.Warn("Skipping dependent job due to upstream failure.", "job", id, "dependency", n.job.ID)
			dependent.state.Store(int32(Skipped))
			dependent.err = fmt.Errorf("skipped due to upstream failure of '%s'", n.job.ID)
			e.emit(ctx, events.Failed, dependent, dependent.err)
			e.wg.Done()
			e.skipDependents(ctx, dependent)
		})
	}
}

func (e *Executor) emit(ctx context.Context, kind events.Kind, n *jobNode, err error) {
	e.Sink.Emit(ctx, events.Event{
		Kind:   kind,
		Source: "dag",
		Batch:  e.Batch,
		Job:    n.job.ID,
		Status: State(n.state.Load()).String(),
		Err:    err,
		Time:   time.Now(),
	})
}
