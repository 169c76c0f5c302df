package dag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() context.Context {
	return ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func levelJobs(levels ...int) []Job {
	jobs := make([]Job, len(levels))
	for i, l := range levels {
		id := string(rune('a' + i))
		jobs[i] = Job{ID: id, Path: "/w/" + id, Level: l}
	}
	return jobs
}

func TestExecutorRunsParentsFirst(t *testing.T) {
	d, err := Build(levelJobs(0, 0, 1, 1, 2))
	require.NoError(t, err)

	var mu sync.Mutex
	finished := map[string]int{}
	var order int
	e, err := NewExecutor(d, 4, func(_ context.Context, j Job) error {
		mu.Lock()
		defer mu.Unlock()
		order++
		finished[j.ID] = order
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, e.Run(testContext()))

	for _, r := range d.Relations {
		for _, p := range r.Parents {
			for _, c := range r.Children {
				assert.Less(t, finished[p], finished[c], "%s must finish before %s", p, c)
			}
		}
	}
	for _, s := range e.States() {
		assert.Equal(t, Done, s)
	}
}

func TestExecutorCapsLiveJobs(t *testing.T) {
	d, err := Build(levelJobs(0, 0, 0, 0, 0, 0))
	require.NoError(t, err)

	var live, peak atomic.Int32
	e, err := NewExecutor(d, 2, func(context.Context, Job) error {
		n := live.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		live.Add(-1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, e.Run(testContext()))
	assert.Equal(t, int32(2), peak.Load())
}

func TestExecutorSkipsDescendantsOfFailedJob(t *testing.T) {
	d, err := Build(levelJobs(0, 0, 1, 2))
	require.NoError(t, err)

	rec := &events.Recorder{}
	var ran sync.Map
	e, err := NewExecutor(d, 2, func(_ context.Context, j Job) error {
		ran.Store(j.ID, true)
		if j.ID == "b" {
			return errors.New("exit 1")
		}
		return nil
	})
	require.NoError(t, err)
	e.Batch = "batch-1"
	e.Sink = rec

	err = e.Run(testContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution failed for b: exit 1")

	states := e.States()
	assert.Equal(t, Done, states["a"])
	assert.Equal(t, Failed, states["b"])
	assert.Equal(t, Skipped, states["c"])
	assert.Equal(t, Skipped, states["d"])
	_, cRan := ran.Load("c")
	assert.False(t, cRan)
	assert.ErrorContains(t, e.Err("d"), "skipped due to upstream failure of 'c'")

	assert.Equal(t, []events.Kind{events.Failed}, rec.Kinds("c"))
	assert.Equal(t, []events.Kind{events.Started, events.Failed}, rec.Kinds("b"))
}

func TestExecutorCancelledContext(t *testing.T) {
	d, err := Build(levelJobs(0, 1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(testContext())
	cancel()
	e, err := NewExecutor(d, 1, func(context.Context, Job) error {
		t.Fatal("no job should run")
		return nil
	})
	require.NoError(t, err)

	err = e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Skipped, e.States()["b"])
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "State(9)", State(9).String())
}
