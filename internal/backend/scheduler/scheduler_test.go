package scheduler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/jobgrid/internal/backend"
	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/events"
	"github.com/specialistvlad/jobgrid/internal/registry"
	"github.com/specialistvlad/jobgrid/internal/unit"
	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func testContext() context.Context {
	return ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testRegistry() *registry.Registry {
	r := registry.New()
	r.Register("square", func(_ context.Context, call work.Call) (cty.Value, error) {
		n := call.Arg(0)
		return n.Multiply(n), nil
	})
	r.Register("fail", func(context.Context, work.Call) (cty.Value, error) {
		return cty.NilVal, errors.New("diverged")
	})
	return r
}

// fakeCluster runs submitted units in-process and reports them completed.
type fakeCluster struct {
	reg *registry.Registry

	mu          sync.Mutex
	failSubmits int
	submits     int
	queries     int
	removed     []string
	dagMaxJobs  int
	dagExecs    int
	next        int
	statuses    map[string][]Status
}

func newFakeCluster(reg *registry.Registry) *fakeCluster {
	return &fakeCluster{reg: reg, statuses: map[string][]Status{}}
}

func (f *fakeCluster) Submit(ctx context.Context, submitFile string) (string, error) {
	f.mu.Lock()
	f.submits++
	if f.failSubmits > 0 {
		f.failSubmits--
		f.mu.Unlock()
		return "", errors.New("schedd not responding")
	}
	f.next++
	id := fmt.Sprintf("%d.0", f.next)
	f.mu.Unlock()

	dir := filepath.Dir(submitFile)
	code := 0
	if err := unit.Execute(ctx, dir, f.reg); err != nil {
		code = 1
	}
	writeLog(filepath.Join(dir, LogFile), code)

	f.mu.Lock()
	f.statuses[id] = []Status{Idle, Running, Completed}
	f.mu.Unlock()
	return id, nil
}

func (f *fakeCluster) Query(_ context.Context, id string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	seq, ok := f.statuses[id]
	if !ok {
		return 0, fmt.Errorf("%w %s", ErrUnknownJob, id)
	}
	st := seq[0]
	if len(seq) > 1 {
		f.statuses[id] = seq[1:]
	}
	return st, nil
}

func (f *fakeCluster) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

// SubmitDAG runs the DAG file's jobs in file order, which is level order,
// skipping jobs marked DONE.
func (f *fakeCluster) SubmitDAG(ctx context.Context, dagFile string, maxJobs int) (string, error) {
	file, err := os.Open(dagFile)
	if err != nil {
		return "", err
	}
	defer file.Close()
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 3 && fields[0] == "JOB" {
			f.mu.Lock()
			f.dagExecs++
			f.mu.Unlock()
			if err := unit.Execute(ctx, filepath.Dir(fields[2]), f.reg); err != nil {
				return "", err
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.dagMaxJobs = maxJobs
	f.next++
	id := fmt.Sprintf("%d.0", f.next)
	f.statuses[id] = []Status{Running, Completed}
	return id, nil
}

func writeLog(path string, code int) {
	text := "000 (001.000.000) Job submitted from host\n" +
		"005 (001.000.000) Job terminated.\n" +
		fmt.Sprintf("\t(1) Normal termination (return value %d)\n", code)
	os.WriteFile(path, []byte(text), 0o644)
}

func fastOptions(dir string) Options {
	return Options{
		WorkDir:       dir,
		PollInterval:  time.Millisecond,
		Freshness:     time.Nanosecond,
		SubmitBackoff: time.Millisecond,
		Workers:       3,
	}
}

func newBackend(t *testing.T, client Client, opts Options) *Backend {
	t.Helper()
	b, err := New(testContext(), testRegistry(), client, opts)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestMapSubmitsAndCollects(t *testing.T) {
	cluster := newFakeCluster(testRegistry())
	b := newBackend(t, cluster, fastOptions(t.TempDir()))
	ctx := testContext()

	c, err := b.Map(ctx, "square", []work.Call{work.Args(cty.NumberIntVal(3)), work.Args(cty.NumberIntVal(5))})
	require.NoError(t, err)
	outs := c.Collect(ctx)
	require.Len(t, outs, 2)
	assert.True(t, outs[0].Value.RawEquals(cty.NumberIntVal(9)))
	assert.True(t, outs[1].Value.RawEquals(cty.NumberIntVal(25)))

	u, err := unit.Open(outs[0].Dir)
	require.NoError(t, err)
	id, ok, err := u.Cluster()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, id)
}

func TestMapJobFailureIsAValue(t *testing.T) {
	cluster := newFakeCluster(testRegistry())
	b := newBackend(t, cluster, fastOptions(t.TempDir()))
	ctx := testContext()

	c, err := b.Map(ctx, "fail", []work.Call{work.Args()})
	require.NoError(t, err)
	out, ok := c.Next(ctx)
	require.True(t, ok)
	var ev *work.ErrorValue
	require.ErrorAs(t, out.Err, &ev)
	assert.Equal(t, "diverged", ev.Message)
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	cluster := newFakeCluster(testRegistry())
	cluster.failSubmits = 2
	rec := &events.Recorder{}
	opts := fastOptions(t.TempDir())
	opts.Sink = rec
	b := newBackend(t, cluster, opts)
	ctx := testContext()

	c, err := b.Map(ctx, "square", []work.Call{work.Args(cty.NumberIntVal(4))})
	require.NoError(t, err)
	out, _ := c.Next(ctx)
	require.NoError(t, out.Err)
	assert.True(t, out.Value.RawEquals(cty.NumberIntVal(16)))
	assert.Equal(t, 3, cluster.submits)

	var retries int
	for _, ev := range rec.Events() {
		if ev.Kind == events.Retrying {
			retries++
		}
	}
	assert.Equal(t, 2, retries)
}

func TestSubmitGivesUpAfterFiveAttempts(t *testing.T) {
	cluster := newFakeCluster(testRegistry())
	cluster.failSubmits = 100
	b := newBackend(t, cluster, fastOptions(t.TempDir()))
	ctx := testContext()

	c, err := b.Map(ctx, "square", []work.Call{work.Args(cty.NumberIntVal(4))})
	require.NoError(t, err)
	out, _ := c.Next(ctx)
	var ev *work.ErrorValue
	require.ErrorAs(t, out.Err, &ev)
	assert.Contains(t, ev.Message, "submission failed after 5 attempts")
	assert.Equal(t, 5, cluster.submits)
}

func TestMapReusesFinishedUnits(t *testing.T) {
	cluster := newFakeCluster(testRegistry())
	dir := t.TempDir()
	b := newBackend(t, cluster, fastOptions(dir))
	ctx := testContext()

	c, err := b.Map(ctx, "square", []work.Call{work.Args(cty.NumberIntVal(6))})
	require.NoError(t, err)
	c.Collect(ctx)
	require.Equal(t, 1, cluster.submits)

	c, err = b.Map(ctx, "square", []work.Call{work.Args(cty.NumberIntVal(6))})
	require.NoError(t, err)
	out, _ := c.Next(ctx)
	require.NoError(t, out.Err)
	assert.True(t, out.Value.RawEquals(cty.NumberIntVal(36)))
	assert.Equal(t, 1, cluster.submits)
}

func TestSubmitReattachesToRecordedJob(t *testing.T) {
	reg := testRegistry()
	cluster := newFakeCluster(reg)
	b := newBackend(t, cluster, fastOptions(t.TempDir()))
	ctx := testContext()

	d, err := work.NewDescriptor("square", work.Args(cty.NumberIntVal(7)))
	require.NoError(t, err)
	u, _, err := unit.Materialize(t.TempDir(), d, unit.Options{})
	require.NoError(t, err)

	// The process crashed after submitting: the job is known, output pending.
	require.NoError(t, u.WriteCluster("42.0"))
	cluster.statuses["42.0"] = []Status{Running, Completed}
	require.NoError(t, unit.Execute(ctx, u.Dir, reg))

	h, err := b.Submit(ctx, "square-0", u)
	require.NoError(t, err)
	assert.Equal(t, "42.0", h.ID)
	assert.Equal(t, 0, cluster.submits)

	v, err := b.collect(ctx, h, u)
	require.NoError(t, err)
	assert.True(t, v.RawEquals(cty.NumberIntVal(49)))
}

func TestSubmitDAG(t *testing.T) {
	cluster := newFakeCluster(testRegistry())
	opts := fastOptions(t.TempDir())
	b := newBackend(t, cluster, opts)
	ctx := testContext()

	a, err := b.SubmitDAG(ctx, "gen-3", []backend.DAGJob{
		{ID: "a", Level: 0, Function: "square", Call: work.Args(cty.NumberIntVal(2))},
		{ID: "b", Level: 0, Function: "square", Call: work.Args(cty.NumberIntVal(3))},
		{ID: "c", Level: 1, Function: "square", Call: work.Args(cty.NumberIntVal(4))},
	}, 2)
	require.NoError(t, err)

	v, err := a.Get(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, v.GetAttr("c").RawEquals(cty.NumberIntVal(16)))
	assert.Equal(t, 2, cluster.dagMaxJobs)

	data, err := os.ReadFile(filepath.Join(opts.WorkDir, "gen-3", "gen-3.dag"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "PARENT a b CHILD c\n")
	assert.Contains(t, string(data), "JOB a "+filepath.Join(opts.WorkDir, "gen-3", "a", SubmitFile)+"\n")
}

func TestSubmitDAGValidatesSynchronously(t *testing.T) {
	cluster := newFakeCluster(testRegistry())
	b := newBackend(t, cluster, fastOptions(t.TempDir()))

	_, err := b.SubmitDAG(testContext(), "bad", []backend.DAGJob{
		{ID: "a", Level: 0, Function: "square", Call: work.Args(cty.NumberIntVal(2))},
		{ID: "a", Level: 1, Function: "square", Call: work.Args(cty.NumberIntVal(3))},
	}, 2)
	assert.ErrorContains(t, err, "duplicate job id")
	assert.Zero(t, cluster.next)
}

func TestMapRerunsFailedUnits(t *testing.T) {
	reg := testRegistry()
	attempts := 0
	reg.Register("flaky", func(_ context.Context, call work.Call) (cty.Value, error) {
		attempts++
		if attempts == 1 {
			return cty.NilVal, errors.New("preempted")
		}
		return call.Arg(0), nil
	})
	cluster := newFakeCluster(reg)
	dir := t.TempDir()
	b, err := New(testContext(), reg, cluster, fastOptions(dir))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	ctx := testContext()

	c, err := b.Map(ctx, "flaky", []work.Call{work.Args(cty.NumberIntVal(8))})
	require.NoError(t, err)
	out, _ := c.Next(ctx)
	require.ErrorContains(t, out.Err, "preempted")

	c, err = b.Map(ctx, "flaky", []work.Call{work.Args(cty.NumberIntVal(8))})
	require.NoError(t, err)
	out, _ = c.Next(ctx)
	require.NoError(t, out.Err)
	assert.True(t, out.Value.RawEquals(cty.NumberIntVal(8)))
	assert.Equal(t, 2, cluster.submits)
}

func TestSubmitDAGSkipsFinishedJobs(t *testing.T) {
	reg := testRegistry()
	cluster := newFakeCluster(reg)
	opts := fastOptions(t.TempDir())
	b := newBackend(t, cluster, opts)
	ctx := testContext()

	jobs := []backend.DAGJob{
		{ID: "a", Level: 0, Function: "square", Call: work.Args(cty.NumberIntVal(2))},
		{ID: "b", Level: 1, Function: "square", Call: work.Args(cty.NumberIntVal(3))},
	}
	a, err := b.SubmitDAG(ctx, "gen-4", jobs, 1)
	require.NoError(t, err)
	_, err = a.Get(ctx, 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, 2, cluster.dagExecs)

	t.Run("partially finished batch marks done jobs", func(t *testing.T) {
		bDir := filepath.Join(opts.WorkDir, "gen-4", "b")
		require.NoError(t, os.Remove(filepath.Join(bDir, unit.OutputFile)))

		a, err := b.SubmitDAG(ctx, "gen-4", jobs, 1)
		require.NoError(t, err)
		v, err := a.Get(ctx, 5*time.Second)
		require.NoError(t, err)
		assert.True(t, v.GetAttr("b").RawEquals(cty.NumberIntVal(9)))
		assert.Equal(t, 3, cluster.dagExecs)

		data, err := os.ReadFile(filepath.Join(opts.WorkDir, "gen-4", "gen-4.dag"))
		require.NoError(t, err)
		assert.Contains(t, string(data), "JOB a "+filepath.Join(opts.WorkDir, "gen-4", "a", SubmitFile)+" DONE\n")
		assert.Contains(t, string(data), "JOB b "+filepath.Join(bDir, SubmitFile)+"\n")
	})

	t.Run("finished batch resolves without submitting", func(t *testing.T) {
		submitted := cluster.next
		a, err := b.SubmitDAG(ctx, "gen-4", jobs, 1)
		require.NoError(t, err)
		v, err := a.Get(ctx, 5*time.Second)
		require.NoError(t, err)
		assert.True(t, v.GetAttr("a").RawEquals(cty.NumberIntVal(4)))
		assert.Equal(t, 3, cluster.dagExecs)
		assert.Equal(t, submitted, cluster.next)
	})
}
