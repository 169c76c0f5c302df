// Package backend defines the contract shared by every execution strategy
// and the helpers they use to lay out unit directories and DAG batches.
package backend

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/specialistvlad/jobgrid/internal/dag"
	"github.com/specialistvlad/jobgrid/internal/result"
	"github.com/specialistvlad/jobgrid/internal/unit"
	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/zclconf/go-cty/cty"
)

// Backend runs a work function over many argument sets. Map fails only for
// problems with the request itself, such as an unknown function; failures
// of individual jobs, including a job that could not be queued, are values
// in the returned Container.
type Backend interface {
	Name() string
	Map(ctx context.Context, function string, calls []work.Call) (*result.Container, error)
	Close() error
}

// DAGSubmitter is implemented by backends that run level-ordered batches.
// SubmitDAG validates the whole batch before submitting anything, and caps
// live jobs of the batch at subPoolSize.
type DAGSubmitter interface {
	SubmitDAG(ctx context.Context, name string, jobs []DAGJob, subPoolSize int) (*result.Async, error)
}

// DAGJob is one job of a DAG batch.
type DAGJob struct {
	ID       string
	Level    int
	Function string
	Call     work.Call
}

// Lookup resolves function names; the registry implements it.
type Lookup interface {
	Lookup(name string) (work.Func, error)
}

// UnitDir is the working directory of the index-th job of a Map call.
func UnitDir(root, function string, index int) string {
	return filepath.Join(root, fmt.Sprintf("%s-%d", function, index))
}

// BatchDir is the directory holding the units of a DAG batch.
func BatchDir(root, name string) string {
	return filepath.Join(root, name)
}

// Descriptors validates every call of a Map request and builds its
// descriptors, before anything is materialized.
func Descriptors(reg Lookup, function string, calls []work.Call) ([]work.Descriptor, error) {
	if _, err := reg.Lookup(function); err != nil {
		return nil, err
	}
	out := make([]work.Descriptor, len(calls))
	for i, call := range calls {
		d, err := work.NewDescriptor(function, call)
		if err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
		out[i] = d
	}
	return out, nil
}

// Batch is a validated, materialized DAG batch.
type Batch struct {
	Name        string
	Dir         string
	Description *dag.Description
	Units       map[string]*unit.Unit
}

// PrepareDAG validates jobs, builds the description, and only then
// materializes one unit per job under root/name. Jobs whose unit already
// succeeded are marked done. pathOf maps a unit to the
// path written into the description; nil uses the unit directory.
func PrepareDAG(reg Lookup, root, name string, jobs []DAGJob, opts unit.Options, pathOf func(*unit.Unit) string) (*Batch, error) {
	if name == "" {
		return nil, fmt.Errorf("dag batch needs a name")
	}
	dir := BatchDir(root, name)

	descs := make([]work.Descriptor, len(jobs))
	dagJobs := make([]dag.Job, len(jobs))
	for i, j := range jobs {
		if _, err := reg.Lookup(j.Function); err != nil {
			return nil, fmt.Errorf("job %q: %w", j.ID, err)
		}
		d, err := work.NewDescriptor(j.Function, j.Call)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", j.ID, err)
		}
		descs[i] = d
		dagJobs[i] = dag.Job{ID: j.ID, Path: filepath.Join(dir, j.ID), Level: j.Level}
	}
	desc, err := dag.Build(dagJobs)
	if err != nil {
		return nil, err
	}

	b := &Batch{Name: name, Dir: dir, Description: desc, Units: make(map[string]*unit.Unit, len(jobs))}
	for i := range desc.Jobs {
		u, _, err := unit.Materialize(desc.Jobs[i].Path, descs[i], opts)
		if err != nil {
			return nil, fmt.Errorf("materialize job %q: %w", desc.Jobs[i].ID, err)
		}
		b.Units[desc.Jobs[i].ID] = u
		desc.Jobs[i].Done = u.Succeeded()
		if pathOf != nil {
			desc.Jobs[i].Path = pathOf(u)
		}
	}
	return b, nil
}

// Collect reads every unit's outcome into an object keyed by job id. The
// first failed or missing output is returned as the error.
func (b *Batch) Collect() (cty.Value, error) {
	vals := make(map[string]cty.Value, len(b.Units))
	for _, j := range b.Description.Jobs {
		v, err := b.Units[j.ID].Value()
		if err != nil {
			return cty.NilVal, fmt.Errorf("job %q: %w", j.ID, err)
		}
		vals[j.ID] = v
	}
	return cty.ObjectVal(vals), nil
}

// NotQueued is the result of the index-th job of a Map call that the pool
// refused, e.g. because ctx ended or the backend was closed.
func NotQueued(function string, index int, err error) *result.Async {
	return result.Failed(fmt.Errorf("submit job %d of %s: %w", index, function, err))
}

// FromUnit returns a result already resolved from u's output.
func FromUnit(u *unit.Unit) *result.Async {
	a := result.New(nil, u.Dir)
	if v, err := u.Value(); err != nil {
		a.Fail(err)
	} else {
		a.Set(v)
	}
	return a
}
