// Package result holds single-writer futures for job outcomes and a lazy
// container for iterating many of them in submission order.
package result

import (
	"context"
	"sync"
	"time"

	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/zclconf/go-cty/cty"
)

type ownerKey struct{}

// WithOwner tags ctx as running inside owner, typically a pool worker.
// Blocking waits on results produced by the same owner are refused.
func WithOwner(ctx context.Context, owner any) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the owner ctx was tagged with, or nil.
func OwnerFrom(ctx context.Context) any {
	return ctx.Value(ownerKey{})
}

// Async is a future resolved exactly once by its producer and read by any
// number of consumers.
type Async struct {
	dir   string
	owner any
	once  sync.Once
	done  chan struct{}
	value cty.Value
	err   error
}

// New returns an unresolved Async produced by owner. dir is the working
// directory of the job, if it has one.
func New(owner any, dir string) *Async {
	return &Async{dir: dir, owner: owner, done: make(chan struct{})}
}

// Resolved returns an Async already holding v.
func Resolved(v cty.Value) *Async {
	a := New(nil, "")
	a.Set(v)
	return a
}

// Failed returns an Async already holding err.
func Failed(err error) *Async {
	a := New(nil, "")
	a.Fail(err)
	return a
}

// Dir returns the job's working directory.
func (a *Async) Dir() string { return a.dir }

// Set resolves the result with a value. Only the first Set or Fail has any
// effect; the return reports whether this call resolved it.
func (a *Async) Set(v cty.Value) bool {
	if v.Type() == cty.NilType {
		v = cty.NullVal(cty.DynamicPseudoType)
	}
	return a.resolve(v, nil)
}

// Fail resolves the result with an error, normally a *work.ErrorValue.
func (a *Async) Fail(err error) bool {
	return a.resolve(cty.NilVal, err)
}

func (a *Async) resolve(v cty.Value, err error) bool {
	resolved := false
	a.once.Do(func() {
		a.value, a.err = v, err
		close(a.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the result is resolved.
func (a *Async) Done() <-chan struct{} { return a.done }

// Ready reports whether the result is resolved.
func (a *Async) Ready() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Get waits for the result. A negative timeout waits until ctx is done, zero
// only inspects the current state. Get returns work.ErrTimedOut when the
// bound elapses, and work.ErrWouldDeadlock when called from inside the
// owner of an unresolved result.
func (a *Async) Get(ctx context.Context, timeout time.Duration) (cty.Value, error) {
	if a.Ready() {
		return a.value, a.err
	}
	if a.owner != nil && OwnerFrom(ctx) == a.owner {
		return cty.NilVal, work.ErrWouldDeadlock
	}
	if timeout == 0 {
		return cty.NilVal, work.ErrTimedOut
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-a.done:
		return a.value, a.err
	case <-expired:
		return cty.NilVal, work.ErrTimedOut
	case <-ctx.Done():
		return cty.NilVal, ctx.Err()
	}
}

// Wait blocks until the result is resolved or ctx is done. It does not
// report the job's own failure.
func (a *Async) Wait(ctx context.Context) error {
	_, err := a.Get(ctx, -1)
	if err == nil || a.Ready() {
		return nil
	}
	return err
}
