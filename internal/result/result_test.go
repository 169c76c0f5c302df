package result

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestAsyncSetOnce(t *testing.T) {
	a := New(nil, "/tmp/job")
	assert.False(t, a.Ready())

	require.True(t, a.Set(cty.NumberIntVal(4)))
	assert.False(t, a.Set(cty.NumberIntVal(5)))
	assert.False(t, a.Fail(errors.New("late")))

	for range 3 {
		v, err := a.Get(context.Background(), time.Second)
		require.NoError(t, err)
		assert.True(t, v.RawEquals(cty.NumberIntVal(4)))
	}
	assert.Equal(t, "/tmp/job", a.Dir())
}

func TestAsyncManyWaiters(t *testing.T) {
	a := New(nil, "")
	var wg sync.WaitGroup
	got := make([]cty.Value, 8)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := a.Get(context.Background(), -1)
			assert.NoError(t, err)
			got[i] = v
		}()
	}
	time.Sleep(10 * time.Millisecond)
	a.Set(cty.StringVal("done"))
	wg.Wait()
	for _, v := range got {
		assert.True(t, v.RawEquals(cty.StringVal("done")))
	}
}

func TestAsyncGetTimeout(t *testing.T) {
	a := New(nil, "")

	_, err := a.Get(context.Background(), 0)
	assert.ErrorIs(t, err, work.ErrTimedOut)

	start := time.Now()
	_, err = a.Get(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, work.ErrTimedOut)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Get(ctx, -1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAsyncFailureIsReturnedFromGet(t *testing.T) {
	a := New(nil, "")
	a.Fail(&work.ErrorValue{Function: "square", Message: "boom"})

	_, err := a.Get(context.Background(), time.Second)
	var ev *work.ErrorValue
	require.ErrorAs(t, err, &ev)
	assert.Equal(t, "boom", ev.Message)
	assert.NoError(t, a.Wait(context.Background()))
}

func TestAsyncRefusesWaitFromOwner(t *testing.T) {
	owner := new(int)
	a := New(owner, "")
	ctx := WithOwner(context.Background(), owner)

	_, err := a.Get(ctx, time.Second)
	assert.ErrorIs(t, err, work.ErrWouldDeadlock)

	// Another owner may wait.
	_, err = a.Get(WithOwner(context.Background(), new(int)), 0)
	assert.ErrorIs(t, err, work.ErrTimedOut)

	// Once resolved, the owner can read it.
	a.Set(cty.True)
	v, err := a.Get(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, v.True())
}

func TestContainerOrderAndErrorsAsData(t *testing.T) {
	items := []*Async{New(nil, "a"), New(nil, "b"), New(nil, "c")}
	c := NewContainer(items)

	// Resolve out of order.
	go func() {
		items[2].Set(cty.NumberIntVal(3))
		time.Sleep(5 * time.Millisecond)
		items[1].Fail(&work.ErrorValue{Message: "bad"})
		time.Sleep(5 * time.Millisecond)
		items[0].Set(cty.NumberIntVal(1))
	}()

	outs := c.Collect(context.Background())
	require.Len(t, outs, 3)
	for i, out := range outs {
		assert.Equal(t, i, out.Index)
	}
	assert.True(t, outs[0].Value.RawEquals(cty.NumberIntVal(1)))
	assert.EqualError(t, outs[1].Err, "bad")
	assert.True(t, outs[2].Value.RawEquals(cty.NumberIntVal(3)))
	assert.Equal(t, "b", outs[1].Dir)
}

func TestContainerIsNotRestartable(t *testing.T) {
	c := NewContainer([]*Async{Resolved(cty.NumberIntVal(1)), Resolved(cty.NumberIntVal(2))})

	first, ok := c.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, 0, first.Index)

	rest := c.Collect(context.Background())
	require.Len(t, rest, 1)
	assert.Equal(t, 1, rest[0].Index)

	assert.Empty(t, c.Collect(context.Background()))

	// The handles themselves still answer.
	v, err := c.At(0).Get(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, v.RawEquals(cty.NumberIntVal(1)))
}

func TestContainerStopsOnCancelledContext(t *testing.T) {
	pending := New(nil, "")
	c := NewContainer([]*Async{Resolved(cty.True), pending})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	outs := c.Collect(ctx)
	require.Len(t, outs, 1)
	assert.Error(t, ctx.Err())

	pending.Set(cty.False)
	out, ok := c.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, out.Index)
}
