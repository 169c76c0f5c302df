package result

import (
	"context"
	"iter"
	"sync"

	"github.com/zclconf/go-cty/cty"
)

// Outcome is one resolved entry of a Container. Err holds the job's failure,
// usually a *work.ErrorValue; it is data, not a reason to stop iterating.
type Outcome struct {
	Index int
	Dir   string
	Value cty.Value
	Err   error
}

// Container iterates many results in submission order. It keeps a cursor,
// so iteration is not restartable; each Async still answers Get as often as
// asked.
type Container struct {
	mu     sync.Mutex
	items  []*Async
	cursor int
}

// NewContainer wraps items in order.
func NewContainer(items []*Async) *Container {
	return &Container{items: items}
}

// Len returns the number of wrapped results.
func (c *Container) Len() int { return len(c.items) }

// At returns the i-th wrapped result.
func (c *Container) At(i int) *Async { return c.items[i] }

// Next blocks on the next result and advances the cursor. It returns false
// when the container is exhausted or ctx is done; in the latter case the
// cursor stays put and ctx.Err() tells the two apart.
func (c *Container) Next(ctx context.Context) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cursor >= len(c.items) {
		return Outcome{}, false
	}
	a := c.items[c.cursor]
	if err := a.Wait(ctx); err != nil {
		return Outcome{}, false
	}
	v, err := a.Get(ctx, 0)
	out := Outcome{Index: c.cursor, Dir: a.Dir(), Value: v, Err: err}
	c.cursor++
	return out, true
}

// All yields the remaining outcomes in order.
func (c *Container) All(ctx context.Context) iter.Seq[Outcome] {
	return func(yield func(Outcome) bool) {
		for {
			out, ok := c.Next(ctx)
			if !ok || !yield(out) {
				return
			}
		}
	}
}

// Collect drains the remaining outcomes into a slice.
func (c *Container) Collect(ctx context.Context) []Outcome {
	var outs []Outcome
	for out := range c.All(ctx) {
		outs = append(outs, out)
	}
	return outs
}
