package registry

import (
	"context"

	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/zclconf/go-cty/cty"
)

// Call resolves the descriptor's function and invokes it. Any failure,
// including a panic inside the function, is returned as a *work.ErrorValue.
func (r *Registry) Call(ctx context.Context, d work.Descriptor) (cty.Value, error) {
	fn, err := r.Lookup(d.Function())
	if err != nil {
		return cty.NilVal, work.Capture(d.Function(), err)
	}
	return work.Invoke(ctx, d.Function(), fn, d.Call())
}
