// Package arith provides small numeric work functions, handy for smoke
// tests of a backend.
package arith

import (
	"context"
	"fmt"

	"github.com/specialistvlad/jobgrid/internal/registry"
	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

func number(v cty.Value, what string) (cty.Value, error) {
	if v.IsNull() {
		return cty.NilVal, fmt.Errorf("%s is required", what)
	}
	n, err := convert.Convert(v, cty.Number)
	if err != nil {
		return cty.NilVal, fmt.Errorf("%s: %w", what, err)
	}
	return n, nil
}

// Square returns its single positional argument multiplied by itself.
func Square(_ context.Context, call work.Call) (cty.Value, error) {
	x, err := number(call.Arg(0), "argument 0")
	if err != nil {
		return cty.NilVal, err
	}
	return x.Multiply(x), nil
}

// Add sums its positional arguments.
func Add(_ context.Context, call work.Call) (cty.Value, error) {
	if len(call.Args) == 0 {
		return cty.NilVal, fmt.Errorf("add needs at least one argument")
	}
	sum := cty.Zero
	for i, a := range call.Args {
		n, err := number(a, fmt.Sprintf("argument %d", i))
		if err != nil {
			return cty.NilVal, err
		}
		sum = sum.Add(n)
	}
	return sum, nil
}

// Register registers the functions with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register("square", Square)
	r.Register("add", Add)
}
