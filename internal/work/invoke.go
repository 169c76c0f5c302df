package work

import (
	"context"

	"github.com/zclconf/go-cty/cty"
)

// Invoke runs fn under the given name. Any failure, including a panic inside
// fn, is returned as an *ErrorValue so callers never crash on a job.
func Invoke(ctx context.Context, name string, fn Func, call Call) (out cty.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = cty.NilVal
			err = CapturePanic(name, r)
		}
	}()
	out, err = fn(ctx, call)
	if err != nil {
		return cty.NilVal, Capture(name, err)
	}
	return out, nil
}
