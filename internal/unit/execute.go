package unit

import (
	"context"
	"fmt"

	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/fsutil"
	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/zclconf/go-cty/cty"
)

// Caller resolves and invokes a descriptor's work function.
type Caller interface {
	Call(ctx context.Context, d work.Descriptor) (cty.Value, error)
}

// Execute runs the unit in dir and writes its outcome. A job failure is
// written to the output too, and then returned so the runner process exits
// non-zero.
func Execute(ctx context.Context, dir string, caller Caller) error {
	u, err := Open(dir)
	if err != nil {
		return err
	}
	logger := ctxlog.FromContext(ctx).With("unit", u.Dir, "function", u.Descriptor.Function())
	logger.Debug("Executing unit.")

	v, callErr := caller.Call(ctx, u.Descriptor)

	var data []byte
	var ev *work.ErrorValue
	if callErr != nil {
		ev = work.Capture(u.Descriptor.Function(), callErr)
		data, err = work.MarshalError(ev)
	} else {
		data, err = work.MarshalResult(v)
	}
	if err != nil {
		return fmt.Errorf("encode outcome of %s: %w", u.Descriptor.Function(), err)
	}
	if err := fsutil.WriteFileAtomic(u.OutputPath(), data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	if ev != nil {
		logger.Error("Unit failed.", "error", ev.Message)
		return ev
	}
	logger.Debug("Unit finished.")
	return nil
}
