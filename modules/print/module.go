package print

import (
	"context"
	"sort"

	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/registry"
	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Print logs its keyword arguments in key order and returns them unchanged.
func Print(ctx context.Context, call work.Call) (cty.Value, error) {
	logger := ctxlog.FromContext(ctx)

	if len(call.Kwargs) == 0 {
		logger.Info("Printing input", "value", "(null)")
		return cty.EmptyObjectVal, nil
	}

	keys := make([]string, 0, len(call.Kwargs))
	for k := range call.Kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, call.Kwargs[k].GoString())
	}
	logger.Info("Printing input", args...)

	return cty.ObjectVal(call.Kwargs), nil
}

// Register registers the function with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register("print", Print)
}
