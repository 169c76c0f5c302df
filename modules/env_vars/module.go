package env_vars

import (
	"context"
	"os"
	"strings"

	"github.com/specialistvlad/jobgrid/internal/registry"
	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// EnvVars returns the environment of the process running the job as a map.
// An optional "prefix" keyword keeps only matching variables. Useful to
// check what a container or scheduler slot actually sees.
func EnvVars(_ context.Context, call work.Call) (cty.Value, error) {
	var prefix string
	if v, ok := call.Kwarg("prefix"); ok && !v.IsNull() {
		if err := gocty.FromCtyValue(v, &prefix); err != nil {
			return cty.NilVal, err
		}
	}

	envMap := make(map[string]cty.Value)
	for _, e := range os.Environ() {
		pair := strings.SplitN(e, "=", 2)
		if len(pair) == 2 && strings.HasPrefix(pair[0], prefix) {
			envMap[pair[0]] = cty.StringVal(pair[1])
		}
	}
	if len(envMap) == 0 {
		return cty.MapValEmpty(cty.String), nil
	}
	return cty.MapVal(envMap), nil
}

// Register registers the function with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register("env_vars", EnvVars)
}
