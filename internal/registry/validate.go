package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/specialistvlad/jobgrid/internal/ctxlog"
)

// Validate checks that every referenced function name is registered. All
// missing names are reported together.
func (r *Registry) Validate(ctx context.Context, names ...string) error {
	logger := ctxlog.FromContext(ctx)
	var missing []string
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if _, err := r.Lookup(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("registry validation failed, unregistered work functions: %s", strings.Join(missing, ", "))
	}
	logger.Debug("Registry validation passed.", "functions", len(seen))
	return nil
}
