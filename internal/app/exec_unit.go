package app

import (
	"context"
	"io"

	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/registry"
	"github.com/specialistvlad/jobgrid/internal/unit"
)

// ExecUnit runs the unit materialized in dir on this host, resolving its
// function among the compiled-in modules. It is what a unit's script runs
// inside a container or a scheduler slot. The returned error is the job's
// ErrorValue when the function failed; the outcome is in the unit either way.
func ExecUnit(ctx context.Context, logW io.Writer, logLevel, logFormat, dir string, modules ...registry.Module) error {
	logger := newLogger(logLevel, logFormat, logW).With("unit", dir)
	ctx = ctxlog.WithLogger(ctx, logger)

	if len(modules) == 0 {
		modules = CoreModules
	}
	reg := registry.New(modules...)

	logger.Debug("Runner started.", "modules", len(modules))
	if err := unit.Execute(ctx, dir, reg); err != nil {
		logger.Error("Unit failed.", "error", err)
		return err
	}
	logger.Debug("Unit finished.")
	return nil
}
