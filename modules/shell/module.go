// Package shell runs a shell command as a work function. It is the usual
// way to wrap an existing script as a pipeline stage.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/registry"
	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Shell runs kwargs "command" with /bin/sh -c. Optional kwargs: "dir" for the
// working directory and "env", a map added to the inherited environment.
// A non-zero exit is an error carrying the command's stderr.
func Shell(ctx context.Context, call work.Call) (cty.Value, error) {
	command, ok, err := call.KwargString("command")
	if err != nil {
		return cty.NilVal, err
	}
	if !ok || command == "" {
		return cty.NilVal, errors.New("shell: command is required")
	}
	dir, _, err := call.KwargString("dir")
	if err != nil {
		return cty.NilVal, err
	}

	var env map[string]string
	if v, ok := call.Kwarg("env"); ok && !v.IsNull() {
		if err := gocty.FromCtyValue(v, &env); err != nil {
			return cty.NilVal, fmt.Errorf("shell: env: %w", err)
		}
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = dir
	if len(env) > 0 {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		cmd.Env = os.Environ()
		for _, k := range keys {
			cmd.Env = append(cmd.Env, k+"="+env[k])
		}
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	ctxlog.FromContext(ctx).Debug("Running shell command.", "command", command, "dir", dir)
	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return cty.NilVal, fmt.Errorf("shell: %w", runErr)
		}
		exitCode = exitErr.ExitCode()
		return cty.NilVal, fmt.Errorf("shell: command exited with code %d: %s", exitCode, bytes.TrimSpace(stderr.Bytes()))
	}

	return cty.ObjectVal(map[string]cty.Value{
		"exit_code": cty.NumberIntVal(int64(exitCode)),
		"stdout":    cty.StringVal(stdout.String()),
		"stderr":    cty.StringVal(stderr.String()),
	}), nil
}

// Register registers the function with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.Register("shell", Shell)
}
