// Package unit materializes work descriptors into self-contained job
// directories that any process, container or remote machine can execute,
// and reads their results back.
//
// A unit directory holds:
//
//	input    the versioned descriptor payload
//	script   the executable entrypoint
//	output   the outcome payload, written atomically by the runner
//	error    standard error of the run, when the backend captures it
//	cluster  the backend job id, for re-attaching after a crash
package unit

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/jobgrid/internal/fsutil"
	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/zclconf/go-cty/cty"
)

const (
	InputFile   = "input"
	ScriptFile  = "script"
	OutputFile  = "output"
	ErrorFile   = "error"
	ClusterFile = "cluster"
)

// DefaultRunner is the runner binary the script invokes when none is set.
const DefaultRunner = "jobgrid"

// Options controls how the entrypoint script is generated.
type Options struct {
	// Prepend is shell code run before the job, e.g. environment setup.
	Prepend string
	// RunnerPath is the jobgrid binary as seen from the execution host.
	RunnerPath string
}

// Unit is a descriptor bound to a working directory.
type Unit struct {
	Dir        string
	Descriptor work.Descriptor
}

func (u *Unit) path(name string) string { return filepath.Join(u.Dir, name) }

func (u *Unit) InputPath() string   { return u.path(InputFile) }
func (u *Unit) ScriptPath() string  { return u.path(ScriptFile) }
func (u *Unit) OutputPath() string  { return u.path(OutputFile) }
func (u *Unit) ErrorPath() string   { return u.path(ErrorFile) }
func (u *Unit) ClusterPath() string { return u.path(ClusterFile) }

// Materialize binds d to dir. When dir already holds a byte-identical input
// the unit is reused, keeping a successful output or the cluster file of a
// job still in flight; a recorded failure is cleared so the job runs again.
// Otherwise input and script are rewritten and stale results removed.
func Materialize(dir string, d work.Descriptor, opts Options) (*Unit, bool, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, false, fmt.Errorf("resolve unit directory %s: %w", dir, err)
	}
	u := &Unit{Dir: abs, Descriptor: d}

	blob, err := d.MarshalBinary()
	if err != nil {
		return nil, false, err
	}
	script := u.script(opts)

	existing, err := os.ReadFile(u.InputPath())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, false, fmt.Errorf("read existing input: %w", err)
	}
	reused := err == nil && bytes.Equal(existing, blob)

	if reused && u.Failed() {
		if err := u.Reset(); err != nil {
			return nil, false, err
		}
	}
	if !reused {
		if err := u.Reset(); err != nil {
			return nil, false, err
		}
		if err := fsutil.WriteFileAtomic(u.InputPath(), blob, 0o644); err != nil {
			return nil, false, fmt.Errorf("write input: %w", err)
		}
	}

	current, err := os.ReadFile(u.ScriptPath())
	if err != nil || string(current) != script {
		if err := fsutil.WriteFileAtomic(u.ScriptPath(), []byte(script), 0o755); err != nil {
			return nil, false, fmt.Errorf("write script: %w", err)
		}
	}
	return u, reused, nil
}

// Open loads an existing unit from dir.
func Open(dir string) (*Unit, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(abs, InputFile))
	if err != nil {
		return nil, fmt.Errorf("read unit input: %w", err)
	}
	d, err := work.UnmarshalDescriptor(data)
	if err != nil {
		return nil, err
	}
	return &Unit{Dir: abs, Descriptor: d}, nil
}

func (u *Unit) script(opts Options) string {
	runner := opts.RunnerPath
	if runner == "" {
		runner = DefaultRunner
	}
	var b strings.Builder
	b.WriteString("#!/bin/sh\nset -e\n")
	fmt.Fprintf(&b, "cd %s\n", shellQuote(u.Dir))
	if p := strings.TrimSpace(opts.Prepend); p != "" {
		b.WriteString(p)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "exec %s exec-unit %s\n", shellQuote(runner), shellQuote(u.Dir))
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Reset removes the results of a previous run.
func (u *Unit) Reset() error {
	for _, stale := range []string{OutputFile, ClusterFile, ErrorFile} {
		if err := os.Remove(u.path(stale)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale %s: %w", stale, err)
		}
	}
	return nil
}

// Succeeded reports whether the output holds a result rather than a failure.
func (u *Unit) Succeeded() bool {
	_, err := u.Value()
	return err == nil
}

// Failed reports whether an output has been written that is not a result.
func (u *Unit) Failed() bool {
	_, err := u.Value()
	return err != nil && !errors.Is(err, work.ErrNotReady)
}

// Ready reports whether an output has been written, successful or not.
func (u *Unit) Ready() bool {
	ok, err := fsutil.NonEmpty(u.OutputPath())
	return err == nil && ok
}

// Value returns the job's result. It returns work.ErrNotReady while the
// output is missing or empty, which means poll again, and the captured
// *work.ErrorValue when the job failed.
func (u *Unit) Value() (cty.Value, error) {
	data, err := os.ReadFile(u.OutputPath())
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
		return cty.NilVal, work.ErrNotReady
	}
	if err != nil {
		return cty.NilVal, fmt.Errorf("read output: %w", err)
	}
	return work.UnmarshalOutcome(data)
}

// Stderr returns the captured standard error, if any.
func (u *Unit) Stderr() string {
	data, err := os.ReadFile(u.ErrorPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// WriteCluster records the backend job id.
func (u *Unit) WriteCluster(id string) error {
	return fsutil.WriteFileAtomic(u.ClusterPath(), []byte(id+"\n"), 0o644)
}

// Cluster returns the recorded backend job id.
func (u *Unit) Cluster() (string, bool, error) {
	data, err := os.ReadFile(u.ClusterPath())
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	id := strings.TrimSpace(string(data))
	return id, id != "", nil
}
