package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/jobgrid/internal/cli"
	"github.com/specialistvlad/jobgrid/internal/unit"
	"github.com/specialistvlad/jobgrid/internal/work"
)

func TestRun_PanicRecovery(t *testing.T) {
	t.Parallel()

	// A grid with a syntax error panics while the app loads its configuration.
	invalidHCL := `
		job "broken" {
			function = "square"
		// Missing closing brace here
	`
	filePath := filepath.Join(t.TempDir(), "main.hcl")
	require.NoError(t, os.WriteFile(filePath, []byte(invalidHCL), 0o600))

	out := &bytes.Buffer{}
	runErr := run(context.Background(), out, out, []string{filePath})

	require.Error(t, runErr, "run() should have returned an error after recovering from a panic")
	assert.Contains(t, runErr.Error(), "application startup panicked")
	assert.Contains(t, runErr.Error(), "failed to parse")
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(context.Background(), out, out, []string{"-h"})

	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(context.Background(), out, out, []string{"--this-is-not-a-valid-flag"})

	require.Error(t, err, "run() should return an error when argument parsing fails")
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}

func TestRun_Grid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	grid := filepath.Join(dir, "grid.hcl")
	require.NoError(t, os.WriteFile(grid, []byte(`
job "answer" {
  function = "add"
  args     = [40, 2]
}
`), 0o600))

	out := &bytes.Buffer{}
	err := run(context.Background(), out, out, []string{"-log-format", "text", "-work-dir", filepath.Join(dir, "work"), grid})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "job=answer function=add value=42")
}

func TestRun_ExecUnit(t *testing.T) {
	t.Parallel()

	d, err := work.NewDescriptor("square", work.Args(cty.NumberIntVal(5)))
	require.NoError(t, err)
	u, _, err := unit.Materialize(t.TempDir(), d, unit.Options{})
	require.NoError(t, err)

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	require.NoError(t, run(context.Background(), out, errOut, []string{cli.ExecUnitCommand, u.Dir}))
	assert.Empty(t, out.String())

	v, err := u.Value()
	require.NoError(t, err)
	assert.True(t, v.RawEquals(cty.NumberIntVal(25)))

	err = run(context.Background(), out, errOut, []string{cli.ExecUnitCommand})
	var exitErr *cli.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}
