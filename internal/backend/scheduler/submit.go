package scheduler

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/jobgrid/internal/fsutil"
	"github.com/specialistvlad/jobgrid/internal/unit"
)

const (
	// SubmitFile is the submit description written next to a unit.
	SubmitFile = "submit"
	// LogFile is the scheduler's event log for a unit.
	LogFile = "log"
)

// Resources are the requests written into every submit description.
type Resources struct {
	CPUs        int
	GPUs        int
	GPUMemoryMB int
}

// SubmitDescription renders the submit description for u. The unit's
// input and script are transferred to the execute host and its output is
// brought back on exit.
func SubmitDescription(u *unit.Unit, res Resources) string {
	var b strings.Builder
	line := func(k, v string) { fmt.Fprintf(&b, "%s = %s\n", k, v) }

	line("executable", u.ScriptPath())
	line("initialdir", u.Dir)
	line("log", filepath.Join(u.Dir, LogFile))
	line("output", filepath.Join(u.Dir, "stdout"))
	line("error", u.ErrorPath())
	if res.CPUs > 0 {
		line("request_cpus", fmt.Sprint(res.CPUs))
	}
	if res.GPUs > 0 {
		line("request_gpus", fmt.Sprint(res.GPUs))
		if res.GPUMemoryMB > 0 {
			line("requirements", fmt.Sprintf("(GPUs_GlobalMemoryMb >= %d)", res.GPUMemoryMB))
		}
	}
	line("should_transfer_files", "YES")
	line("transfer_input_files", u.InputPath())
	line("transfer_output_files", unit.OutputFile)
	line("when_to_transfer_output", "ON_EXIT")
	b.WriteString("queue\n")
	return b.String()
}

// WriteSubmit writes the submit description into the unit directory and
// returns its path.
func WriteSubmit(u *unit.Unit, res Resources) (string, error) {
	path := filepath.Join(u.Dir, SubmitFile)
	if err := fsutil.WriteFileAtomic(path, []byte(SubmitDescription(u, res)), 0o644); err != nil {
		return "", fmt.Errorf("write submit description: %w", err)
	}
	return path, nil
}
