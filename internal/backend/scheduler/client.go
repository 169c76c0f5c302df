package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Client talks to the batch scheduler.
type Client interface {
	// Submit queues the job described by submitFile and returns its id.
	Submit(ctx context.Context, submitFile string) (string, error)
	// Query returns the current status of a queued or finished job.
	Query(ctx context.Context, id string) (Status, error)
	// Remove asks the scheduler to drop the job.
	Remove(ctx context.Context, id string) error
	// SubmitDAG queues a DAG file, with at most maxJobs of its jobs live.
	SubmitDAG(ctx context.Context, dagFile string, maxJobs int) (string, error)
}

// ErrUnknownJob is returned by Query when the scheduler has no record of a job.
var ErrUnknownJob = errors.New("scheduler has no record of job")

// ExecFunc runs a command and returns its combined output.
type ExecFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Condor drives HTCondor through its command-line tools.
type Condor struct {
	// BinDir prefixes the tool names when set.
	BinDir string
	Exec   ExecFunc
}

var _ Client = (*Condor)(nil)

// NewCondor returns a client using the tools on PATH, or in binDir.
func NewCondor(binDir string) *Condor {
	return &Condor{BinDir: binDir, Exec: execCommand}
}

func (c *Condor) run(ctx context.Context, tool string, args ...string) (string, error) {
	name := tool
	if c.BinDir != "" {
		name = strings.TrimRight(c.BinDir, "/") + "/" + tool
	}
	out, err := c.Exec(ctx, name, args...)
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, fmt.Errorf("%s failed: %w: %s", tool, err, text)
	}
	return text, nil
}

// Submit implements Client. Terse output is "first - last" job id.
func (c *Condor) Submit(ctx context.Context, submitFile string) (string, error) {
	out, err := c.run(ctx, "condor_submit", "-terse", submitFile)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", fmt.Errorf("condor_submit returned no job id")
	}
	return fields[0], nil
}

// Query implements Client, falling back to the history for jobs that have
// left the queue.
func (c *Condor) Query(ctx context.Context, id string) (Status, error) {
	out, err := c.run(ctx, "condor_q", id, "-af", "JobStatus")
	if err != nil {
		return 0, err
	}
	if out == "" {
		out, err = c.run(ctx, "condor_history", id, "-af", "JobStatus", "-limit", "1")
		if err != nil {
			return 0, err
		}
	}
	if out == "" {
		return 0, fmt.Errorf("%w %s", ErrUnknownJob, id)
	}
	return ParseStatus(strings.Fields(out)[0])
}

// Remove implements Client.
func (c *Condor) Remove(ctx context.Context, id string) error {
	_, err := c.run(ctx, "condor_rm", id)
	return err
}

var dagClusterRe = regexp.MustCompile(`submitted to cluster (\d+)`)

// SubmitDAG implements Client.
func (c *Condor) SubmitDAG(ctx context.Context, dagFile string, maxJobs int) (string, error) {
	args := []string{"-force", "-notification", "never"}
	if maxJobs > 0 {
		args = append(args, "-maxjobs", strconv.Itoa(maxJobs))
	}
	out, err := c.run(ctx, "condor_submit_dag", append(args, dagFile)...)
	if err != nil {
		return "", err
	}
	m := dagClusterRe.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("condor_submit_dag returned no cluster id: %s", out)
	}
	return m[1] + ".0", nil
}
