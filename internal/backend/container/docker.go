package container

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner runs one docker CLI invocation and returns its combined output.
type Runner interface {
	Run(ctx context.Context, args []string) ([]byte, error)
}

// DockerCLI runs the docker binary.
type DockerCLI struct {
	Bin string
}

// NewDockerCLI checks that the docker binary is available.
func NewDockerCLI(bin string) (*DockerCLI, error) {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		bin = "docker"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("docker binary not found: %w", err)
	}
	return &DockerCLI{Bin: bin}, nil
}

// Run implements Runner.
func (d *DockerCLI) Run(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, d.Bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return out, &ExitError{Code: exitErr.ExitCode(), Output: strings.TrimSpace(string(out))}
		}
		return out, fmt.Errorf("docker run failed: %w", err)
	}
	return out, nil
}

// ExitError is a container that ran and exited non-zero.
type ExitError struct {
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("container exited with code %d: %s", e.Code, e.Output)
}
