package app

import (
	"errors"
	"fmt"

	"github.com/specialistvlad/jobgrid/internal/config"
)

// Config holds the command-line level settings of an App. Zero values defer
// to the grid files.
type Config struct {
	GridPath string // hcl files

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	// Workers overrides runner.workers when positive.
	Workers int
	// Backend overrides runner.backend when set.
	Backend string
	// WorkDir overrides runner.work_dir when set.
	WorkDir string
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.GridPath == "" {
		return nil, errors.New("GridPath is a required configuration field and cannot be empty")
	}
	switch cfg.Backend {
	case "", config.BackendLocal, config.BackendContainer, config.BackendScheduler:
	default:
		return nil, fmt.Errorf("unknown backend %q: must be %q, %q or %q", cfg.Backend, config.BackendLocal, config.BackendContainer, config.BackendScheduler)
	}
	if cfg.Workers < 0 {
		return nil, errors.New("workers must not be negative")
	}
	return &cfg, nil
}
