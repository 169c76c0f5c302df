package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/specialistvlad/jobgrid/internal/config"
	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	registry   *registry.Registry
	model      *config.Model
	config     *Config
	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
// Configuration that cannot be loaded or references unregistered functions
// is a fatal startup error and panics.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader, modules ...registry.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := loader.Load(ctx, cfg.GridPath)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	logger.Debug("Configuration loaded and translated into unified model.")

	if len(modules) == 0 {
		modules = CoreModules
	}
	reg := registry.New(modules...)
	logger.Debug("All Go modules registered.", "count", len(modules))

	if err := reg.Validate(ctx, model.Functions()...); err != nil {
		panic(err)
	}

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		model:    model,
		config:   cfg,
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Model returns the loaded configuration model.
func (a *App) Model() *config.Model {
	return a.model
}
