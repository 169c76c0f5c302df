package app

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/specialistvlad/jobgrid/internal/backend"
	"github.com/specialistvlad/jobgrid/internal/backend/container"
	"github.com/specialistvlad/jobgrid/internal/backend/local"
	"github.com/specialistvlad/jobgrid/internal/backend/scheduler"
	"github.com/specialistvlad/jobgrid/internal/checker"
	"github.com/specialistvlad/jobgrid/internal/config"
	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/events"
	"github.com/specialistvlad/jobgrid/internal/gpu"
	"github.com/specialistvlad/jobgrid/internal/unit"
)

// DefaultWorkDir holds unit directories and markers when neither the flag
// nor runner.work_dir sets one.
const DefaultWorkDir = ".jobgrid"

func (a *App) backendName() string {
	if a.config.Backend != "" {
		return a.config.Backend
	}
	return a.model.Runner.Backend
}

func (a *App) workers() int {
	switch {
	case a.config.Workers > 0:
		return a.config.Workers
	case a.model.Runner.Workers > 0:
		return a.model.Runner.Workers
	default:
		return runtime.NumCPU()
	}
}

func (a *App) workDir() (string, error) {
	dir := a.config.WorkDir
	if dir == "" {
		dir = a.model.Runner.WorkDir
	}
	if dir == "" {
		dir = DefaultWorkDir
	}
	return filepath.Abs(dir)
}

// newBackend builds the execution backend the configuration selects.
func (a *App) newBackend(ctx context.Context, sink events.Sink) (backend.Backend, error) {
	logger := ctxlog.FromContext(ctx)
	workDir, err := a.workDir()
	if err != nil {
		return nil, err
	}
	r := a.model.Runner
	workers := a.workers()
	name := a.backendName()
	logger.Debug("Creating backend.", "backend", name, "workers", workers, "work_dir", workDir)

	switch name {
	case config.BackendLocal, "":
		return local.New(ctx, a.registry, local.Options{
			Workers:  workers,
			Capacity: r.QueueSize,
			WorkDir:  workDir,
			Unit:     unit.Options{Prepend: r.Prepend},
			Sink:     sink,
		})

	case config.BackendContainer:
		c := a.model.Container
		if c == nil {
			return nil, fmt.Errorf("backend %q needs a container block", name)
		}
		docker, err := container.NewDockerCLI(c.DockerBin)
		if err != nil {
			return nil, err
		}
		var table *gpu.Table
		if c.GPUs > 0 {
			devices, err := gpu.Probe(ctx, c.SMIBin)
			if err != nil {
				return nil, err
			}
			logger.Info("Accelerators discovered.", "count", len(devices))
			table = gpu.NewTable(devices)
		}
		return container.New(ctx, a.registry, docker, table, container.Options{
			Image:            c.Image,
			WorkDir:          workDir,
			Unit:             unit.Options{Prepend: r.Prepend, RunnerPath: c.RunnerPath},
			Volumes:          c.Volumes,
			Env:              c.Env,
			GPUs:             c.GPUs,
			GPUMemoryMB:      c.GPUMemoryMB,
			AdmissionTimeout: c.AdmissionTimeout,
			Workers:          workers,
			Capacity:         r.QueueSize,
			Sink:             sink,
		})

	case config.BackendScheduler:
		s := a.model.Scheduler
		if s == nil {
			s = &config.Scheduler{}
		}
		return scheduler.New(ctx, a.registry, scheduler.NewCondor(s.BinDir), scheduler.Options{
			WorkDir: workDir,
			Unit:    unit.Options{Prepend: r.Prepend, RunnerPath: s.RunnerPath},
			Resources: scheduler.Resources{
				CPUs:        s.RequestCPUs,
				GPUs:        s.RequestGPUs,
				GPUMemoryMB: s.GPUMemoryMB,
			},
			PollInterval: s.PollInterval,
			Freshness:    s.Freshness,
			WaitTimeout:  s.WaitTimeout,
			Workers:      workers,
			Capacity:     r.QueueSize,
			Sink:         sink,
		})
	}
	return nil, fmt.Errorf("unknown backend %q", name)
}

// newSink returns the event sink for a run and a function releasing it.
// A socket.io sink that cannot connect is logged and skipped.
func (a *App) newSink(ctx context.Context) (events.Sink, func()) {
	e := a.model.Events
	if e == nil || e.SocketIOURL == "" {
		return events.LogSink{}, func() {}
	}
	sio, err := events.DialSocketIO(ctx, events.SocketIOConfig{URL: e.SocketIOURL, Namespace: e.Namespace})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Event stream unavailable, logging events only.", "url", e.SocketIOURL, "error", err)
		return events.LogSink{}, func() {}
	}
	return events.Multi(events.LogSink{}, sio), func() { _ = sio.Close() }
}

// newMarkerStore returns the object store from the markers block, or files
// under the work directory.
func (a *App) newMarkerStore(workDir string) (checker.MarkerStore, error) {
	m := a.model.Markers
	if m == nil {
		return checker.FSStore{Root: filepath.Join(workDir, "markers")}, nil
	}
	return checker.NewObjectStore(checker.ObjectStoreConfig{
		Endpoint:  m.Endpoint,
		AccessKey: m.AccessKey,
		SecretKey: m.SecretKey,
		Region:    m.Region,
		UseSSL:    m.UseSSL,
		Bucket:    m.Bucket,
		Prefix:    m.Prefix,
	})
}
