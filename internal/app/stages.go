package app

import (
	"context"
	"path/filepath"

	"github.com/specialistvlad/jobgrid/internal/checker"
	"github.com/specialistvlad/jobgrid/internal/config"
	"github.com/specialistvlad/jobgrid/internal/events"
	"github.com/specialistvlad/jobgrid/internal/work"
)

// runStages runs the stage blocks as a completion-checked pipeline. Each
// stage calls its work function in-process.
func (a *App) runStages(ctx context.Context, sink events.Sink) error {
	workDir, err := a.workDir()
	if err != nil {
		return err
	}
	store, err := a.newMarkerStore(workDir)
	if err != nil {
		return err
	}

	p := &checker.Pipeline{RetryDelay: a.model.Runner.RetryDelay, Sink: sink}
	for _, s := range a.model.Stages {
		st, err := a.stage(s, store, workDir)
		if err != nil {
			return err
		}
		p.Stages = append(p.Stages, st)
	}
	a.logger.Info("Running pipeline.", "stages", len(p.Stages))
	return p.Run(ctx)
}

func (a *App) stage(s *config.Stage, store checker.MarkerStore, workDir string) (checker.Stage, error) {
	fn, err := a.registry.Lookup(s.Function)
	if err != nil {
		return checker.Stage{}, err
	}

	var c checker.Checker
	if len(s.Artifacts) > 0 || s.ErrorLog != "" {
		artifacts := make([]string, len(s.Artifacts))
		for i, p := range s.Artifacts {
			artifacts[i] = resolve(workDir, p)
		}
		errorLog := ""
		if s.ErrorLog != "" {
			errorLog = resolve(workDir, s.ErrorLog)
		}
		c = checker.NewArtifactChecker(store, s.Marker, artifacts, errorLog)
	} else {
		c = checker.NewMarkerChecker(store, s.Marker)
	}

	call := work.Call{Args: s.Args, Kwargs: s.Kwargs}
	return checker.Stage{
		Name:    s.Name,
		Checker: c,
		Run: func(ctx context.Context) (*checker.Output, error) {
			v, err := work.Invoke(ctx, s.Function, fn, call)
			if err != nil {
				return nil, err
			}
			payload, err := work.MarshalResult(v)
			if err != nil {
				return nil, err
			}
			a.logger.Info("Stage result.", "stage", s.Name, "value", render(v))
			return &checker.Output{Finished: true, Payload: payload}, nil
		},
	}, nil
}

func resolve(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
