package hcl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/jobgrid/internal/config"
	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/fsutil"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

var _ config.Loader = (*Loader)(nil)

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file under paths and merges them into one model.
// Settings blocks may appear at most once across all files; job and stage
// names must be unique.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	hclFiles, err := l.findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	if len(hclFiles) == 0 {
		return nil, fmt.Errorf("no .hcl files found in %v", paths)
	}
	logger.Debug("Discovered HCL files.", "count", len(hclFiles))

	parser := hclparse.NewParser()
	evalCtx := evalContext()
	m := &mergedRoot{}

	for _, file := range hclFiles {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, evalCtx, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		if err := m.merge(file, &root); err != nil {
			return nil, err
		}
	}

	model, err := l.translate(ctx, m, evalCtx)
	if err != nil {
		return nil, err
	}
	logger.Debug("HCL loading complete.", "jobs", len(model.Jobs), "stages", len(model.Stages), "backend", model.Runner.Backend)
	return model, nil
}

// mergedRoot accumulates blocks from all files.
type mergedRoot struct {
	fileRoot
	seen map[string]string
}

func (m *mergedRoot) merge(file string, root *fileRoot) error {
	if m.seen == nil {
		m.seen = make(map[string]string)
	}
	once := func(kind string, present bool) error {
		if !present {
			return nil
		}
		if prev, ok := m.seen[kind]; ok {
			return fmt.Errorf("%s block defined more than once (%s and %s)", kind, prev, file)
		}
		m.seen[kind] = file
		return nil
	}
	for _, c := range []struct {
		kind    string
		present bool
	}{
		{"runner", root.Runner != nil},
		{"container", root.Container != nil},
		{"scheduler", root.Scheduler != nil},
		{"events", root.Events != nil},
		{"markers", root.Markers != nil},
	} {
		if err := once(c.kind, c.present); err != nil {
			return err
		}
	}
	if root.Runner != nil {
		m.Runner = root.Runner
	}
	if root.Container != nil {
		m.Container = root.Container
	}
	if root.Scheduler != nil {
		m.Scheduler = root.Scheduler
	}
	if root.Events != nil {
		m.Events = root.Events
	}
	if root.Markers != nil {
		m.Markers = root.Markers
	}
	m.Jobs = append(m.Jobs, root.Jobs...)
	m.Stages = append(m.Stages, root.Stages...)
	return nil
}

// findAllHCLFiles walks all given paths and returns a flat list of all .hcl files found.
func (l *Loader) findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, wasSeen := seen[p]; !wasSeen {
			allFiles = append(allFiles, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		if info.IsDir() {
			files, err := fsutil.FindFilesByExtension(path, ".hcl")
			if err != nil {
				return nil, err
			}
			for _, f := range files {
				add(f)
			}
		} else if filepath.Ext(path) == ".hcl" {
			add(path)
		}
	}
	return allFiles, nil
}

// isExprDefined reports whether an optional attribute was written in the
// source. Omitted attributes decode to zero-width placeholder expressions.
func isExprDefined(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	r := expr.Range()
	return r.End.Byte > r.Start.Byte
}
