package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/specialistvlad/jobgrid/internal/backend"
	"github.com/specialistvlad/jobgrid/internal/config"
	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/specialistvlad/jobgrid/internal/work"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// DAGBatchName names the batch directory of a levelled run. A stable name
// lets a restarted run reuse the units it already materialized.
const DAGBatchName = "grid"

// Run executes the jobs and then the stages of the loaded model.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.HealthcheckPort > 0 {
		a.startHealthcheckServer(a.config.HealthcheckPort)
		defer a.closeHealthcheckServer(ctx)
	}

	sink, closeSink := a.newSink(ctx)
	defer closeSink()

	if len(a.model.Jobs) == 0 && len(a.model.Stages) == 0 {
		a.logger.Warn("No jobs or stages found, execution not required.")
		return nil
	}

	if len(a.model.Jobs) > 0 {
		be, err := a.newBackend(ctx, sink)
		if err != nil {
			return fmt.Errorf("failed to create backend: %w", err)
		}
		defer be.Close()

		a.logger.Info("🚀 Starting job execution...", "backend", be.Name(), "jobs", len(a.model.Jobs))
		if a.model.HasLevels() {
			err = a.runDAG(ctx, be)
		} else {
			err = a.runJobs(ctx, be)
		}
		if err != nil {
			return fmt.Errorf("execution failed: %w", err)
		}
	}

	if len(a.model.Stages) > 0 {
		if err := a.runStages(ctx, sink); err != nil {
			return fmt.Errorf("pipeline failed: %w", err)
		}
	}

	a.logger.Info("🏁 Execution finished.")
	return nil
}

// runJobs maps each function over its jobs. Failed jobs are reported and
// counted but do not stop the others.
func (a *App) runJobs(ctx context.Context, be backend.Backend) error {
	var order []string
	groups := make(map[string][]*config.Job)
	for _, j := range a.model.Jobs {
		if _, ok := groups[j.Function]; !ok {
			order = append(order, j.Function)
		}
		groups[j.Function] = append(groups[j.Function], j)
	}

	failed := 0
	for _, fn := range order {
		jobs := groups[fn]
		calls := make([]work.Call, len(jobs))
		for i, j := range jobs {
			calls[i] = work.Call{Args: j.Args, Kwargs: j.Kwargs}
		}
		results, err := be.Map(ctx, fn, calls)
		if err != nil {
			return err
		}
		for o := range results.All(ctx) {
			job := jobs[o.Index]
			if o.Err != nil {
				failed++
				a.logger.Error("Job failed.", "job", job.Name, "function", fn, "error", o.Err)
				continue
			}
			a.logger.Info("Job result.", "job", job.Name, "function", fn, "value", render(o.Value))
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(a.model.Jobs))
	}
	return nil
}

// runDAG submits every job as one levelled batch. Every job must carry a
// level; nothing is submitted otherwise.
func (a *App) runDAG(ctx context.Context, be backend.Backend) error {
	var missing []string
	for _, j := range a.model.Jobs {
		if j.Level == nil {
			missing = append(missing, j.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("jobs without a hierarchy level: %s", strings.Join(missing, ", "))
	}
	sub, ok := be.(backend.DAGSubmitter)
	if !ok {
		return fmt.Errorf("backend %s cannot run jobs with levels", be.Name())
	}
	jobs := make([]backend.DAGJob, len(a.model.Jobs))
	for i, j := range a.model.Jobs {
		jobs[i] = backend.DAGJob{
			ID:       j.Name,
			Level:    *j.Level,
			Function: j.Function,
			Call:     work.Call{Args: j.Args, Kwargs: j.Kwargs},
		}
	}

	handle, err := sub.SubmitDAG(ctx, DAGBatchName, jobs, a.model.Runner.SubPoolSize)
	if err != nil {
		return err
	}
	v, err := handle.Get(ctx, -1)
	if err != nil {
		return err
	}
	for _, j := range a.model.Jobs {
		if v.Type().IsObjectType() && v.Type().HasAttribute(j.Name) {
			a.logger.Info("Job result.", "job", j.Name, "function", j.Function, "value", render(v.GetAttr(j.Name)))
		}
	}
	return nil
}

// render formats a result value as JSON for logging.
func render(v cty.Value) string {
	if v.IsNull() {
		return "null"
	}
	if !v.IsWhollyKnown() {
		return "(unknown)"
	}
	b, err := ctyjson.SimpleJSONValue{Value: v}.MarshalJSON()
	if err != nil {
		return v.GoString()
	}
	return string(b)
}
