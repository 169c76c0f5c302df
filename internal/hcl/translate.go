package hcl

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/specialistvlad/jobgrid/internal/config"
	"github.com/specialistvlad/jobgrid/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// envFunc exposes environment variables to configuration, mainly for
// credentials: secret_key = env("MINIO_SECRET_KEY").
var envFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "name", Type: cty.String}},
	Type:   function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return cty.StringVal(os.Getenv(args[0].AsString())), nil
	},
})

func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Functions: map[string]function.Function{"env": envFunc},
	}
}

func (l *Loader) translate(ctx context.Context, root *mergedRoot, evalCtx *hcl.EvalContext) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	model := &config.Model{Runner: config.Runner{Backend: config.BackendLocal}}

	if r := root.Runner; r != nil {
		delay, err := parseDuration("runner.retry_delay", r.RetryDelay)
		if err != nil {
			return nil, err
		}
		model.Runner = config.Runner{
			Backend:     strings.ToLower(strings.TrimSpace(r.Backend)),
			Workers:     r.Workers,
			QueueSize:   r.QueueSize,
			WorkDir:     r.WorkDir,
			SubPoolSize: r.SubPoolSize,
			RetryDelay:  delay,
			Prepend:     r.Prepend,
		}
		if model.Runner.Backend == "" {
			model.Runner.Backend = config.BackendLocal
		}
	}

	if c := root.Container; c != nil {
		admission, err := parseDuration("container.admission_timeout", c.AdmissionTimeout)
		if err != nil {
			return nil, err
		}
		model.Container = &config.Container{
			Image:            c.Image,
			DockerBin:        c.DockerBin,
			RunnerPath:       c.RunnerPath,
			SMIBin:           c.SMIBin,
			Volumes:          c.Volumes,
			Env:              c.Env,
			GPUs:             c.GPUs,
			GPUMemoryMB:      c.GPUMemoryMB,
			AdmissionTimeout: admission,
		}
	}

	if s := root.Scheduler; s != nil {
		sc := &config.Scheduler{
			BinDir:      s.BinDir,
			RunnerPath:  s.RunnerPath,
			RequestCPUs: s.RequestCPUs,
			RequestGPUs: s.RequestGPUs,
			GPUMemoryMB: s.GPUMemoryMB,
		}
		var err error
		if sc.PollInterval, err = parseDuration("scheduler.poll_interval", s.PollInterval); err != nil {
			return nil, err
		}
		if sc.Freshness, err = parseDuration("scheduler.freshness", s.Freshness); err != nil {
			return nil, err
		}
		if sc.WaitTimeout, err = parseDuration("scheduler.wait_timeout", s.WaitTimeout); err != nil {
			return nil, err
		}
		model.Scheduler = sc
	}

	if e := root.Events; e != nil {
		model.Events = &config.Events{SocketIOURL: e.SocketIOURL, Namespace: e.Namespace}
	}

	if m := root.Markers; m != nil {
		model.Markers = &config.Markers{
			Endpoint:  m.Endpoint,
			Region:    m.Region,
			Bucket:    m.Bucket,
			Prefix:    m.Prefix,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			UseSSL:    m.UseSSL,
		}
	}

	jobNames := make(map[string]struct{}, len(root.Jobs))
	for _, j := range root.Jobs {
		if _, dup := jobNames[j.Name]; dup {
			return nil, fmt.Errorf("job %q defined more than once", j.Name)
		}
		jobNames[j.Name] = struct{}{}
		job, err := translateJob(j, evalCtx)
		if err != nil {
			return nil, err
		}
		logger.Debug("Translated job block.", "job", job.Name, "function", job.Function)
		model.Jobs = append(model.Jobs, job)
	}

	stageNames := make(map[string]struct{}, len(root.Stages))
	for _, s := range root.Stages {
		if _, dup := stageNames[s.Name]; dup {
			return nil, fmt.Errorf("stage %q defined more than once", s.Name)
		}
		stageNames[s.Name] = struct{}{}
		stage, err := translateStage(s, evalCtx)
		if err != nil {
			return nil, err
		}
		model.Stages = append(model.Stages, stage)
	}
	return model, nil
}

func translateJob(j *jobBlock, evalCtx *hcl.EvalContext) (*config.Job, error) {
	args, kwargs, err := translateCall("job", j.Name, j.Args, j.Kwargs, evalCtx)
	if err != nil {
		return nil, err
	}
	job := &config.Job{Name: j.Name, Function: j.Function, Args: args, Kwargs: kwargs}
	if isExprDefined(j.Level) {
		var level int
		if diags := gohcl.DecodeExpression(j.Level, evalCtx, &level); diags.HasErrors() {
			return nil, fmt.Errorf("job %q: invalid level: %w", j.Name, diags)
		}
		if level < 0 {
			return nil, fmt.Errorf("job %q: level must not be negative, got %d", j.Name, level)
		}
		job.Level = &level
	}
	return job, nil
}

func translateStage(s *stageBlock, evalCtx *hcl.EvalContext) (*config.Stage, error) {
	args, kwargs, err := translateCall("stage", s.Name, s.Args, s.Kwargs, evalCtx)
	if err != nil {
		return nil, err
	}
	marker := s.Marker
	if marker == "" {
		marker = s.Name + ".done"
	}
	return &config.Stage{
		Name:      s.Name,
		Function:  s.Function,
		Args:      args,
		Kwargs:    kwargs,
		Marker:    marker,
		Artifacts: s.Artifacts,
		ErrorLog:  s.ErrorLog,
	}, nil
}

// translateCall evaluates args (a list or tuple) and kwargs (an object or map).
func translateCall(kind, name string, argsExpr, kwargsExpr hcl.Expression, evalCtx *hcl.EvalContext) ([]cty.Value, map[string]cty.Value, error) {
	var args []cty.Value
	if isExprDefined(argsExpr) {
		v, diags := argsExpr.Value(evalCtx)
		if diags.HasErrors() {
			return nil, nil, fmt.Errorf("%s %q: invalid args: %w", kind, name, diags)
		}
		if !v.IsNull() {
			t := v.Type()
			if !t.IsTupleType() && !t.IsListType() {
				return nil, nil, fmt.Errorf("%s %q: args must be a list, got %s", kind, name, t.FriendlyName())
			}
			args = v.AsValueSlice()
		}
	}

	var kwargs map[string]cty.Value
	if isExprDefined(kwargsExpr) {
		v, diags := kwargsExpr.Value(evalCtx)
		if diags.HasErrors() {
			return nil, nil, fmt.Errorf("%s %q: invalid kwargs: %w", kind, name, diags)
		}
		if !v.IsNull() {
			t := v.Type()
			if !t.IsObjectType() && !t.IsMapType() {
				return nil, nil, fmt.Errorf("%s %q: kwargs must be an object, got %s", kind, name, t.FriendlyName())
			}
			kwargs = v.AsValueMap()
		}
	}
	return args, kwargs, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
