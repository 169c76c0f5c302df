package config

import (
	"time"

	"github.com/zclconf/go-cty/cty"
)

// Backend names accepted by Runner.Backend.
const (
	BackendLocal     = "local"
	BackendContainer = "container"
	BackendScheduler = "scheduler"
)

// Model is the unified representation of a run: how to execute and what.
type Model struct {
	Runner    Runner
	Container *Container
	Scheduler *Scheduler
	Events    *Events
	Markers   *Markers
	Jobs      []*Job
	Stages    []*Stage
}

// Runner holds settings shared by every backend.
type Runner struct {
	Backend     string
	Workers     int
	QueueSize   int
	WorkDir     string
	SubPoolSize int
	RetryDelay  time.Duration
	Prepend     string
}

// Container configures the container backend.
type Container struct {
	Image            string
	DockerBin        string
	RunnerPath       string
	SMIBin           string
	Volumes          []string
	Env              map[string]string
	GPUs             int
	GPUMemoryMB      int
	AdmissionTimeout time.Duration
}

// Scheduler configures the external scheduler backend.
type Scheduler struct {
	BinDir       string
	RunnerPath   string
	RequestCPUs  int
	RequestGPUs  int
	GPUMemoryMB  int
	PollInterval time.Duration
	Freshness    time.Duration
	WaitTimeout  time.Duration
}

// Events configures where lifecycle events are streamed besides the log.
type Events struct {
	SocketIOURL string
	Namespace   string
}

// Markers selects an object store for completion markers. Without it,
// markers are files.
type Markers struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Job is one `job` block: a single call of a work function.
type Job struct {
	Name     string
	Function string
	Args     []cty.Value
	Kwargs   map[string]cty.Value
	// Level places the job in a DAG; nil means the job is independent.
	Level *int
}

// Stage is one `stage` block of the completion-checked pipeline.
type Stage struct {
	Name      string
	Function  string
	Args      []cty.Value
	Kwargs    map[string]cty.Value
	Marker    string
	Artifacts []string
	ErrorLog  string
}

// Functions returns the distinct work function names the model references,
// in declaration order.
func (m *Model) Functions() []string {
	var names []string
	seen := make(map[string]struct{})
	add := func(n string) {
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		names = append(names, n)
	}
	for _, j := range m.Jobs {
		add(j.Function)
	}
	for _, s := range m.Stages {
		add(s.Function)
	}
	return names
}

// HasLevels reports whether any job carries a hierarchy level.
func (m *Model) HasLevels() bool {
	for _, j := range m.Jobs {
		if j.Level != nil {
			return true
		}
	}
	return false
}
