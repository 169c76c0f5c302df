package hcl

import "github.com/hashicorp/hcl/v2"

// fileRoot decodes every top-level block a file may contain.
type fileRoot struct {
	Runner    *runnerBlock    `hcl:"runner,block"`
	Container *containerBlock `hcl:"container,block"`
	Scheduler *schedulerBlock `hcl:"scheduler,block"`
	Events    *eventsBlock    `hcl:"events,block"`
	Markers   *markersBlock   `hcl:"markers,block"`
	Jobs      []*jobBlock     `hcl:"job,block"`
	Stages    []*stageBlock   `hcl:"stage,block"`
	Remain    hcl.Body        `hcl:",remain"`
}

type runnerBlock struct {
	Backend     string `hcl:"backend,optional"`
	Workers     int    `hcl:"workers,optional"`
	QueueSize   int    `hcl:"queue_size,optional"`
	WorkDir     string `hcl:"work_dir,optional"`
	SubPoolSize int    `hcl:"sub_pool_size,optional"`
	RetryDelay  string `hcl:"retry_delay,optional"`
	Prepend     string `hcl:"prepend,optional"`
}

type containerBlock struct {
	Image            string            `hcl:"image"`
	DockerBin        string            `hcl:"docker_bin,optional"`
	RunnerPath       string            `hcl:"runner_path,optional"`
	SMIBin           string            `hcl:"smi_bin,optional"`
	Volumes          []string          `hcl:"volumes,optional"`
	Env              map[string]string `hcl:"env,optional"`
	GPUs             int               `hcl:"gpus,optional"`
	GPUMemoryMB      int               `hcl:"gpu_memory_mb,optional"`
	AdmissionTimeout string            `hcl:"admission_timeout,optional"`
}

type schedulerBlock struct {
	BinDir       string `hcl:"bin_dir,optional"`
	RunnerPath   string `hcl:"runner_path,optional"`
	RequestCPUs  int    `hcl:"request_cpus,optional"`
	RequestGPUs  int    `hcl:"request_gpus,optional"`
	GPUMemoryMB  int    `hcl:"gpu_memory_mb,optional"`
	PollInterval string `hcl:"poll_interval,optional"`
	Freshness    string `hcl:"freshness,optional"`
	WaitTimeout  string `hcl:"wait_timeout,optional"`
}

type eventsBlock struct {
	SocketIOURL string `hcl:"socketio_url"`
	Namespace   string `hcl:"namespace,optional"`
}

type markersBlock struct {
	Endpoint  string `hcl:"endpoint"`
	Bucket    string `hcl:"bucket"`
	Region    string `hcl:"region,optional"`
	Prefix    string `hcl:"prefix,optional"`
	AccessKey string `hcl:"access_key,optional"`
	SecretKey string `hcl:"secret_key,optional"`
	UseSSL    bool   `hcl:"use_ssl,optional"`
}

// jobBlock keeps args, kwargs and level as expressions so that omitted
// attributes can be told apart from zero values.
type jobBlock struct {
	Name     string         `hcl:"name,label"`
	Function string         `hcl:"function"`
	Args     hcl.Expression `hcl:"args,optional"`
	Kwargs   hcl.Expression `hcl:"kwargs,optional"`
	Level    hcl.Expression `hcl:"level,optional"`
}

type stageBlock struct {
	Name      string         `hcl:"name,label"`
	Function  string         `hcl:"function"`
	Args      hcl.Expression `hcl:"args,optional"`
	Kwargs    hcl.Expression `hcl:"kwargs,optional"`
	Marker    string         `hcl:"marker,optional"`
	Artifacts []string       `hcl:"artifacts,optional"`
	ErrorLog  string         `hcl:"error_log,optional"`
}
