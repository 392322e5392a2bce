package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/pflag"
)

// Result is returned by Run. JobID is only meaningful for non-blocking engines.
type Result interface {
	JobID() string
}

type JobResult struct {
	ID string
}

func (r JobResult) JobID() string { return r.ID }

// Engine executes a pipeline. Blocking engines return once the work is done;
// the others return as soon as the job is accepted.
type Engine interface {
	Run(ctx context.Context, p *Pipeline) (Result, error)
}

var ErrEmptyPipeline = errors.New("pipeline has no attached graph")

// Registry maps runner names to engines.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

func NewRegistry() *Registry {
	return &Registry{engines: map[string]Engine{}}
}

// Register adds or replaces the engine for runner.
func (r *Registry) Register(runner string, engine Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[runner] = engine
}

func (r *Registry) Get(runner string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.engines[runner]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("no engine registered for runner %q", runner)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.engines))
	for name := range r.engines {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Pipeline is a shell of options plus the graphs attached to it.
type Pipeline struct {
	opts   Options
	engine Engine
	graphs []Graph
}

// New builds an empty pipeline for opts. argv is parsed for option overrides
// in --name=value form; pass an empty slice when options are already fully
// resolved.
func (r *Registry) New(opts Options, argv []string) (*Pipeline, error) {
	if len(argv) > 0 {
		if err := parseArgs(&opts, argv); err != nil {
			return nil, err
		}
	}
	engine, err := r.Get(opts.Runner)
	if err != nil {
		return nil, err
	}
	return &Pipeline{opts: opts, engine: engine}, nil
}

func parseArgs(opts *Options, argv []string) error {
	fs := pflag.NewFlagSet("pipeline", pflag.ContinueOnError)
	fs.StringVar(&opts.Runner, "runner", opts.Runner, "engine to run on")
	fs.StringVar(&opts.JobName, "job_name", opts.JobName, "job name")
	fs.StringVar(&opts.Project, "project", opts.Project, "cloud project")
	fs.StringVar(&opts.Region, "region", opts.Region, "cloud region")
	fs.StringVar(&opts.TempLocation, "temp_location", opts.TempLocation, "staging location")
	fs.StringVar(&opts.MachineType, "machine_type", opts.MachineType, "worker machine type")
	fs.BoolVar(&opts.UsePublicIPs, "use_public_ips", opts.UsePublicIPs, "give workers public IPs")
	fs.IntVar(&opts.MaxWorkers, "max_num_workers", opts.MaxWorkers, "worker ceiling")
	fs.IntVar(&opts.NumWorkers, "direct_num_workers", opts.NumWorkers, "direct engine parallelism")
	fs.StringVar(&opts.RunningMode, "direct_running_mode", opts.RunningMode, "direct engine mode")
	fs.StringVar(&opts.SDKContainerImage, "sdk_container_image", opts.SDKContainerImage, "container image")
	fs.StringSliceVar(&opts.Experiments, "experiments", opts.Experiments, "engine experiments")
	if err := fs.Parse(argv); err != nil {
		return fmt.Errorf("parse pipeline args: %w", err)
	}
	return nil
}

func (p *Pipeline) Options() Options { return p.opts }

func (p *Pipeline) Graphs() []Graph { return p.graphs }

// Attach adds g to the pipeline and returns the pipeline for chaining.
func (p *Pipeline) Attach(g Graph) *Pipeline {
	p.graphs = append(p.graphs, g)
	return p
}

func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	if len(p.graphs) == 0 {
		return nil, ErrEmptyPipeline
	}
	return p.engine.Run(ctx, p)
}
