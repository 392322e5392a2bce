package runner

import (
	config "github.com/SyneHQ/forge-runner"
	"github.com/SyneHQ/forge-runner/pipeline"
)

// LocalDirectBakery bakes in this process with the direct engine. It needs no
// Docker and no cloud account, which makes it the default for testing recipes.
type LocalDirectBakery struct {
	NumWorkers  int
	RunningMode string
}

func NewLocalDirectBakery(cfg config.LocalDirectConfig) *LocalDirectBakery {
	return &LocalDirectBakery{NumWorkers: cfg.NumWorkers, RunningMode: cfg.RunningMode}
}

func (l *LocalDirectBakery) Name() string { return LocalDirect }

func (l *LocalDirectBakery) Blocking() bool { return true }

func (l *LocalDirectBakery) PipelineOptions(jobName, containerImage string) (pipeline.Options, error) {
	return pipeline.Options{
		Runner:            DirectRunner,
		JobName:           jobName,
		NumWorkers:        l.NumWorkers,
		RunningMode:       l.RunningMode,
		SDKContainerImage: containerImage,
		SaveMainSession:   true,
		PickleLibrary:     "cloudpickle",
	}, nil
}
