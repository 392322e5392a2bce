package runner

import (
	"context"
	"fmt"

	"github.com/infisical/go-sdk/packages/models"
	"github.com/sirupsen/logrus"

	config "github.com/SyneHQ/forge-runner"
	"github.com/SyneHQ/forge-runner/pipeline"
	"github.com/SyneHQ/forge-runner/shell"
)

// Bakery names accepted in bake.bakery.
const (
	LocalDirect = "local-direct"
	LocalDocker = "local-docker"
	Dataflow    = "dataflow"
	CloudRun    = "cloud-run"
)

// Runner names carried in pipeline.Options.Runner.
const (
	DirectRunner   = "DirectRunner"
	DockerRunner   = "DockerRunner"
	DataflowRunner = "DataflowRunner"
	CloudRunRunner = "CloudRunRunner"
)

// Bakery translates resolved settings into pipeline options for one
// execution backend.
type Bakery interface {
	Name() string
	// PipelineOptions returns a fresh options bundle for one job. Mandatory
	// settings are checked here and reported as *config.ConfigurationError.
	PipelineOptions(jobName, containerImage string) (pipeline.Options, error)
	// Blocking reports whether running a pipeline waits for the job to finish.
	Blocking() bool
}

// IsRemote reports whether b runs jobs away from this host, where local
// file storage is unreachable.
func IsRemote(b Bakery) bool {
	r, ok := b.(interface{ Remote() bool })
	return ok && r.Remote()
}

type Deps struct {
	Exec    shell.Executor
	Secrets []models.Secret
	Log     logrus.FieldLogger
}

// New constructs the bakery named in cfg.Bake.Bakery. It does not validate
// bakery settings; that happens in PipelineOptions.
func New(ctx context.Context, cfg *config.Config, deps Deps) (Bakery, error) {
	switch cfg.Bake.Bakery {
	case LocalDirect, "":
		return NewLocalDirectBakery(cfg.LocalDirect), nil
	case LocalDocker:
		return NewLocalDockerBakery(cfg.LocalDocker, deps.Secrets), nil
	case Dataflow:
		return NewDataflowBakery(ctx, cfg.Dataflow, deps.Exec, deps.Log), nil
	case CloudRun:
		return NewCloudRunBakery(cfg.CloudRun, deps.Secrets), nil
	default:
		return nil, &config.ConfigurationError{
			Setting: "bake.bakery",
			Reason:  fmt.Sprintf("unknown bakery %q", cfg.Bake.Bakery),
		}
	}
}

func secretEnv(secrets []models.Secret) map[string]string {
	if len(secrets) == 0 {
		return nil
	}
	env := make(map[string]string, len(secrets))
	for _, s := range secrets {
		env[s.SecretKey] = s.SecretValue
	}
	return env
}
