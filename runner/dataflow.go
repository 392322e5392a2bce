package runner

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	config "github.com/SyneHQ/forge-runner"
	"github.com/SyneHQ/forge-runner/pipeline"
	"github.com/SyneHQ/forge-runner/shell"
)

// Policy settings applied to every Dataflow job. They are not exposed as
// configuration.
var dataflowExperiments = []string{"use_runner_v2"}

const (
	dataflowPickleLibrary   = "cloudpickle"
	dataflowSaveMainSession = true
)

// DataflowBakery submits jobs to Google Cloud Dataflow. Jobs run detached;
// Run returns once Dataflow has accepted the job.
type DataflowBakery struct {
	ProjectID       string
	Region          string
	MachineType     string
	UsePublicIPs    bool
	TempBucket      string
	MaxWorkers      int
	CredentialsFile string
}

// NewDataflowBakery resolves cfg. An unset project id is looked up with
// gcloud; if that fails the project stays unset and PipelineOptions reports it.
func NewDataflowBakery(ctx context.Context, cfg config.DataflowConfig, exec shell.Executor, log logrus.FieldLogger) *DataflowBakery {
	b := &DataflowBakery{
		ProjectID:       cfg.ProjectID,
		Region:          cfg.Region,
		MachineType:     cfg.MachineType,
		UsePublicIPs:    cfg.UsePublicIPs,
		TempBucket:      cfg.TempBucket,
		MaxWorkers:      cfg.MaxWorkers,
		CredentialsFile: cfg.CredentialsFile,
	}
	if b.ProjectID == "" {
		b.ProjectID = defaultProjectID(ctx, exec, log)
	}
	return b
}

func defaultProjectID(ctx context.Context, exec shell.Executor, log logrus.FieldLogger) string {
	if exec == nil {
		return ""
	}
	if _, err := exec.LookPath("gcloud"); err != nil {
		log.WithError(err).Debug("gcloud not installed, no default project")
		return ""
	}
	out, err := exec.Output(ctx, "", "gcloud", "config", "get-value", "project")
	if err != nil {
		log.WithError(err).Debug("could not read default project from gcloud")
		return ""
	}
	return strings.TrimSpace(string(out))
}

func (d *DataflowBakery) Name() string { return Dataflow }

func (d *DataflowBakery) Blocking() bool { return false }

func (d *DataflowBakery) Remote() bool { return true }

func (d *DataflowBakery) PipelineOptions(jobName, containerImage string) (pipeline.Options, error) {
	if d.TempBucket == "" {
		return pipeline.Options{}, config.Missing("DataflowRunner.temp_bucket")
	}
	if d.ProjectID == "" {
		return pipeline.Options{}, config.Missing("DataflowRunner.project_id")
	}
	return pipeline.Options{
		Runner:            DataflowRunner,
		Project:           d.ProjectID,
		JobName:           jobName,
		TempLocation:      d.TempBucket,
		UsePublicIPs:      d.UsePublicIPs,
		Region:            d.Region,
		Experiments:       append([]string(nil), dataflowExperiments...),
		SDKContainerImage: containerImage,
		SaveMainSession:   dataflowSaveMainSession,
		PickleLibrary:     dataflowPickleLibrary,
		MachineType:       d.MachineType,
		MaxWorkers:        d.MaxWorkers,
		CredentialsFile:   d.CredentialsFile,
	}, nil
}
