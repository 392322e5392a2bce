package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	dataflow "google.golang.org/api/dataflow/v1b3"
	"google.golang.org/api/option"

	"github.com/SyneHQ/forge-runner/pipeline"
)

// dataflowEngine launches the container image as a Dataflow Flex Template job.
type dataflowEngine struct {
	clientOptions []option.ClientOption
	log           logrus.FieldLogger
}

func ipConfiguration(public bool) string {
	if public {
		return "WORKER_IP_PUBLIC"
	}
	return "WORKER_IP_PRIVATE"
}

func launchRequest(opts pipeline.Options, payload string) *dataflow.LaunchFlexTemplateRequest {
	return &dataflow.LaunchFlexTemplateRequest{
		LaunchParameter: &dataflow.LaunchFlexTemplateParameter{
			JobName: opts.JobName,
			ContainerSpec: &dataflow.ContainerSpec{
				Image:   opts.SDKContainerImage,
				SdkInfo: &dataflow.SDKInfo{Language: "PYTHON"},
			},
			Parameters: map[string]string{
				"graph":             payload,
				"pickle_library":    opts.PickleLibrary,
				"save_main_session": strconv.FormatBool(opts.SaveMainSession),
			},
			Environment: &dataflow.FlexTemplateRuntimeEnvironment{
				TempLocation:          opts.TempLocation,
				StagingLocation:       opts.TempLocation,
				MachineType:           opts.MachineType,
				MaxWorkers:            int64(opts.MaxWorkers),
				IpConfiguration:       ipConfiguration(opts.UsePublicIPs),
				AdditionalExperiments: opts.Experiments,
				SdkContainerImage:     opts.SDKContainerImage,
				AdditionalUserLabels:  opts.Labels,
			},
		},
	}
}

func (d *dataflowEngine) Run(ctx context.Context, p *pipeline.Pipeline) (pipeline.Result, error) {
	opts := p.Options()
	payload, err := pipeline.EncodePayload(p.Graphs())
	if err != nil {
		return nil, err
	}

	clientOpts := append([]option.ClientOption(nil), d.clientOptions...)
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	svc, err := dataflow.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("dataflow client: %w", err)
	}

	d.log.WithFields(logrus.Fields{
		"job_name": opts.JobName,
		"project":  opts.Project,
		"region":   opts.Region,
	}).Debug("launching flex template")
	resp, err := svc.Projects.Locations.FlexTemplates.
		Launch(opts.Project, opts.Region, launchRequest(opts, payload)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	if resp.Job == nil || resp.Job.Id == "" {
		return nil, errors.New("dataflow accepted the launch but returned no job")
	}
	return pipeline.JobResult{ID: resp.Job.Id}, nil
}
