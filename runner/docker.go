package runner

import (
	"github.com/infisical/go-sdk/packages/models"

	config "github.com/SyneHQ/forge-runner"
	"github.com/SyneHQ/forge-runner/pipeline"
)

// LocalDockerBakery bakes inside the recipe container image on the local
// Docker daemon. Secrets are passed to the container as environment.
type LocalDockerBakery struct {
	CPUs    string
	Memory  string
	Command string
	Secrets []models.Secret
}

func NewLocalDockerBakery(cfg config.LocalDockerConfig, secrets []models.Secret) *LocalDockerBakery {
	return &LocalDockerBakery{CPUs: cfg.CPUs, Memory: cfg.Memory, Command: cfg.Command, Secrets: secrets}
}

func (d *LocalDockerBakery) Name() string { return LocalDocker }

func (d *LocalDockerBakery) Blocking() bool { return true }

func (d *LocalDockerBakery) PipelineOptions(jobName, containerImage string) (pipeline.Options, error) {
	if containerImage == "" {
		return pipeline.Options{}, config.Missing("LocalDockerBakery.container_image")
	}
	if d.Command == "" {
		return pipeline.Options{}, config.Missing("LocalDockerBakery.command")
	}
	return pipeline.Options{
		Runner:            DockerRunner,
		JobName:           jobName,
		SDKContainerImage: containerImage,
		Command:           d.Command,
		CPU:               d.CPUs,
		Memory:            d.Memory,
		Env:               secretEnv(d.Secrets),
	}, nil
}
