package runner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	run "cloud.google.com/go/run/apiv2"
	rpb "cloud.google.com/go/run/apiv2/runpb"
	"github.com/infisical/go-sdk/packages/models"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	config "github.com/SyneHQ/forge-runner"
	"github.com/SyneHQ/forge-runner/pipeline"
)

// CloudRunBakery bakes each recipe as a Cloud Run job running the container
// image. Jobs run detached.
type CloudRunBakery struct {
	ProjectID           string
	Region              string
	CPU                 string
	Memory              string
	ServiceAccountEmail string
	Schedule            string
	Command             string
	CredentialsFile     string
	Secrets             []models.Secret
}

func NewCloudRunBakery(cfg config.CloudRunConfig, secrets []models.Secret) *CloudRunBakery {
	return &CloudRunBakery{
		ProjectID:           cfg.ProjectID,
		Region:              cfg.Region,
		CPU:                 cfg.CPU,
		Memory:              cfg.Memory,
		ServiceAccountEmail: cfg.ServiceAccountEmail,
		Schedule:            cfg.Schedule,
		Command:             cfg.Command,
		CredentialsFile:     cfg.CredentialsFile,
		Secrets:             secrets,
	}
}

func (c *CloudRunBakery) Name() string { return CloudRun }

func (c *CloudRunBakery) Blocking() bool { return false }

func (c *CloudRunBakery) Remote() bool { return true }

func (c *CloudRunBakery) PipelineOptions(jobName, containerImage string) (pipeline.Options, error) {
	if c.ProjectID == "" {
		return pipeline.Options{}, config.Missing("CloudRunBakery.project_id")
	}
	if c.Region == "" {
		return pipeline.Options{}, config.Missing("CloudRunBakery.region")
	}
	if c.Schedule != "" && c.ServiceAccountEmail == "" {
		return pipeline.Options{}, &config.ConfigurationError{
			Setting: "CloudRunBakery.service_account_email",
			Reason:  "must be set when schedule is set",
		}
	}
	return pipeline.Options{
		Runner:              CloudRunRunner,
		JobName:             jobName,
		Project:             c.ProjectID,
		Region:              c.Region,
		SDKContainerImage:   containerImage,
		Command:             c.Command,
		CPU:                 c.CPU,
		Memory:              c.Memory,
		ServiceAccountEmail: c.ServiceAccountEmail,
		Schedule:            c.Schedule,
		Env:                 secretEnv(c.Secrets),
		CredentialsFile:     c.CredentialsFile,
	}, nil
}

// cloudRunEngine creates one Cloud Run job per pipeline and starts an
// execution of it.
type cloudRunEngine struct {
	clientOptions []option.ClientOption
	log           logrus.FieldLogger
}

func (c *cloudRunEngine) options(opts pipeline.Options) []option.ClientOption {
	out := append([]option.ClientOption(nil), c.clientOptions...)
	if opts.CredentialsFile != "" {
		out = append(out, option.WithCredentialsFile(opts.CredentialsFile))
	}
	return out
}

func parent(opts pipeline.Options) string {
	return fmt.Sprintf("projects/%s/locations/%s", opts.Project, opts.Region)
}

func cloudRunJobName(opts pipeline.Options, id string) string {
	return fmt.Sprintf("%s/jobs/%s", parent(opts), id)
}

// cloudRunJobID maps a job name onto Cloud Run's id rules: lowercase letters,
// digits and hyphens, starting with a letter, at most 63 characters. Long
// names keep a hash suffix so distinct job names stay distinct.
func cloudRunJobID(jobName string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(jobName) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	id := b.String()
	if id == "" || id[0] < 'a' || id[0] > 'z' {
		id = "job-" + id
	}
	if len(id) > 63 {
		sum := sha256.Sum256([]byte(jobName))
		id = strings.TrimRight(id[:50], "-") + "-" + hex.EncodeToString(sum[:])[:12]
	}
	return strings.TrimRight(id, "-")
}

// RecipeLabel is the pipeline label naming the recipe a job belongs to.
const RecipeLabel = "forge-recipe"

// cloudRunJobFor returns the Cloud Run job id for opts. Submissions of one
// recipe share a job; each bake starts a new execution of it.
func cloudRunJobFor(opts pipeline.Options) string {
	if r := opts.Labels[RecipeLabel]; r != "" {
		return cloudRunJobID("forge-" + r)
	}
	return cloudRunJobID(opts.JobName)
}

func jobTemplate(opts pipeline.Options, payload string) *rpb.Job {
	container := &rpb.Container{
		Image:   opts.SDKContainerImage,
		Command: []string{opts.Command},
		Args:    []string{"execute", payload},
		Env:     envVars(opts.Env),
	}
	limits := map[string]string{}
	if opts.CPU != "" {
		limits["cpu"] = opts.CPU
	}
	if opts.Memory != "" {
		limits["memory"] = opts.Memory
	}
	if len(limits) > 0 {
		container.Resources = &rpb.ResourceRequirements{Limits: limits}
	}

	labels := map[string]string{"managed-by": "forge-runner"}
	for k, v := range opts.Labels {
		labels[k] = v
	}
	return &rpb.Job{
		Labels: labels,
		Template: &rpb.ExecutionTemplate{
			Template: &rpb.TaskTemplate{
				Containers:     []*rpb.Container{container},
				Retries:        &rpb.TaskTemplate_MaxRetries{MaxRetries: 3},
				Timeout:        &durationpb.Duration{Seconds: 24 * 60 * 60},
				ServiceAccount: opts.ServiceAccountEmail,
			},
		},
	}
}

// upsertJob creates the job or replaces its template so scheduled re-runs
// use the latest image, settings and payload.
func (c *cloudRunEngine) upsertJob(ctx context.Context, client *run.JobsClient, id string, opts pipeline.Options, payload string) error {
	name := cloudRunJobName(opts, id)
	job := jobTemplate(opts, payload)

	// Check if job exists
	if _, err := client.GetJob(ctx, &rpb.GetJobRequest{Name: name}); err != nil {
		if status.Code(err) != codes.NotFound {
			return err
		}
		op, err := client.CreateJob(ctx, &rpb.CreateJobRequest{Parent: parent(opts), Job: job, JobId: id})
		if err != nil {
			return err
		}
		_, err = op.Wait(ctx)
		return err
	}

	job.Name = name
	op, err := client.UpdateJob(ctx, &rpb.UpdateJobRequest{Job: job})
	if err != nil {
		return err
	}
	_, err = op.Wait(ctx)
	return err
}

// runRequest pins the execution to its own payload even if the job template
// is replaced again before the execution starts.
func runRequest(name string, payload string) *rpb.RunJobRequest {
	return &rpb.RunJobRequest{
		Name: name,
		Overrides: &rpb.RunJobRequest_Overrides{
			ContainerOverrides: []*rpb.RunJobRequest_Overrides_ContainerOverride{
				{Args: []string{"execute", payload}},
			},
		},
	}
}

func (c *cloudRunEngine) Run(ctx context.Context, p *pipeline.Pipeline) (pipeline.Result, error) {
	opts := p.Options()
	payload, err := pipeline.EncodePayload(p.Graphs())
	if err != nil {
		return nil, err
	}

	client, err := run.NewJobsClient(ctx, c.options(opts)...)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	id := cloudRunJobFor(opts)
	if err := c.upsertJob(ctx, client, id, opts, payload); err != nil {
		return nil, fmt.Errorf("upsert cloud run job %s: %w", id, err)
	}

	if opts.Schedule != "" {
		if err := c.upsertSchedule(ctx, opts, id); err != nil {
			return nil, fmt.Errorf("schedule cloud run job %s: %w", id, err)
		}
	}

	op, err := client.RunJob(ctx, runRequest(cloudRunJobName(opts, id), payload))
	if err != nil {
		return nil, err
	}
	// The operation completes with the execution; its metadata names it.
	exec, err := op.Metadata()
	if err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"job_name": opts.JobName, "cloud_run_job": id}).Debug("started execution")
	if exec.GetName() != "" {
		return pipeline.JobResult{ID: exec.GetName()}, nil
	}
	return pipeline.JobResult{ID: op.Name()}, nil
}

func envVars(env map[string]string) []*rpb.EnvVar {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*rpb.EnvVar, 0, len(keys))
	for _, k := range keys {
		out = append(out, &rpb.EnvVar{
			Name:   k,
			Values: &rpb.EnvVar_Value{Value: env[k]},
		})
	}
	return out
}
