package runner

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SyneHQ/forge-runner/pipeline"
	"github.com/SyneHQ/forge-runner/shell"
)

func TestEnginesRegistersEveryRunner(t *testing.T) {
	logger, _ := test.NewNullLogger()
	reg := Engines(&shell.MockExecutor{}, logger)
	assert.ElementsMatch(t, []string{DirectRunner, DockerRunner, DataflowRunner, CloudRunRunner}, reg.Names())
}

func TestDirectEngineRunsTransformsInOrder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	reg := Engines(&shell.MockExecutor{}, logger)

	var order []string
	var cached atomic.Int32
	g := pipeline.Graph{
		Name: "gpcp",
		Transforms: []pipeline.Transform{
			{Name: "cache", Tasks: []pipeline.Task{
				func(context.Context) error { cached.Add(1); return nil },
				func(context.Context) error { cached.Add(1); return nil },
				func(context.Context) error { cached.Add(1); return nil },
			}},
			{Name: "store", Tasks: []pipeline.Task{
				func(context.Context) error {
					order = append(order, "store")
					assert.Equal(t, int32(3), cached.Load(), "previous transform finished first")
					return nil
				},
			}},
		},
	}

	p, err := reg.New(pipeline.Options{Runner: DirectRunner, NumWorkers: 2}, []string{})
	require.NoError(t, err)
	res, err := p.Attach(g).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.JobID())
	assert.Equal(t, []string{"store"}, order)
}

func TestDirectEngineStopsOnError(t *testing.T) {
	logger, _ := test.NewNullLogger()
	reg := Engines(&shell.MockExecutor{}, logger)
	boom := errors.New("boom")
	ran := false
	g := pipeline.Graph{
		Name: "gpcp",
		Transforms: []pipeline.Transform{
			{Name: "cache", Tasks: []pipeline.Task{func(context.Context) error { return boom }}},
			{Name: "store", Tasks: []pipeline.Task{func(context.Context) error { ran = true; return nil }}},
		},
	}
	p, err := reg.New(pipeline.Options{Runner: DirectRunner}, nil)
	require.NoError(t, err)
	_, err = p.Attach(g).Run(context.Background())
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "gpcp/cache")
	assert.False(t, ran)
}

func TestWorkers(t *testing.T) {
	assert.Equal(t, 1, workers(pipeline.Options{RunningMode: RunningModeInProcess, NumWorkers: 8}))
	assert.Equal(t, 8, workers(pipeline.Options{NumWorkers: 8}))
	assert.Positive(t, workers(pipeline.Options{}))
}

func TestDockerEngine(t *testing.T) {
	logger, _ := test.NewNullLogger()
	volume := filepath.Join(t.TempDir(), "target", "gpcp-abc-1700000000")
	var envFile string
	exec := &shell.MockExecutor{
		OutputFunc: func(_ string, _ string, arg ...string) ([]byte, error) {
			for i, a := range arg {
				if a == "--env-file" {
					data, err := os.ReadFile(arg[i+1])
					require.NoError(t, err)
					envFile = string(data)
				}
			}
			return nil, nil
		},
	}
	reg := Engines(exec, logger)

	opts := pipeline.Options{
		Runner:            DockerRunner,
		JobName:           "gpcp-abc-1700000000",
		SDKContainerImage: "pangeo/forge:8a862dc",
		Command:           "forge-runner",
		CPU:               "2",
		Memory:            "4g",
		Env:               map[string]string{"B": "2", "AWS_SECRET_ACCESS_KEY": "TOPSECRET"},
		Volumes:           []string{volume},
	}
	p, err := reg.New(opts, nil)
	require.NoError(t, err)
	_, err = p.Attach(pipeline.Graph{Name: "gpcp", Spec: json.RawMessage(`{"recipe":{"id":"gpcp"}}`)}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, exec.Commands, 1)
	cmd := exec.Commands[0]
	assert.Regexp(t, `^docker run --rm --name gpcp-abc-1700000000 --env-file \S+ -v `+regexp.QuoteMeta(volume+":"+volume)+` --memory 4g --cpus 2 pangeo/forge:8a862dc forge-runner execute `, cmd)
	assert.NotContains(t, cmd, "TOPSECRET")
	assert.Equal(t, "AWS_SECRET_ACCESS_KEY=TOPSECRET\nB=2\n", envFile)
	assert.DirExists(t, volume, "bind-mounted roots exist on the host before docker starts")
}

func TestDockerArgsWithoutEnv(t *testing.T) {
	args := dockerArgs(pipeline.Options{JobName: "a", SDKContainerImage: "img", Command: "forge-runner"}, "", "payload")
	assert.Equal(t, []string{"run", "--rm", "--name", "a", "img", "forge-runner", "execute", "payload"}, args)
}

func TestWriteEnvFileRejectsNewlines(t *testing.T) {
	_, err := writeEnvFile(map[string]string{"KEY": "line1\nline2"})
	assert.Error(t, err)
}

func TestDockerEngineNeedsSpec(t *testing.T) {
	logger, _ := test.NewNullLogger()
	exec := &shell.MockExecutor{}
	p, err := Engines(exec, logger).New(pipeline.Options{Runner: DockerRunner}, nil)
	require.NoError(t, err)
	_, err = p.Attach(pipeline.Graph{Name: "local"}).Run(context.Background())
	assert.True(t, errors.Is(err, pipeline.ErrNotShippable))
	assert.Empty(t, exec.Commands)
}

func TestLaunchRequest(t *testing.T) {
	opts := pipeline.Options{
		JobName:           "gpcp-abc-1",
		TempLocation:      "gs://tmp",
		MachineType:       "n1-highmem-2",
		Experiments:       []string{"use_runner_v2"},
		SDKContainerImage: "pangeo/forge:8a862dc",
		SaveMainSession:   true,
		PickleLibrary:     "cloudpickle",
		Labels:            map[string]string{"forge-recipe": "gpcp"},
	}
	req := launchRequest(opts, "payload")
	lp := req.LaunchParameter
	assert.Equal(t, "gpcp-abc-1", lp.JobName)
	assert.Equal(t, "pangeo/forge:8a862dc", lp.ContainerSpec.Image)
	assert.Equal(t, "payload", lp.Parameters["graph"])
	assert.Equal(t, "cloudpickle", lp.Parameters["pickle_library"])
	assert.Equal(t, "true", lp.Parameters["save_main_session"])
	assert.Equal(t, "WORKER_IP_PRIVATE", lp.Environment.IpConfiguration)
	assert.Equal(t, []string{"use_runner_v2"}, lp.Environment.AdditionalExperiments)
	assert.Equal(t, "gs://tmp", lp.Environment.TempLocation)
	assert.Equal(t, "gpcp", lp.Environment.AdditionalUserLabels["forge-recipe"])
}

func TestCloudRunJobID(t *testing.T) {
	long := "gpcp_v2-" + strings.Repeat("ab", 32) + "-1700000000"
	other := "gpcp_v2-" + strings.Repeat("ab", 32) + "-1700000001"

	id := cloudRunJobID(long)
	assert.LessOrEqual(t, len(id), 63)
	assert.NotContains(t, id, "_")
	assert.NotEqual(t, id, cloudRunJobID(other))

	assert.Equal(t, "job-123", cloudRunJobID("123"))
	assert.Equal(t, "short-name", cloudRunJobID("Short_Name"))
}

func TestToFiveFieldCron(t *testing.T) {
	assert.Equal(t, "0 * * * *", toFiveFieldCron("0 0 * * * *"))
	assert.Equal(t, "0 * * * *", toFiveFieldCron("0 * * * *"))
}

func TestEnvVarsSorted(t *testing.T) {
	vars := envVars(map[string]string{"B": "2", "A": "1"})
	require.Len(t, vars, 2)
	assert.Equal(t, "A", vars[0].GetName())
	assert.Equal(t, "1", vars[0].GetValue())
	assert.Nil(t, envVars(nil))
}

func TestCloudRunJobForRecipe(t *testing.T) {
	first := pipeline.Options{JobName: "gpcp-abc-1700000000", Labels: map[string]string{"forge-recipe": "gpcp"}}
	second := pipeline.Options{JobName: "gpcp-abc-1700000900", Labels: map[string]string{"forge-recipe": "gpcp"}}

	assert.Equal(t, "forge-gpcp", cloudRunJobFor(first))
	assert.Equal(t, cloudRunJobFor(first), cloudRunJobFor(second), "one job per recipe")
	assert.Equal(t, "gpcp-abc-1700000000", cloudRunJobFor(pipeline.Options{JobName: "gpcp-abc-1700000000"}))
}

func TestJobTemplateAndRunRequest(t *testing.T) {
	opts := pipeline.Options{
		SDKContainerImage:   "pangeo/forge:8a862dc",
		Command:             "forge-runner",
		CPU:                 "1",
		Memory:              "2Gi",
		ServiceAccountEmail: "forge@p.iam.gserviceaccount.com",
		Env:                 map[string]string{"AWS_ACCESS_KEY_ID": "AKIA"},
		Labels:              map[string]string{"forge-recipe": "gpcp"},
	}
	job := jobTemplate(opts, "payload-1")
	c := job.GetTemplate().GetTemplate().GetContainers()[0]
	assert.Equal(t, []string{"execute", "payload-1"}, c.GetArgs())
	assert.Equal(t, "2Gi", c.GetResources().GetLimits()["memory"])
	assert.Equal(t, "gpcp", job.GetLabels()["forge-recipe"])
	assert.Equal(t, "forge-runner", job.GetLabels()["managed-by"])
	assert.Empty(t, job.GetName(), "create requests leave the name to JobId")

	req := runRequest("projects/p/locations/r/jobs/forge-gpcp", "payload-2")
	require.Len(t, req.GetOverrides().GetContainerOverrides(), 1)
	assert.Equal(t, []string{"execute", "payload-2"}, req.GetOverrides().GetContainerOverrides()[0].GetArgs())
}
