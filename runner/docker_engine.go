package runner

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/SyneHQ/forge-runner/pipeline"
	"github.com/SyneHQ/forge-runner/shell"
)

// dockerEngine runs the pipeline inside its container image with
// `docker run` and waits for the container to exit.
type dockerEngine struct {
	exec shell.Executor
	log  logrus.FieldLogger
}

func (d *dockerEngine) Run(ctx context.Context, p *pipeline.Pipeline) (pipeline.Result, error) {
	opts := p.Options()
	payload, err := pipeline.EncodePayload(p.Graphs())
	if err != nil {
		return nil, err
	}

	for _, v := range opts.Volumes {
		if err := os.MkdirAll(v, 0o755); err != nil {
			return nil, fmt.Errorf("create volume %s: %w", v, err)
		}
	}

	envFile, err := writeEnvFile(opts.Env)
	if err != nil {
		return nil, err
	}
	if envFile != "" {
		defer os.Remove(envFile)
	}

	args := dockerArgs(opts, envFile, payload)
	out, err := d.exec.Output(ctx, "", "docker", args...)
	if err != nil {
		return nil, fmt.Errorf("local run failed: %w", err)
	}
	if s := strings.TrimSpace(string(out)); s != "" {
		d.log.WithField("job_name", opts.JobName).Debug(s)
	}
	return pipeline.JobResult{}, nil
}

// writeEnvFile keeps environment values out of the docker argv. It returns
// an empty path when there is nothing to pass.
func writeEnvFile(env map[string]string) (string, error) {
	if len(env) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		if strings.ContainsAny(env[k], "\r\n") {
			return "", fmt.Errorf("env %s: multi-line values are not supported by docker", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	f, err := os.CreateTemp("", "forge-env-*")
	if err != nil {
		return "", fmt.Errorf("create env file: %w", err)
	}
	for _, k := range keys {
		if _, err := fmt.Fprintf(f, "%s=%s\n", k, env[k]); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", fmt.Errorf("write env file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func dockerArgs(opts pipeline.Options, envFile, payload string) []string {
	args := []string{"run", "--rm", "--name", cloudRunJobID(opts.JobName)}

	if envFile != "" {
		args = append(args, "--env-file", envFile)
	}

	volumes := append([]string(nil), opts.Volumes...)
	sort.Strings(volumes)
	for _, v := range volumes {
		args = append(args, "-v", v+":"+v)
	}

	if opts.Memory != "" {
		args = append(args, "--memory", opts.Memory)
	}
	if opts.CPU != "" {
		args = append(args, "--cpus", opts.CPU)
	}

	return append(args, opts.SDKContainerImage, opts.Command, "execute", payload)
}
