package runner

import (
	"context"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/SyneHQ/forge-runner/pipeline"
)

const (
	RunningModeInProcess      = "in_process"
	RunningModeMultiThreading = "multi_threading"
)

// directEngine runs graphs in this process and returns when they are done.
type directEngine struct {
	log logrus.FieldLogger
}

func workers(opts pipeline.Options) int {
	if opts.RunningMode == RunningModeInProcess {
		return 1
	}
	if opts.NumWorkers > 0 {
		return opts.NumWorkers
	}
	return runtime.NumCPU()
}

func (d *directEngine) Run(ctx context.Context, p *pipeline.Pipeline) (pipeline.Result, error) {
	opts := p.Options()
	limit := workers(opts)
	for _, g := range p.Graphs() {
		for _, t := range g.Transforms {
			d.log.WithFields(logrus.Fields{
				"job_name":  opts.JobName,
				"graph":     g.Name,
				"transform": t.Name,
				"tasks":     len(t.Tasks),
			}).Debug("running transform")

			eg, egCtx := errgroup.WithContext(ctx)
			eg.SetLimit(limit)
			for _, task := range t.Tasks {
				eg.Go(func() error { return task(egCtx) })
			}
			if err := eg.Wait(); err != nil {
				return nil, fmt.Errorf("%s/%s: %w", g.Name, t.Name, err)
			}
		}
	}
	return pipeline.JobResult{}, nil
}
