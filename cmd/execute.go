package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SyneHQ/forge-runner/pipeline"
	"github.com/SyneHQ/forge-runner/recipe"
	"github.com/SyneHQ/forge-runner/runner"
)

var executeCmd = &cobra.Command{
	Use:    "execute <payload>",
	Short:  "Run an encoded recipe graph in this process",
	Long:   `Decode a graph payload produced by a remote bakery and run it with the direct engine. Container images invoke this command.`,
	Args:   cobra.ExactArgs(1),
	Hidden: true,
	RunE:   runExecute,
}

func runExecute(cmd *cobra.Command, args []string) error {
	specs, err := pipeline.DecodePayload(args[0])
	if err != nil {
		return err
	}

	reg := runner.Engines(nil, logger)
	p, err := reg.New(pipeline.Options{
		Runner:      runner.DirectRunner,
		NumWorkers:  cfg.LocalDirect.NumWorkers,
		RunningMode: cfg.LocalDirect.RunningMode,
	}, []string{})
	if err != nil {
		return err
	}
	for i, spec := range specs {
		g, err := recipe.GraphFromSpec(spec)
		if err != nil {
			return fmt.Errorf("graph %d: %w", i, err)
		}
		p.Attach(g)
		logger.WithField("status", "running").Infof("Executing %s", g.Name)
	}

	_, err = p.Run(cmd.Context())
	return err
}
