package runner

import (
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/SyneHQ/forge-runner/pipeline"
	"github.com/SyneHQ/forge-runner/shell"
)

// Engines returns a registry with an engine for every runner a bakery can
// select. clientOptions apply to all Google Cloud clients.
func Engines(exec shell.Executor, log logrus.FieldLogger, clientOptions ...option.ClientOption) *pipeline.Registry {
	reg := pipeline.NewRegistry()
	reg.Register(DirectRunner, &directEngine{log: log})
	reg.Register(DockerRunner, &dockerEngine{exec: exec, log: log})
	reg.Register(DataflowRunner, &dataflowEngine{clientOptions: clientOptions, log: log})
	reg.Register(CloudRunRunner, &cloudRunEngine{clientOptions: clientOptions, log: log})
	return reg
}
