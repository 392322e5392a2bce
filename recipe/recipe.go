package recipe

import (
	"github.com/SyneHQ/forge-runner/pipeline"
	"github.com/SyneHQ/forge-runner/storage"
)

// Recipe is a named, content-hashable unit of computation baked as one job.
type Recipe interface {
	// SHA256 hashes the recipe definition; equal definitions hash equally.
	SHA256() []byte
	// CopyPruned returns a reduced-scope copy for quick test bakes.
	CopyPruned() Recipe
	SetStorageConfig(cfg storage.Config)
	// ToGraph builds the computation to attach to a pipeline.
	ToGraph() (pipeline.Graph, error)
}

// Named pairs a recipe with the id it was declared under. Feedstocks return
// these in declaration order.
type Named struct {
	Name   string
	Recipe Recipe
}
