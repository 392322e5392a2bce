package feedstock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/SyneHQ/forge-runner/recipe"
)

// MetaFile is the feedstock manifest, relative to the repository root.
const MetaFile = "feedstock/meta.yaml"

// Meta mirrors feedstock/meta.yaml.
type Meta struct {
	Title       string                      `yaml:"title"`
	Description string                      `yaml:"description"`
	Recipes     []*recipe.FilePatternRecipe `yaml:"recipes"`
}

// Feedstock is a fetched recipe repository on disk.
type Feedstock struct {
	Dir string
}

func New(dir string) *Feedstock {
	return &Feedstock{Dir: dir}
}

// ParseRecipes returns the recipes declared in meta.yaml, in declaration order.
func (f *Feedstock) ParseRecipes() ([]recipe.Named, error) {
	metaPath := filepath.Join(f.Dir, filepath.FromSlash(MetaFile))
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", MetaFile, err)
	}

	var meta Meta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", MetaFile, err)
	}
	if len(meta.Recipes) == 0 {
		return nil, fmt.Errorf("%s declares no recipes", MetaFile)
	}

	seen := make(map[string]bool, len(meta.Recipes))
	out := make([]recipe.Named, 0, len(meta.Recipes))
	for i, r := range meta.Recipes {
		if r == nil || r.ID == "" {
			return nil, fmt.Errorf("%s: recipe %d has no id", MetaFile, i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("%s: duplicate recipe id %q", MetaFile, r.ID)
		}
		if len(r.FilePattern) == 0 {
			return nil, errors.New(MetaFile + ": recipe " + r.ID + " has an empty file_pattern")
		}
		seen[r.ID] = true
		out = append(out, recipe.Named{Name: r.ID, Recipe: r})
	}
	return out, nil
}
