package recipe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/SyneHQ/forge-runner/pipeline"
	"github.com/SyneHQ/forge-runner/storage"
)

// PruneKeep is how many inputs a pruned recipe keeps.
const PruneKeep = 2

const metadataKey = "inputs.json"

var ErrNoStorage = errors.New("recipe storage config not set")

// FilePatternRecipe caches a list of input files, records an index of them in
// the metadata cache and copies them into the target.
type FilePatternRecipe struct {
	ID            string   `json:"id" yaml:"id"`
	FilePattern   []string `json:"file_pattern" yaml:"file_pattern"`
	NItemsPerFile int      `json:"nitems_per_file,omitempty" yaml:"nitems_per_file"`

	storage    storage.Config
	hasStorage bool
}

func (r *FilePatternRecipe) SHA256() []byte {
	data, _ := json.Marshal(struct {
		ID            string   `json:"id"`
		FilePattern   []string `json:"file_pattern"`
		NItemsPerFile int      `json:"nitems_per_file"`
	}{r.ID, r.FilePattern, r.NItemsPerFile})
	sum := sha256.Sum256(data)
	return sum[:]
}

func (r *FilePatternRecipe) CopyPruned() Recipe {
	keep := r.FilePattern
	if len(keep) > PruneKeep {
		keep = keep[:PruneKeep]
	}
	pruned := *r
	pruned.FilePattern = append([]string(nil), keep...)
	return &pruned
}

func (r *FilePatternRecipe) SetStorageConfig(cfg storage.Config) {
	r.storage = cfg
	r.hasStorage = true
}

// graphSpec is what remote engines ship to rebuild the graph.
type graphSpec struct {
	Recipe  *FilePatternRecipe `json:"recipe"`
	Storage storage.Config     `json:"storage"`
}

func (r *FilePatternRecipe) ToGraph() (pipeline.Graph, error) {
	if !r.hasStorage {
		return pipeline.Graph{}, fmt.Errorf("%s: %w", r.ID, ErrNoStorage)
	}
	spec, err := json.Marshal(graphSpec{Recipe: r, Storage: r.storage})
	if err != nil {
		return pipeline.Graph{}, err
	}

	cacheTasks := make([]pipeline.Task, 0, len(r.FilePattern))
	storeTasks := make([]pipeline.Task, 0, len(r.FilePattern))
	for i, url := range r.FilePattern {
		cacheTasks = append(cacheTasks, r.cacheInput(url))
		storeTasks = append(storeTasks, r.storeInput(i, url))
	}

	return pipeline.Graph{
		Name: r.ID,
		Transforms: []pipeline.Transform{
			{Name: "cache-inputs", Tasks: cacheTasks},
			{Name: "write-metadata", Tasks: []pipeline.Task{r.writeMetadata}},
			{Name: "store-to-target", Tasks: storeTasks},
		},
		Spec: spec,
	}, nil
}

// GraphFromSpec rebuilds a graph from the Spec of a graph built by ToGraph.
func GraphFromSpec(spec json.RawMessage) (pipeline.Graph, error) {
	var gs graphSpec
	if err := json.Unmarshal(spec, &gs); err != nil {
		return pipeline.Graph{}, fmt.Errorf("decode graph spec: %w", err)
	}
	if gs.Recipe == nil || gs.Recipe.ID == "" {
		return pipeline.Graph{}, errors.New("graph spec has no recipe")
	}
	gs.Recipe.SetStorageConfig(gs.Storage)
	return gs.Recipe.ToGraph()
}

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8]) + "-" + path.Base(url)
}

func (r *FilePatternRecipe) cacheInput(url string) pipeline.Task {
	return func(ctx context.Context) error {
		cache, err := r.storage.InputCache.Open(ctx)
		if err != nil {
			return fmt.Errorf("open input cache: %w", err)
		}
		key := cacheKey(url)
		ok, err := cache.Exists(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		body, size, err := openInput(ctx, url)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", url, err)
		}
		defer body.Close()
		return cache.Put(ctx, key, body, size)
	}
}

type inputIndex struct {
	Recipe string       `json:"recipe"`
	Inputs []inputEntry `json:"inputs"`
}

type inputEntry struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Key   string `json:"key"`
}

func (r *FilePatternRecipe) writeMetadata(ctx context.Context) error {
	meta, err := r.storage.MetadataCache.Open(ctx)
	if err != nil {
		return fmt.Errorf("open metadata cache: %w", err)
	}
	idx := inputIndex{Recipe: r.ID}
	for i, url := range r.FilePattern {
		idx.Inputs = append(idx.Inputs, inputEntry{Index: i, URL: url, Key: cacheKey(url)})
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return meta.Put(ctx, metadataKey, strings.NewReader(string(data)), int64(len(data)))
}

func (r *FilePatternRecipe) storeInput(i int, url string) pipeline.Task {
	return func(ctx context.Context) error {
		cache, err := r.storage.InputCache.Open(ctx)
		if err != nil {
			return fmt.Errorf("open input cache: %w", err)
		}
		target, err := r.storage.Target.Open(ctx)
		if err != nil {
			return fmt.Errorf("open target: %w", err)
		}
		body, err := cache.Get(ctx, cacheKey(url))
		if err != nil {
			return err
		}
		defer body.Close()
		return target.Put(ctx, fmt.Sprintf("%04d-%s", i, path.Base(url)), body, -1)
	}
}

// openInput reads http(s) URLs over the network and anything else from the
// local filesystem.
func openInput(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, 0, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, 0, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, 0, fmt.Errorf("unexpected status %s", resp.Status)
		}
		return resp.Body, resp.ContentLength, nil
	}
	f, err := os.Open(strings.TrimPrefix(url, "file://"))
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, st.Size(), nil
}
