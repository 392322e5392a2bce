package recipe

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SyneHQ/forge-runner/pipeline"
	"github.com/SyneHQ/forge-runner/storage"
)

func writeInputs(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	var urls []string
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, "input-"+string(rune('a'+i))+".nc")
		require.NoError(t, os.WriteFile(p, []byte("data-"+string(rune('a'+i))), 0o644))
		urls = append(urls, p)
	}
	return urls
}

func localStorage(t *testing.T) storage.Config {
	return storage.Config{
		Target:        storage.Target{Class: storage.ClassFile, Root: t.TempDir()},
		InputCache:    storage.Target{Class: storage.ClassFile, Root: t.TempDir()},
		MetadataCache: storage.Target{Class: storage.ClassFile, Root: t.TempDir()},
	}
}

func runGraph(t *testing.T, r Recipe) {
	t.Helper()
	g, err := r.ToGraph()
	require.NoError(t, err)
	ctx := context.Background()
	for _, tr := range g.Transforms {
		for _, task := range tr.Tasks {
			require.NoError(t, task(ctx), tr.Name)
		}
	}
}

func TestSHA256StableAndContentSensitive(t *testing.T) {
	a := &FilePatternRecipe{ID: "gpcp", FilePattern: []string{"a", "b"}}
	b := &FilePatternRecipe{ID: "gpcp", FilePattern: []string{"a", "b"}}
	c := &FilePatternRecipe{ID: "gpcp", FilePattern: []string{"a", "c"}}

	assert.Len(t, a.SHA256(), 32)
	assert.Equal(t, a.SHA256(), b.SHA256())
	assert.NotEqual(t, a.SHA256(), c.SHA256())

	b.SetStorageConfig(localStorage(t))
	assert.Equal(t, a.SHA256(), b.SHA256(), "storage does not change the definition hash")
}

func TestCopyPruned(t *testing.T) {
	r := &FilePatternRecipe{ID: "gpcp", FilePattern: []string{"a", "b", "c", "d"}}
	pruned := r.CopyPruned().(*FilePatternRecipe)

	assert.Equal(t, []string{"a", "b"}, pruned.FilePattern)
	assert.Len(t, r.FilePattern, 4, "original untouched")
	assert.NotEqual(t, r.SHA256(), pruned.SHA256())

	short := &FilePatternRecipe{ID: "x", FilePattern: []string{"a"}}
	assert.Equal(t, []string{"a"}, short.CopyPruned().(*FilePatternRecipe).FilePattern)
}

func TestToGraphNeedsStorage(t *testing.T) {
	_, err := (&FilePatternRecipe{ID: "x"}).ToGraph()
	assert.True(t, errors.Is(err, ErrNoStorage))
}

func TestGraphRunsEndToEnd(t *testing.T) {
	urls := writeInputs(t, 3)
	st := localStorage(t)
	r := &FilePatternRecipe{ID: "gpcp", FilePattern: urls}
	r.SetStorageConfig(st)

	g, err := r.ToGraph()
	require.NoError(t, err)
	require.Len(t, g.Transforms, 3)
	assert.Equal(t, "cache-inputs", g.Transforms[0].Name)
	assert.Len(t, g.Transforms[0].Tasks, 3)

	runGraph(t, r)

	out, err := os.ReadFile(filepath.Join(st.Target.Root, "0001-input-b.nc"))
	require.NoError(t, err)
	assert.Equal(t, "data-b", string(out))

	meta, err := os.ReadFile(filepath.Join(st.MetadataCache.Root, metadataKey))
	require.NoError(t, err)
	var idx inputIndex
	require.NoError(t, json.Unmarshal(meta, &idx))
	assert.Equal(t, "gpcp", idx.Recipe)
	assert.Len(t, idx.Inputs, 3)

	_, err = os.Stat(filepath.Join(st.InputCache.Root, cacheKey(urls[2])))
	require.NoError(t, err)
}

func TestGraphFromSpec(t *testing.T) {
	urls := writeInputs(t, 1)
	st := localStorage(t)
	r := &FilePatternRecipe{ID: "gpcp", FilePattern: urls}
	r.SetStorageConfig(st)

	g, err := r.ToGraph()
	require.NoError(t, err)

	rebuilt, err := GraphFromSpec(g.Spec)
	require.NoError(t, err)
	assert.Equal(t, "gpcp", rebuilt.Name)
	assert.JSONEq(t, string(g.Spec), string(rebuilt.Spec))

	_, err = GraphFromSpec(json.RawMessage(`{"storage":{}}`))
	require.Error(t, err)
}

func TestCacheInputMissingFile(t *testing.T) {
	r := &FilePatternRecipe{ID: "gpcp", FilePattern: []string{filepath.Join(t.TempDir(), "missing.nc")}}
	r.SetStorageConfig(localStorage(t))
	g, err := r.ToGraph()
	require.NoError(t, err)
	require.Error(t, g.Transforms[0].Tasks[0](context.Background()))
}

func TestShippedGraphCarriesNoCredentials(t *testing.T) {
	r := &FilePatternRecipe{ID: "gpcp", FilePattern: []string{"https://example.org/1.nc"}}
	s3 := storage.Target{Class: storage.ClassS3, Root: "s3://bucket/gpcp", Args: map[string]string{
		"endpoint":   "minio:9000",
		"access_key": "AKIA",
		"secret_key": "TOPSECRET",
	}}
	r.SetStorageConfig(storage.Config{Target: s3, InputCache: s3, MetadataCache: s3})

	g, err := r.ToGraph()
	require.NoError(t, err)
	payload, err := pipeline.EncodePayload([]pipeline.Graph{g})
	require.NoError(t, err)

	specs, err := pipeline.DecodePayload(payload)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.NotContains(t, string(specs[0]), "TOPSECRET")
	assert.NotContains(t, string(specs[0]), "AKIA")
	assert.Contains(t, string(specs[0]), "minio:9000")
}
