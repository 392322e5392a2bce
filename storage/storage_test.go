package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/SyneHQ/forge-runner"
)

func TestGetForgeTargetSubstitutesJobName(t *testing.T) {
	s := FromConfig("TargetStorage", config.StorageConfig{
		Class:    "gcs",
		RootPath: "gs://bucket/output/{job_name}",
		Args:     map[string]string{"credentials_file": "/key.json"},
	})

	target, err := s.GetForgeTarget("gpcp-abc-1700000000")
	require.NoError(t, err)
	assert.Equal(t, ClassGCS, target.Class)
	assert.Equal(t, "gs://bucket/output/gpcp-abc-1700000000", target.Root)
	assert.Equal(t, "/key.json", target.Args["credentials_file"])
}

func TestGetForgeTargetDefaultsToFile(t *testing.T) {
	target, err := Settings{Name: "InputCacheStorage", RootPath: "/tmp/cache"}.GetForgeTarget("job")
	require.NoError(t, err)
	assert.Equal(t, ClassFile, target.Class)
	assert.Equal(t, "/tmp/cache", target.Root)
}

func TestGetForgeTargetRequiresRoot(t *testing.T) {
	_, err := Settings{Name: "TargetStorage"}.GetForgeTarget("job")
	require.Error(t, err)
	assert.True(t, config.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "TargetStorage.root_path")
}

func TestSettingsStringHidesArgValues(t *testing.T) {
	s := Settings{Name: "TargetStorage", Class: "s3", RootPath: "s3://b/{job_name}",
		Args: map[string]string{"secret_key": "hunter2", "endpoint": "minio:9000"}}
	out := s.String()
	assert.Contains(t, out, "secret_key")
	assert.NotContains(t, out, "hunter2")
}

func TestSplitBucket(t *testing.T) {
	tests := []struct {
		root, bucket, prefix string
	}{
		{"s3://bucket/a/b", "bucket", "a/b"},
		{"gs://bucket", "bucket", ""},
		{"bucket/a/", "bucket", "a"},
		{"", "", ""},
	}
	for _, tt := range tests {
		b, p := splitBucket(tt.root)
		assert.Equal(t, tt.bucket, b, tt.root)
		assert.Equal(t, tt.prefix, p, tt.root)
	}
}

func TestLocalFS(t *testing.T) {
	ctx := context.Background()
	fsys, err := Target{Class: ClassFile, Root: t.TempDir()}.Open(ctx)
	require.NoError(t, err)

	ok, err := fsys.Exists(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = fsys.Get(ctx, "a/b.txt")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, fsys.Put(ctx, "a/b.txt", strings.NewReader("hello"), 5))

	ok, err = fsys.Exists(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := fsys.Get(ctx, "a/b.txt")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestOpenUnknownClass(t *testing.T) {
	_, err := Target{Class: "ftp", Root: "x"}.Open(context.Background())
	assert.True(t, config.IsConfigurationError(err))
}

func TestOpenS3NeedsBucket(t *testing.T) {
	_, err := Target{Class: ClassS3, Root: "s3://"}.Open(context.Background())
	assert.True(t, config.IsConfigurationError(err))
}

func TestOpenS3(t *testing.T) {
	fsys, err := Target{Class: ClassS3, Root: "s3://bucket/prefix",
		Args: map[string]string{"endpoint": "localhost:9000", "use_ssl": "false", "access_key": "a", "secret_key": "b"}}.
		Open(context.Background())
	require.NoError(t, err)
	s3, ok := fsys.(*s3FS)
	require.True(t, ok)
	assert.Equal(t, "bucket", s3.bucket)
	assert.Equal(t, "prefix", s3.prefix)
}

func TestGetForgeTargetMakesFileRootAbsolute(t *testing.T) {
	target, err := Settings{Name: "TargetStorage", RootPath: "file://out/{job_name}"}.GetForgeTarget("job")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(target.Root), target.Root)
	assert.Equal(t, "job", filepath.Base(target.Root))
}

func TestTargetJSONOmitsCredentials(t *testing.T) {
	cfg := Config{
		Target: Target{Class: ClassS3, Root: "s3://bucket/out", Args: map[string]string{
			"endpoint":   "minio:9000",
			"access_key": "AKIA",
			"secret_key": "TOPSECRET",
		}},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "TOPSECRET")
	assert.NotContains(t, string(data), "AKIA")
	assert.Contains(t, string(data), "minio:9000")

	// in-memory targets keep them for in-process runs
	assert.Equal(t, "TOPSECRET", cfg.Target.Args["secret_key"])

	var back Config
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, map[string]string{"endpoint": "minio:9000"}, back.Target.Args)
}

func TestCredentialEnv(t *testing.T) {
	creds := map[string]string{"access_key": "AKIA", "secret_key": "TOPSECRET"}
	cfg := Config{
		Target:        Target{Class: ClassS3, Root: "s3://out", Args: creds},
		InputCache:    Target{Class: ClassS3, Root: "s3://cache", Args: creds},
		MetadataCache: Target{Class: ClassGCS, Root: "gs://meta", Args: map[string]string{"secret_key": "ignored"}},
	}
	env, err := cfg.CredentialEnv()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"AWS_ACCESS_KEY_ID": "AKIA", "AWS_SECRET_ACCESS_KEY": "TOPSECRET"}, env)

	cfg.InputCache.Args = map[string]string{"secret_key": "other"}
	_, err = cfg.CredentialEnv()
	assert.True(t, config.IsConfigurationError(err))
}

func TestLocalRoots(t *testing.T) {
	cfg := Config{
		Target:        Target{Class: ClassFile, Root: "/data/out"},
		InputCache:    Target{Class: ClassS3, Root: "s3://cache"},
		MetadataCache: Target{Root: "file:///data/meta"},
	}
	assert.Equal(t, map[string]string{
		"target_storage":         "/data/out",
		"metadata_cache_storage": "/data/meta",
	}, cfg.LocalRoots())
}
