package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	config "github.com/SyneHQ/forge-runner"
)

const (
	ClassFile = "file"
	ClassS3   = "s3"
	ClassGCS  = "gcs"
)

var ErrNotFound = errors.New("object not found")

// FS is the minimal object interface recipes write through.
type FS interface {
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Target is a storage location scoped to one job.
type Target struct {
	Class string            `json:"class"`
	Root  string            `json:"root"`
	Args  map[string]string `json:"args,omitempty"`
}

func (t Target) Open(ctx context.Context) (FS, error) {
	switch t.Class {
	case ClassFile, "":
		return newLocalFS(t.Root), nil
	case ClassS3:
		return newS3FS(t)
	case ClassGCS:
		return newGCSFS(ctx, t)
	default:
		return nil, &config.ConfigurationError{Setting: "storage.class", Reason: fmt.Sprintf("unknown class %q", t.Class)}
	}
}

// credentialArgs maps secret target args to the environment variables the
// S3 client falls back to when the arg is absent.
var credentialArgs = map[string]string{
	"access_key": "AWS_ACCESS_KEY_ID",
	"secret_key": "AWS_SECRET_ACCESS_KEY",
}

// MarshalJSON drops credential args. Serialized targets travel in container
// arguments and launch parameters; credentials go through the environment.
func (t Target) MarshalJSON() ([]byte, error) {
	type plain Target
	p := plain(t)
	if len(t.Args) > 0 {
		p.Args = make(map[string]string, len(t.Args))
		for k, v := range t.Args {
			if _, secret := credentialArgs[k]; !secret {
				p.Args[k] = v
			}
		}
	}
	return json.Marshal(p)
}

// Config is the set of per-job targets handed to a recipe.
type Config struct {
	Target        Target `json:"target"`
	InputCache    Target `json:"input_cache"`
	MetadataCache Target `json:"metadata_cache"`
}

func (c Config) roles() []struct {
	name   string
	target Target
} {
	return []struct {
		name   string
		target Target
	}{
		{"target_storage", c.Target},
		{"input_cache_storage", c.InputCache},
		{"metadata_cache_storage", c.MetadataCache},
	}
}

// CredentialEnv returns the environment a remote job needs to reach the S3
// targets without credentials in its arguments. Targets that disagree on a
// credential are a configuration error.
func (c Config) CredentialEnv() (map[string]string, error) {
	env := map[string]string{}
	for _, r := range c.roles() {
		if r.target.Class != ClassS3 {
			continue
		}
		for arg, name := range credentialArgs {
			v, ok := r.target.Args[arg]
			if !ok {
				continue
			}
			if prev, seen := env[name]; seen && prev != v {
				return nil, &config.ConfigurationError{
					Setting: r.name + ".args." + arg,
					Reason:  "differs from another s3 storage",
				}
			}
			env[name] = v
		}
	}
	return env, nil
}

// LocalRoots returns the file-class roots keyed by storage name
// (target_storage, input_cache_storage, metadata_cache_storage).
func (c Config) LocalRoots() map[string]string {
	roots := map[string]string{}
	for _, r := range c.roles() {
		if r.target.Class == ClassFile || r.target.Class == "" {
			roots[r.name] = strings.TrimPrefix(r.target.Root, "file://")
		}
	}
	return roots
}

// Settings configures one of the target, input-cache or metadata-cache
// storages.
type Settings struct {
	Name     string
	Class    string
	RootPath string
	Args     map[string]string
}

func FromConfig(name string, c config.StorageConfig) Settings {
	return Settings{Name: name, Class: c.Class, RootPath: c.RootPath, Args: c.Args}
}

// GetForgeTarget returns the target for jobName, substituting {job_name} in
// the root path.
func (s Settings) GetForgeTarget(jobName string) (Target, error) {
	if s.RootPath == "" {
		return Target{}, config.Missing(s.Name + ".root_path")
	}
	class := s.Class
	if class == "" {
		class = ClassFile
	}
	root := strings.ReplaceAll(s.RootPath, "{job_name}", jobName)
	if class == ClassFile {
		abs, err := filepath.Abs(strings.TrimPrefix(root, "file://"))
		if err != nil {
			return Target{}, fmt.Errorf("%s.root_path: %w", s.Name, err)
		}
		root = abs
	}
	return Target{Class: class, Root: root, Args: s.Args}, nil
}

// String omits argument values, which may carry credentials.
func (s Settings) String() string {
	keys := make([]string, 0, len(s.Args))
	for k := range s.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("%s(class=%s, root_path=%q, args=%v)", s.Name, s.Class, s.RootPath, keys)
}

// splitBucket turns "s3://bucket/a/b" or "bucket/a/b" into bucket and prefix.
func splitBucket(root string) (string, string) {
	if i := strings.Index(root, "://"); i >= 0 {
		root = root[i+3:]
	}
	root = strings.Trim(root, "/")
	bucket, prefix, _ := strings.Cut(root, "/")
	return bucket, prefix
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + strings.TrimPrefix(key, "/")
}
