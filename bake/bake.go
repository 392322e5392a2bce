package bake

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	config "github.com/SyneHQ/forge-runner"
	"github.com/SyneHQ/forge-runner/pipeline"
	"github.com/SyneHQ/forge-runner/recipe"
	"github.com/SyneHQ/forge-runner/runner"
	"github.com/SyneHQ/forge-runner/scheduler"
	"github.com/SyneHQ/forge-runner/storage"
)

// Log status values.
const (
	StatusSetup     = "setup"
	StatusRunning   = "running"
	StatusSubmitted = "submitted"
)

// Ledger status values.
const (
	recordSucceeded = "succeeded"
	recordSubmitted = "submitted"
	recordError     = "error"
)

// Fetcher populates a directory with the feedstock repository.
type Fetcher interface {
	Fetch(ctx context.Context, dest string) error
}

// ParseFunc reads the recipes of a fetched feedstock in declaration order.
type ParseFunc func(dir string) ([]recipe.Named, error)

// TargetProvider resolves one storage setting into a per-job target.
type TargetProvider interface {
	GetForgeTarget(jobName string) (storage.Target, error)
	String() string
}

// Recorder persists the outcome of each submission.
type Recorder interface {
	RecordSubmission(ctx context.Context, r scheduler.SubmissionRecord) error
}

// Baker submits every recipe of a feedstock to one bakery.
type Baker struct {
	Fetcher Fetcher
	Parse   ParseFunc
	Bakery  runner.Bakery
	Engines *pipeline.Registry

	Target        TargetProvider
	InputCache    TargetProvider
	MetadataCache TargetProvider

	ContainerImage string
	Prune          bool

	// Recorder is optional. Write failures are logged and do not stop the bake.
	Recorder Recorder
	Log      logrus.FieldLogger
	Now      func() time.Time
}

// JobName derives the unique name of one recipe submission.
func JobName(name string, sha []byte, t time.Time) string {
	return fmt.Sprintf("%s-%x-%d", name, sha, t.Unix())
}

// Bake fetches, parses and submits each recipe in order. The first failure
// aborts the run; recipes already submitted are not rolled back.
func (b *Baker) Bake(ctx context.Context) error {
	runID := uuid.NewString()
	log := b.Log.WithField("run_id", runID)

	log.WithField("status", StatusSetup).Infof("Target Storage is %s", b.Target)
	log.WithField("status", StatusSetup).Infof("Input Cache Storage is %s", b.InputCache)
	log.WithField("status", StatusSetup).Infof("Metadata Cache Storage is %s", b.MetadataCache)

	dir, err := os.MkdirTemp("", "forge-feedstock-")
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := b.Fetcher.Fetch(ctx, dir); err != nil {
		return err
	}

	log.WithField("status", StatusRunning).Info("Parsing recipes...")
	recipes, err := b.Parse(dir)
	if err != nil {
		return err
	}

	if b.Prune {
		for i := range recipes {
			recipes[i].Recipe = recipes[i].Recipe.CopyPruned()
		}
	}

	for _, named := range recipes {
		if err := b.submit(ctx, log, runID, named); err != nil {
			return err
		}
	}
	return nil
}

func (b *Baker) submit(ctx context.Context, log logrus.FieldLogger, runID string, named recipe.Named) error {
	jobName := JobName(named.Name, named.Recipe.SHA256(), b.now())
	rec := scheduler.SubmissionRecord{
		RunID:       runID,
		Recipe:      named.Name,
		JobName:     jobName,
		Bakery:      b.Bakery.Name(),
		SubmittedAt: b.now().Unix(),
	}

	cfg, err := b.storageConfig(jobName)
	if err != nil {
		return err
	}
	named.Recipe.SetStorageConfig(cfg)

	opts, err := b.Bakery.PipelineOptions(jobName, b.ContainerImage)
	if err != nil {
		return err
	}
	if err := b.bindStorage(&opts, cfg); err != nil {
		return err
	}
	opts.Labels = mergeMaps(opts.Labels, map[string]string{
		runner.RecipeLabel: labelValue(named.Name),
		"forge-run-id":     runID,
	})
	p, err := b.Engines.New(opts, []string{})
	if err != nil {
		return err
	}
	graph, err := named.Recipe.ToGraph()
	if err != nil {
		return fmt.Errorf("build graph for %s: %w", named.Name, err)
	}
	p.Attach(graph)

	if b.Bakery.Blocking() {
		log.WithFields(logrus.Fields{
			"status":   StatusRunning,
			"recipe":   named.Name,
			"job_name": jobName,
		}).Infof("Running job for recipe %s", named.Name)

		_, err := p.Run(ctx)
		b.record(ctx, log, rec, "", recordSucceeded, err)
		return err
	}

	result, err := p.Run(ctx)
	if err != nil {
		b.record(ctx, log, rec, "", recordError, err)
		return err
	}
	jobID := result.JobID()
	log.WithFields(logrus.Fields{
		"status":   StatusSubmitted,
		"recipe":   named.Name,
		"job_name": jobName,
		"job_id":   jobID,
	}).Infof("Submitted job %s for recipe %s", jobID, named.Name)
	b.record(ctx, log, rec, jobID, recordSubmitted, nil)
	return nil
}

func (b *Baker) storageConfig(jobName string) (storage.Config, error) {
	target, err := b.Target.GetForgeTarget(jobName)
	if err != nil {
		return storage.Config{}, err
	}
	inputCache, err := b.InputCache.GetForgeTarget(jobName)
	if err != nil {
		return storage.Config{}, err
	}
	metadataCache, err := b.MetadataCache.GetForgeTarget(jobName)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Target: target, InputCache: inputCache, MetadataCache: metadataCache}, nil
}

// bindStorage makes the job's storage reachable from where the job runs.
// Remote bakeries cannot see local files; container bakeries mount them.
// S3 credentials travel as environment.
func (b *Baker) bindStorage(opts *pipeline.Options, cfg storage.Config) error {
	roots := cfg.LocalRoots()
	names := make([]string, 0, len(roots))
	for name := range roots {
		names = append(names, name)
	}
	sort.Strings(names)

	if runner.IsRemote(b.Bakery) && len(names) > 0 {
		return &config.ConfigurationError{
			Setting: names[0] + ".class",
			Reason:  fmt.Sprintf("file storage is not reachable from the %s bakery", b.Bakery.Name()),
		}
	}
	for _, name := range names {
		opts.Volumes = append(opts.Volumes, roots[name])
	}

	env, err := cfg.CredentialEnv()
	if err != nil {
		return err
	}
	opts.Env = mergeMaps(opts.Env, env)
	return nil
}

// mergeMaps returns a new map with the entries of base overridden by extra.
func mergeMaps(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return base
	}
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// labelValue fits s to cloud label rules: lowercase letters, digits, '-' and
// '_', at most 63 characters.
func labelValue(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	out := sb.String()
	if len(out) > 63 {
		out = out[:63]
	}
	return out
}

func (b *Baker) record(ctx context.Context, log logrus.FieldLogger, rec scheduler.SubmissionRecord, jobID, status string, runErr error) {
	if b.Recorder == nil {
		return
	}
	rec.JobID = jobID
	rec.Status = status
	if runErr != nil {
		rec.Status = recordError
		rec.Error = runErr.Error()
	}
	rec.FinishedAt = b.now().Unix()
	if err := b.Recorder.RecordSubmission(ctx, rec); err != nil {
		log.WithError(err).Warnf("failed to record submission of %s", rec.JobName)
	}
}

func (b *Baker) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}
