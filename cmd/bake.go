package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/infisical/go-sdk/packages/models"
	"github.com/spf13/cobra"

	config "github.com/SyneHQ/forge-runner"
	"github.com/SyneHQ/forge-runner/bake"
	"github.com/SyneHQ/forge-runner/feedstock"
	"github.com/SyneHQ/forge-runner/keys"
	"github.com/SyneHQ/forge-runner/recipe"
	"github.com/SyneHQ/forge-runner/runner"
	"github.com/SyneHQ/forge-runner/scheduler"
	"github.com/SyneHQ/forge-runner/secrets"
	"github.com/SyneHQ/forge-runner/shell"
	"github.com/SyneHQ/forge-runner/storage"
)

var (
	bakePrune          bool
	bakeBakery         string
	bakeRepo           string
	bakeRef            string
	bakeContainerImage string
	bakeSchedule       string
	bakeTempBucket     string
	bakeProjectID      string
	bakeRegion         string
)

var bakeCmd = &cobra.Command{
	Use:   "bake",
	Short: "Bake every recipe of a feedstock",
	Long: `Fetch a feedstock repository, parse its recipes and submit each one as a
job to the configured bakery. Local bakeries wait for each job; cloud bakeries
report the submitted job id and return.

With --schedule the bake repeats on a 6-field cron spec until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runBake,
}

func init() {
	bakeCmd.Flags().BoolVar(&bakePrune, "prune", false, "bake a reduced copy of each recipe")
	bakeCmd.Flags().StringVar(&bakeBakery, "bakery", "", "bakery to use: local-direct, local-docker, dataflow or cloud-run")
	bakeCmd.Flags().StringVar(&bakeRepo, "repo", "", "feedstock git URL or local directory")
	bakeCmd.Flags().StringVar(&bakeRef, "ref", "", "git ref to check out")
	bakeCmd.Flags().StringVar(&bakeContainerImage, "container-image", "", "image recipes run in")
	bakeCmd.Flags().StringVar(&bakeSchedule, "schedule", "", "repeat the bake on this cron spec (with seconds)")
	bakeCmd.Flags().StringVar(&bakeTempBucket, "dataflow-temp-bucket", "", "Dataflow staging location")
	bakeCmd.Flags().StringVar(&bakeProjectID, "project-id", "", "Google Cloud project for cloud bakeries")
	bakeCmd.Flags().StringVar(&bakeRegion, "region", "", "Google Cloud region for cloud bakeries")
}

// applyBakeFlags overrides cfg with the flags given on the command line.
func applyBakeFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("prune") {
		c.Bake.Prune = bakePrune
	}
	if flags.Changed("bakery") {
		c.Bake.Bakery = bakeBakery
	}
	if flags.Changed("repo") {
		c.Bake.Repo = bakeRepo
	}
	if flags.Changed("ref") {
		c.Bake.Ref = bakeRef
	}
	if flags.Changed("container-image") {
		c.Bake.ContainerImage = bakeContainerImage
	}
	if flags.Changed("schedule") {
		c.Bake.Schedule = bakeSchedule
	}
	if flags.Changed("dataflow-temp-bucket") {
		c.Dataflow.TempBucket = bakeTempBucket
	}
	if flags.Changed("project-id") {
		c.Dataflow.ProjectID = bakeProjectID
		c.CloudRun.ProjectID = bakeProjectID
	}
	if flags.Changed("region") {
		c.Dataflow.Region = bakeRegion
		c.CloudRun.Region = bakeRegion
	}
}

func runBake(cmd *cobra.Command, args []string) error {
	applyBakeFlags(cmd, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exec := shell.RealExecutor{}
	sec, err := loadSecrets(ctx)
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	if cfg.Bake.Schedule == "" {
		baker, err := newBaker(ctx, cfg, exec, sec, store)
		if err != nil {
			return err
		}
		return baker.Bake(ctx)
	}

	rec := scheduler.ScheduleRecord{
		Name:     scheduleName(cfg.Bake),
		Repo:     cfg.Bake.Repo,
		Ref:      cfg.Bake.Ref,
		CronSpec: cfg.Bake.Schedule,
		Bakery:   cfg.Bake.Bakery,
		Prune:    cfg.Bake.Prune,
	}
	sched := scheduler.New(ctx)
	defer sched.Stop()
	if err := sched.Schedule(rec.Name, rec.CronSpec, scheduledBake(rec, exec, sec, store)); err != nil {
		return fmt.Errorf("schedule %s: %w", rec.Name, err)
	}
	if store != nil {
		if err := store.Upsert(ctx, rec); err != nil {
			return fmt.Errorf("persist schedule %s: %w", rec.Name, err)
		}
	}
	logger.WithField("status", bake.StatusSetup).Infof("Scheduled %s on %q", rec.Name, rec.CronSpec)

	<-ctx.Done()
	logger.Info("Shutting down scheduler...")
	return nil
}

func newBaker(ctx context.Context, c *config.Config, exec shell.Executor, sec []models.Secret, store *scheduler.Store) (*bake.Baker, error) {
	bakery, err := runner.New(ctx, c, runner.Deps{Exec: exec, Secrets: sec, Log: logger})
	if err != nil {
		return nil, err
	}
	b := &bake.Baker{
		Fetcher: &feedstock.Fetcher{Repo: c.Bake.Repo, Ref: c.Bake.Ref, Exec: exec, Log: logger},
		Parse: func(dir string) ([]recipe.Named, error) {
			return feedstock.New(dir).ParseRecipes()
		},
		Bakery:         bakery,
		Engines:        runner.Engines(exec, logger),
		Target:         storage.FromConfig("target_storage", c.TargetStorage),
		InputCache:     storage.FromConfig("input_cache_storage", c.InputCacheStorage),
		MetadataCache:  storage.FromConfig("metadata_cache_storage", c.MetadataCacheStorage),
		ContainerImage: c.Bake.ContainerImage,
		Prune:          c.Bake.Prune,
		Log:            logger,
	}
	if store != nil {
		b.Recorder = store
	}
	return b, nil
}

// scheduledBake returns the cron function for rec. Each tick builds a fresh
// bakery so settings derived at construction are looked up again.
func scheduledBake(rec scheduler.ScheduleRecord, exec shell.Executor, sec []models.Secret, store *scheduler.Store) scheduler.JobFunc {
	return func(ctx context.Context) {
		c := *cfg
		c.Bake.Repo = rec.Repo
		c.Bake.Ref = rec.Ref
		c.Bake.Bakery = rec.Bakery
		c.Bake.Prune = rec.Prune

		log := logger.WithField("schedule", rec.Name)
		baker, err := newBaker(ctx, &c, exec, sec, store)
		if err != nil {
			log.WithError(err).Error("scheduled bake could not start")
			return
		}
		if err := baker.Bake(ctx); err != nil {
			log.WithError(err).Error("scheduled bake failed")
		}
	}
}

func scheduleName(b config.BakeConfig) string {
	if b.Ref == "" {
		return b.Repo
	}
	return b.Repo + "@" + b.Ref
}

func loadSecrets(ctx context.Context) ([]models.Secret, error) {
	var fetched []models.Secret
	if cfg.Infisical.Enabled {
		s, err := keys.NewInfisicalSecrets(ctx, cfg.Infisical, logger)
		if err != nil {
			return nil, err
		}
		fetched = s
	}
	return secrets.Filter(fetched, cfg.Secrets, logger), nil
}

// openStore returns nil when no store driver is configured.
func openStore() (*scheduler.Store, error) {
	if cfg.Store.Driver == "" {
		return nil, nil
	}
	store, err := scheduler.OpenStore(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	return store, nil
}
