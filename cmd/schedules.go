package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/SyneHQ/forge-runner/scheduler"
	"github.com/SyneHQ/forge-runner/shell"
)

var (
	submissionsLimit int
	reloadInterval   time.Duration
)

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "List persisted bake schedules",
	Args:  cobra.NoArgs,
	RunE:  runSchedules,
}

var schedulesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a persisted bake schedule",
	Long:  `Remove a persisted bake schedule. A running serve-schedules drops it on its next reload.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedulesDelete,
}

var submissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "List recent recipe submissions",
	Args:  cobra.NoArgs,
	RunE:  runSubmissions,
}

var serveSchedulesCmd = &cobra.Command{
	Use:   "serve-schedules",
	Short: "Run persisted bake schedules until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runServeSchedules,
}

func init() {
	schedulesCmd.AddCommand(schedulesDeleteCmd)
	submissionsCmd.Flags().IntVar(&submissionsLimit, "limit", 20, "number of submissions to show")
	serveSchedulesCmd.Flags().DurationVar(&reloadInterval, "reload-interval", time.Minute, "how often to pick up schedule changes from the store")
}

func requireStore() (*scheduler.Store, error) {
	store, err := openStore()
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("no store configured: set store.driver or FORGE_STORE_DRIVER")
	}
	return store, nil
}

func runSchedules(cmd *cobra.Command, args []string) error {
	store, err := requireStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCRON\tBAKERY\tPRUNE")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", r.Name, r.CronSpec, r.Bakery, r.Prune)
	}
	return w.Flush()
}

func runSchedulesDelete(cmd *cobra.Command, args []string) error {
	store, err := requireStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, scheduler.ErrNotFound) {
			return fmt.Errorf("no schedule named %s", args[0])
		}
		return err
	}
	logger.Infof("Deleted schedule %s", args[0])
	return nil
}

func runSubmissions(cmd *cobra.Command, args []string) error {
	store, err := requireStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Submissions(cmd.Context(), submissionsLimit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SUBMITTED\tRECIPE\tJOB NAME\tBAKERY\tJOB ID\tSTATUS")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			time.Unix(r.SubmittedAt, 0).UTC().Format(time.RFC3339), r.Recipe, r.JobName, r.Bakery, r.JobID, r.Status)
	}
	return w.Flush()
}

func runServeSchedules(cmd *cobra.Command, args []string) error {
	if reloadInterval <= 0 {
		return fmt.Errorf("--reload-interval must be positive")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := requireStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sec, err := loadSecrets(ctx)
	if err != nil {
		return err
	}
	exec := shell.RealExecutor{}

	sched := scheduler.New(ctx)
	defer sched.Stop()
	build := func(r scheduler.ScheduleRecord) scheduler.JobFunc {
		return scheduledBake(r, exec, sec, store)
	}
	n, err := scheduler.Reload(ctx, sched, store, build, logger)
	if err != nil {
		return fmt.Errorf("reload schedules: %w", err)
	}
	logger.WithField("status", "setup").Infof("Restored %d schedules", n)

	ticker := time.NewTicker(reloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down scheduler...")
			return nil
		case <-ticker.C:
			if _, err := scheduler.Reload(ctx, sched, store, build, logger); err != nil {
				logger.WithError(err).Warn("failed to reload schedules")
			}
		}
	}
}
