package runner

import (
	"context"
	"fmt"
	"strings"

	scheduler "cloud.google.com/go/scheduler/apiv1"
	spb "cloud.google.com/go/scheduler/apiv1/schedulerpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/SyneHQ/forge-runner/pipeline"
)

// upsertSchedule creates or updates a Cloud Scheduler job that re-runs the
// Cloud Run job id on opts.Schedule.
func (c *cloudRunEngine) upsertSchedule(ctx context.Context, opts pipeline.Options, id string) error {
	sched, err := scheduler.NewCloudSchedulerClient(ctx, c.options(opts)...)
	if err != nil {
		return err
	}
	defer sched.Close()

	schedulerJob := fmt.Sprintf("%s/jobs/%s", parent(opts), id)

	// POST https://run.googleapis.com/v2/projects/{project}/locations/{region}/jobs/{job}:run
	url := fmt.Sprintf("https://run.googleapis.com/v2/%s:run", cloudRunJobName(opts, id))
	httpTarget := &spb.HttpTarget{
		HttpMethod: spb.HttpMethod_POST,
		Uri:        url,
		AuthorizationHeader: &spb.HttpTarget_OauthToken{
			OauthToken: &spb.OAuthToken{ServiceAccountEmail: opts.ServiceAccountEmail},
		},
	}

	desired := &spb.Job{
		Name:        schedulerJob,
		Schedule:    toFiveFieldCron(opts.Schedule),
		TimeZone:    "UTC",
		Target:      &spb.Job_HttpTarget{HttpTarget: httpTarget},
		Description: "Re-run recipe job " + opts.JobName,
	}

	if _, err := sched.GetJob(ctx, &spb.GetJobRequest{Name: schedulerJob}); err != nil {
		if status.Code(err) != codes.NotFound {
			return err
		}
		_, err := sched.CreateJob(ctx, &spb.CreateJobRequest{Parent: parent(opts), Job: desired})
		return err
	}
	_, err = sched.UpdateJob(ctx, &spb.UpdateJobRequest{Job: desired})
	if err == nil {
		c.log.WithField("job_name", opts.JobName).Infof("Updated schedule %s", schedulerJob)
	}
	return err
}

// Cloud Scheduler takes 5-field cron; drop the seconds field of a 6-field spec.
func toFiveFieldCron(in string) string {
	fields := strings.Fields(in)
	if len(fields) == 6 {
		return strings.Join(fields[1:], " ")
	}
	return in
}
