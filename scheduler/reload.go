package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Reload brings sched in line with the persisted schedules: new or changed
// records are (re)scheduled and entries whose record is gone are removed. fn
// builds the function run on each tick for a record. It returns the number
// of active schedules.
func Reload(ctx context.Context, sched *Scheduler, store *Store, fn func(ScheduleRecord) JobFunc, log logrus.FieldLogger) (int, error) {
	records, err := store.List(ctx)
	if err != nil {
		return 0, err
	}

	wanted := make(map[string]bool, len(records))
	active := 0
	for _, r := range records {
		wanted[r.Name] = true
		if spec, ok := sched.Spec(r.Name); ok && spec == r.CronSpec {
			active++
			continue
		}
		if err := sched.Schedule(r.Name, r.CronSpec, fn(r)); err != nil {
			log.WithError(err).Warnf("failed to restore schedule for %s", r.Name)
			continue
		}
		active++
		// small delay to avoid thundering herd on boot
		time.Sleep(50 * time.Millisecond)
	}

	for _, name := range sched.Names() {
		if !wanted[name] {
			sched.Delete(name)
			log.Infof("Removed schedule %s", name)
		}
	}
	return active, nil
}
