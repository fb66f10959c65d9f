package jobs

import (
	"time"

	"github.com/riverqueue/river"
)

// PeriodicJobs returns the maintenance jobs of the engine: the timeout
// sweep on sweepSchedule, the stale relay sweep and the daily notification
// cleanup.
func PeriodicJobs(sweepSchedule string) ([]*river.PeriodicJob, error) {
	schedule, err := SweepSchedule(sweepSchedule)
	if err != nil {
		return nil, err
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			schedule,
			func() (river.JobArgs, *river.InsertOpts) {
				return TimeoutSweepArgs{}, nil
			},
			&river.PeriodicJobOpts{},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(DefaultStaleAfter),
			func() (river.JobArgs, *river.InsertOpts) {
				return StaleRelayArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		// Run once on startup as well to avoid long-lived inbox bloat.
		river.NewPeriodicJob(
			river.PeriodicInterval(24*time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				return NotificationCleanupArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}, nil
}

// Queues returns the River queue configuration. The default queue runs
// maxWorkers workers; the events queue runs one so relays are delivered in
// commit order.
func Queues(maxWorkers int) map[string]river.QueueConfig {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return map[string]river.QueueConfig{
		river.QueueDefault: {MaxWorkers: maxWorkers},
		QueueEvents:        {MaxWorkers: 1},
	}
}
