package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const dueBatchSize = 100

// Scheduler is a persistent date/cron job scheduler. Jobs are addressable by
// id, survive restarts through the Store, and fire through a single Handler.
// Trigger evaluation runs on its own goroutine (Run), separate from the
// process's primary loop.
type Scheduler struct {
	store    Store
	log      *zap.Logger
	handler  Handler
	interval time.Duration
	now      func() time.Time
}

// New creates a Scheduler polling at the given interval.
func New(store Store, log *zap.Logger, handler Handler, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{
		store:    store,
		log:      log,
		handler:  handler,
		interval: interval,
		now:      time.Now,
	}
}

// AddDateJob registers a job that fires once at runAt.
func (s *Scheduler) AddDateJob(ctx context.Context, runAt time.Time, p Payload) (string, error) {
	if runAt.IsZero() {
		return "", errors.New("zero run time")
	}
	j := &Job{
		ID:        uuid.NewString(),
		Kind:      TriggerDate,
		RunAt:     runAt.UTC(),
		TZ:        "UTC",
		NextFire:  runAt.UTC(),
		Payload:   p,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertJob(ctx, j); err != nil {
		return "", err
	}
	s.log.Debug("date job added",
		zap.String("jobID", j.ID),
		zap.Time("runAt", j.RunAt),
		zap.Int64("reminderID", p.ReminderID),
	)
	return j.ID, nil
}

// AddCronJob registers a recurring job at hour:minute in tz. An empty weekday
// means every day; otherwise a lowercase abbreviation (mon..sun) pins the job
// to that day of week.
func (s *Scheduler) AddCronJob(ctx context.Context, hour, minute int, weekday, tz string, p Payload) (string, error) {
	spec := cronSpec(hour, minute, weekday)
	next, err := nextCronFire(spec, tz, s.now())
	if err != nil {
		return "", err
	}
	j := &Job{
		ID:        uuid.NewString(),
		Kind:      TriggerCron,
		Spec:      spec,
		TZ:        tz,
		NextFire:  next,
		Payload:   p,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertJob(ctx, j); err != nil {
		return "", err
	}
	s.log.Debug("cron job added",
		zap.String("jobID", j.ID),
		zap.String("spec", spec),
		zap.String("tz", tz),
		zap.Time("nextFire", next),
		zap.Int64("reminderID", p.ReminderID),
	)
	return j.ID, nil
}

// RemoveJob deletes a job. Removing an id that is already gone is not an
// error; divergence between stores is repaired, not propagated.
func (s *Scheduler) RemoveJob(ctx context.Context, id string) error {
	return s.store.DeleteJob(ctx, id)
}

// GetJob returns the live job for id, or nil when none exists.
func (s *Scheduler) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.store.GetJob(ctx, id)
}

// Run evaluates triggers until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("job scheduler stopping")
			return
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

// tick fires every due job once: date jobs are deleted after firing, cron jobs
// advance to their next occurrence. Firing happens through the handler, which
// must not block this goroutine on delivery.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	due, err := s.store.ListDueJobs(ctx, now, dueBatchSize)
	if err != nil {
		s.log.Error("list due jobs failed", zap.Error(err))
		return
	}

	for _, j := range due {
		s.handler(ctx, j.Payload)

		switch j.Kind {
		case TriggerDate:
			if err := s.store.DeleteJob(ctx, j.ID); err != nil {
				s.log.Error("delete fired date job failed",
					zap.Error(err), zap.String("jobID", j.ID))
			}
		case TriggerCron:
			next, err := nextCronFire(j.Spec, j.TZ, now)
			if err != nil {
				s.log.Error("cron job has unparseable spec, removing",
					zap.Error(err), zap.String("jobID", j.ID))
				_ = s.store.DeleteJob(ctx, j.ID)
				continue
			}
			if err := s.store.SetNextFire(ctx, j.ID, next); err != nil {
				s.log.Error("advance cron job failed",
					zap.Error(err), zap.String("jobID", j.ID))
			}
		}
	}
}
