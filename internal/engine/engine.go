package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AlibekAbdunasimov/remindo/internal/domain"
	"github.com/AlibekAbdunasimov/remindo/internal/jobs"
	"github.com/AlibekAbdunasimov/remindo/internal/store"
)

// ErrNotFound is returned when a reminder does not exist or is not owned by
// the acting user.
var ErrNotFound = errors.New("reminder not found")

// Scheduler is the job scheduler surface the engine drives. *jobs.Scheduler
// satisfies it; tests substitute fakes.
type Scheduler interface {
	AddDateJob(ctx context.Context, runAt time.Time, p jobs.Payload) (string, error)
	AddCronJob(ctx context.Context, hour, minute int, weekday, tz string, p jobs.Payload) (string, error)
	RemoveJob(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (*jobs.Job, error)
}

// Engine orchestrates reminders against the store and the job scheduler:
// it computes fire times, creates and replaces jobs, keeps stored job ids in
// sync with live jobs, and reconciles pending reminders after a restart.
type Engine struct {
	repo  store.Repo
	sched Scheduler
	log   *zap.Logger
	now   func() time.Time

	// Per-reminder mutation lock: no two edits/deletes of the same reminder
	// may interleave their remove/create sequences. Entries are tiny and kept
	// for the process lifetime.
	lmu   sync.Mutex
	locks map[int64]*sync.Mutex
}

// New creates an Engine.
func New(repo store.Repo, sched Scheduler, log *zap.Logger) *Engine {
	return &Engine{
		repo:  repo,
		sched: sched,
		log:   log,
		now:   time.Now,
		locks: make(map[int64]*sync.Mutex),
	}
}

func (e *Engine) lock(reminderID int64) func() {
	e.lmu.Lock()
	m, ok := e.locks[reminderID]
	if !ok {
		m = &sync.Mutex{}
		e.locks[reminderID] = m
	}
	e.lmu.Unlock()
	m.Lock()
	return m.Unlock
}

// Create validates the reminder, persists it, registers its job(s) and stores
// the resulting job ids. On job registration failure the fresh row is removed
// again and the error surfaces to the caller.
func (e *Engine) Create(ctx context.Context, r *domain.Reminder) error {
	if err := r.Validate(e.now()); err != nil {
		return err
	}

	id, err := e.repo.AddReminder(ctx, r)
	if err != nil {
		return fmt.Errorf("store reminder: %w", err)
	}
	r.ID = id

	jobIDs, err := e.scheduleJobs(ctx, r)
	if err != nil {
		if _, derr := e.repo.DeleteReminder(ctx, id, r.UserID); derr != nil {
			e.log.Error("rollback of unscheduled reminder failed",
				zap.Error(derr), zap.Int64("reminderID", id))
		}
		return fmt.Errorf("schedule reminder %d: %w", id, err)
	}
	if err := e.repo.SetJobIDs(ctx, id, jobIDs); err != nil {
		return fmt.Errorf("persist job ids for reminder %d: %w", id, err)
	}

	e.log.Info("reminder created",
		zap.Int64("reminderID", id),
		zap.Int64("chatID", r.ChatID),
		zap.Bool("recurring", r.Recurring),
		zap.Strings("jobIDs", jobIDs),
	)
	return nil
}

// scheduleJobs registers the scheduler job(s) a reminder needs and returns
// their ids in weekday order. A partial weekly fan-out is rolled back.
func (e *Engine) scheduleJobs(ctx context.Context, r *domain.Reminder) ([]string, error) {
	p := jobs.Payload{
		ReminderID: r.ID,
		ChatID:     r.ChatID,
		TopicID:    r.TopicID,
		Message:    r.Message,
	}

	if !r.Recurring {
		id, err := e.sched.AddDateJob(ctx, r.RemindAt, p)
		if err != nil {
			return nil, err
		}
		return []string{id}, nil
	}

	hour, minute, err := domain.ParseHHMM(r.TimeOfDay)
	if err != nil {
		return nil, fmt.Errorf("time of day: %w", err)
	}

	if r.Recurrence == domain.RecurDaily {
		id, err := e.sched.AddCronJob(ctx, hour, minute, "", r.Timezone, p)
		if err != nil {
			return nil, err
		}
		return []string{id}, nil
	}

	// Weekly: one independent cron job per configured weekday.
	ids := make([]string, 0, len(r.Days))
	for _, day := range r.Days {
		id, err := e.sched.AddCronJob(ctx, hour, minute, string(day), r.Timezone, p)
		if err != nil {
			for _, created := range ids {
				if rerr := e.sched.RemoveJob(ctx, created); rerr != nil {
					e.log.Warn("rollback of partial weekly fan-out failed",
						zap.Error(rerr), zap.String("jobID", created))
				}
			}
			return nil, fmt.Errorf("weekday %s: %w", day, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Edit applies a partial update and replaces the reminder's jobs:
// remove old ids best-effort, persist the field changes, create a fresh job
// set. Either the edit completes with fresh jobs or the caller gets an error;
// a failure never leaves stale stored ids pretending to be live.
func (e *Engine) Edit(ctx context.Context, id, userID int64, upd store.ReminderUpdate) (*domain.Reminder, error) {
	unlock := e.lock(id)
	defer unlock()

	rem, err := e.repo.GetReminder(ctx, id, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if upd.Message != nil {
		if *upd.Message == "" {
			return nil, domain.ErrEmptyMessage
		}
		if len(*upd.Message) > domain.MaxMessageLength {
			return nil, domain.ErrMessageTooLong
		}
	}
	if upd.RemindAt != nil && !upd.RemindAt.After(e.now()) {
		return nil, domain.ErrPastTime
	}
	if upd.TimeOfDay != nil {
		if _, _, err := domain.ParseHHMM(*upd.TimeOfDay); err != nil {
			return nil, fmt.Errorf("time of day: %w", err)
		}
	}

	// A retired or past-due one-time reminder must not regain a live job
	// through an unrelated edit: sent rows are finished, and a past instant
	// would fire the moment the scheduler sees it.
	if !rem.Recurring {
		if rem.Sent {
			return nil, ErrNotFound
		}
		if upd.RemindAt == nil && !rem.RemindAt.After(e.now()) {
			return nil, domain.ErrPastTime
		}
	}

	e.removeJobs(ctx, id, mustJobIDs(ctx, e.repo, id, e.log))

	if !upd.Empty() {
		if _, err := e.repo.UpdateReminder(ctx, id, userID, upd); err != nil {
			return nil, fmt.Errorf("update reminder %d: %w", id, err)
		}
	}

	fresh, err := e.repo.GetReminder(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	jobIDs, err := e.scheduleJobs(ctx, fresh)
	if err != nil {
		// Old jobs are gone; record the empty set so reconciliation can
		// repair instead of trusting dead ids.
		if serr := e.repo.SetJobIDs(ctx, id, nil); serr != nil {
			e.log.Error("clearing job ids after failed reschedule failed",
				zap.Error(serr), zap.Int64("reminderID", id))
		}
		return nil, fmt.Errorf("reschedule reminder %d: %w", id, err)
	}
	if err := e.repo.SetJobIDs(ctx, id, jobIDs); err != nil {
		return nil, fmt.Errorf("persist job ids for reminder %d: %w", id, err)
	}

	e.log.Info("reminder edited",
		zap.Int64("reminderID", id),
		zap.Strings("jobIDs", jobIDs),
	)
	return fresh, nil
}

// Delete removes the reminder's jobs, then its row. Jobs go first: a dangling
// job reference beats a reminder nobody can cancel.
func (e *Engine) Delete(ctx context.Context, id, userID int64) error {
	unlock := e.lock(id)
	defer unlock()

	e.removeJobs(ctx, id, mustJobIDs(ctx, e.repo, id, e.log))

	ok, err := e.repo.DeleteReminder(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	e.log.Info("reminder deleted", zap.Int64("reminderID", id), zap.Int64("userID", userID))
	return nil
}

// AdminDelete is the chat-scoped variant used by group admins.
func (e *Engine) AdminDelete(ctx context.Context, id, chatID int64) error {
	unlock := e.lock(id)
	defer unlock()

	if _, err := e.repo.GetReminderAdmin(ctx, id, chatID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}

	e.removeJobs(ctx, id, mustJobIDs(ctx, e.repo, id, e.log))

	ok, err := e.repo.AdminDeleteReminder(ctx, id, chatID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	e.log.Info("reminder deleted by admin", zap.Int64("reminderID", id), zap.Int64("chatID", chatID))
	return nil
}

// removeJobs best-effort removes a set of job ids. A job that is already gone
// is expected drift, not an error.
func (e *Engine) removeJobs(ctx context.Context, reminderID int64, ids []string) {
	for _, jid := range ids {
		if err := e.sched.RemoveJob(ctx, jid); err != nil {
			e.log.Warn("remove job failed, continuing",
				zap.Error(err),
				zap.Int64("reminderID", reminderID),
				zap.String("jobID", jid),
			)
		}
	}
}

func mustJobIDs(ctx context.Context, repo store.Repo, reminderID int64, log *zap.Logger) []string {
	ids, err := repo.JobIDs(ctx, reminderID)
	if err != nil {
		log.Error("load job ids failed", zap.Error(err), zap.Int64("reminderID", reminderID))
		return nil
	}
	return ids
}

// ReconcilePending walks every pending reminder at startup and decides
// skip or recreate against the scheduler's persisted state. Skip wins
// whenever the live jobs already match the expected shape; recreation is
// only for drift. Per-reminder failures are logged and skipped so one bad
// row cannot block recovery of the rest. Returns the number of reminders
// whose jobs were (re)created.
func (e *Engine) ReconcilePending(ctx context.Context) (int, error) {
	pending, err := e.repo.PendingReminders(ctx)
	if err != nil {
		return 0, fmt.Errorf("load pending reminders: %w", err)
	}

	recreated := 0
	for i := range pending {
		r := &pending[i]
		changed, err := e.reconcileOne(ctx, r)
		if err != nil {
			e.log.Error("reconcile failed",
				zap.Error(err),
				zap.Int64("reminderID", r.ID),
				zap.Int64("chatID", r.ChatID),
			)
			continue
		}
		if changed {
			recreated++
		}
	}
	e.log.Info("reconciliation finished",
		zap.Int("pending", len(pending)),
		zap.Int("recreated", recreated),
	)
	return recreated, nil
}

func (e *Engine) reconcileOne(ctx context.Context, r *domain.Reminder) (bool, error) {
	ids, err := e.repo.JobIDs(ctx, r.ID)
	if err != nil {
		return false, err
	}

	if r.Recurring {
		expected := 1
		if r.Recurrence == domain.RecurWeekly {
			expected = len(r.Days)
		}
		if len(ids) == expected && e.allLive(ctx, ids) {
			e.log.Debug("reconcile: jobs live, skipping", zap.Int64("reminderID", r.ID))
			return false, nil
		}
		// Drift: drop whatever is still live before recreating the full set,
		// so a half-stale weekly set cannot end up with duplicate day jobs.
		e.removeJobs(ctx, r.ID, ids)
		jobIDs, err := e.scheduleJobs(ctx, r)
		if err != nil {
			return false, err
		}
		return true, e.repo.SetJobIDs(ctx, r.ID, jobIDs)
	}

	// One-time: never auto-fire retroactively. Any stored job is dropped,
	// otherwise the poll loop would pick up the past-due date row on its
	// first tick and deliver late.
	if !r.RemindAt.After(e.now()) {
		e.removeJobs(ctx, r.ID, ids)
		if err := e.repo.SetJobIDs(ctx, r.ID, nil); err != nil {
			return false, err
		}
		e.log.Info("reconcile: one-time reminder already past, jobs dropped",
			zap.Int64("reminderID", r.ID), zap.Time("remindAt", r.RemindAt))
		return false, nil
	}
	for _, jid := range ids {
		j, err := e.sched.GetJob(ctx, jid)
		if err != nil {
			return false, err
		}
		if j != nil {
			if err := e.sched.RemoveJob(ctx, jid); err != nil {
				e.log.Warn("remove stale one-time job failed",
					zap.Error(err), zap.String("jobID", jid))
			}
		}
	}
	jobIDs, err := e.scheduleJobs(ctx, r)
	if err != nil {
		return false, err
	}
	return true, e.repo.SetJobIDs(ctx, r.ID, jobIDs)
}

func (e *Engine) allLive(ctx context.Context, ids []string) bool {
	for _, jid := range ids {
		j, err := e.sched.GetJob(ctx, jid)
		if err != nil || j == nil {
			return false
		}
	}
	return true
}
