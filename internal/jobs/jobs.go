package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TriggerKind selects how a job computes its fire times.
type TriggerKind string

const (
	TriggerDate TriggerKind = "date" // fires once at RunAt
	TriggerCron TriggerKind = "cron" // fires repeatedly per Spec in TZ
)

// Payload is the opaque context a job carries so the delivery side is
// self-sufficient at fire time: routing plus the reminder it belongs to.
type Payload struct {
	ReminderID int64  `json:"reminder_id"`
	ChatID     int64  `json:"chat_id"`
	TopicID    *int64 `json:"topic_id,omitempty"`
	Message    string `json:"message"`
}

// Job is a persisted trigger registration.
type Job struct {
	ID        string
	Kind      TriggerKind
	RunAt     time.Time // date trigger; zero otherwise
	Spec      string    // cron trigger; standard 5-field spec
	TZ        string
	NextFire  time.Time // UTC
	Payload   Payload
	CreatedAt time.Time
}

// Store persists jobs durably so that registered triggers survive restarts.
type Store interface {
	InsertJob(ctx context.Context, j *Job) error
	// DeleteJob is a no-op for absent ids.
	DeleteJob(ctx context.Context, id string) error
	// GetJob returns nil, nil when the id is unknown.
	GetJob(ctx context.Context, id string) (*Job, error)
	ListDueJobs(ctx context.Context, now time.Time, limit int) ([]Job, error)
	SetNextFire(ctx context.Context, id string, next time.Time) error
}

// Handler receives the payload of a fired job. It runs on the scheduler's
// goroutine and must hand work off rather than touch shared state directly.
type Handler func(ctx context.Context, p Payload)

// nextCronFire evaluates a 5-field cron spec in the given zone and returns the
// next fire instant after `after`, in UTC. An unknown zone degrades to UTC.
func nextCronFire(spec, tz string, after time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(fmt.Sprintf("CRON_TZ=%s %s", tz, spec))
	if err != nil {
		// Zone (or spec) rejected; retry the bare spec against UTC.
		sched, err = cron.ParseStandard(spec)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron spec %q: %w", spec, err)
		}
		return sched.Next(after.UTC()).UTC(), nil
	}
	return sched.Next(after).UTC(), nil
}

// cronSpec renders an hour/minute (+ optional weekday abbreviation) schedule
// as a standard 5-field spec.
func cronSpec(hour, minute int, weekday string) string {
	if weekday == "" {
		return fmt.Sprintf("%d %d * * *", minute, hour)
	}
	return fmt.Sprintf("%d %d * * %s", minute, hour, weekday)
}
