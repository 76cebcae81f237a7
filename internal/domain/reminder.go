package domain

import (
	"errors"
	"fmt"
	"time"
)

// MaxMessageLength bounds reminder text; Telegram rejects anything near 4096 anyway.
const MaxMessageLength = 4000

type RecurrenceType string

const (
	RecurDaily  RecurrenceType = "daily"
	RecurWeekly RecurrenceType = "weekly"
)

var (
	ErrEmptyMessage   = errors.New("empty message")
	ErrMessageTooLong = fmt.Errorf("message longer than %d characters", MaxMessageLength)
	ErrPastTime       = errors.New("time is in the past")
	ErrNoSchedule     = errors.New("reminder has neither a one-time nor a recurring schedule")
	ErrBothSchedules  = errors.New("reminder has both a one-time and a recurring schedule")
	ErrNoWeekdays     = errors.New("weekly reminder has no weekdays")
)

// Reminder is a scheduled notification. Exactly one of RemindAt (one-time) or
// the recurring triple (Recurrence, TimeOfDay, Days for weekly) is populated.
type Reminder struct {
	ID      int64
	UserID  int64
	ChatID  int64
	TopicID *int64 // nil = general channel
	Message string

	RemindAt time.Time // one-time absolute instant (UTC); zero for recurring
	Timezone string    // IANA name the wall-clock schedule is interpreted in

	Recurring  bool
	Recurrence RecurrenceType // valid only when Recurring
	TimeOfDay  string         // "HH:MM", recurring only
	Days       []Weekday      // weekly only, one or more

	Sent bool // one-time only; recurring reminders never terminate via Sent

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks structural invariants. now is injected so callers (and tests)
// control the "future timestamp" check.
func (r *Reminder) Validate(now time.Time) error {
	if r.Message == "" {
		return ErrEmptyMessage
	}
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", r.Timezone, err)
	}

	switch {
	case r.Recurring:
		if !r.RemindAt.IsZero() {
			return ErrBothSchedules
		}
		if _, _, err := ParseHHMM(r.TimeOfDay); err != nil {
			return fmt.Errorf("time of day: %w", err)
		}
		switch r.Recurrence {
		case RecurDaily:
		case RecurWeekly:
			if len(r.Days) == 0 {
				return ErrNoWeekdays
			}
		default:
			return fmt.Errorf("unknown recurrence type %q", r.Recurrence)
		}
	default:
		if r.RemindAt.IsZero() {
			return ErrNoSchedule
		}
		if !r.RemindAt.After(now) {
			return ErrPastTime
		}
	}
	return nil
}

// Location resolves the reminder's timezone, falling back to UTC.
func (r *Reminder) Location() *time.Location {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EntityKind distinguishes timezone preference owners.
type EntityKind string

const (
	EntityUser EntityKind = "user"
	EntityChat EntityKind = "chat"
)

// TimezonePref is a stored per-entity IANA timezone choice.
type TimezonePref struct {
	EntityID int64
	Kind     EntityKind
	Timezone string
}

// Note is a bookmarked message inside a chat/topic.
type Note struct {
	ID          int64
	UserID      int64
	ChatID      int64
	TopicID     *int64
	MessageID   int64
	MessageText string
	MessageLink string
	Title       string
	CreatedAt   time.Time
}
