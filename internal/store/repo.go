package store

import (
	"context"
	"errors"
	"time"

	"github.com/AlibekAbdunasimov/remindo/internal/domain"
)

// ErrNotFound is returned by Get* operations when no row matches.
var ErrNotFound = errors.New("not found")

// ReminderUpdate carries a partial field set for UpdateReminder. Nil fields are
// left untouched; updated_at is always refreshed.
type ReminderUpdate struct {
	Message    *string
	RemindAt   *time.Time
	TimeOfDay  *string
	Timezone   *string
	Recurrence *domain.RecurrenceType
	Days       *[]domain.Weekday
}

// Empty reports whether the update would change nothing.
func (u ReminderUpdate) Empty() bool {
	return u.Message == nil && u.RemindAt == nil && u.TimeOfDay == nil &&
		u.Timezone == nil && u.Recurrence == nil && u.Days == nil
}

// Repo defines storage operations for reminders, timezone preferences and notes.
// All reminder mutations are scoped to the owning user except the Admin
// variants, which are scoped to the chat only.
type Repo interface {
	AddReminder(ctx context.Context, r *domain.Reminder) (int64, error)
	GetReminder(ctx context.Context, id, userID int64) (*domain.Reminder, error)
	GetReminderAdmin(ctx context.Context, id, chatID int64) (*domain.Reminder, error)
	UpdateReminder(ctx context.Context, id, userID int64, upd ReminderUpdate) (bool, error)
	DeleteReminder(ctx context.Context, id, userID int64) (bool, error)
	AdminDeleteReminder(ctx context.Context, id, chatID int64) (bool, error)

	// ListUserReminders returns a user's active reminders in a chat. A nil
	// topicID means all topics; otherwise only the given topic.
	ListUserReminders(ctx context.Context, userID, chatID int64, topicID *int64) ([]domain.Reminder, error)
	// ListChatReminders is the admin variant: every user's active reminders.
	ListChatReminders(ctx context.Context, chatID int64, topicID *int64) ([]domain.Reminder, error)
	// PendingReminders returns reminders that still want scheduling: recurring
	// ones, and one-time ones not yet sent.
	PendingReminders(ctx context.Context) ([]domain.Reminder, error)

	JobIDs(ctx context.Context, reminderID int64) ([]string, error)
	SetJobIDs(ctx context.Context, reminderID int64, jobIDs []string) error
	// MarkSent flips is_sent on a one-time reminder. Recurring and missing
	// rows are silently ignored.
	MarkSent(ctx context.Context, reminderID int64) error

	SaveTimezone(ctx context.Context, entityID int64, kind domain.EntityKind, tz string) error
	// Timezone returns the stored preference or "" when none is set.
	Timezone(ctx context.Context, entityID int64, kind domain.EntityKind) (string, error)
	AllTimezones(ctx context.Context) ([]domain.TimezonePref, error)

	AddNote(ctx context.Context, n *domain.Note) (int64, error)
	ListNotes(ctx context.Context, userID, chatID int64, topicID *int64) ([]domain.Note, error)
	DeleteNote(ctx context.Context, id, userID int64) (bool, error)

	Close() error
}
