package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/AlibekAbdunasimov/remindo/internal/domain"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sql.DB }

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Single-writer engine; keep the pool at one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the underlying handle so the job scheduler can manage its own
// scheduler_jobs table on the same database file.
func (r *SQLiteRepo) DB() *sql.DB { return r.db }

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error { return r.db.Close() }

const reminderColumns = `id, user_id, chat_id, topic_id, message, remind_at, time_of_day,
	timezone, is_sent, is_recurring, recurrence_type, day_of_week, created_at, updated_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanReminder(row rowScanner) (*domain.Reminder, error) {
	var (
		rem      domain.Reminder
		topicID  sql.NullInt64
		remindAt sql.NullInt64
		timeOfD  sql.NullString
		sentInt  int
		recurInt int
		recurTyp sql.NullString
		days     sql.NullString
		created  int64
		updated  int64
	)
	if err := row.Scan(
		&rem.ID, &rem.UserID, &rem.ChatID, &topicID, &rem.Message, &remindAt, &timeOfD,
		&rem.Timezone, &sentInt, &recurInt, &recurTyp, &days, &created, &updated,
	); err != nil {
		return nil, err
	}

	rem.TopicID = fromNullInt64(topicID)
	rem.RemindAt = fromNullTime(remindAt)
	rem.TimeOfDay = timeOfD.String
	rem.Sent = sentInt != 0
	rem.Recurring = recurInt != 0
	rem.Recurrence = domain.RecurrenceType(recurTyp.String)
	rem.CreatedAt = time.Unix(created, 0).UTC()
	rem.UpdatedAt = time.Unix(updated, 0).UTC()

	if days.Valid {
		parsed, err := domain.SplitDays(days.String)
		if err != nil {
			return nil, fmt.Errorf("reminder %d: %w", rem.ID, err)
		}
		rem.Days = parsed
	}
	return &rem, nil
}

// AddReminder inserts a reminder and returns the assigned id.
func (r *SQLiteRepo) AddReminder(ctx context.Context, rem *domain.Reminder) (int64, error) {
	if rem == nil {
		return 0, errors.New("nil reminder")
	}
	now := time.Now().UTC().Unix()

	var recurType sql.NullString
	if rem.Recurring {
		recurType = toNullString(string(rem.Recurrence))
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO reminders (
			user_id, chat_id, topic_id, message, remind_at, time_of_day,
			timezone, is_sent, is_recurring, recurrence_type, day_of_week,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		rem.UserID, rem.ChatID, toNullInt64(rem.TopicID), rem.Message,
		toNullTime(rem.RemindAt), toNullString(rem.TimeOfDay),
		rem.Timezone, boolToInt(rem.Recurring), recurType,
		toNullString(domain.JoinDays(rem.Days)), now, now,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetReminder returns a reminder scoped to its owner.
func (r *SQLiteRepo) GetReminder(ctx context.Context, id, userID int64) (*domain.Reminder, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = ? AND user_id = ?`, id, userID)
	rem, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rem, err
}

// GetReminderAdmin returns a reminder scoped to the chat only.
func (r *SQLiteRepo) GetReminderAdmin(ctx context.Context, id, chatID int64) (*domain.Reminder, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = ? AND chat_id = ?`, id, chatID)
	rem, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rem, err
}

// UpdateReminder applies a partial field set and refreshes updated_at.
// Returns false when the row does not exist or does not belong to userID.
func (r *SQLiteRepo) UpdateReminder(ctx context.Context, id, userID int64, upd ReminderUpdate) (bool, error) {
	if upd.Empty() {
		return false, nil
	}

	var (
		sets []string
		args []any
	)
	if upd.Message != nil {
		sets = append(sets, "message = ?")
		args = append(args, *upd.Message)
	}
	if upd.RemindAt != nil {
		sets = append(sets, "remind_at = ?")
		args = append(args, toNullTime(*upd.RemindAt))
	}
	if upd.TimeOfDay != nil {
		sets = append(sets, "time_of_day = ?")
		args = append(args, toNullString(*upd.TimeOfDay))
	}
	if upd.Timezone != nil {
		sets = append(sets, "timezone = ?")
		args = append(args, *upd.Timezone)
	}
	if upd.Recurrence != nil {
		sets = append(sets, "recurrence_type = ?")
		args = append(args, toNullString(string(*upd.Recurrence)))
	}
	if upd.Days != nil {
		sets = append(sets, "day_of_week = ?")
		args = append(args, toNullString(domain.JoinDays(*upd.Days)))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().Unix(), id, userID)

	res, err := r.db.ExecContext(ctx,
		`UPDATE reminders SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteReminder removes a reminder owned by userID. Linked job ids go with it
// via the reminder_jobs cascade.
func (r *SQLiteRepo) DeleteReminder(ctx context.Context, id, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AdminDeleteReminder removes any reminder in the chat regardless of owner.
func (r *SQLiteRepo) AdminDeleteReminder(ctx context.Context, id, chatID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE id = ? AND chat_id = ?`, id, chatID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const activeFilter = `(is_sent = 0 OR is_recurring = 1)`

func (r *SQLiteRepo) listReminders(ctx context.Context, query string, args ...any) ([]domain.Reminder, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rem)
	}
	return res, rows.Err()
}

// ListUserReminders returns a user's active reminders in a chat, soonest first.
func (r *SQLiteRepo) ListUserReminders(ctx context.Context, userID, chatID int64, topicID *int64) ([]domain.Reminder, error) {
	if topicID != nil {
		return r.listReminders(ctx,
			`SELECT `+reminderColumns+` FROM reminders
			 WHERE user_id = ? AND chat_id = ? AND topic_id = ? AND `+activeFilter+`
			 ORDER BY remind_at ASC, id ASC`,
			userID, chatID, *topicID)
	}
	return r.listReminders(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE user_id = ? AND chat_id = ? AND `+activeFilter+`
		 ORDER BY remind_at ASC, id ASC`,
		userID, chatID)
}

// ListChatReminders returns every user's active reminders in a chat (admin view).
func (r *SQLiteRepo) ListChatReminders(ctx context.Context, chatID int64, topicID *int64) ([]domain.Reminder, error) {
	if topicID != nil {
		return r.listReminders(ctx,
			`SELECT `+reminderColumns+` FROM reminders
			 WHERE chat_id = ? AND topic_id = ? AND `+activeFilter+`
			 ORDER BY remind_at ASC, id ASC`,
			chatID, *topicID)
	}
	return r.listReminders(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE chat_id = ? AND `+activeFilter+`
		 ORDER BY remind_at ASC, id ASC`,
		chatID)
}

// PendingReminders returns everything that still wants scheduling.
func (r *SQLiteRepo) PendingReminders(ctx context.Context) ([]domain.Reminder, error) {
	return r.listReminders(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE `+activeFilter+`
		 ORDER BY remind_at ASC, id ASC`)
}

// JobIDs returns the scheduler job ids linked to a reminder, in stored order.
func (r *SQLiteRepo) JobIDs(ctx context.Context, reminderID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT job_id FROM reminder_jobs WHERE reminder_id = ? ORDER BY position ASC`, reminderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetJobIDs replaces the reminder's job id set atomically.
func (r *SQLiteRepo) SetJobIDs(ctx context.Context, reminderID int64, jobIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM reminder_jobs WHERE reminder_id = ?`, reminderID); err != nil {
		_ = tx.Rollback()
		return err
	}
	for i, id := range jobIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reminder_jobs (reminder_id, position, job_id) VALUES (?, ?, ?)`,
			reminderID, i, id); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// MarkSent flips is_sent on a one-time reminder. A recurring or deleted
// reminder is left alone, which keeps a fired-after-delete job harmless.
func (r *SQLiteRepo) MarkSent(ctx context.Context, reminderID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE reminders
		SET is_sent = 1, updated_at = ?
		WHERE id = ? AND is_recurring = 0`,
		time.Now().UTC().Unix(), reminderID,
	)
	return err
}

// SaveTimezone upserts a per-entity timezone preference.
func (r *SQLiteRepo) SaveTimezone(ctx context.Context, entityID int64, kind domain.EntityKind, tz string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO timezone_preferences (entity_id, entity_type, timezone, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_id, entity_type) DO UPDATE SET
			timezone   = excluded.timezone,
			created_at = excluded.created_at`,
		entityID, string(kind), tz, time.Now().UTC().Unix(),
	)
	return err
}

// Timezone returns the stored preference or "" when none is set.
func (r *SQLiteRepo) Timezone(ctx context.Context, entityID int64, kind domain.EntityKind) (string, error) {
	var tz string
	err := r.db.QueryRowContext(ctx,
		`SELECT timezone FROM timezone_preferences WHERE entity_id = ? AND entity_type = ?`,
		entityID, string(kind)).Scan(&tz)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return tz, err
}

// AllTimezones returns every stored preference, used to warm the resolver cache.
func (r *SQLiteRepo) AllTimezones(ctx context.Context) ([]domain.TimezonePref, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT entity_id, entity_type, timezone FROM timezone_preferences`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.TimezonePref
	for rows.Next() {
		var p domain.TimezonePref
		var kind string
		if err := rows.Scan(&p.EntityID, &kind, &p.Timezone); err != nil {
			return nil, err
		}
		p.Kind = domain.EntityKind(kind)
		res = append(res, p)
	}
	return res, rows.Err()
}

// AddNote saves a bookmarked message.
func (r *SQLiteRepo) AddNote(ctx context.Context, n *domain.Note) (int64, error) {
	if n == nil {
		return 0, errors.New("nil note")
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO notes (user_id, chat_id, topic_id, message_id, message_text, message_link, note_title, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.UserID, n.ChatID, toNullInt64(n.TopicID), n.MessageID,
		n.MessageText, n.MessageLink, toNullString(n.Title),
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListNotes returns a user's notes in a chat, newest first. A nil topicID
// selects the general channel only, matching how notes are browsed per topic.
func (r *SQLiteRepo) ListNotes(ctx context.Context, userID, chatID int64, topicID *int64) ([]domain.Note, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if topicID != nil {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, user_id, chat_id, topic_id, message_id, message_text, message_link, note_title, created_at
			FROM notes
			WHERE user_id = ? AND chat_id = ? AND topic_id = ?
			ORDER BY created_at DESC, id DESC`,
			userID, chatID, *topicID)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, user_id, chat_id, topic_id, message_id, message_text, message_link, note_title, created_at
			FROM notes
			WHERE user_id = ? AND chat_id = ? AND topic_id IS NULL
			ORDER BY created_at DESC, id DESC`,
			userID, chatID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Note
	for rows.Next() {
		var (
			n       domain.Note
			topic   sql.NullInt64
			title   sql.NullString
			created int64
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.ChatID, &topic, &n.MessageID,
			&n.MessageText, &n.MessageLink, &title, &created); err != nil {
			return nil, err
		}
		n.TopicID = fromNullInt64(topic)
		n.Title = title.String
		n.CreatedAt = time.Unix(created, 0).UTC()
		res = append(res, n)
	}
	return res, rows.Err()
}

// DeleteNote removes a note owned by userID.
func (r *SQLiteRepo) DeleteNote(ctx context.Context, id, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM notes WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
