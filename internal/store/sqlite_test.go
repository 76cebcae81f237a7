package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/AlibekAbdunasimov/remindo/internal/domain"
)

func openTestRepo(t *testing.T) *SQLiteRepo {
	t.Helper()
	repo, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func addOneTime(t *testing.T, repo *SQLiteRepo, userID, chatID int64, msg string, at time.Time) int64 {
	t.Helper()
	id, err := repo.AddReminder(context.Background(), &domain.Reminder{
		UserID:   userID,
		ChatID:   chatID,
		Message:  msg,
		RemindAt: at,
		Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("add reminder: %v", err)
	}
	return id
}

func TestReminderRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	topic := int64(7)
	at := time.Date(2025, time.July, 1, 9, 30, 0, 0, time.UTC)
	id, err := repo.AddReminder(ctx, &domain.Reminder{
		UserID:   1,
		ChatID:   -100,
		TopicID:  &topic,
		Message:  "pay rent",
		RemindAt: at,
		Timezone: "Europe/Moscow",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetReminder(ctx, id, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Message != "pay rent" || got.Timezone != "Europe/Moscow" {
		t.Fatalf("unexpected fields: %+v", got)
	}
	if got.TopicID == nil || *got.TopicID != 7 {
		t.Fatalf("topic id lost: %v", got.TopicID)
	}
	if !got.RemindAt.Equal(at) {
		t.Fatalf("remind_at %v, want %v", got.RemindAt, at)
	}
	if got.Recurring || got.Sent {
		t.Fatalf("fresh one-time reminder flags: %+v", got)
	}

	if _, err := repo.GetReminder(ctx, id, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign user: want ErrNotFound, got %v", err)
	}
}

func TestRecurringRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	id, err := repo.AddReminder(ctx, &domain.Reminder{
		UserID:     2,
		ChatID:     200,
		Message:    "standup",
		Timezone:   "UTC",
		Recurring:  true,
		Recurrence: domain.RecurWeekly,
		TimeOfDay:  "10:00",
		Days:       []domain.Weekday{"mon", "wed", "fri"},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetReminder(ctx, id, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Recurring || got.Recurrence != domain.RecurWeekly {
		t.Fatalf("recurrence lost: %+v", got)
	}
	if got.TimeOfDay != "10:00" {
		t.Fatalf("time of day %q", got.TimeOfDay)
	}
	if len(got.Days) != 3 || got.Days[0] != "mon" || got.Days[2] != "fri" {
		t.Fatalf("days %v", got.Days)
	}
	if !got.RemindAt.IsZero() {
		t.Fatalf("recurring reminder must have zero remind_at, got %v", got.RemindAt)
	}
}

func TestUpdateReminder_Partial(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	at := time.Date(2025, time.July, 1, 9, 0, 0, 0, time.UTC)
	id := addOneTime(t, repo, 1, 100, "old text", at)

	before, _ := repo.GetReminder(ctx, id, 1)

	msg := "new text"
	ok, err := repo.UpdateReminder(ctx, id, 1, ReminderUpdate{Message: &msg})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("update reported no rows")
	}

	after, _ := repo.GetReminder(ctx, id, 1)
	if after.Message != "new text" {
		t.Fatalf("message %q", after.Message)
	}
	if !after.RemindAt.Equal(at) {
		t.Fatalf("untouched remind_at changed: %v", after.RemindAt)
	}
	if after.UpdatedAt.Before(before.UpdatedAt) {
		t.Fatalf("updated_at went backwards: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}

	if ok, _ := repo.UpdateReminder(ctx, id, 999, ReminderUpdate{Message: &msg}); ok {
		t.Fatal("update must be scoped to the owner")
	}
	if ok, _ := repo.UpdateReminder(ctx, id, 1, ReminderUpdate{}); ok {
		t.Fatal("empty update must be a no-op")
	}
}

func TestJobIDs_OrderAndReplace(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	id := addOneTime(t, repo, 1, 100, "x", time.Now().Add(time.Hour))

	if ids, err := repo.JobIDs(ctx, id); err != nil || len(ids) != 0 {
		t.Fatalf("fresh reminder: ids=%v err=%v", ids, err)
	}

	want := []string{"c-job", "a-job", "b-job"}
	if err := repo.SetJobIDs(ctx, id, want); err != nil {
		t.Fatal(err)
	}
	got, err := repo.JobIDs(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("ids %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order not preserved: got %v want %v", got, want)
		}
	}

	if err := repo.SetJobIDs(ctx, id, []string{"only"}); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.JobIDs(ctx, id)
	if len(got) != 1 || got[0] != "only" {
		t.Fatalf("replace failed: %v", got)
	}
}

func TestDeleteReminder_CascadesJobIDs(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	id := addOneTime(t, repo, 1, 100, "x", time.Now().Add(time.Hour))
	if err := repo.SetJobIDs(ctx, id, []string{"j1", "j2"}); err != nil {
		t.Fatal(err)
	}

	ok, err := repo.DeleteReminder(ctx, id, 1)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if ids, _ := repo.JobIDs(ctx, id); len(ids) != 0 {
		t.Fatalf("job ids survived the cascade: %v", ids)
	}

	if ok, _ := repo.DeleteReminder(ctx, id, 1); ok {
		t.Fatal("second delete must report no rows")
	}
}

func TestMarkSent(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	oneID := addOneTime(t, repo, 1, 100, "once", time.Now().Add(time.Hour))
	recurID, err := repo.AddReminder(ctx, &domain.Reminder{
		UserID: 1, ChatID: 100, Message: "daily", Timezone: "UTC",
		Recurring: true, Recurrence: domain.RecurDaily, TimeOfDay: "08:00",
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := repo.MarkSent(ctx, oneID); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetReminder(ctx, oneID, 1)
	if !got.Sent {
		t.Fatal("one-time reminder not marked sent")
	}

	if err := repo.MarkSent(ctx, recurID); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.GetReminder(ctx, recurID, 1)
	if got.Sent {
		t.Fatal("recurring reminders must never be marked sent")
	}

	// Deleted rows are a silent no-op.
	if err := repo.MarkSent(ctx, 9999); err != nil {
		t.Fatal(err)
	}
}

func TestPendingReminders(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	sentID := addOneTime(t, repo, 1, 100, "done", time.Now().Add(time.Hour))
	if err := repo.MarkSent(ctx, sentID); err != nil {
		t.Fatal(err)
	}
	openID := addOneTime(t, repo, 1, 100, "open", time.Now().Add(2*time.Hour))
	recurID, err := repo.AddReminder(ctx, &domain.Reminder{
		UserID: 2, ChatID: 200, Message: "daily", Timezone: "UTC",
		Recurring: true, Recurrence: domain.RecurDaily, TimeOfDay: "08:00",
	})
	if err != nil {
		t.Fatal(err)
	}

	pending, err := repo.PendingReminders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := map[int64]bool{}
	for _, r := range pending {
		got[r.ID] = true
	}
	if got[sentID] {
		t.Fatal("sent one-time reminder must not be pending")
	}
	if !got[openID] || !got[recurID] {
		t.Fatalf("pending set incomplete: %v", got)
	}
}

func TestListUserReminders_TopicScoping(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	topic := int64(5)
	if _, err := repo.AddReminder(ctx, &domain.Reminder{
		UserID: 1, ChatID: -100, TopicID: &topic, Message: "in topic",
		RemindAt: time.Now().Add(time.Hour), Timezone: "UTC",
	}); err != nil {
		t.Fatal(err)
	}
	addOneTime(t, repo, 1, -100, "general", time.Now().Add(2*time.Hour))
	addOneTime(t, repo, 2, -100, "other user", time.Now().Add(time.Hour))

	all, err := repo.ListUserReminders(ctx, 1, -100, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all topics: want 2, got %d", len(all))
	}

	scoped, err := repo.ListUserReminders(ctx, 1, -100, &topic)
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 1 || scoped[0].Message != "in topic" {
		t.Fatalf("topic scoped: %+v", scoped)
	}

	chat, err := repo.ListChatReminders(ctx, -100, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(chat) != 3 {
		t.Fatalf("chat wide: want 3, got %d", len(chat))
	}
}

func TestTimezonePreferences(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	if tz, err := repo.Timezone(ctx, 1, domain.EntityUser); err != nil || tz != "" {
		t.Fatalf("unset preference: tz=%q err=%v", tz, err)
	}

	if err := repo.SaveTimezone(ctx, 1, domain.EntityUser, "Europe/Moscow"); err != nil {
		t.Fatal(err)
	}
	if err := repo.SaveTimezone(ctx, 1, domain.EntityUser, "Asia/Almaty"); err != nil {
		t.Fatal(err)
	}
	tz, err := repo.Timezone(ctx, 1, domain.EntityUser)
	if err != nil {
		t.Fatal(err)
	}
	if tz != "Asia/Almaty" {
		t.Fatalf("upsert lost: %q", tz)
	}

	// Same id, different kind, is a distinct row.
	if err := repo.SaveTimezone(ctx, 1, domain.EntityChat, "UTC"); err != nil {
		t.Fatal(err)
	}
	all, err := repo.AllTimezones(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("want 2 preferences, got %+v", all)
	}
}

func TestNotes(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	topic := int64(3)
	if _, err := repo.AddNote(ctx, &domain.Note{
		UserID: 1, ChatID: -100, TopicID: &topic, MessageID: 10,
		MessageText: "topic note", MessageLink: "https://t.me/c/100/10",
	}); err != nil {
		t.Fatal(err)
	}
	genID, err := repo.AddNote(ctx, &domain.Note{
		UserID: 1, ChatID: -100, MessageID: 11,
		MessageText: "general note", MessageLink: "https://t.me/c/100/11", Title: "links",
	})
	if err != nil {
		t.Fatal(err)
	}

	general, err := repo.ListNotes(ctx, 1, -100, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(general) != 1 || general[0].MessageText != "general note" || general[0].Title != "links" {
		t.Fatalf("general notes: %+v", general)
	}

	topical, err := repo.ListNotes(ctx, 1, -100, &topic)
	if err != nil {
		t.Fatal(err)
	}
	if len(topical) != 1 || topical[0].MessageText != "topic note" {
		t.Fatalf("topic notes: %+v", topical)
	}

	if ok, _ := repo.DeleteNote(ctx, genID, 2); ok {
		t.Fatal("delete must be scoped to the owner")
	}
	ok, err := repo.DeleteNote(ctx, genID, 1)
	if err != nil || !ok {
		t.Fatalf("delete note: ok=%v err=%v", ok, err)
	}
	if left, _ := repo.ListNotes(ctx, 1, -100, nil); len(left) != 0 {
		t.Fatalf("note survived delete: %+v", left)
	}
}
