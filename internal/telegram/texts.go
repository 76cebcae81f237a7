package telegram

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/AlibekAbdunasimov/remindo/internal/domain"
)

// UI texts in English
const (
	helpText = "👋 I am a reminder bot.\n\n" +
		"Create reminders:\n" +
		"• /remind tomorrow at 18:00 call mom\n" +
		"• /remind every day at 09:00 drink water\n" +
		"• /remind every week on Monday at 10:00 standup\n\n" +
		"Manage them:\n" +
		"• /list — your reminders in this topic (/list all for the whole chat)\n" +
		"• /edit <id> <new text or time>\n" +
		"• /delete <id>\n" +
		"• /settimezone — set your (or this chat's) timezone\n\n" +
		"Bookmarks:\n" +
		"• reply to a message with /note [title] to save it\n" +
		"• /notes, /delnote <id>\n\n" +
		"Group admins: /admin_list, /admin_delete <id>."

	remindUsage = "Tell me what and when, e.g.:\n" +
		"/remind tomorrow at 18:00 call mom\n" +
		"/remind every day at 09:00 drink water"

	cantParseTime = "I could not find a time in that. Try something like " +
		"\"tomorrow at 18:00\" or \"every day at 09:00\"."

	emptyMessageText = "The reminder needs some text besides the time."
	notYoursText     = "No such reminder, or it is not yours."
	groupOnlyText    = "This command works in group chats only."
	adminOnlyText    = "Only chat admins can use this command."
)

func tzPresetsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Asia/Tashkent", "tz:Asia/Tashkent"),
			tgbotapi.NewInlineKeyboardButtonData("Asia/Almaty", "tz:Asia/Almaty"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Europe/Moscow", "tz:Europe/Moscow"),
			tgbotapi.NewInlineKeyboardButtonData("Europe/Berlin", "tz:Europe/Berlin"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("UTC", "tz:UTC"),
			tgbotapi.NewInlineKeyboardButtonData("✍️ Custom…", "tz:custom"),
		),
	)
}

func formatLocal(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("Mon, 02 Jan 2006 15:04")
}

// formatReminderLine renders one list entry, localizing one-time instants.
func formatReminderLine(r *domain.Reminder, loc *time.Location) string {
	if !r.Recurring {
		return fmt.Sprintf("#%d — %s — %s", r.ID, formatLocal(r.RemindAt, loc), r.Message)
	}
	if r.Recurrence == domain.RecurDaily {
		return fmt.Sprintf("#%d — every day at %s (%s) — %s", r.ID, r.TimeOfDay, r.Timezone, r.Message)
	}
	days := make([]string, len(r.Days))
	for i, d := range r.Days {
		days[i] = string(d)
	}
	return fmt.Sprintf("#%d — every %s at %s (%s) — %s",
		r.ID, strings.Join(days, ","), r.TimeOfDay, r.Timezone, r.Message)
}

func formatNoteLine(n *domain.Note) string {
	text := n.MessageText
	if text == "" {
		text = "(no text)"
	}
	if len(text) > 80 {
		text = text[:77] + "…"
	}
	line := fmt.Sprintf("#%d — %s", n.ID, text)
	if n.Title != "" {
		line = fmt.Sprintf("#%d [%s] — %s", n.ID, n.Title, text)
	}
	if n.MessageLink != "" {
		line += "\n    " + n.MessageLink
	}
	return line
}
