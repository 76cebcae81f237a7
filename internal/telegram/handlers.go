package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/AlibekAbdunasimov/remindo/internal/delivery"
	"github.com/AlibekAbdunasimov/remindo/internal/domain"
	"github.com/AlibekAbdunasimov/remindo/internal/engine"
	"github.com/AlibekAbdunasimov/remindo/internal/store"
)

// --- Generic helpers ---

// SendMessage sends a plain text message, targeting a forum topic when topicID
// is set. This makes Router satisfy delivery.Sender; a closed-topic rejection
// from Telegram is surfaced as the permanent error the worker gives up on.
func (r *Router) SendMessage(chatID int64, topicID *int64, text string) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params["text"] = text
	if topicID != nil {
		params.AddNonZero64("message_thread_id", *topicID)
	}
	if _, err := r.bot.MakeRequest("sendMessage", params); err != nil {
		if strings.Contains(err.Error(), "TOPIC_CLOSED") {
			return delivery.ErrTopicClosed
		}
		return err
	}
	return nil
}

func (r *Router) sendText(chatID int64, topicID *int64, text string) {
	if err := r.SendMessage(chatID, topicID, text); err != nil {
		r.log.Error("send failed", zap.Error(err), zap.Int64("chatID", chatID))
	}
}

func (r *Router) sendWithMarkup(chatID int64, topicID *int64, text string, markup tgbotapi.InlineKeyboardMarkup) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params["text"] = text
	if topicID != nil {
		params.AddNonZero64("message_thread_id", *topicID)
	}
	if err := params.AddInterface("reply_markup", markup); err != nil {
		r.log.Error("marshal keyboard failed", zap.Error(err))
		return
	}
	if _, err := r.bot.MakeRequest("sendMessage", params); err != nil {
		r.log.Error("send failed", zap.Error(err), zap.Int64("chatID", chatID))
	}
}

func (r *Router) answerCallback(id, text string) error {
	_, err := r.bot.Request(tgbotapi.NewCallback(id, text))
	return err
}

func (r *Router) resolveTZ(ctx context.Context, m *Message) (string, *time.Location) {
	name := r.tz.Resolve(ctx, m.From.ID, m.Chat.Type, m.Chat.ID)
	loc, err := time.LoadLocation(name)
	if err != nil {
		return "UTC", time.UTC
	}
	return name, loc
}

func isGroup(chatType string) bool {
	return chatType == "group" || chatType == "supergroup"
}

// isChatAdmin reports whether the user is a creator or administrator of the chat.
func (r *Router) isChatAdmin(chatID, userID int64) bool {
	member, err := r.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		r.log.Error("getChatMember failed", zap.Error(err),
			zap.Int64("chatID", chatID), zap.Int64("userID", userID))
		return false
	}
	return member.Status == "creator" || member.Status == "administrator"
}

// --- Core commands ---

func (r *Router) handleHelp(m *Message) {
	r.sendText(m.Chat.ID, m.TopicID(), helpText)
}

func (r *Router) handleRemind(ctx context.Context, m *Message) {
	text := strings.TrimSpace(m.CommandArguments())
	topic := m.TopicID()
	if text == "" {
		r.sendText(m.Chat.ID, topic, remindUsage)
		return
	}

	tzName, loc := r.resolveTZ(ctx, m)

	if spec := domain.ParseRecurrence(text); spec != nil {
		r.createRecurring(ctx, m, spec, tzName)
		return
	}

	now := time.Now().In(loc)
	res, err := r.when.Parse(text, now)
	if err != nil || res == nil {
		r.sendText(m.Chat.ID, topic, cantParseTime)
		return
	}
	at := res.Time
	// A bare time of day already behind us means tomorrow.
	if !at.After(now) {
		at = at.Add(24 * time.Hour)
	}
	message := strings.TrimSpace(text[:res.Index] + text[res.Index+len(res.Text):])
	if message == "" {
		r.sendText(m.Chat.ID, topic, emptyMessageText)
		return
	}

	rem := &domain.Reminder{
		UserID:   m.From.ID,
		ChatID:   m.Chat.ID,
		TopicID:  topic,
		Message:  message,
		RemindAt: at.UTC(),
		Timezone: tzName,
	}
	if err := r.engine.Create(ctx, rem); err != nil {
		r.replyCreateError(m, err)
		return
	}
	r.sendText(m.Chat.ID, topic, fmt.Sprintf(
		"Reminder #%d set for %s.", rem.ID, formatLocal(rem.RemindAt, loc)))
}

func (r *Router) createRecurring(ctx context.Context, m *Message, spec *domain.RecurrenceSpec, tzName string) {
	topic := m.TopicID()
	if spec.Message == "" {
		r.sendText(m.Chat.ID, topic, emptyMessageText)
		return
	}

	rem := &domain.Reminder{
		UserID:     m.From.ID,
		ChatID:     m.Chat.ID,
		TopicID:    topic,
		Message:    spec.Message,
		Timezone:   tzName,
		Recurring:  true,
		Recurrence: spec.Type,
		TimeOfDay:  spec.Time,
	}
	if spec.Type == domain.RecurWeekly {
		rem.Days = []domain.Weekday{spec.Day}
	}
	if err := r.engine.Create(ctx, rem); err != nil {
		r.replyCreateError(m, err)
		return
	}

	var schedule string
	if spec.Type == domain.RecurDaily {
		schedule = "every day at " + spec.Time
	} else {
		schedule = "every " + spec.Day.Full() + " at " + spec.Time
	}
	r.sendText(m.Chat.ID, topic, fmt.Sprintf(
		"Reminder #%d set, %s (%s).", rem.ID, schedule, tzName))
}

func (r *Router) replyCreateError(m *Message, err error) {
	topic := m.TopicID()
	switch {
	case errors.Is(err, domain.ErrPastTime):
		r.sendText(m.Chat.ID, topic, "That time is already in the past.")
	case errors.Is(err, domain.ErrMessageTooLong):
		r.sendText(m.Chat.ID, topic, fmt.Sprintf(
			"Message is too long, keep it under %d characters.", domain.MaxMessageLength))
	case errors.Is(err, domain.ErrEmptyMessage):
		r.sendText(m.Chat.ID, topic, emptyMessageText)
	default:
		r.log.Error("create reminder failed", zap.Error(err),
			zap.Int64("chatID", m.Chat.ID), zap.Int64("userID", m.From.ID))
		r.sendText(m.Chat.ID, topic, "Could not save the reminder. Please try again later.")
	}
}

// --- Listing ---

func (r *Router) handleList(ctx context.Context, m *Message) {
	topic := m.TopicID()
	scope := topic
	if strings.EqualFold(strings.TrimSpace(m.CommandArguments()), "all") {
		scope = nil
	}

	reminders, err := r.repo.ListUserReminders(ctx, m.From.ID, m.Chat.ID, scope)
	if err != nil {
		r.log.Error("list reminders failed", zap.Error(err), zap.Int64("userID", m.From.ID))
		r.sendText(m.Chat.ID, topic, "Could not load your reminders.")
		return
	}
	if len(reminders) == 0 {
		r.sendText(m.Chat.ID, topic, "You have no active reminders here. Create one with /remind.")
		return
	}

	_, loc := r.resolveTZ(ctx, m)
	var b strings.Builder
	b.WriteString("Your reminders:\n")
	for _, rem := range reminders {
		b.WriteString(formatReminderLine(&rem, loc))
		b.WriteByte('\n')
	}
	r.sendText(m.Chat.ID, topic, b.String())
}

func (r *Router) handleAdminList(ctx context.Context, m *Message) {
	topic := m.TopicID()
	if !isGroup(m.Chat.Type) {
		r.sendText(m.Chat.ID, topic, groupOnlyText)
		return
	}
	if !r.isChatAdmin(m.Chat.ID, m.From.ID) {
		r.sendText(m.Chat.ID, topic, adminOnlyText)
		return
	}

	scope := topic
	if strings.EqualFold(strings.TrimSpace(m.CommandArguments()), "all") {
		scope = nil
	}
	reminders, err := r.repo.ListChatReminders(ctx, m.Chat.ID, scope)
	if err != nil {
		r.log.Error("admin list failed", zap.Error(err), zap.Int64("chatID", m.Chat.ID))
		r.sendText(m.Chat.ID, topic, "Could not load chat reminders.")
		return
	}
	if len(reminders) == 0 {
		r.sendText(m.Chat.ID, topic, "No active reminders in this chat.")
		return
	}

	_, loc := r.resolveTZ(ctx, m)
	var b strings.Builder
	b.WriteString("All reminders in this chat:\n")
	for _, rem := range reminders {
		b.WriteString(formatReminderLine(&rem, loc))
		b.WriteString(fmt.Sprintf(" (user %d)\n", rem.UserID))
	}
	r.sendText(m.Chat.ID, topic, b.String())
}

// --- Delete ---

func (r *Router) handleDelete(ctx context.Context, m *Message) {
	topic := m.TopicID()
	id, err := strconv.ParseInt(strings.TrimSpace(m.CommandArguments()), 10, 64)
	if err != nil {
		r.sendText(m.Chat.ID, topic, "Usage: /delete <reminder id>")
		return
	}

	switch err := r.engine.Delete(ctx, id, m.From.ID); {
	case err == nil:
		r.sendText(m.Chat.ID, topic, fmt.Sprintf("Reminder #%d deleted.", id))
	case errors.Is(err, engine.ErrNotFound):
		r.sendText(m.Chat.ID, topic, notYoursText)
	default:
		r.log.Error("delete reminder failed", zap.Error(err), zap.Int64("reminderID", id))
		r.sendText(m.Chat.ID, topic, "Could not delete the reminder.")
	}
}

func (r *Router) handleAdminDelete(ctx context.Context, m *Message) {
	topic := m.TopicID()
	if !isGroup(m.Chat.Type) {
		r.sendText(m.Chat.ID, topic, groupOnlyText)
		return
	}
	if !r.isChatAdmin(m.Chat.ID, m.From.ID) {
		r.sendText(m.Chat.ID, topic, adminOnlyText)
		return
	}
	id, err := strconv.ParseInt(strings.TrimSpace(m.CommandArguments()), 10, 64)
	if err != nil {
		r.sendText(m.Chat.ID, topic, "Usage: /admin_delete <reminder id>")
		return
	}

	switch err := r.engine.AdminDelete(ctx, id, m.Chat.ID); {
	case err == nil:
		r.sendText(m.Chat.ID, topic, fmt.Sprintf("Reminder #%d deleted.", id))
	case errors.Is(err, engine.ErrNotFound):
		r.sendText(m.Chat.ID, topic, "No such reminder in this chat.")
	default:
		r.log.Error("admin delete failed", zap.Error(err), zap.Int64("reminderID", id))
		r.sendText(m.Chat.ID, topic, "Could not delete the reminder.")
	}
}

// --- Edit ---

func (r *Router) handleEdit(ctx context.Context, m *Message) {
	topic := m.TopicID()
	args := strings.TrimSpace(m.CommandArguments())
	idStr, rest, _ := strings.Cut(args, " ")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		r.sendText(m.Chat.ID, topic, "Usage: /edit <reminder id> [new text or time]")
		return
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		r.setPending(pendingKey{m.Chat.ID, m.From.ID},
			pendingState{kind: pendingEdit, reminderID: id, topicID: topic})
		r.sendText(m.Chat.ID, topic, "Send the new text or time for the reminder.")
		return
	}
	r.applyEdit(ctx, m, id, rest, topic)
}

// applyEdit interprets the input against the reminder's kind: a recurrence
// phrase or bare HH:MM reschedules a recurring reminder, a parseable date
// reschedules a one-time one, anything else replaces the message.
func (r *Router) applyEdit(ctx context.Context, m *Message, id int64, text string, topic *int64) {
	rem, err := r.repo.GetReminder(ctx, id, m.From.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.sendText(m.Chat.ID, topic, notYoursText)
			return
		}
		r.log.Error("load reminder failed", zap.Error(err), zap.Int64("reminderID", id))
		r.sendText(m.Chat.ID, topic, "Could not load the reminder.")
		return
	}

	upd, err := r.buildUpdate(ctx, m, rem, text)
	if err != nil {
		r.sendText(m.Chat.ID, topic, err.Error())
		return
	}

	fresh, err := r.engine.Edit(ctx, id, m.From.ID, upd)
	switch {
	case err == nil:
		_, loc := r.resolveTZ(ctx, m)
		r.sendText(m.Chat.ID, topic, "Updated:\n"+formatReminderLine(fresh, loc))
	case errors.Is(err, engine.ErrNotFound):
		r.sendText(m.Chat.ID, topic, notYoursText)
	case errors.Is(err, domain.ErrPastTime):
		r.sendText(m.Chat.ID, topic, "That time is already in the past.")
	case errors.Is(err, domain.ErrMessageTooLong):
		r.sendText(m.Chat.ID, topic, fmt.Sprintf(
			"Message is too long, keep it under %d characters.", domain.MaxMessageLength))
	default:
		r.log.Error("edit reminder failed", zap.Error(err), zap.Int64("reminderID", id))
		r.sendText(m.Chat.ID, topic, "Could not update the reminder.")
	}
}

func (r *Router) buildUpdate(ctx context.Context, m *Message, rem *domain.Reminder, text string) (store.ReminderUpdate, error) {
	if rem.Recurring {
		if spec := domain.ParseRecurrence(text); spec != nil {
			upd := store.ReminderUpdate{
				Recurrence: &spec.Type,
				TimeOfDay:  &spec.Time,
			}
			if spec.Type == domain.RecurWeekly {
				days := []domain.Weekday{spec.Day}
				upd.Days = &days
			} else {
				// Switching weekly -> daily must not leave stale weekdays behind.
				days := []domain.Weekday{}
				upd.Days = &days
			}
			if spec.Message != "" {
				upd.Message = &spec.Message
			}
			return upd, nil
		}
		if _, _, err := domain.ParseHHMM(text); err == nil {
			return store.ReminderUpdate{TimeOfDay: &text}, nil
		}
		return store.ReminderUpdate{Message: &text}, nil
	}

	if domain.ParseRecurrence(text) != nil {
		return store.ReminderUpdate{}, errors.New(
			"This is a one-time reminder. Delete it and create a recurring one with /remind.")
	}

	_, loc := r.resolveTZ(ctx, m)
	now := time.Now().In(loc)
	if res, err := r.when.Parse(text, now); err == nil && res != nil {
		at := res.Time
		if !at.After(now) {
			at = at.Add(24 * time.Hour)
		}
		atUTC := at.UTC()
		upd := store.ReminderUpdate{RemindAt: &atUTC}
		if msg := strings.TrimSpace(text[:res.Index] + text[res.Index+len(res.Text):]); msg != "" {
			upd.Message = &msg
		}
		return upd, nil
	}
	return store.ReminderUpdate{Message: &text}, nil
}

// --- Timezone ---

func (r *Router) handleSetTimezone(ctx context.Context, m *Message) {
	topic := m.TopicID()
	if isGroup(m.Chat.Type) && !r.isChatAdmin(m.Chat.ID, m.From.ID) {
		r.sendText(m.Chat.ID, topic, "Only chat admins can change the chat timezone.")
		return
	}

	arg := strings.TrimSpace(m.CommandArguments())
	if arg == "" {
		r.sendWithMarkup(m.Chat.ID, topic,
			"Choose a timezone or pick Custom to type your own (Region/City):",
			tzPresetsKeyboard())
		return
	}
	r.saveTimezone(ctx, m.Chat.ID, m.Chat.Type, m.From.ID, topic, arg)
}

func (r *Router) saveTimezone(ctx context.Context, chatID int64, chatType string, userID int64, topic *int64, tzName string) {
	if _, err := time.LoadLocation(tzName); err != nil {
		r.sendText(chatID, topic, "Invalid timezone. Example: Europe/Moscow")
		return
	}

	entityID, kind := userID, domain.EntityUser
	if isGroup(chatType) {
		entityID, kind = chatID, domain.EntityChat
	}
	if err := r.repo.SaveTimezone(ctx, entityID, kind, tzName); err != nil {
		r.log.Error("save timezone failed", zap.Error(err),
			zap.Int64("entityID", entityID), zap.String("kind", string(kind)))
		r.sendText(chatID, topic, "Could not save the timezone.")
		return
	}
	r.tz.Invalidate(entityID, kind)

	if kind == domain.EntityChat {
		r.sendText(chatID, topic, "Chat timezone updated: "+tzName)
	} else {
		r.sendText(chatID, topic, "Your timezone updated: "+tzName)
	}
}

func (r *Router) askCustomTZ(_ context.Context, cb *CallbackQuery) {
	_ = r.answerCallback(cb.ID, "")
	chat := cb.Message.Chat
	topic := cb.Message.TopicID()
	if isGroup(chat.Type) && !r.isChatAdmin(chat.ID, cb.From.ID) {
		r.sendText(chat.ID, topic, "Only chat admins can change the chat timezone.")
		return
	}
	r.setPending(pendingKey{chat.ID, cb.From.ID}, pendingState{kind: pendingTZ, topicID: topic})
	r.sendText(chat.ID, topic, "Enter a timezone (e.g. Europe/Moscow):")
}

func (r *Router) handleTZCallback(ctx context.Context, cb *CallbackQuery, tzName string) {
	_ = r.answerCallback(cb.ID, "")
	chat := cb.Message.Chat
	topic := cb.Message.TopicID()
	if isGroup(chat.Type) && !r.isChatAdmin(chat.ID, cb.From.ID) {
		r.sendText(chat.ID, topic, "Only chat admins can change the chat timezone.")
		return
	}
	r.saveTimezone(ctx, chat.ID, chat.Type, cb.From.ID, topic, tzName)
}

// --- Free-form dispatcher (pending flows) ---

func (r *Router) handleFreeForm(ctx context.Context, m *Message) {
	key := pendingKey{m.Chat.ID, m.From.ID}
	st, ok := r.getPending(key)
	if !ok {
		return
	}
	r.clearPending(key)

	text := strings.TrimSpace(m.Text)
	if text == "" {
		return
	}

	switch st.kind {
	case pendingTZ:
		r.saveTimezone(ctx, m.Chat.ID, m.Chat.Type, m.From.ID, st.topicID, text)
	case pendingEdit:
		r.applyEdit(ctx, m, st.reminderID, text, st.topicID)
	}
}

// --- Notes ---

func (r *Router) handleNote(ctx context.Context, m *Message) {
	topic := m.TopicID()
	reply := m.ReplyToMessage
	if reply == nil {
		r.sendText(m.Chat.ID, topic, "Reply to a message with /note [title] to bookmark it.")
		return
	}

	text := reply.Text
	if text == "" {
		text = reply.Caption
	}
	note := &domain.Note{
		UserID:      m.From.ID,
		ChatID:      m.Chat.ID,
		TopicID:     topic,
		MessageID:   int64(reply.MessageID),
		MessageText: text,
		MessageLink: messageLink(m.Chat, reply.MessageID),
		Title:       strings.TrimSpace(m.CommandArguments()),
	}
	id, err := r.repo.AddNote(ctx, note)
	if err != nil {
		r.log.Error("save note failed", zap.Error(err), zap.Int64("chatID", m.Chat.ID))
		r.sendText(m.Chat.ID, topic, "Could not save the note.")
		return
	}
	r.sendText(m.Chat.ID, topic, fmt.Sprintf("Saved as note #%d.", id))
}

func (r *Router) handleNotes(ctx context.Context, m *Message) {
	topic := m.TopicID()
	notes, err := r.repo.ListNotes(ctx, m.From.ID, m.Chat.ID, topic)
	if err != nil {
		r.log.Error("list notes failed", zap.Error(err), zap.Int64("userID", m.From.ID))
		r.sendText(m.Chat.ID, topic, "Could not load your notes.")
		return
	}
	if len(notes) == 0 {
		r.sendText(m.Chat.ID, topic, "No notes here. Reply to a message with /note to save one.")
		return
	}

	var b strings.Builder
	b.WriteString("Your notes:\n")
	for _, n := range notes {
		b.WriteString(formatNoteLine(&n))
		b.WriteByte('\n')
	}
	r.sendText(m.Chat.ID, topic, b.String())
}

func (r *Router) handleDelNote(ctx context.Context, m *Message) {
	topic := m.TopicID()
	id, err := strconv.ParseInt(strings.TrimSpace(m.CommandArguments()), 10, 64)
	if err != nil {
		r.sendText(m.Chat.ID, topic, "Usage: /delnote <note id>")
		return
	}

	ok, err := r.repo.DeleteNote(ctx, id, m.From.ID)
	if err != nil {
		r.log.Error("delete note failed", zap.Error(err), zap.Int64("noteID", id))
		r.sendText(m.Chat.ID, topic, "Could not delete the note.")
		return
	}
	if !ok {
		r.sendText(m.Chat.ID, topic, "No such note, or it is not yours.")
		return
	}
	r.sendText(m.Chat.ID, topic, fmt.Sprintf("Note #%d deleted.", id))
}

// messageLink builds a t.me deep link for supergroup messages. Private chats
// and basic groups have no public message links.
func messageLink(chat *tgbotapi.Chat, messageID int) string {
	if chat == nil || chat.Type != "supergroup" {
		return ""
	}
	internal := -chat.ID - 1000000000000
	if internal <= 0 {
		return ""
	}
	return fmt.Sprintf("https://t.me/c/%d/%d", internal, messageID)
}
