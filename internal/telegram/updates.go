package telegram

import (
	"context"
	"encoding/json"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// The v5 library tag predates forum topics, so its Update type silently drops
// message_thread_id. We long-poll getUpdates ourselves and decode into types
// that keep the topic fields, embedding the library structs for everything else.

// Message is a Telegram message with the forum-topic fields preserved.
type Message struct {
	tgbotapi.Message
	MessageThreadID int64 `json:"message_thread_id"`
	IsTopicMessage  bool  `json:"is_topic_message"`
}

// TopicID returns the forum topic the message was posted in, or nil for the
// general channel and non-forum chats.
func (m *Message) TopicID() *int64 {
	if m.IsTopicMessage && m.MessageThreadID != 0 {
		id := m.MessageThreadID
		return &id
	}
	return nil
}

// CallbackQuery keeps the topic fields of the message the keyboard sits under.
type CallbackQuery struct {
	tgbotapi.CallbackQuery
	Message *Message `json:"message"`
}

// Update is the slice of a Telegram update the bot handles.
type Update struct {
	UpdateID      int            `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

// Poller long-polls getUpdates and feeds decoded updates into a channel.
type Poller struct {
	bot     *tgbotapi.BotAPI
	log     *zap.Logger
	timeout int // long-poll timeout, seconds
	offset  int
}

// NewPoller creates a Poller with a 30s long-poll timeout.
func NewPoller(bot *tgbotapi.BotAPI, log *zap.Logger) *Poller {
	return &Poller{bot: bot, log: log, timeout: 30}
}

// Run polls until ctx is cancelled. The returned channel is closed on exit.
func (p *Poller) Run(ctx context.Context) <-chan Update {
	ch := make(chan Update, 16)
	go func() {
		defer close(ch)
		for {
			if ctx.Err() != nil {
				return
			}
			updates, err := p.fetch()
			if err != nil {
				p.log.Error("getUpdates failed", zap.Error(err))
				select {
				case <-time.After(3 * time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			for _, upd := range updates {
				if upd.UpdateID >= p.offset {
					p.offset = upd.UpdateID + 1
				}
				select {
				case ch <- upd:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}

func (p *Poller) fetch() ([]Update, error) {
	params := tgbotapi.Params{}
	params.AddNonZero("offset", p.offset)
	params.AddNonZero("timeout", p.timeout)

	resp, err := p.bot.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}
