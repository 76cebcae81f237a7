package delivery

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/AlibekAbdunasimov/remindo/internal/jobs"
)

// ErrTopicClosed marks the permanent "destination channel closed" condition.
// The sender implementation wraps the transport's error with this sentinel;
// the worker never retries it because the topic will not reopen on its own.
var ErrTopicClosed = errors.New("topic closed")

// Sender delivers a text message. topicID nil targets the chat's general channel.
type Sender interface {
	SendMessage(chatID int64, topicID *int64, text string) error
}

// SentMarker is the slice of the repository the worker needs after a
// successful send. Marking a recurring or already-deleted reminder is a no-op.
type SentMarker interface {
	MarkSent(ctx context.Context, reminderID int64) error
}

// Worker sends fired reminders with bounded retries and exponential backoff.
type Worker struct {
	sender     Sender
	store      SentMarker
	log        *zap.Logger
	maxRetries int
	base       int // backoff delay is base^attempt seconds

	sleep func(ctx context.Context, d time.Duration)
}

// NewWorker creates a Worker. maxRetries is the total attempt budget.
func NewWorker(sender Sender, store SentMarker, log *zap.Logger, maxRetries, base int) *Worker {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if base < 1 {
		base = 2
	}
	return &Worker{
		sender:     sender,
		store:      store,
		log:        log,
		maxRetries: maxRetries,
		base:       base,
		sleep:      sleepCtx,
	}
}

// Deliver sends a fired job's payload. It reports success after the reminder
// is sent (and marked sent for one-time reminders); a permanent topic-closed
// failure or an exhausted retry budget reports false. Deliver runs on the
// primary loop after the scheduler's handoff, so it may touch shared state.
func (w *Worker) Deliver(ctx context.Context, p jobs.Payload) bool {
	for attempt := 0; attempt < w.maxRetries; attempt++ {
		err := w.sender.SendMessage(p.ChatID, p.TopicID, p.Message)
		if err == nil {
			if err := w.store.MarkSent(ctx, p.ReminderID); err != nil {
				w.log.Warn("mark sent failed",
					zap.Error(err), zap.Int64("reminderID", p.ReminderID))
			}
			w.log.Info("reminder delivered",
				zap.Int64("reminderID", p.ReminderID),
				zap.Int64("chatID", p.ChatID),
				zap.Int("attempt", attempt+1),
			)
			return true
		}

		if errors.Is(err, ErrTopicClosed) {
			w.log.Error("topic closed, not retrying",
				zap.Error(err),
				zap.Int64("reminderID", p.ReminderID),
				zap.Int64("chatID", p.ChatID),
			)
			return false
		}

		w.log.Error("send attempt failed",
			zap.Error(err),
			zap.Int64("reminderID", p.ReminderID),
			zap.Int64("chatID", p.ChatID),
			zap.Int("attempt", attempt+1),
			zap.Int("maxRetries", w.maxRetries),
		)
		if attempt < w.maxRetries-1 {
			w.sleep(ctx, w.backoff(attempt))
		}
	}

	w.log.Error("all delivery attempts failed",
		zap.Int64("reminderID", p.ReminderID),
		zap.Int64("chatID", p.ChatID),
		zap.Int("maxRetries", w.maxRetries),
	)
	return false
}

// backoff returns base^attempt seconds.
func (w *Worker) backoff(attempt int) time.Duration {
	delay := 1
	for i := 0; i < attempt; i++ {
		delay *= w.base
	}
	return time.Duration(delay) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
