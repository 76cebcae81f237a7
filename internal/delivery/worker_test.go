package delivery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/AlibekAbdunasimov/remindo/internal/jobs"
)

type scriptedSender struct {
	errs  []error // one entry per attempt; nil = success
	calls int
}

func (s *scriptedSender) SendMessage(_ int64, _ *int64, _ string) error {
	if s.calls >= len(s.errs) {
		s.calls++
		return nil
	}
	err := s.errs[s.calls]
	s.calls++
	return err
}

type fakeMarker struct {
	marked []int64
	err    error
}

func (f *fakeMarker) MarkSent(_ context.Context, id int64) error {
	f.marked = append(f.marked, id)
	return f.err
}

func newTestWorker(sender Sender, marker SentMarker, maxRetries, base int) (*Worker, *[]time.Duration) {
	w := NewWorker(sender, marker, zap.NewNop(), maxRetries, base)
	var slept []time.Duration
	w.sleep = func(_ context.Context, d time.Duration) { slept = append(slept, d) }
	return w, &slept
}

func TestDeliver_SucceedsAfterTransientFailures(t *testing.T) {
	const maxRetries = 5
	transient := errors.New("rate limited")
	sender := &scriptedSender{errs: []error{transient, transient, transient, transient, nil}}
	marker := &fakeMarker{}
	w, slept := newTestWorker(sender, marker, maxRetries, 2)

	ok := w.Deliver(context.Background(), jobs.Payload{ReminderID: 5, ChatID: 1, Message: "m"})
	if !ok {
		t.Fatal("expected success")
	}
	if sender.calls != maxRetries {
		t.Fatalf("want %d attempts, got %d", maxRetries, sender.calls)
	}
	if len(marker.marked) != 1 || marker.marked[0] != 5 {
		t.Fatalf("want reminder 5 marked sent exactly once, got %v", marker.marked)
	}

	// Backoff sum: 2^0 + 2^1 + ... + 2^(maxRetries-2) seconds.
	var total time.Duration
	for _, d := range *slept {
		total += d
	}
	want := time.Duration(1+2+4+8) * time.Second
	if total != want {
		t.Fatalf("want total backoff %v, got %v", want, total)
	}
	if (*slept)[0] != time.Second || (*slept)[3] != 8*time.Second {
		t.Fatalf("backoff progression wrong: %v", *slept)
	}
}

func TestDeliver_ExhaustsRetries(t *testing.T) {
	transient := errors.New("network down")
	sender := &scriptedSender{errs: []error{transient, transient, transient}}
	marker := &fakeMarker{}
	w, slept := newTestWorker(sender, marker, 3, 2)

	if ok := w.Deliver(context.Background(), jobs.Payload{ReminderID: 5, ChatID: 1}); ok {
		t.Fatal("expected failure")
	}
	if sender.calls != 3 {
		t.Fatalf("want 3 attempts, got %d", sender.calls)
	}
	if len(marker.marked) != 0 {
		t.Fatal("failed delivery must not mark sent")
	}
	// No sleep after the final attempt.
	if len(*slept) != 2 {
		t.Fatalf("want 2 sleeps, got %d", len(*slept))
	}
}

func TestDeliver_TopicClosedShortCircuits(t *testing.T) {
	closed := fmt.Errorf("send: %w", ErrTopicClosed)
	sender := &scriptedSender{errs: []error{closed}}
	marker := &fakeMarker{}
	w, slept := newTestWorker(sender, marker, 5, 2)

	if ok := w.Deliver(context.Background(), jobs.Payload{ReminderID: 5, ChatID: 1}); ok {
		t.Fatal("expected failure")
	}
	if sender.calls != 1 {
		t.Fatalf("permanent error must stop after one attempt, got %d", sender.calls)
	}
	if len(*slept) != 0 {
		t.Fatalf("permanent error must never sleep, slept %v", *slept)
	}
	if len(marker.marked) != 0 {
		t.Fatal("must not mark sent")
	}
}

func TestDeliver_DeletedReminderIsHarmless(t *testing.T) {
	// A job that fired just before its reminder was deleted: MarkSent is a
	// store no-op, and delivery still reports success without resurrecting
	// anything.
	sender := &scriptedSender{}
	marker := &fakeMarker{} // store-level no-op; returns nil like the real repo
	w, _ := newTestWorker(sender, marker, 3, 2)

	if ok := w.Deliver(context.Background(), jobs.Payload{ReminderID: 404, ChatID: 1, Message: "gone"}); !ok {
		t.Fatal("delivery of an already-deleted reminder should not error")
	}
	if sender.calls != 1 {
		t.Fatalf("want a single attempt, got %d", sender.calls)
	}
}

func TestDeliver_MarkSentFailureStillSucceeds(t *testing.T) {
	sender := &scriptedSender{}
	marker := &fakeMarker{err: errors.New("db closed")}
	w, _ := newTestWorker(sender, marker, 3, 2)

	if ok := w.Deliver(context.Background(), jobs.Payload{ReminderID: 5, ChatID: 1}); !ok {
		t.Fatal("a mark-sent failure after a successful send is logged, not fatal")
	}
}
