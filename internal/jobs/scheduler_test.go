package jobs

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func newMemStore() *memStore { return &memStore{jobs: make(map[string]Job)} }

func (m *memStore) InsertJob(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = *j
	return nil
}

func (m *memStore) DeleteJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *memStore) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (m *memStore) ListDueJobs(_ context.Context, now time.Time, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []Job
	for _, j := range m.jobs {
		if !j.NextFire.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].NextFire.Before(due[k].NextFire) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memStore) SetNextFire(_ context.Context, id string, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if ok {
		j.NextFire = next
		m.jobs[id] = j
	}
	return nil
}

func newTestScheduler(store Store, h Handler, now time.Time) *Scheduler {
	s := New(store, zap.NewNop(), h, time.Second)
	s.now = func() time.Time { return now }
	return s
}

func TestAddDateJob_FiresOnceAndIsRemoved(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	var fired []Payload
	s := newTestScheduler(store, func(_ context.Context, p Payload) { fired = append(fired, p) }, now)

	runAt := now.Add(time.Minute)
	id, err := s.AddDateJob(ctx, runAt, Payload{ReminderID: 7, ChatID: 42, Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if j, _ := s.GetJob(ctx, id); j == nil || !j.NextFire.Equal(runAt) {
		t.Fatalf("expected live job firing at %v, got %+v", runAt, j)
	}

	s.tick(ctx, now) // not due yet
	if len(fired) != 0 {
		t.Fatal("fired early")
	}

	s.tick(ctx, runAt)
	if len(fired) != 1 || fired[0].ReminderID != 7 {
		t.Fatalf("want one firing for reminder 7, got %v", fired)
	}
	if j, _ := s.GetJob(ctx, id); j != nil {
		t.Fatal("date job should be deleted after firing")
	}

	s.tick(ctx, runAt.Add(time.Hour))
	if len(fired) != 1 {
		t.Fatal("date job fired twice")
	}
}

func TestAddCronJob_AdvancesAfterFiring(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	// 08:00 UTC = 11:00 in Moscow; a 09:00 Moscow job is next due tomorrow.
	now := time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC)

	var fired int
	s := newTestScheduler(store, func(_ context.Context, _ Payload) { fired++ }, now)

	id, err := s.AddCronJob(ctx, 9, 0, "", "Europe/Moscow", Payload{ReminderID: 1, ChatID: 1})
	if err != nil {
		t.Fatal(err)
	}
	j, _ := s.GetJob(ctx, id)
	want := time.Date(2025, time.June, 2, 6, 0, 0, 0, time.UTC) // 09:00 MSK
	if !j.NextFire.Equal(want) {
		t.Fatalf("want next fire %v, got %v", want, j.NextFire)
	}

	s.tick(ctx, want)
	if fired != 1 {
		t.Fatalf("want 1 firing, got %d", fired)
	}
	j, _ = s.GetJob(ctx, id)
	if j == nil {
		t.Fatal("cron job must survive firing")
	}
	if !j.NextFire.Equal(want.Add(24 * time.Hour)) {
		t.Fatalf("want advance to %v, got %v", want.Add(24*time.Hour), j.NextFire)
	}
}

func TestAddCronJob_Weekly(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	// Sunday 2025-06-01; a Monday 10:00 UTC job fires the next day.
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	s := newTestScheduler(store, func(_ context.Context, _ Payload) {}, now)
	id, err := s.AddCronJob(ctx, 10, 30, "mon", "UTC", Payload{ReminderID: 2, ChatID: 2})
	if err != nil {
		t.Fatal(err)
	}
	j, _ := s.GetJob(ctx, id)
	want := time.Date(2025, time.June, 2, 10, 30, 0, 0, time.UTC)
	if !j.NextFire.Equal(want) {
		t.Fatalf("want %v, got %v", want, j.NextFire)
	}
}

func TestAddCronJob_UnknownZoneFallsBackToUTC(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	now := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)

	s := newTestScheduler(store, func(_ context.Context, _ Payload) {}, now)
	id, err := s.AddCronJob(ctx, 10, 0, "", "Mars/Olympus", Payload{ReminderID: 3, ChatID: 3})
	if err != nil {
		t.Fatal(err)
	}
	j, _ := s.GetJob(ctx, id)
	want := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	if !j.NextFire.Equal(want) {
		t.Fatalf("want UTC fallback %v, got %v", want, j.NextFire)
	}
}

func TestRemoveJob_AbsentIsNotAnError(t *testing.T) {
	s := newTestScheduler(newMemStore(), func(_ context.Context, _ Payload) {}, time.Now())
	if err := s.RemoveJob(context.Background(), "no-such-job"); err != nil {
		t.Fatalf("remove of absent job should succeed, got %v", err)
	}
	if j, err := s.GetJob(context.Background(), "no-such-job"); err != nil || j != nil {
		t.Fatalf("want nil, nil for absent job, got %v, %v", j, err)
	}
}
