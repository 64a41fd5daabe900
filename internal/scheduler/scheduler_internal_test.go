package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"linktracker/internal/domain"
)

type recordingSender struct {
	mu      sync.Mutex
	batches [][]domain.Update
}

func (s *recordingSender) Send(_ context.Context, batch []domain.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)

	return nil
}

func (s *recordingSender) sent() [][]domain.Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([][]domain.Update(nil), s.batches...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T, sender Sender) *Scheduler {
	t.Helper()

	s := New(context.Background(), sender, time.UTC, 5*time.Minute, discardLogger())
	s.Start()
	t.Cleanup(s.Stop)

	return s
}

func testUpdate(linkID int64, marker string) domain.Update {
	return domain.Update{
		Link:     domain.TrackedLink{ID: linkID, ChatID: 100, URL: "https://example.com/a.rss"},
		Snapshot: domain.ActivitySnapshot{Marker: marker},
	}
}

func TestScheduleReplacesPendingJobForSameLink(t *testing.T) {
	sender := &recordingSender{}
	s := newTestScheduler(t, sender)

	at := domain.DayTime{Hour: 9}

	if err := s.Schedule(testUpdate(1, "first"), at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Schedule(testUpdate(1, "second"), at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := s.PendingCount(); got != 1 {
		t.Fatalf("expected 1 pending job after replace, got %d", got)
	}

	s.mu.Lock()
	job := s.pending[1]
	s.mu.Unlock()

	if job.update.Snapshot.Marker != "second" {
		t.Fatalf("expected latest payload to win, got %q", job.update.Snapshot.Marker)
	}
}

func TestFireDeliversExactlyLatestOnce(t *testing.T) {
	sender := &recordingSender{}
	s := newTestScheduler(t, sender)

	at := domain.DayTime{Hour: 9}

	if err := s.Schedule(testUpdate(1, "first"), at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.mu.Lock()
	staleSeq := s.pending[1].seq
	s.mu.Unlock()

	if err := s.Schedule(testUpdate(1, "second"), at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A late run of the replaced entry must be a no-op.
	s.fire(1, staleSeq)

	if got := len(sender.sent()); got != 0 {
		t.Fatalf("stale fire delivered %d batches, want 0", got)
	}
	if got := s.PendingCount(); got != 1 {
		t.Fatalf("stale fire removed the pending job, pending = %d", got)
	}

	s.mu.Lock()
	currentSeq := s.pending[1].seq
	s.pending[1].plannedAt = time.Now()
	s.mu.Unlock()

	s.fire(1, currentSeq)

	batches := sender.sent()
	if len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("expected exactly one delivery of one update, got %v", batches)
	}
	if batches[0][0].Snapshot.Marker != "second" {
		t.Fatalf("expected latest payload delivered, got %q", batches[0][0].Snapshot.Marker)
	}
	if got := s.PendingCount(); got != 0 {
		t.Fatalf("fired job still pending, pending = %d", got)
	}

	// A duplicate run of the same entry finds nothing to deliver.
	s.fire(1, currentSeq)
	if got := len(sender.sent()); got != 1 {
		t.Fatalf("duplicate fire delivered again, batches = %d", got)
	}
}

func TestFireDropsJobPastMisfireGrace(t *testing.T) {
	sender := &recordingSender{}
	s := newTestScheduler(t, sender)

	if err := s.Schedule(testUpdate(1, "late"), domain.DayTime{Hour: 9}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.mu.Lock()
	seq := s.pending[1].seq
	s.pending[1].plannedAt = time.Now().Add(-6 * time.Minute)
	s.mu.Unlock()

	s.fire(1, seq)

	if got := len(sender.sent()); got != 0 {
		t.Fatalf("job past grace was delivered, batches = %d", got)
	}
	if got := s.PendingCount(); got != 0 {
		t.Fatalf("dropped job still pending, pending = %d", got)
	}
}

func TestFireWithinGraceStillDelivers(t *testing.T) {
	sender := &recordingSender{}
	s := newTestScheduler(t, sender)

	if err := s.Schedule(testUpdate(1, "slightly late"), domain.DayTime{Hour: 9}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.mu.Lock()
	seq := s.pending[1].seq
	s.pending[1].plannedAt = time.Now().Add(-4 * time.Minute)
	s.mu.Unlock()

	s.fire(1, seq)

	if got := len(sender.sent()); got != 1 {
		t.Fatalf("job within grace was not delivered, batches = %d", got)
	}
}

func TestJobsForDifferentLinksAreIndependent(t *testing.T) {
	sender := &recordingSender{}
	s := newTestScheduler(t, sender)

	at := domain.DayTime{Hour: 9}

	if err := s.Schedule(testUpdate(1, "one"), at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Schedule(testUpdate(2, "two"), at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := s.PendingCount(); got != 2 {
		t.Fatalf("expected 2 pending jobs, got %d", got)
	}

	s.mu.Lock()
	seq := s.pending[1].seq
	s.pending[1].plannedAt = time.Now()
	s.mu.Unlock()

	s.fire(1, seq)

	if got := s.PendingCount(); got != 1 {
		t.Fatalf("expected the other job to stay pending, pending = %d", got)
	}
}

func TestScheduleAfterStopFails(t *testing.T) {
	sender := &recordingSender{}
	s := New(context.Background(), sender, time.UTC, 5*time.Minute, discardLogger())
	s.Start()
	s.Stop()

	if err := s.Schedule(testUpdate(1, "too late"), domain.DayTime{Hour: 9}); err == nil {
		t.Fatal("expected error after Stop")
	}
}

func TestConcurrentScheduleIsSafe(t *testing.T) {
	sender := &recordingSender{}
	s := newTestScheduler(t, sender)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			update := testUpdate(int64(n%4), "concurrent")
			if err := s.Schedule(update, domain.DayTime{Hour: 9}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := s.PendingCount(); got != 4 {
		t.Fatalf("expected 4 pending jobs (one per link), got %d", got)
	}
}
