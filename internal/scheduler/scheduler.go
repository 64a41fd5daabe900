// Package scheduler defers notification delivery to a chat's preferred time
// of day. Jobs are one-shot and keyed by link id: scheduling a new change for
// a link that already has a pending job replaces it, so a link never stacks
// duplicate notifications.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"linktracker/internal/domain"
)

const fireTimeout = time.Minute

// Sender is the interface for delivering update batches.
type Sender interface {
	Send(ctx context.Context, batch []domain.Update) error
}

type pendingJob struct {
	seq       uint64
	entryID   cron.EntryID
	update    domain.Update
	plannedAt time.Time
}

type Scheduler struct {
	ctx    context.Context
	cron   *cron.Cron
	loc    *time.Location
	grace  time.Duration
	sender Sender
	log    *slog.Logger

	mu      sync.Mutex
	seq     uint64
	pending map[int64]*pendingJob
	closed  bool
}

func New(
	ctx context.Context,
	sender Sender,
	loc *time.Location,
	grace time.Duration,
	log *slog.Logger,
) *Scheduler {
	return &Scheduler{
		ctx:     ctx,
		cron:    cron.New(cron.WithLocation(loc)),
		loc:     loc,
		grace:   grace,
		sender:  sender,
		log:     log,
		pending: make(map[int64]*pendingJob),
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop rejects further scheduling and waits for in-flight deliveries to
// drain. Still-pending jobs are dropped; the next poll cycle re-detects any
// unreported change.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	dropped := len(s.pending)
	s.mu.Unlock()

	<-s.cron.Stop().Done()

	if dropped > 0 {
		s.log.Info("Dropped pending deferred jobs on shutdown",
			"droppedCount", dropped)
	}
}

// Schedule queues the update for the next occurrence of the chat's preferred
// time of day, replacing any job still pending for the same link.
func (s *Scheduler) Schedule(update domain.Update, at domain.DayTime) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("scheduler is stopped")
	}

	linkID := update.Link.ID

	s.seq++
	seq := s.seq

	spec := fmt.Sprintf("%d %d * * *", at.Minute, at.Hour)
	entryID, err := s.cron.AddFunc(spec, func() {
		s.fire(linkID, seq)
	})
	if err != nil {
		return fmt.Errorf("add cron entry: %w", err)
	}

	plannedAt := at.NextOccurrence(time.Now(), s.loc)

	if prev, ok := s.pending[linkID]; ok {
		s.cron.Remove(prev.entryID)
		s.log.Info("Replaced pending deferred job",
			"linkID", linkID,
			"plannedAt", plannedAt)
	} else {
		s.log.Info("Scheduled deferred job",
			"linkID", linkID,
			"plannedAt", plannedAt)
	}

	s.pending[linkID] = &pendingJob{
		seq:       seq,
		entryID:   entryID,
		update:    update,
		plannedAt: plannedAt,
	}

	return nil
}

// fire delivers one pending job. The cron entry recurs daily, so the job
// removes its entry on first fire to keep one-shot semantics. A stale seq
// means the job was replaced after this entry was queued to run.
func (s *Scheduler) fire(linkID int64, seq uint64) {
	s.mu.Lock()
	job, ok := s.pending[linkID]
	if !ok || job.seq != seq {
		s.mu.Unlock()
		return
	}

	delete(s.pending, linkID)
	s.cron.Remove(job.entryID)
	s.mu.Unlock()

	s.deliver(job)
}

func (s *Scheduler) deliver(job *pendingJob) {
	if late := time.Since(job.plannedAt); late > s.grace {
		s.log.Warn("Dropped deferred job past misfire grace",
			"linkID", job.update.Link.ID,
			"plannedAt", job.plannedAt,
			"lateSeconds", late.Seconds())

		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, fireTimeout)
	defer cancel()

	if err := s.sender.Send(ctx, []domain.Update{job.update}); err != nil {
		s.log.ErrorContext(ctx, "Failed to send deferred update",
			"error", err,
			"linkID", job.update.Link.ID,
			"chatID", job.update.Link.ChatID)
	}
}

// PendingCount reports how many deferred jobs are waiting to fire.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}
