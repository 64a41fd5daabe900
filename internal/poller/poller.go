// Package poller drives the update-polling loop: it pages through all
// tracked links, fetches fresh activity per link, detects changes, and routes
// notifications to immediate or deferred delivery.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"linktracker/internal/change"
	"linktracker/internal/database"
	"linktracker/internal/domain"
	"linktracker/internal/source"
)

// Store is the subset of the link store the poller consumes.
type Store interface {
	LinksPage(ctx context.Context, page int, pageSize int) ([]domain.TrackedLink, error)
	UpdateMarker(ctx context.Context, linkID int64, marker string) error
	DeliveryPreference(ctx context.Context, chatID int64) (*domain.DayTime, error)
}

// Sources resolves a source client by link URL.
type Sources interface {
	For(rawURL string) (source.Client, error)
}

// Deferred schedules a notification for a chat's preferred time of day.
type Deferred interface {
	Schedule(update domain.Update, at domain.DayTime) error
}

// Sender is the interface for delivering update batches.
type Sender interface {
	Send(ctx context.Context, batch []domain.Update) error
}

type Config struct {
	PageSize    int
	ChunkCount  int
	Workers     int
	IdleBackoff time.Duration
}

type Poller struct {
	store    Store
	sources  Sources
	deferred Deferred
	sender   Sender
	cfg      Config
	log      *slog.Logger
}

func New(
	store Store,
	sources Sources,
	deferred Deferred,
	sender Sender,
	cfg Config,
	log *slog.Logger,
) *Poller {
	if cfg.PageSize < 1 {
		cfg.PageSize = 50
	}
	if cfg.ChunkCount < 1 {
		cfg.ChunkCount = 4
	}
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = time.Hour
	}

	return &Poller{
		store:    store,
		sources:  sources,
		deferred: deferred,
		sender:   sender,
		cfg:      cfg,
		log:      log,
	}
}

// Run loops until ctx is cancelled. Each iteration reads one page of links;
// an empty page resets pagination and backs off for the idle interval so an
// empty store is not hot-looped.
func (p *Poller) Run(ctx context.Context) {
	page := 1

	for {
		if ctx.Err() != nil {
			return
		}

		links, err := p.store.LinksPage(ctx, page, p.cfg.PageSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			p.log.ErrorContext(ctx, "Failed to read links page",
				"error", err,
				"page", page)

			if !p.sleep(ctx, p.cfg.IdleBackoff) {
				return
			}

			continue
		}

		if len(links) == 0 {
			page = 1

			p.log.InfoContext(ctx, "No links to check, backing off",
				"idleBackoffSeconds", p.cfg.IdleBackoff.Seconds())

			if !p.sleep(ctx, p.cfg.IdleBackoff) {
				return
			}

			continue
		}

		p.processPage(ctx, links)
		page++
	}
}

// processPage partitions the page into chunks, checks chunk links
// sequentially, and then dispatches the chunks' immediate batches through the
// worker pool. Marker writes happen during the checks, before any dispatch.
func (p *Poller) processPage(ctx context.Context, links []domain.TrackedLink) {
	chunks := chunkLinks(links, p.cfg.ChunkCount)

	batches := make([][]domain.Update, 0, len(chunks))
	for _, chunk := range chunks {
		if ctx.Err() != nil {
			return
		}

		batches = append(batches, p.processChunk(ctx, chunk))
	}

	p.dispatch(ctx, batches)
}

func (p *Poller) processChunk(
	ctx context.Context,
	chunk []domain.TrackedLink,
) []domain.Update {
	var batch []domain.Update

	for _, link := range chunk {
		update, ok := p.checkLink(ctx, link)
		if ok {
			batch = append(batch, update)
		}
	}

	return batch
}

// checkLink evaluates one link and reports the update to batch for immediate
// delivery, if any. Every failure is logged and skipped so a single bad link
// never blocks the rest of its chunk.
func (p *Poller) checkLink(
	ctx context.Context,
	link domain.TrackedLink,
) (domain.Update, bool) {
	client, err := p.sources.For(link.URL)
	if err != nil {
		p.log.ErrorContext(ctx, "Failed to resolve source client",
			"error", err,
			"linkID", link.ID,
			"url", link.URL)

		return domain.Update{}, false
	}

	snapshot, err := client.Fetch(ctx, link.URL, link.Filters)
	if err != nil {
		p.log.ErrorContext(ctx, "Failed to fetch link activity",
			"error", err,
			"linkID", link.ID,
			"url", link.URL)

		return domain.Update{}, false
	}

	if !change.Changed(link.Marker, *snapshot) {
		return domain.Update{}, false
	}

	// The marker is persisted as soon as a change is detected, whatever
	// happens to delivery, so the next poll does not re-report it.
	if err = p.store.UpdateMarker(ctx, link.ID, snapshot.Marker); err != nil {
		if errors.Is(err, database.ErrLinkNotFound) {
			p.log.InfoContext(ctx, "Link removed mid-poll",
				"linkID", link.ID,
				"url", link.URL)
		} else {
			p.log.ErrorContext(ctx, "Failed to persist marker",
				"error", err,
				"linkID", link.ID,
				"url", link.URL)
		}

		return domain.Update{}, false
	}

	p.log.InfoContext(ctx, "Link activity changed",
		"linkID", link.ID,
		"url", link.URL,
		"oldMarker", link.Marker,
		"newMarker", snapshot.Marker)

	if !change.NotifyWorthy(link, *snapshot) {
		p.log.InfoContext(ctx, "Change suppressed by ignore filter",
			"linkID", link.ID,
			"author", snapshot.Author)

		return domain.Update{}, false
	}

	update := domain.Update{Link: link, Snapshot: *snapshot}

	pref, err := p.store.DeliveryPreference(ctx, link.ChatID)
	if err != nil {
		p.log.ErrorContext(ctx, "Failed to look up delivery preference, delivering immediately",
			"error", err,
			"linkID", link.ID,
			"chatID", link.ChatID)

		pref = nil
	}

	if pref != nil {
		if err = p.deferred.Schedule(update, *pref); err != nil {
			p.log.ErrorContext(ctx, "Failed to schedule deferred delivery",
				"error", err,
				"linkID", link.ID,
				"chatID", link.ChatID,
				"at", pref.String())
		}

		return domain.Update{}, false
	}

	return update, true
}

// dispatch sends chunk batches concurrently through a bounded worker pool.
// Sends are independent and I/O-bound, so cross-chunk ordering is not
// preserved.
func (p *Poller) dispatch(ctx context.Context, batches [][]domain.Update) {
	sem := make(chan struct{}, p.cfg.Workers)
	var wg sync.WaitGroup

	for _, batch := range batches {
		if len(batch) == 0 {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(b []domain.Update) {
			defer wg.Done()

			if err := p.sender.Send(ctx, b); err != nil {
				p.log.ErrorContext(ctx, "Failed to send update batch",
					"error", err,
					"batchSize", len(b))
			}

			<-sem
		}(batch)
	}

	wg.Wait()
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// chunkLinks splits links into at most count chunks of ⌈len/count⌉ links;
// the last chunk may be smaller.
func chunkLinks(links []domain.TrackedLink, count int) [][]domain.TrackedLink {
	size := (len(links) + count - 1) / count
	if size < 1 {
		size = 1
	}

	var chunks [][]domain.TrackedLink
	for start := 0; start < len(links); start += size {
		end := min(start+size, len(links))
		chunks = append(chunks, links[start:end])
	}

	return chunks
}
