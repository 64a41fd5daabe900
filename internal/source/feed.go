package source

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"linktracker/internal/domain"
)

// FeedClient tracks any RSS/Atom feed URL: the marker is the publication
// time of the newest item. It serves as the fallback for URLs outside the
// dedicated source domains.
type FeedClient struct {
	client HTTPClient
	parser *gofeed.Parser
	log    *slog.Logger
}

func NewFeedClient(client HTTPClient, log *slog.Logger) *FeedClient {
	return &FeedClient{
		client: client,
		parser: gofeed.NewParser(),
		log:    log,
	}
}

func (c *FeedClient) Fetch(
	ctx context.Context,
	rawURL string,
	filters []string,
) (*domain.ActivitySnapshot, error) {
	// Feed sources take no query parameters, but malformed expressions are
	// still rejected so bad links surface in the logs.
	if _, err := filterParams(filters); err != nil {
		return nil, err
	}

	body, err := fetchBody(ctx, c.client, strings.TrimSpace(rawURL), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	feed, err := c.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a feed", ErrURLUnsupported, rawURL)
	}

	if len(feed.Items) == 0 {
		return nil, fmt.Errorf("%w: feed %s has no items", ErrResourceNotFound, rawURL)
	}

	latest := feed.Items[0]
	latestTime := itemTime(latest)
	for _, item := range feed.Items[1:] {
		if t := itemTime(item); t.After(latestTime) {
			latest = item
			latestTime = t
		}
	}

	marker := latest.Published
	if !latestTime.IsZero() {
		marker = latestTime.UTC().Format(markerLayout)
	}

	c.log.DebugContext(ctx, "Fetched feed",
		"feedURL", rawURL,
		"marker", marker)

	return &domain.ActivitySnapshot{
		Marker:  marker,
		Author:  itemAuthor(latest),
		Title:   strings.TrimSpace(latest.Title),
		Preview: firstRunes(latest.Description, previewMaxRunes),
	}, nil
}

func itemTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}

	return time.Time{}
}

func itemAuthor(item *gofeed.Item) string {
	for _, a := range item.Authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			return strings.TrimSpace(a.Name)
		}
	}

	if item.Author != nil {
		return strings.TrimSpace(item.Author.Name)
	}

	return ""
}
