package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"linktracker/internal/domain"
)

var stackQuestionRe = regexp.MustCompile(
	`^https://stackoverflow\.com/questions/(\d+)(?:/.*)?$`)

const stackAPIBase = "https://api.stackexchange.com/2.3"

type StackOverflowClient struct {
	client HTTPClient
	log    *slog.Logger

	apiBase string
}

func NewStackOverflowClient(client HTTPClient, log *slog.Logger) *StackOverflowClient {
	return &StackOverflowClient{
		client:  client,
		log:     log,
		apiBase: stackAPIBase,
	}
}

type stackResponse struct {
	Items []stackItem `json:"items"`
}

type stackItem struct {
	Title string `json:"title"`
	Owner struct {
		DisplayName string `json:"display_name"`
	} `json:"owner"`
	CreationDate int64  `json:"creation_date"`
	Body         string `json:"body"`
}

// Fetch returns a snapshot of the question's latest activity: the question
// itself, or its newest answer or comment, whichever was created last. The
// marker is the creation time of that activity in UTC.
func (c *StackOverflowClient) Fetch(
	ctx context.Context,
	rawURL string,
	filters []string,
) (*domain.ActivitySnapshot, error) {
	m := stackQuestionRe.FindStringSubmatch(strings.TrimSpace(rawURL))
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrURLUnsupported, rawURL)
	}

	questionID := m[1]

	params, err := filterParams(filters)
	if err != nil {
		return nil, err
	}
	params.Set("site", "stackoverflow")
	params.Set("filter", "withbody")

	questionURL := fmt.Sprintf("%s/questions/%s", c.apiBase, questionID)

	var resp stackResponse
	if err := fetchJSON(ctx, c.client, questionURL, params, &resp); err != nil {
		return nil, fmt.Errorf("fetch question: %w", err)
	}

	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("%w: question %s", ErrResourceNotFound, questionID)
	}

	question := resp.Items[0]
	latest := question
	timestamp := question.CreationDate

	for _, kind := range []string{"answers", "comments"} {
		activityURL := fmt.Sprintf("%s/questions/%s/%s", c.apiBase, questionID, kind)

		item, ok, findErr := c.findNewer(ctx, activityURL, timestamp)
		if findErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", kind, findErr)
		}
		if ok {
			latest = item
			latest.Title = question.Title
			timestamp = item.CreationDate
		}
	}

	marker := time.Unix(timestamp, 0).UTC().Format(markerLayout)

	c.log.DebugContext(ctx, "Fetched question activity",
		"questionID", questionID,
		"marker", marker)

	return &domain.ActivitySnapshot{
		Marker:  marker,
		Author:  latest.Owner.DisplayName,
		Title:   question.Title,
		Preview: firstRunes(latest.Body, previewMaxRunes),
	}, nil
}

// findNewer fetches the newest item of one activity kind and reports whether
// it is more recent than the timestamp seen so far.
func (c *StackOverflowClient) findNewer(
	ctx context.Context,
	activityURL string,
	timestamp int64,
) (stackItem, bool, error) {
	params := url.Values{}
	params.Set("site", "stackoverflow")
	params.Set("sort", "creation")
	params.Set("order", "desc")
	params.Set("filter", "withbody")

	var resp stackResponse
	if err := fetchJSON(ctx, c.client, activityURL, params, &resp); err != nil {
		return stackItem{}, false, err
	}

	if len(resp.Items) == 0 || resp.Items[0].CreationDate <= timestamp {
		return stackItem{}, false, nil
	}

	return resp.Items[0], true, nil
}
