// Package notify delivers ready notification batches to the external sink.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"linktracker/internal/domain"
)

// perChatSendInterval spaces out deliveries to the same chat so a burst of
// updates does not trip the bot's own rate limits.
const perChatSendInterval = time.Second

// Sender delivers a batch of updates to the external notification sink.
// A failed pair must not block the rest of the batch.
type Sender interface {
	Send(ctx context.Context, batch []domain.Update) error
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewSender selects the delivery transport by push type.
func NewSender(
	pushType string,
	client HTTPClient,
	botHost string,
	botPort int,
	log *slog.Logger,
) (Sender, error) {
	switch strings.ToUpper(strings.TrimSpace(pushType)) {
	case "HTTP":
		return NewHTTPSender(client, botHost, botPort, log), nil
	default:
		return nil, fmt.Errorf("unsupported push type %q", pushType)
	}
}

// HTTPSender posts one notification per update to the bot's updates endpoint.
type HTTPSender struct {
	client   HTTPClient
	endpoint string
	log      *slog.Logger

	mu       sync.Mutex
	lastSent map[int64]time.Time
}

func NewHTTPSender(
	client HTTPClient,
	botHost string,
	botPort int,
	log *slog.Logger,
) *HTTPSender {
	return &HTTPSender{
		client:   client,
		endpoint: fmt.Sprintf("http://%s:%d/api/v1/updates", botHost, botPort),
		log:      log,
		lastSent: make(map[int64]time.Time),
	}
}

type updateRequest struct {
	ID          int64    `json:"id"`
	URL         string   `json:"url"`
	Description string   `json:"description"`
	TgChatIDs   []string `json:"tgChatIds"`
}

// Send delivers the batch sequentially, one POST per pair. Per-pair failures
// are logged and collected; the rest of the batch still goes out.
func (s *HTTPSender) Send(ctx context.Context, batch []domain.Update) error {
	var errs []error

	for _, update := range batch {
		if err := s.throttle(ctx, update.Link.ChatID); err != nil {
			errs = append(errs, err)
			break
		}

		if err := s.sendOne(ctx, update); err != nil {
			s.log.ErrorContext(ctx, "Failed to send update",
				"error", err,
				"chatID", update.Link.ChatID,
				"url", update.Link.URL)

			errs = append(errs, fmt.Errorf("send update for %s: %w", update.Link.URL, err))
		}
	}

	return errors.Join(errs...)
}

func (s *HTTPSender) sendOne(ctx context.Context, update domain.Update) error {
	payload := updateRequest{
		ID:          update.Link.ChatID,
		URL:         update.Link.URL,
		Description: Describe(update.Snapshot),
		TgChatIDs:   []string{strconv.FormatInt(update.Link.ChatID, 10)},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return nil
}

// throttle enforces the per-chat minimum send interval.
func (s *HTTPSender) throttle(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	now := time.Now()
	wait := perChatSendInterval - now.Sub(s.lastSent[chatID])
	if wait < 0 {
		wait = 0
	}
	s.lastSent[chatID] = now.Add(wait)
	s.mu.Unlock()

	if wait == 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
