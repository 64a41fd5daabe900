package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"linktracker/internal/domain"
)

// LinksPage returns one 1-indexed page of all tracked links ordered by id,
// with filters and tags attached. An empty page signals the end of the table.
func (d *Database) LinksPage(
	ctx context.Context,
	page int,
	pageSize int,
) ([]domain.TrackedLink, error) {
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("invalid page %d or page size %d", page, pageSize)
	}

	query := "select id, chat_id, url, marker from links order by id limit ? offset ?"

	rows, err := d.db.QueryContext(ctx, query, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"page", page,
				"operation", "LinksPage")
		}
	}()

	var links []domain.TrackedLink
	for rows.Next() {
		var l domain.TrackedLink
		if err = rows.Scan(&l.ID, &l.ChatID, &l.URL, &l.Marker); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		l.URL = strings.TrimSpace(l.URL)

		links = append(links, l)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	if err = d.attachFiltersAndTags(ctx, links); err != nil {
		return nil, err
	}

	return links, nil
}

// ChatLinks returns one page of a single chat's links, for the external
// list-links flow.
func (d *Database) ChatLinks(
	ctx context.Context,
	chatID int64,
	page int,
	pageSize int,
) ([]domain.TrackedLink, error) {
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("invalid page %d or page size %d", page, pageSize)
	}

	query := `select id, chat_id, url, marker from links
	where chat_id = ?
	order by id limit ? offset ?`

	rows, err := d.db.QueryContext(ctx, query, chatID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"chatID", chatID,
				"operation", "ChatLinks")
		}
	}()

	var links []domain.TrackedLink
	for rows.Next() {
		var l domain.TrackedLink
		if err = rows.Scan(&l.ID, &l.ChatID, &l.URL, &l.Marker); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		l.URL = strings.TrimSpace(l.URL)

		links = append(links, l)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	if err = d.attachFiltersAndTags(ctx, links); err != nil {
		return nil, err
	}

	return links, nil
}

// UpdateMarker persists the newly observed activity marker. Returns
// ErrLinkNotFound when the link was removed in the meantime.
func (d *Database) UpdateMarker(ctx context.Context, linkID int64, marker string) error {
	query := "update links set marker = ? where id = ?"

	res, err := d.db.ExecContext(ctx, query, marker, linkID)
	if err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to fetch affected rows: %w", err)
	}
	if affected == 0 {
		return ErrLinkNotFound
	}

	return nil
}

// DeliveryPreference returns the chat's preferred delivery time of day, or
// nil when the chat wants immediate delivery.
func (d *Database) DeliveryPreference(ctx context.Context, chatID int64) (*domain.DayTime, error) {
	query := "select push_time from chats where id = ?"

	var pushTime sql.NullString
	err := d.db.QueryRowContext(ctx, query, chatID).Scan(&pushTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotRegistered
	}
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	if !pushTime.Valid || strings.TrimSpace(pushTime.String) == "" {
		return nil, nil
	}

	t, err := domain.ParseDayTime(pushTime.String)
	if err != nil {
		return nil, fmt.Errorf("parse push time: %w", err)
	}

	return &t, nil
}

func (d *Database) RegisterChat(ctx context.Context, chatID int64) error {
	query := "insert or ignore into chats (id) values (?)"

	_, err := d.db.ExecContext(ctx, query, chatID)

	return err
}

func (d *Database) DeleteChat(ctx context.Context, chatID int64) error {
	query := "delete from chats where id = ?"

	_, err := d.db.ExecContext(ctx, query, chatID)

	return err
}

// SetDeliveryPreference stores the chat's preferred delivery time; nil resets
// the chat to immediate delivery.
func (d *Database) SetDeliveryPreference(
	ctx context.Context,
	chatID int64,
	t *domain.DayTime,
) error {
	query := "update chats set push_time = ? where id = ?"

	var pushTime any
	if t != nil {
		pushTime = t.String()
	}

	res, err := d.db.ExecContext(ctx, query, pushTime, chatID)
	if err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to fetch affected rows: %w", err)
	}
	if affected == 0 {
		return ErrChatNotRegistered
	}

	return nil
}

// AddLink creates a tracked link with its filters and tags and returns the
// store-assigned id. The (chat, URL) pair is unique.
func (d *Database) AddLink(
	ctx context.Context,
	link domain.TrackedLink,
) (int64, error) {
	link.URL = strings.TrimSpace(link.URL)
	if link.URL == "" {
		return 0, errors.New("link URL is empty")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err = tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			d.log.ErrorContext(ctx, "Failed to rollback tx",
				"error", err,
				"chatID", link.ChatID,
				"operation", "AddLink")
		}
	}()

	query := "insert into links (chat_id, url, marker) values (?, ?, ?)"

	res, err := tx.ExecContext(ctx, query, link.ChatID, link.URL, link.Marker)
	if err != nil {
		return 0, fmt.Errorf("failed to execute query: %w", err)
	}

	linkID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to fetch insert id: %w", err)
	}

	for _, f := range link.Filters {
		query = "insert or ignore into link_filters (link_id, filter) values (?, ?)"
		if _, err = tx.ExecContext(ctx, query, linkID, f); err != nil {
			return 0, fmt.Errorf("insert filter: %w", err)
		}
	}

	for _, tag := range link.Tags {
		query = "insert or ignore into link_tags (link_id, tag) values (?, ?)"
		if _, err = tx.ExecContext(ctx, query, linkID, tag); err != nil {
			return 0, fmt.Errorf("insert tag: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return linkID, nil
}

func (d *Database) RemoveLink(ctx context.Context, chatID int64, url string) error {
	query := "delete from links where chat_id = ? and url = ?"

	res, err := d.db.ExecContext(ctx, query, chatID, strings.TrimSpace(url))
	if err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to fetch affected rows: %w", err)
	}
	if affected == 0 {
		return ErrLinkNotFound
	}

	return nil
}

func (d *Database) AddTag(ctx context.Context, linkID int64, tag string) error {
	query := "insert or ignore into link_tags (link_id, tag) values (?, ?)"

	_, err := d.db.ExecContext(ctx, query, linkID, tag)

	return err
}

func (d *Database) RemoveTag(ctx context.Context, linkID int64, tag string) error {
	query := "delete from link_tags where link_id = ? and tag = ?"

	_, err := d.db.ExecContext(ctx, query, linkID, tag)

	return err
}

func (d *Database) attachFiltersAndTags(
	ctx context.Context,
	links []domain.TrackedLink,
) error {
	if len(links) == 0 {
		return nil
	}

	byID := make(map[int64]*domain.TrackedLink, len(links))
	ids := make([]any, 0, len(links))
	for i := range links {
		byID[links[i].ID] = &links[i]
		ids = append(ids, links[i].ID)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	query := fmt.Sprintf(
		"select link_id, filter from link_filters where link_id in (%s)",
		placeholders)
	if err := d.collect(ctx, query, ids, func(id int64, value string) {
		if l, ok := byID[id]; ok {
			l.Filters = append(l.Filters, value)
		}
	}); err != nil {
		return fmt.Errorf("load filters: %w", err)
	}

	query = fmt.Sprintf(
		"select link_id, tag from link_tags where link_id in (%s)",
		placeholders)
	if err := d.collect(ctx, query, ids, func(id int64, value string) {
		if l, ok := byID[id]; ok {
			l.Tags = append(l.Tags, value)
		}
	}); err != nil {
		return fmt.Errorf("load tags: %w", err)
	}

	return nil
}

func (d *Database) collect(
	ctx context.Context,
	query string,
	args []any,
	visit func(id int64, value string),
) error {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"operation", "collect")
		}
	}()

	for rows.Next() {
		var id int64
		var value string
		if err = rows.Scan(&id, &value); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}

		visit(id, value)
	}

	if err = rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate rows: %w", err)
	}

	return nil
}
