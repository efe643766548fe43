package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateFeed subscribes a channel to url. Idempotent on (channel, url):
// an existing subscription is returned with created=false so follow is
// safe to retry.
func (s *Store) CreateFeed(channelID, url string) (*Feed, bool, error) {
	existing, err := s.FindFeed(channelID, url)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	f := &Feed{
		ID:          uuid.NewString(),
		ChannelID:   channelID,
		URL:         url,
		Tier:        1,
		NextFetchAt: now,
		Status:      "active",
		CreatedAt:   now,
	}

	_, err = s.db.Exec(`
		INSERT INTO feeds (id, channel_id, url, tier, next_fetch_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.ChannelID, f.URL, f.Tier, f.NextFetchAt, f.Status, f.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("creating feed for %s: %w", url, err)
	}

	return f, true, nil
}

func (s *Store) GetFeed(id string) (*Feed, error) {
	row := s.db.QueryRow("SELECT "+feedColumns+" FROM feeds WHERE id = ?", id)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading feed %s: %w", id, err)
	}
	return f, nil
}

func (s *Store) FindFeed(channelID, url string) (*Feed, error) {
	row := s.db.QueryRow(
		"SELECT "+feedColumns+" FROM feeds WHERE channel_id = ? AND url = ?",
		channelID, url,
	)
	f, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed %s in channel %s: %w", url, channelID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading feed %s: %w", url, err)
	}
	return f, nil
}

func (s *Store) ListFeeds(channelID string) ([]*Feed, error) {
	rows, err := s.db.Query(
		"SELECT "+feedColumns+" FROM feeds WHERE channel_id = ? ORDER BY created_at ASC",
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	defer closeRows(rows)
	return collectFeeds(rows)
}

// DueFeeds returns every subscription whose next fetch time has passed
// (or was never set).
func (s *Store) DueFeeds(now time.Time) ([]*Feed, error) {
	rows, err := s.db.Query(
		"SELECT "+feedColumns+" FROM feeds WHERE next_fetch_at IS NULL OR next_fetch_at <= ? ORDER BY next_fetch_at ASC",
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing due feeds: %w", err)
	}
	defer closeRows(rows)
	return collectFeeds(rows)
}

// AllFeeds is used by the OPML exporter and diagnostics.
func (s *Store) AllFeeds(owner string) ([]*Feed, error) {
	rows, err := s.db.Query(`
		SELECT `+feedColumns+` FROM feeds
		WHERE channel_id IN (SELECT id FROM channels WHERE owner = ?)
		ORDER BY created_at ASC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	defer closeRows(rows)
	return collectFeeds(rows)
}

func collectFeeds(rows *sql.Rows) ([]*Feed, error) {
	var feeds []*Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning feed: %w", err)
		}
		feeds = append(feeds, f)
	}
	return feeds, rows.Err()
}

// UpdateFeedSchedule persists the polling state computed after a fetch:
// tier, unmodified counter, next fetch time, HTTP validators, and any
// newly discovered title or photo (existing values win).
func (s *Store) UpdateFeedSchedule(f *Feed) error {
	_, err := s.db.Exec(`
		UPDATE feeds SET
			tier = ?, unmodified = ?, next_fetch_at = ?, last_fetched_at = ?,
			etag = ?, last_modified = ?,
			title = CASE WHEN title = '' THEN ? ELSE title END,
			photo = CASE WHEN photo = '' THEN ? ELSE photo END
		WHERE id = ?
	`, f.Tier, f.Unmodified, nullTime(f.NextFetchAt), nullTime(f.LastFetchedAt),
		f.ETag, f.LastModified, f.Title, f.Photo, f.ID)
	if err != nil {
		return fmt.Errorf("updating feed schedule for %s: %w", f.URL, err)
	}
	return nil
}

// UpdateFeedStatus records the outcome of a fetch. Success clears error
// state and refreshes the item count; failure increments the error streak.
func (s *Store) UpdateFeedStatus(id string, fetchErr error) error {
	if fetchErr == nil {
		_, err := s.db.Exec(`
			UPDATE feeds SET
				status = 'active', last_error = '', last_error_at = NULL, consecutive_errors = 0,
				item_count = (SELECT COUNT(*) FROM items WHERE items.feed_id = feeds.id)
			WHERE id = ?
		`, id)
		if err != nil {
			return fmt.Errorf("updating feed status: %w", err)
		}
		return nil
	}

	_, err := s.db.Exec(`
		UPDATE feeds SET
			status = 'error', last_error = ?, last_error_at = ?,
			consecutive_errors = consecutive_errors + 1
		WHERE id = ?
	`, fetchErr.Error(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating feed status: %w", err)
	}
	return nil
}

// SaveWebSub replaces the feed's push-subscription state.
func (s *Store) SaveWebSub(id string, ws WebSub) error {
	pending := 0
	if ws.Pending {
		pending = 1
	}
	_, err := s.db.Exec(`
		UPDATE feeds SET
			websub_hub = ?, websub_topic = ?, websub_secret = ?,
			websub_lease_seconds = ?, websub_expires_at = ?, websub_pending = ?
		WHERE id = ?
	`, ws.Hub, ws.Topic, ws.Secret, ws.LeaseSeconds, nullTime(ws.ExpiresAt), pending, id)
	if err != nil {
		return fmt.Errorf("saving websub state: %w", err)
	}
	return nil
}

// DeleteFeed removes the subscription and the items it produced.
func (s *Store) DeleteFeed(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				fmt.Printf("Warning: failed to rollback transaction: %v\n", err)
			}
		}
	}()

	if _, err := tx.Exec("DELETE FROM items WHERE feed_id = ?", id); err != nil {
		return fmt.Errorf("deleting feed items: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM feeds WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting feed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing feed delete: %w", err)
	}
	committed = true
	return nil
}

// FeedsNeedingRenewal returns push subscriptions whose lease expires at or
// before the deadline and that are not already mid-handshake.
func (s *Store) FeedsNeedingRenewal(deadline time.Time) ([]*Feed, error) {
	rows, err := s.db.Query(`
		SELECT `+feedColumns+` FROM feeds
		WHERE websub_hub != '' AND websub_pending = 0
			AND websub_expires_at IS NOT NULL AND websub_expires_at <= ?
	`, deadline.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing expiring websub leases: %w", err)
	}
	defer closeRows(rows)
	return collectFeeds(rows)
}

// SearchFeeds matches subscriptions by title or URL substring.
func (s *Store) SearchFeeds(owner, query string) ([]*Feed, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.Query(`
		SELECT `+feedColumns+` FROM feeds
		WHERE channel_id IN (SELECT id FROM channels WHERE owner = ?)
			AND (title LIKE ? OR url LIKE ?)
		ORDER BY created_at ASC
	`, owner, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("searching feeds: %w", err)
	}
	defer closeRows(rows)
	return collectFeeds(rows)
}
