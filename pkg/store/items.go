package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/skimreader/skim/pkg/feed"
)

// AddItem inserts a normalized item into a channel. Returns false when an
// item with the same (channel, uid) already exists — including stripped
// skeletons, which is what keeps read-and-cleaned entries from being
// re-ingested by the poller.
func (s *Store) AddItem(channelID, feedID string, it feed.Item) (bool, error) {
	published := it.Published
	if published.IsZero() {
		published = time.Now().UTC()
	}

	itemType := it.Type
	if itemType == "" {
		itemType = "entry"
	}

	var contentText, contentHTML string
	if it.Content != nil {
		contentText = it.Content.Text
		contentHTML = it.Content.HTML
	}

	var authorName, authorURL, authorPhoto string
	if it.Author != nil {
		authorName = it.Author.Name
		authorURL = it.Author.URL
		authorPhoto = it.Author.Photo
	}

	res, err := s.db.Exec(`
		INSERT INTO items (
			channel_id, feed_id, uid, url, type, name, summary,
			content_text, content_html, published, updated,
			author_name, author_url, author_photo,
			category, photo, video, audio,
			like_of, repost_of, bookmark_of, in_reply_to,
			source_url, source_feed_url, read_by, stripped, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '[]', 0, ?)
		ON CONFLICT(channel_id, uid) DO NOTHING
	`,
		channelID, nullString(feedID), it.UID, it.URL, itemType, it.Name, it.Summary,
		contentText, contentHTML, published.UTC(), nullTime(it.Updated),
		authorName, authorURL, authorPhoto,
		marshalList(it.Category), marshalList(it.Photo), marshalList(it.Video), marshalList(it.Audio),
		marshalList(it.LikeOf), marshalList(it.RepostOf), marshalList(it.BookmarkOf), marshalList(it.InReplyTo),
		it.URL, it.Source.FeedURL, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("inserting item %s: %w", it.UID, err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting item %s: %w", it.UID, err)
	}
	return inserted > 0, nil
}

// TimelineQuery selects a page of a channel's timeline. Cursors are the
// opaque values produced in a previous Page.
type TimelineQuery struct {
	Owner    string
	Before   string
	After    string
	Limit    int
	ShowRead bool
}

// Page is one timeline page, newest first. After points at older items,
// Before at newer ones; empty means no page in that direction is known.
type Page struct {
	Items  []*Item
	Before string
	After  string
}

// Timeline returns items ordered by published descending with id as the
// tiebreaker. Stripped skeletons never appear.
func (s *Store) Timeline(channelID string, q TimelineQuery) (*Page, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	where := []string{"channel_id = ?", "stripped = 0"}
	args := []any{channelID}

	if !q.ShowRead && q.Owner != "" {
		where = append(where, "NOT EXISTS (SELECT 1 FROM json_each(items.read_by) WHERE json_each.value = ?)")
		args = append(args, q.Owner)
	}

	ascending := false
	if q.After != "" {
		c, err := decodeCursor(q.After)
		if err != nil {
			return nil, fmt.Errorf("invalid after cursor: %w", err)
		}
		where = append(where, "(published < ? OR (published = ? AND id < ?))")
		args = append(args, c.T, c.T, c.I)
	}
	if q.Before != "" {
		c, err := decodeCursor(q.Before)
		if err != nil {
			return nil, fmt.Errorf("invalid before cursor: %w", err)
		}
		where = append(where, "(published > ? OR (published = ? AND id > ?))")
		args = append(args, c.T, c.T, c.I)
		// Retrieve the items adjacent to the cursor, then flip the page
		// back to newest-first.
		ascending = true
	}

	order := "published DESC, id DESC"
	if ascending {
		order = "published ASC, id ASC"
	}

	query := "SELECT " + itemColumns + " FROM items WHERE " + strings.Join(where, " AND ") +
		" ORDER BY " + order + " LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying timeline: %w", err)
	}
	defer closeRows(rows)

	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows, q.Owner)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	if ascending {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}

	page := &Page{Items: items}
	if len(items) > 0 {
		first := items[0]
		last := items[len(items)-1]
		page.Before = encodeCursor(first.Published, first.ID)
		if hasMore || ascending {
			page.After = encodeCursor(last.Published, last.ID)
		}
	}

	return page, nil
}

// entryPredicate builds the WHERE clause matching the entry references the
// timeline actions accept: internal id, uid, or url. The sentinel
// "last-read-entry" matches the whole channel.
func entryPredicate(channelID string, entries []string) (string, []any) {
	for _, entry := range entries {
		if entry == "last-read-entry" {
			return "channel_id = ?", []any{channelID}
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(entries)), ", ")
	where := fmt.Sprintf(
		"channel_id = ? AND (CAST(id AS TEXT) IN (%s) OR uid IN (%s) OR url IN (%s))",
		placeholders, placeholders, placeholders,
	)

	args := []any{channelID}
	for i := 0; i < 3; i++ {
		for _, entry := range entries {
			args = append(args, entry)
		}
	}
	return where, args
}

// MarkRead adds owner to the read set of the matched items. Returns how
// many items changed state.
func (s *Store) MarkRead(channelID, owner string, entries []string) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	where, args := entryPredicate(channelID, entries)
	query := `
		UPDATE items SET read_by = json_insert(read_by, '$[#]', ?)
		WHERE ` + where + `
			AND NOT EXISTS (SELECT 1 FROM json_each(items.read_by) WHERE json_each.value = ?)
	`
	args = append([]any{owner}, append(args, owner)...)

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("marking items read: %w", err)
	}
	return res.RowsAffected()
}

// MarkUnread removes owner from the read set of the matched items.
func (s *Store) MarkUnread(channelID, owner string, entries []string) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	where, args := entryPredicate(channelID, entries)
	query := `
		UPDATE items SET read_by = (
			SELECT COALESCE(json_group_array(je.value), '[]')
			FROM json_each(items.read_by) je WHERE je.value != ?
		)
		WHERE ` + where + `
			AND EXISTS (SELECT 1 FROM json_each(items.read_by) WHERE json_each.value = ?)
	`
	args = append([]any{owner}, append(args, owner)...)

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("marking items unread: %w", err)
	}
	return res.RowsAffected()
}

// RemoveItems hard-deletes the matched items.
func (s *Store) RemoveItems(channelID string, entries []string) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	where, args := entryPredicate(channelID, entries)
	res, err := s.db.Exec("DELETE FROM items WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("removing items: %w", err)
	}
	return res.RowsAffected()
}

// UnreadCount counts unread items published within the retention window.
// Dormant feeds stop inflating the badge once their items age out.
func (s *Store) UnreadCount(channelID, owner string, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM items
		WHERE channel_id = ? AND stripped = 0 AND published >= ?
			AND NOT EXISTS (SELECT 1 FROM json_each(items.read_by) WHERE json_each.value = ?)
	`, channelID, cutoff, owner).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread items: %w", err)
	}
	return count, nil
}

// CleanupChannel enforces read-item retention for one (channel, owner)
// pair: beyond the newest keepFull read items, feed-sourced items are
// reduced to dedup skeletons and push-sourced items are deleted outright.
// Unread items are never touched.
func (s *Store) CleanupChannel(channelID, owner string, keepFull int) error {
	if keepFull <= 0 {
		keepFull = 200
	}

	rows, err := s.db.Query(`
		SELECT id, feed_id IS NOT NULL FROM items
		WHERE channel_id = ? AND stripped = 0
			AND EXISTS (SELECT 1 FROM json_each(items.read_by) WHERE json_each.value = ?)
		ORDER BY published DESC, id DESC
		LIMIT -1 OFFSET ?
	`, channelID, owner, keepFull)
	if err != nil {
		return fmt.Errorf("listing read items past retention: %w", err)
	}

	var stripIDs, deleteIDs []int64
	for rows.Next() {
		var id int64
		var hasFeed bool
		if err := rows.Scan(&id, &hasFeed); err != nil {
			closeRows(rows)
			return fmt.Errorf("scanning retention candidate: %w", err)
		}
		if hasFeed {
			stripIDs = append(stripIDs, id)
		} else {
			deleteIDs = append(deleteIDs, id)
		}
	}
	if err := rows.Err(); err != nil {
		closeRows(rows)
		return err
	}
	closeRows(rows)

	if len(stripIDs) == 0 && len(deleteIDs) == 0 {
		return nil
	}

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

	if len(stripIDs) > 0 {
		query := `
			UPDATE items SET
				url = '', name = '', summary = '', content_text = '', content_html = '',
				author_name = '', author_url = '', author_photo = '',
				category = '[]', photo = '[]', video = '[]', audio = '[]',
				like_of = '[]', repost_of = '[]', bookmark_of = '[]', in_reply_to = '[]',
				source_url = '', source_feed_url = '', stripped = 1
			WHERE id IN (` + idPlaceholders(len(stripIDs)) + `)`
		if _, err := tx.Exec(query, idArgs(stripIDs)...); err != nil {
			return fmt.Errorf("stripping read items: %w", err)
		}
	}

	if len(deleteIDs) > 0 {
		query := "DELETE FROM items WHERE id IN (" + idPlaceholders(len(deleteIDs)) + ")"
		if _, err := tx.Exec(query, idArgs(deleteIDs)...); err != nil {
			return fmt.Errorf("deleting read items: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing retention cleanup: %w", err)
	}
	committed = true
	return nil
}

func idPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idArgs(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// CleanupAll runs retention for every (channel, owner) pair that has read
// items. Invoked once at startup to catch up after offline periods.
func (s *Store) CleanupAll(keepFull int) error {
	rows, err := s.db.Query(`
		SELECT DISTINCT items.channel_id, je.value
		FROM items, json_each(items.read_by) je
	`)
	if err != nil {
		return fmt.Errorf("listing channels with read items: %w", err)
	}

	type pair struct{ channel, owner string }
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.channel, &p.owner); err != nil {
			closeRows(rows)
			return fmt.Errorf("scanning cleanup pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		closeRows(rows)
		return err
	}
	closeRows(rows)

	for _, p := range pairs {
		if err := s.CleanupChannel(p.channel, p.owner, keepFull); err != nil {
			return err
		}
	}
	return nil
}

// SearchItems runs a weighted full-text query over a channel. The query is
// quoted as a single FTS phrase so user input cannot inject match syntax.
func (s *Store) SearchItems(channelID, owner, query string, limit int) ([]*Item, error) {
	if limit <= 0 {
		limit = 20
	}
	if len(query) > 256 {
		query = query[:256]
	}
	phrase := `"` + strings.ReplaceAll(query, `"`, `""`) + `"`

	rows, err := s.db.Query(`
		SELECT `+itemColumns+` FROM items
		WHERE id IN (SELECT rowid FROM items_fts WHERE items_fts MATCH ?)
			AND channel_id = ? AND stripped = 0
		ORDER BY (
			SELECT bm25(items_fts, 10.0, 5.0, 3.0, 2.0, 1.0)
			FROM items_fts WHERE rowid = items.id AND items_fts MATCH ?
		)
		LIMIT ?
	`, phrase, channelID, phrase, limit)
	if err != nil {
		return nil, fmt.Errorf("searching items: %w", err)
	}
	defer closeRows(rows)

	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows, owner)
		if err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpsertNotification persists a verified webmention in the owner's
// notifications channel, keyed by (source, target). Re-verification of the
// same pair updates the stored entry in place.
func (s *Store) UpsertNotification(owner, source, target string, it feed.Item) error {
	ch, err := s.EnsureNotificationsChannel(owner)
	if err != nil {
		return err
	}

	published := it.Published
	if published.IsZero() {
		published = time.Now().UTC()
	}
	itemType := it.Type
	if itemType == "" {
		itemType = "entry"
	}

	var contentText, contentHTML string
	if it.Content != nil {
		contentText = it.Content.Text
		contentHTML = it.Content.HTML
	}
	var authorName, authorURL, authorPhoto string
	if it.Author != nil {
		authorName = it.Author.Name
		authorURL = it.Author.URL
		authorPhoto = it.Author.Photo
	}

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

	_, err = tx.Exec(`
		INSERT INTO items (
			channel_id, feed_id, uid, url, type, name, summary,
			content_text, content_html, published, updated,
			author_name, author_url, author_photo,
			category, photo, video, audio,
			like_of, repost_of, bookmark_of, in_reply_to,
			source_url, source_feed_url, read_by, stripped, created_at
		) VALUES (?, NULL, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, '[]', '[]', '[]', '[]', ?, ?, ?, ?, ?, ?, '[]', 0, ?)
		ON CONFLICT(channel_id, uid) DO UPDATE SET
			url = excluded.url, type = excluded.type, name = excluded.name,
			summary = excluded.summary, content_text = excluded.content_text,
			content_html = excluded.content_html, published = excluded.published,
			author_name = excluded.author_name, author_url = excluded.author_url,
			author_photo = excluded.author_photo,
			like_of = excluded.like_of, repost_of = excluded.repost_of,
			bookmark_of = excluded.bookmark_of, in_reply_to = excluded.in_reply_to,
			source_url = excluded.source_url, stripped = 0
	`,
		ch.ID, it.UID, it.URL, itemType, it.Name, it.Summary,
		contentText, contentHTML, published.UTC(),
		authorName, authorURL, authorPhoto,
		marshalList(it.LikeOf), marshalList(it.RepostOf), marshalList(it.BookmarkOf), marshalList(it.InReplyTo),
		source, target, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting notification item: %w", err)
	}

	var itemID int64
	err = tx.QueryRow(
		"SELECT id FROM items WHERE channel_id = ? AND uid = ?",
		ch.ID, it.UID,
	).Scan(&itemID)
	if err != nil {
		return fmt.Errorf("resolving notification item: %w", err)
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO notifications (owner, source, target, item_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, owner, source, target, itemID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording notification key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing notification: %w", err)
	}
	committed = true
	return nil
}

// DeleteNotification removes the notification for a (source, target) pair,
// used when a source stops referencing the target. Unknown pairs are a
// no-op.
func (s *Store) DeleteNotification(owner, source, target string) error {
	var itemID int64
	err := s.db.QueryRow(
		"SELECT item_id FROM notifications WHERE owner = ? AND source = ? AND target = ?",
		owner, source, target,
	).Scan(&itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up notification: %w", err)
	}

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

	if _, err := tx.Exec("DELETE FROM items WHERE id = ?", itemID); err != nil {
		return fmt.Errorf("deleting notification item: %w", err)
	}
	if _, err := tx.Exec(
		"DELETE FROM notifications WHERE owner = ? AND source = ? AND target = ?",
		owner, source, target,
	); err != nil {
		return fmt.Errorf("deleting notification key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing notification delete: %w", err)
	}
	committed = true
	return nil
}
