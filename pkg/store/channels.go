package store

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NotificationsUID is the reserved external id of the per-owner
// notifications channel. It is created on demand and never deleted.
const NotificationsUID = "notifications"

const uidAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomUID(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating channel uid: %w", err)
	}
	for i, b := range buf {
		buf[i] = uidAlphabet[int(b)%len(uidAlphabet)]
	}
	return string(buf), nil
}

// CreateChannel inserts a channel with a fresh random 8-char uid, retrying
// a bounded number of times on uid collision.
func (s *Store) CreateChannel(owner, name string) (*Channel, error) {
	var sort int
	err := s.db.QueryRow(
		"SELECT COALESCE(MAX(sort), 0) + 1 FROM channels WHERE owner = ? AND sort >= 0",
		owner,
	).Scan(&sort)
	if err != nil {
		return nil, fmt.Errorf("finding next channel slot: %w", err)
	}

	for attempt := 0; attempt < 5; attempt++ {
		uid, err := randomUID(8)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		ch := &Channel{
			ID:        uuid.NewString(),
			UID:       uid,
			Owner:     owner,
			Name:      name,
			Sort:      sort,
			CreatedAt: now,
			UpdatedAt: now,
		}

		_, err = s.db.Exec(`
			INSERT INTO channels (id, uid, owner, name, sort, exclude_types, exclude_regex, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, '[]', '', ?, ?)
		`, ch.ID, ch.UID, ch.Owner, ch.Name, ch.Sort, ch.CreatedAt, ch.UpdatedAt)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				continue
			}
			return nil, fmt.Errorf("creating channel: %w", err)
		}
		return ch, nil
	}

	return nil, errors.New("creating channel: uid collisions exhausted retries")
}

// EnsureNotificationsChannel returns the owner's notifications channel,
// creating it pinned at sort -1 when missing.
func (s *Store) EnsureNotificationsChannel(owner string) (*Channel, error) {
	ch, err := s.GetChannel(owner, NotificationsUID)
	if err == nil {
		return ch, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	ch = &Channel{
		ID:        uuid.NewString(),
		UID:       NotificationsUID,
		Owner:     owner,
		Name:      "Notifications",
		Sort:      -1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.Exec(`
		INSERT INTO channels (id, uid, owner, name, sort, exclude_types, exclude_regex, created_at, updated_at)
		VALUES (?, ?, ?, ?, -1, '[]', '', ?, ?)
	`, ch.ID, ch.UID, ch.Owner, ch.Name, ch.CreatedAt, ch.UpdatedAt)
	if err != nil {
		// Lost a race with a concurrent ensure; the existing row wins.
		if strings.Contains(err.Error(), "UNIQUE") {
			return s.GetChannel(owner, NotificationsUID)
		}
		return nil, fmt.Errorf("creating notifications channel: %w", err)
	}

	return ch, nil
}

const channelColumns = "id, uid, owner, name, sort, exclude_types, exclude_regex, created_at, updated_at"

func scanChannel(row rowScanner) (*Channel, error) {
	var ch Channel
	var excludeTypes string
	err := row.Scan(&ch.ID, &ch.UID, &ch.Owner, &ch.Name, &ch.Sort, &excludeTypes, &ch.ExcludeRegex, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ch.ExcludeTypes = unmarshalList(excludeTypes)
	return &ch, nil
}

func (s *Store) GetChannel(owner, uid string) (*Channel, error) {
	row := s.db.QueryRow(
		"SELECT "+channelColumns+" FROM channels WHERE owner = ? AND uid = ?",
		owner, uid,
	)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %s: %w", uid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading channel %s: %w", uid, err)
	}
	return ch, nil
}

func (s *Store) GetChannelByID(id string) (*Channel, error) {
	row := s.db.QueryRow("SELECT "+channelColumns+" FROM channels WHERE id = ?", id)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading channel %s: %w", id, err)
	}
	return ch, nil
}

// ListChannels returns the owner's channels in display order with unread
// counts computed over the retention window.
func (s *Store) ListChannels(owner string, retentionDays int) ([]*Channel, error) {
	rows, err := s.db.Query(
		"SELECT "+channelColumns+" FROM channels WHERE owner = ? ORDER BY sort ASC, created_at ASC",
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	defer closeRows(rows)

	var channels []*Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, ch := range channels {
		unread, err := s.UnreadCount(ch.ID, owner, retentionDays)
		if err != nil {
			return nil, err
		}
		ch.Unread = unread
	}

	return channels, nil
}

func (s *Store) UpdateChannelName(owner, uid, name string) (*Channel, error) {
	res, err := s.db.Exec(
		"UPDATE channels SET name = ?, updated_at = ? WHERE owner = ? AND uid = ?",
		name, time.Now().UTC(), owner, uid,
	)
	if err != nil {
		return nil, fmt.Errorf("renaming channel %s: %w", uid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("channel %s: %w", uid, ErrNotFound)
	}
	return s.GetChannel(owner, uid)
}

// SetChannelFilters replaces the channel's exclusion rules.
func (s *Store) SetChannelFilters(owner, uid string, excludeTypes []string, excludeRegex string) error {
	res, err := s.db.Exec(
		"UPDATE channels SET exclude_types = ?, exclude_regex = ?, updated_at = ? WHERE owner = ? AND uid = ?",
		marshalList(excludeTypes), excludeRegex, time.Now().UTC(), owner, uid,
	)
	if err != nil {
		return fmt.Errorf("updating channel filters: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("channel %s: %w", uid, ErrNotFound)
	}
	return nil
}

// DeleteChannel removes a channel with its feeds and items. The
// notifications channel is refused.
func (s *Store) DeleteChannel(owner, uid string) error {
	if uid == NotificationsUID {
		return errors.New("the notifications channel cannot be deleted")
	}

	ch, err := s.GetChannel(owner, uid)
	if err != nil {
		return err
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

	for _, stmt := range []struct {
		query string
		args  []any
	}{
		{"DELETE FROM items WHERE channel_id = ?", []any{ch.ID}},
		{"DELETE FROM feeds WHERE channel_id = ?", []any{ch.ID}},
		{"DELETE FROM muted WHERE owner = ? AND channel_id = ?", []any{owner, ch.ID}},
		{"DELETE FROM channels WHERE id = ?", []any{ch.ID}},
	} {
		if _, err := tx.Exec(stmt.query, stmt.args...); err != nil {
			return fmt.Errorf("deleting channel %s: %w", uid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing channel delete: %w", err)
	}
	committed = true
	return nil
}

// OrderChannels assigns display order following the given uid sequence.
// Channels not named keep their slot; notifications stays pinned at -1.
func (s *Store) OrderChannels(owner string, uids []string) error {
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

	position := 0
	for _, uid := range uids {
		if uid == NotificationsUID {
			continue
		}
		position++
		if _, err := tx.Exec(
			"UPDATE channels SET sort = ?, updated_at = ? WHERE owner = ? AND uid = ?",
			position, time.Now().UTC(), owner, uid,
		); err != nil {
			return fmt.Errorf("ordering channel %s: %w", uid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing channel order: %w", err)
	}
	committed = true
	return nil
}

// Mute hides items whose source URL matches. An empty channelID mutes
// globally for the owner.
func (s *Store) Mute(owner, channelID, url string) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO muted (owner, channel_id, url, created_at) VALUES (?, ?, ?, ?)",
		owner, channelID, url, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("muting %s: %w", url, err)
	}
	return nil
}

func (s *Store) Unmute(owner, channelID, url string) error {
	_, err := s.db.Exec(
		"DELETE FROM muted WHERE owner = ? AND channel_id = ? AND url = ?",
		owner, channelID, url,
	)
	if err != nil {
		return fmt.Errorf("unmuting %s: %w", url, err)
	}
	return nil
}

// IsMuted reports whether url is muted for the owner, either globally or
// scoped to the given channel.
func (s *Store) IsMuted(owner, channelID, url string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM muted WHERE owner = ? AND url = ? AND (channel_id = '' OR channel_id = ?)",
		owner, url, channelID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking mute for %s: %w", url, err)
	}
	return count > 0, nil
}

// Block records an author block and cascades a delete of that author's
// items across the owner's channels.
func (s *Store) Block(owner, authorURL string) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO blocked (owner, author_url, created_at) VALUES (?, ?, ?)",
		owner, authorURL, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("blocking %s: %w", authorURL, err)
	}
	return s.DeleteItemsByAuthor(owner, authorURL)
}

func (s *Store) Unblock(owner, authorURL string) error {
	_, err := s.db.Exec(
		"DELETE FROM blocked WHERE owner = ? AND author_url = ?",
		owner, authorURL,
	)
	if err != nil {
		return fmt.Errorf("unblocking %s: %w", authorURL, err)
	}
	return nil
}

func (s *Store) IsBlocked(owner, authorURL string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM blocked WHERE owner = ? AND author_url = ?",
		owner, authorURL,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking block for %s: %w", authorURL, err)
	}
	return count > 0, nil
}

// DeleteItemsByAuthor removes the author's items from every channel the
// owner has.
func (s *Store) DeleteItemsByAuthor(owner, authorURL string) error {
	_, err := s.db.Exec(`
		DELETE FROM items WHERE author_url = ? AND channel_id IN (
			SELECT id FROM channels WHERE owner = ?
		)
	`, authorURL, owner)
	if err != nil {
		return fmt.Errorf("deleting items by author %s: %w", authorURL, err)
	}
	return nil
}
