package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skimreader/skim/pkg/feed"
)

// Channel groups feed subscriptions for one owner. Sort -1 pins the
// notifications channel above everything else.
type Channel struct {
	ID           string
	UID          string
	Owner        string
	Name         string
	Sort         int
	ExcludeTypes []string
	ExcludeRegex string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Unread is filled in by ListChannels; it is not a column.
	Unread int
}

// WebSub is the push-subscription state carried on a feed.
type WebSub struct {
	Hub          string
	Topic        string
	Secret       string
	LeaseSeconds int
	ExpiresAt    time.Time
	Pending      bool
}

// Feed is one subscription: a channel, a URL, and the polling state the
// scheduler maintains.
type Feed struct {
	ID                string
	ChannelID         string
	URL               string
	Title             string
	Photo             string
	Tier              int
	Unmodified        int
	NextFetchAt       time.Time
	LastFetchedAt     time.Time
	ETag              string
	LastModified      string
	Status            string
	LastError         string
	LastErrorAt       time.Time
	ConsecutiveErrors int
	ItemCount         int
	WebSub            WebSub
	CreatedAt         time.Time
}

// Item is a persisted timeline entry. A stripped item is a dedup skeleton:
// only channel, feed, uid, and read state survive.
type Item struct {
	ID        int64
	ChannelID string
	FeedID    string
	UID       string
	URL       string
	Type      string
	Name      string
	Summary   string
	Content   *feed.Content
	Published time.Time
	Updated   time.Time
	Author    *feed.Author

	Category   []string
	Photo      []string
	Video      []string
	Audio      []string
	LikeOf     []string
	RepostOf   []string
	BookmarkOf []string
	InReplyTo  []string

	SourceURL     string
	SourceFeedURL string
	ReadBy        []string
	Stripped      bool
	CreatedAt     time.Time

	// IsRead is computed for the querying owner at read time.
	IsRead bool
}

func marshalList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalList(data string) []string {
	if data == "" || data == "[]" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil
	}
	return values
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timeOf(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time
}

const feedColumns = `id, channel_id, url, title, photo, tier, unmodified,
	next_fetch_at, last_fetched_at, etag, last_modified,
	status, last_error, last_error_at, consecutive_errors, item_count,
	websub_hub, websub_topic, websub_secret, websub_lease_seconds,
	websub_expires_at, websub_pending, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*Feed, error) {
	var f Feed
	var nextFetch, lastFetched, lastErrorAt, websubExpires sql.NullTime
	var pending int

	err := row.Scan(
		&f.ID, &f.ChannelID, &f.URL, &f.Title, &f.Photo, &f.Tier, &f.Unmodified,
		&nextFetch, &lastFetched, &f.ETag, &f.LastModified,
		&f.Status, &f.LastError, &lastErrorAt, &f.ConsecutiveErrors, &f.ItemCount,
		&f.WebSub.Hub, &f.WebSub.Topic, &f.WebSub.Secret, &f.WebSub.LeaseSeconds,
		&websubExpires, &pending, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	f.NextFetchAt = timeOf(nextFetch)
	f.LastFetchedAt = timeOf(lastFetched)
	f.LastErrorAt = timeOf(lastErrorAt)
	f.WebSub.ExpiresAt = timeOf(websubExpires)
	f.WebSub.Pending = pending != 0

	return &f, nil
}

const itemColumns = `id, channel_id, feed_id, uid, url, type, name, summary,
	content_text, content_html, published, updated,
	author_name, author_url, author_photo,
	category, photo, video, audio,
	like_of, repost_of, bookmark_of, in_reply_to,
	source_url, source_feed_url, read_by, stripped, created_at`

func scanItem(row rowScanner, owner string) (*Item, error) {
	var it Item
	var feedID sql.NullString
	var updated sql.NullTime
	var contentText, contentHTML string
	var authorName, authorURL, authorPhoto string
	var category, photo, video, audio string
	var likeOf, repostOf, bookmarkOf, inReplyTo string
	var readBy string
	var stripped int

	err := row.Scan(
		&it.ID, &it.ChannelID, &feedID, &it.UID, &it.URL, &it.Type, &it.Name, &it.Summary,
		&contentText, &contentHTML, &it.Published, &updated,
		&authorName, &authorURL, &authorPhoto,
		&category, &photo, &video, &audio,
		&likeOf, &repostOf, &bookmarkOf, &inReplyTo,
		&it.SourceURL, &it.SourceFeedURL, &readBy, &stripped, &it.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	it.FeedID = feedID.String
	it.Updated = timeOf(updated)
	it.Stripped = stripped != 0

	if contentText != "" || contentHTML != "" {
		it.Content = &feed.Content{Text: contentText, HTML: contentHTML}
	}
	if authorName != "" || authorURL != "" || authorPhoto != "" {
		it.Author = &feed.Author{Name: authorName, URL: authorURL, Photo: authorPhoto}
	}

	it.Category = unmarshalList(category)
	it.Photo = unmarshalList(photo)
	it.Video = unmarshalList(video)
	it.Audio = unmarshalList(audio)
	it.LikeOf = unmarshalList(likeOf)
	it.RepostOf = unmarshalList(repostOf)
	it.BookmarkOf = unmarshalList(bookmarkOf)
	it.InReplyTo = unmarshalList(inReplyTo)
	it.ReadBy = unmarshalList(readBy)

	for _, reader := range it.ReadBy {
		if reader == owner {
			it.IsRead = true
			break
		}
	}

	return &it, nil
}

// PostType mirrors the normalizer's interaction classification for
// persisted items; channel filters and notifications use it.
func (it *Item) PostType() string {
	ref := feed.Item{
		Type:       it.Type,
		LikeOf:     it.LikeOf,
		RepostOf:   it.RepostOf,
		BookmarkOf: it.BookmarkOf,
		InReplyTo:  it.InReplyTo,
	}
	return ref.PostType()
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		fmt.Printf("Warning: failed to close rows: %v\n", err)
	}
}
