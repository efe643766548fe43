package feed

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Kind identifies the wire format of a fetched feed. Parsing dispatches on
// it instead of re-sniffing the body.
type Kind int

const (
	KindUnknown Kind = iota
	KindRSS
	KindAtom
	KindJSONFeed
	KindHFeed
	KindActivityPub
)

func (k Kind) String() string {
	switch k {
	case KindRSS:
		return "rss"
	case KindAtom:
		return "atom"
	case KindJSONFeed:
		return "jsonfeed"
	case KindHFeed:
		return "hfeed"
	case KindActivityPub:
		return "activitypub"
	default:
		return "unknown"
	}
}

// Author is the normalized author card attached to an item.
type Author struct {
	Name  string
	URL   string
	Photo string
}

// Content carries the sanitized rendering of an entry body. HTML has passed
// the allow-list policy; Text is the same content with all tags stripped.
type Content struct {
	Text string
	HTML string
}

// Source records where an item came from.
type Source struct {
	FeedURL    string
	OriginalID string
}

// Item is the uniform representation every parser emits. A zero Published
// means the source carried no usable date.
type Item struct {
	Type      string
	UID       string
	URL       string
	Name      string
	Published time.Time
	Updated   time.Time
	Author    *Author
	Content   *Content
	Summary   string
	Category  []string
	Photo     []string
	Video     []string
	Audio     []string

	LikeOf     []string
	RepostOf   []string
	BookmarkOf []string
	InReplyTo  []string

	Source Source
}

// Meta is feed-level information surfaced alongside the items.
type Meta struct {
	Title string
	Photo string

	// Hub and Self come from the feed body (atom link rels, JSON Feed
	// hubs); the fetcher may override them with Link header values.
	Hub  string
	Self string
}

// Parsed is the result of normalizing one feed document.
type Parsed struct {
	Meta  Meta
	Items []Item
}

// UID derives the stable per-feed item identifier: the first 24 hex chars of
// SHA-256 over feedURL + "::" + sourceID. The same entry seen again hashes
// to the same uid, which is what the dedup guard keys on.
func UID(feedURL, sourceID string) string {
	sum := sha256.Sum256([]byte(feedURL + "::" + sourceID))
	return hex.EncodeToString(sum[:])[:24]
}

// PostType computes the interaction kind used by channel filters. Precedence
// follows the interaction arrays, then the explicit type, else "post".
func (it *Item) PostType() string {
	switch {
	case len(it.LikeOf) > 0:
		return "like"
	case len(it.RepostOf) > 0:
		return "repost"
	case len(it.BookmarkOf) > 0:
		return "bookmark"
	case len(it.InReplyTo) > 0:
		return "reply"
	}
	switch it.Type {
	case "rsvp":
		return "rsvp"
	case "checkin":
		return "checkin"
	}
	return "post"
}
