package api

import (
	"time"

	"github.com/skimreader/skim/pkg/feed"
	"github.com/skimreader/skim/pkg/store"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ChannelInfo is the jf2 channel surface.
type ChannelInfo struct {
	UID    string `json:"uid"`
	Name   string `json:"name"`
	Unread int    `json:"unread"`
}

type ChannelsResponse struct {
	Channels []ChannelInfo `json:"channels"`
}

// Card is a jf2 author card.
type Card struct {
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"`
	URL   string `json:"url,omitempty"`
	Photo string `json:"photo,omitempty"`
}

type Content struct {
	Text string `json:"text,omitempty"`
	HTML string `json:"html,omitempty"`
}

// Item is the jf2 rendering of a timeline entry. Interaction keys are
// hyphenated; metadata fields carry a leading underscore.
type Item struct {
	Type      string   `json:"type"`
	UID       string   `json:"uid,omitempty"`
	URL       string   `json:"url,omitempty"`
	Name      string   `json:"name,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	Content   *Content `json:"content,omitempty"`
	Published string   `json:"published,omitempty"`
	Updated   string   `json:"updated,omitempty"`
	Author    *Card    `json:"author,omitempty"`
	Category  []string `json:"category,omitempty"`
	Photo     []string `json:"photo,omitempty"`
	Video     []string `json:"video,omitempty"`
	Audio     []string `json:"audio,omitempty"`

	LikeOf     []string `json:"like-of,omitempty"`
	RepostOf   []string `json:"repost-of,omitempty"`
	BookmarkOf []string `json:"bookmark-of,omitempty"`
	InReplyTo  []string `json:"in-reply-to,omitempty"`

	ID     string  `json:"_id,omitempty"`
	IsRead bool    `json:"_is_read"`
	Source *Source `json:"_source,omitempty"`
}

type Source struct {
	URL     string `json:"url,omitempty"`
	FeedURL string `json:"feed-url,omitempty"`
}

type Paging struct {
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

type TimelineResponse struct {
	Items  []Item  `json:"items"`
	Paging *Paging `json:"paging,omitempty"`
}

// FeedInfo is the jf2 feed descriptor used by follow, search, and preview.
type FeedInfo struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Name  string `json:"name,omitempty"`
	Photo string `json:"photo,omitempty"`
}

type PreviewResponse struct {
	Feed  FeedInfo `json:"feed"`
	Items []Item   `json:"items"`
}

func iso(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func renderStoredItem(it *store.Item) Item {
	out := Item{
		Type:      it.Type,
		UID:       it.UID,
		URL:       it.URL,
		Name:      it.Name,
		Summary:   it.Summary,
		Published: iso(it.Published),
		Updated:   iso(it.Updated),
		Category:  it.Category,
		Photo:     it.Photo,
		Video:     it.Video,
		Audio:     it.Audio,

		LikeOf:     it.LikeOf,
		RepostOf:   it.RepostOf,
		BookmarkOf: it.BookmarkOf,
		InReplyTo:  it.InReplyTo,

		IsRead: it.IsRead,
	}
	if it.ID != 0 {
		out.ID = itemID(it.ID)
	}
	if it.Content != nil {
		out.Content = &Content{Text: it.Content.Text, HTML: it.Content.HTML}
	}
	if it.Author != nil {
		out.Author = &Card{Type: "card", Name: it.Author.Name, URL: it.Author.URL, Photo: it.Author.Photo}
	}
	if it.SourceURL != "" || it.SourceFeedURL != "" {
		out.Source = &Source{URL: it.SourceURL, FeedURL: it.SourceFeedURL}
	}
	return out
}

func renderParsedItem(it *feed.Item) Item {
	out := Item{
		Type:      "entry",
		UID:       it.UID,
		URL:       it.URL,
		Name:      it.Name,
		Summary:   it.Summary,
		Published: iso(it.Published),
		Updated:   iso(it.Updated),
		Category:  it.Category,
		Photo:     it.Photo,
		Video:     it.Video,
		Audio:     it.Audio,

		LikeOf:     it.LikeOf,
		RepostOf:   it.RepostOf,
		BookmarkOf: it.BookmarkOf,
		InReplyTo:  it.InReplyTo,
	}
	if it.Content != nil {
		out.Content = &Content{Text: it.Content.Text, HTML: it.Content.HTML}
	}
	if it.Author != nil {
		out.Author = &Card{Type: "card", Name: it.Author.Name, URL: it.Author.URL, Photo: it.Author.Photo}
	}
	return out
}
