package feed

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/skimreader/skim/pkg/mf2"
)

// parseHFeed normalizes an HTML page carrying microformats2 entries. An
// h-feed container is preferred; without one every root h-entry is treated
// as a synthetic feed.
func parseHFeed(body []byte, feedURL string) (*Parsed, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML at %s: %w", feedURL, err)
	}

	base, _ := url.Parse(feedURL)
	mfFeed := mf2.ParseFeed(doc, base)
	if len(mfFeed.Entries) == 0 {
		return nil, fmt.Errorf("no h-entry elements found at %s", feedURL)
	}

	meta := Meta{Title: mfFeed.Name, Photo: mfFeed.Photo}
	if meta.Title == "" {
		meta.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	items := make([]Item, 0, len(mfFeed.Entries))
	for _, entry := range mfFeed.Entries {
		items = append(items, NormalizeEntry(entry, feedURL))
	}

	return &Parsed{Meta: meta, Items: items}, nil
}

// NormalizeEntry converts an mf2 entry into the uniform item shape. The
// webmention verifier reuses it for entries found on mention sources.
func NormalizeEntry(entry *mf2.Entry, feedURL string) Item {
	sourceID := entry.UID
	if sourceID == "" {
		sourceID = entry.URL
	}
	if sourceID == "" {
		sourceID = entry.Name
	}

	item := Item{
		Type:      "entry",
		UID:       UID(feedURL, sourceID),
		URL:       entry.URL,
		Name:      entry.Name,
		Published: parseDate(entry.Published),
		Summary:   SanitizeText(entry.Summary),
		Category:  append([]string(nil), entry.Categories...),
		Photo:     append([]string(nil), entry.Photos...),
		Video:     append([]string(nil), entry.Videos...),
		Audio:     append([]string(nil), entry.Audios...),

		LikeOf:     append([]string(nil), entry.LikeOf...),
		RepostOf:   append([]string(nil), entry.RepostOf...),
		BookmarkOf: append([]string(nil), entry.BookmarkOf...),
		InReplyTo:  append([]string(nil), entry.InReplyTo...),

		Source: Source{FeedURL: feedURL, OriginalID: sourceID},
	}

	item.Content = NewContent(entry.ContentHTML)

	// Notes repeat the whole content as p-name; drop the duplicate.
	if item.Content != nil && item.Name == item.Content.Text {
		item.Name = ""
	}

	if entry.Author != nil {
		item.Author = &Author{
			Name:  entry.Author.Name,
			URL:   entry.Author.URL,
			Photo: entry.Author.Photo,
		}
	}

	return item
}
