// Package mf2 extracts the microformats2 subset skim needs: h-feed and
// h-entry structures for HTML feeds, and h-card authorship for webmention
// verification. It is not a general mf2 parser; only the properties the
// normalized item schema consumes are read.
package mf2

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Card is an h-card reduced to the fields the item schema keeps.
type Card struct {
	Name  string
	URL   string
	Photo string
}

// Entry is one h-entry with its interaction targets resolved to absolute
// URLs. Published is the raw dt-published value; date parsing happens in
// the feed normalizer.
type Entry struct {
	Name        string
	Summary     string
	ContentHTML string
	URL         string
	UID         string
	Published   string
	Author      *Card
	Categories  []string
	Photos      []string
	Videos      []string
	Audios      []string

	LikeOf     []string
	RepostOf   []string
	BookmarkOf []string
	InReplyTo  []string
}

// Feed is an h-feed (explicit or synthesized from loose root h-entries).
type Feed struct {
	Name    string
	Photo   string
	Entries []*Entry
}

// ParseFeed locates an h-feed in the document, or failing that treats all
// h-entry elements as a synthetic feed. Relative URLs are resolved against
// base when it is non-nil.
func ParseFeed(doc *goquery.Document, base *url.URL) *Feed {
	feed := &Feed{}

	scope := doc.Selection
	if feedSel := doc.Find(".h-feed").First(); feedSel.Length() > 0 {
		scope = feedSel
		feed.Name = textOf(feedSel.ChildrenFiltered(".p-name").First())
		if feed.Name == "" {
			feed.Name = textOf(feedSel.Find(".p-name").Not(".h-entry .p-name").First())
		}
		feed.Photo = urlValue(feedSel.ChildrenFiltered(".u-photo").First(), base)
	}

	scope.Find(".h-entry").Each(func(_ int, sel *goquery.Selection) {
		feed.Entries = append(feed.Entries, parseEntry(sel, base))
	})

	return feed
}

// ParseEntries returns every h-entry in the document regardless of feed
// structure. The webmention verifier scans these for a target reference.
func ParseEntries(doc *goquery.Document, base *url.URL) []*Entry {
	var entries []*Entry
	doc.Find(".h-entry").Each(func(_ int, sel *goquery.Selection) {
		entries = append(entries, parseEntry(sel, base))
	})
	return entries
}

// RepresentativeCard returns the first page-level h-card that is not the
// author card of some entry. Used as the fallback author for mentions.
func RepresentativeCard(doc *goquery.Document, base *url.URL) *Card {
	var card *Card
	doc.Find(".h-card").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if sel.Closest(".h-entry").Length() > 0 {
			return true
		}
		card = parseCard(sel, base)
		return false
	})
	return card
}

func parseEntry(sel *goquery.Selection, base *url.URL) *Entry {
	entry := &Entry{
		Name:      textOf(sel.Find(".p-name").First()),
		Summary:   textOf(sel.Find(".p-summary").First()),
		URL:       urlValue(sel.Find(".u-url").First(), base),
		UID:       textOf(sel.Find(".u-uid").First()),
		Published: dtValue(sel.Find(".dt-published").First()),

		Categories: textsOf(sel, ".p-category"),
		Photos:     urlsOf(sel, ".u-photo", base),
		Videos:     urlsOf(sel, ".u-video", base),
		Audios:     urlsOf(sel, ".u-audio", base),

		LikeOf:     urlsOf(sel, ".u-like-of", base),
		RepostOf:   urlsOf(sel, ".u-repost-of", base),
		BookmarkOf: urlsOf(sel, ".u-bookmark-of", base),
		InReplyTo:  urlsOf(sel, ".u-in-reply-to", base),
	}

	if content := sel.Find(".e-content").First(); content.Length() > 0 {
		if html, err := content.Html(); err == nil {
			entry.ContentHTML = strings.TrimSpace(html)
		}
	}

	if author := sel.Find(".p-author").First(); author.Length() > 0 {
		entry.Author = parseAuthor(author, base)
	}

	return entry
}

func parseAuthor(sel *goquery.Selection, base *url.URL) *Card {
	if sel.HasClass("h-card") {
		return parseCard(sel, base)
	}
	if inner := sel.Find(".h-card").First(); inner.Length() > 0 {
		return parseCard(inner, base)
	}

	card := &Card{Name: textOf(sel)}
	if goquery.NodeName(sel) == "a" {
		card.URL = absURL(base, sel.AttrOr("href", ""))
	}
	if card.Name == "" && card.URL == "" {
		return nil
	}
	return card
}

func parseCard(sel *goquery.Selection, base *url.URL) *Card {
	card := &Card{
		Name:  textOf(sel.Find(".p-name").First()),
		URL:   urlValue(sel.Find(".u-url").First(), base),
		Photo: urlValue(sel.Find(".u-photo").First(), base),
	}

	if card.Name == "" {
		card.Name = textOf(sel)
	}
	if card.URL == "" && goquery.NodeName(sel) == "a" {
		card.URL = absURL(base, sel.AttrOr("href", ""))
	}

	return card
}

func textOf(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	return strings.Join(strings.Fields(sel.Text()), " ")
}

func textsOf(root *goquery.Selection, selector string) []string {
	var out []string
	root.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		if t := textOf(sel); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// dtValue prefers the datetime attribute of <time> elements over the
// human-readable text.
func dtValue(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	if dt := sel.AttrOr("datetime", ""); dt != "" {
		return dt
	}
	return textOf(sel)
}

// urlValue extracts the URL a microformats property element points at,
// depending on the element kind.
func urlValue(sel *goquery.Selection, base *url.URL) string {
	if sel.Length() == 0 {
		return ""
	}
	switch goquery.NodeName(sel) {
	case "a", "link", "area":
		return absURL(base, sel.AttrOr("href", ""))
	case "img", "video", "audio", "source", "iframe":
		return absURL(base, sel.AttrOr("src", ""))
	default:
		return absURL(base, textOf(sel))
	}
}

func urlsOf(root *goquery.Selection, selector string, base *url.URL) []string {
	var out []string
	seen := make(map[string]bool)
	root.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		u := urlValue(sel, base)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	})
	return out
}

func absURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		return base.ResolveReference(parsed).String()
	}
	return parsed.String()
}
