package feed

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LinkCandidate is a feed advertised by an HTML page.
type LinkCandidate struct {
	URL   string
	Title string
}

var alternateTypes = map[string]bool{
	"application/rss+xml":   true,
	"application/atom+xml":  true,
	"application/feed+json": true,
	"application/json":      true,
}

// DiscoverLinks extracts rel=alternate feed links from an HTML page,
// resolved against pageURL. Order follows document order; duplicates by
// URL are dropped.
func DiscoverLinks(body []byte, pageURL string) []LinkCandidate {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	base, _ := url.Parse(pageURL)

	seen := make(map[string]bool)
	var found []LinkCandidate
	doc.Find("link[rel='alternate']").Each(func(_ int, sel *goquery.Selection) {
		linkType := strings.ToLower(strings.TrimSpace(sel.AttrOr("type", "")))
		if !alternateTypes[linkType] {
			return
		}
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" {
			return
		}
		if base != nil {
			if parsed, err := url.Parse(href); err == nil {
				href = base.ResolveReference(parsed).String()
			}
		}
		if seen[href] {
			return
		}
		seen[href] = true
		found = append(found, LinkCandidate{URL: href, Title: strings.TrimSpace(sel.AttrOr("title", ""))})
	})
	return found
}
