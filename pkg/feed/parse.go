package feed

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Parse normalizes a feed document of a known kind into the uniform item
// representation. Parsers never touch the network; hub discovery from the
// body is surfaced through Meta.
func Parse(body []byte, feedURL string, kind Kind) (*Parsed, error) {
	switch kind {
	case KindRSS, KindAtom, KindJSONFeed:
		return parseSyndication(body, feedURL, kind)
	case KindHFeed:
		return parseHFeed(body, feedURL)
	case KindActivityPub:
		return nil, fmt.Errorf("%s looks like an ActivityPub actor, try %s/feed/ instead", feedURL, originOf(feedURL))
	default:
		return nil, fmt.Errorf("unable to detect a feed format for %s", feedURL)
	}
}

func parseSyndication(body []byte, feedURL string, kind Kind) (*Parsed, error) {
	var hub string

	if kind == KindJSONFeed {
		var head struct {
			Version string `json:"version"`
			Hubs    []struct {
				URL string `json:"url"`
			} `json:"hubs"`
		}
		if err := json.Unmarshal(body, &head); err != nil {
			return nil, fmt.Errorf("parsing JSON Feed %s: %w", feedURL, err)
		}
		if !strings.Contains(head.Version, "jsonfeed.org") {
			return nil, fmt.Errorf("%s is not a JSON Feed (version %q)", feedURL, head.Version)
		}
		if len(head.Hubs) > 0 {
			hub = head.Hubs[0].URL
		}
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing %s feed %s: %w", kind, feedURL, err)
	}

	meta := Meta{
		Title: strings.TrimSpace(parsed.Title),
		Self:  parsed.FeedLink,
		Hub:   hub,
	}
	if parsed.Image != nil {
		meta.Photo = parsed.Image.URL
	}
	if kind != KindJSONFeed {
		bodyHub, bodySelf := discoverXMLLinks(body)
		if meta.Hub == "" {
			meta.Hub = bodyHub
		}
		if meta.Self == "" {
			meta.Self = bodySelf
		}
	}

	items := make([]Item, 0, len(parsed.Items))
	for _, raw := range parsed.Items {
		items = append(items, normalizeGofeedItem(raw, feedURL))
	}

	return &Parsed{Meta: meta, Items: items}, nil
}

func normalizeGofeedItem(raw *gofeed.Item, feedURL string) Item {
	sourceID := raw.GUID
	if sourceID == "" {
		sourceID = raw.Link
	}
	if sourceID == "" {
		sourceID = raw.Title
	}

	item := Item{
		Type:     "entry",
		UID:      UID(feedURL, sourceID),
		URL:      raw.Link,
		Name:     strings.TrimSpace(raw.Title),
		Category: append([]string(nil), raw.Categories...),
		Source:   Source{FeedURL: feedURL, OriginalID: sourceID},
	}

	if raw.PublishedParsed != nil {
		item.Published = raw.PublishedParsed.UTC()
	} else {
		item.Published = parseDate(raw.Published)
	}
	if raw.UpdatedParsed != nil {
		item.Updated = raw.UpdatedParsed.UTC()
	} else {
		item.Updated = parseDate(raw.Updated)
	}
	if item.Published.IsZero() {
		item.Published = item.Updated
	}

	if len(raw.Authors) > 0 && raw.Authors[0].Name != "" {
		item.Author = &Author{Name: raw.Authors[0].Name}
	}

	rawHTML := raw.Content
	if rawHTML == "" {
		rawHTML = raw.Description
	} else if raw.Description != "" && raw.Description != raw.Content {
		item.Summary = SanitizeText(raw.Description)
	}
	item.Content = NewContent(rawHTML)

	addMedia(&item, raw)

	return item
}

// addMedia routes enclosures and media:content references into the media
// slices by MIME type, deduplicated by URL.
func addMedia(item *Item, raw *gofeed.Item) {
	add := func(mediaURL, mimeType string) {
		switch {
		case strings.HasPrefix(mimeType, "image/"):
			item.Photo = appendUnique(item.Photo, mediaURL)
		case strings.HasPrefix(mimeType, "video/"):
			item.Video = appendUnique(item.Video, mediaURL)
		case strings.HasPrefix(mimeType, "audio/"):
			item.Audio = appendUnique(item.Audio, mediaURL)
		}
	}

	for _, enc := range raw.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		add(enc.URL, enc.Type)
	}

	if media, ok := raw.Extensions["media"]; ok {
		for _, ext := range media["content"] {
			mediaURL := ext.Attrs["url"]
			if mediaURL == "" {
				continue
			}
			mimeType := ext.Attrs["type"]
			if mimeType == "" {
				// media:content may carry medium=image|video|audio instead.
				mimeType = ext.Attrs["medium"] + "/"
			}
			add(mediaURL, mimeType)
		}
	}

	if raw.Image != nil && raw.Image.URL != "" {
		item.Photo = appendUnique(item.Photo, raw.Image.URL)
	}
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

// dateFormats are tried in order for date strings gofeed could not parse.
// Formats without a zone are treated as UTC.
var dateFormats = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// discoverXMLLinks scans an XML feed body for <link rel="hub"> and
// <link rel="self"> elements without binding to a specific schema.
func discoverXMLLinks(body []byte) (hub, self string) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.Strict = false

	for {
		token, err := decoder.Token()
		if err == io.EOF || err != nil {
			return hub, self
		}

		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "link" {
			continue
		}

		var rel, href string
		for _, attr := range start.Attr {
			switch attr.Name.Local {
			case "rel":
				rel = strings.ToLower(attr.Value)
			case "href":
				href = attr.Value
			}
		}

		switch rel {
		case "hub":
			if hub == "" {
				hub = href
			}
		case "self":
			if self == "" {
				self = href
			}
		}
	}
}

func originOf(feedURL string) string {
	parsed, err := url.Parse(feedURL)
	if err != nil || parsed.Host == "" {
		return feedURL
	}
	return parsed.Scheme + "://" + parsed.Host
}
