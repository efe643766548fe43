package feed

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// contentPolicy is the strict allow-list every piece of HTML must pass
// before persistence, whether it arrived from a feed or a webmention source.
var contentPolicy = buildContentPolicy()

// textPolicy strips all markup; used to derive the plain-text rendering.
var textPolicy = bluemonday.StrictPolicy()

func buildContentPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"a", "abbr", "b", "blockquote", "br", "code", "em",
		"figcaption", "figure",
		"h1", "h2", "h3", "h4", "h5", "h6", "hr", "i", "img",
		"li", "ol", "p", "pre", "s", "span", "strike", "strong",
		"sub", "sup",
		"table", "tbody", "td", "th", "thead", "tr",
		"u", "ul", "video", "audio", "source",
	)

	p.AllowAttrs("href", "title", "rel").OnElements("a")
	p.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")
	p.AllowAttrs("src", "poster", "controls", "width", "height").OnElements("video")
	p.AllowAttrs("src", "controls").OnElements("audio")
	p.AllowAttrs("src", "type").OnElements("source")
	p.AllowAttrs("class").Globally()

	p.AllowURLSchemes("http", "https", "mailto")
	p.RequireNoFollowOnLinks(false)

	return p
}

// SanitizeHTML reduces arbitrary markup to the allowed subset.
func SanitizeHTML(s string) string {
	return strings.TrimSpace(contentPolicy.Sanitize(s))
}

// SanitizeText strips all tags and decodes entities.
func SanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

// NewContent sanitizes raw HTML into the persisted Content pair. Returns nil
// when nothing survives sanitization.
func NewContent(rawHTML string) *Content {
	h := SanitizeHTML(rawHTML)
	t := SanitizeText(rawHTML)
	if h == "" && t == "" {
		return nil
	}
	return &Content{Text: t, HTML: h}
}
