package feed

import (
	"bytes"
	"mime"
	"strings"
)

// Detect determines the feed format from the Content-Type header and, when
// that is ambiguous, the body itself. The header wins when it names a
// specific format outright.
func Detect(body []byte, contentType string) Kind {
	mediaType := contentType
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = mt
	}
	mediaType = strings.ToLower(mediaType)

	switch mediaType {
	case "application/atom+xml":
		return KindAtom
	case "application/rss+xml":
		return KindRSS
	case "application/feed+json":
		return KindJSONFeed
	case "text/html":
		return KindHFeed
	case "application/json", "application/activity+json", "application/ld+json":
		return detectJSON(body)
	}

	return detectBody(body)
}

func detectBody(body []byte) Kind {
	trimmed := bytes.TrimLeft(body, " \t\r\n\uFEFF")

	if bytes.HasPrefix(trimmed, []byte("{")) {
		return detectJSON(trimmed)
	}

	head := trimmed
	if len(head) > 2048 {
		head = head[:2048]
	}
	lower := bytes.ToLower(head)

	switch {
	case bytes.Contains(lower, []byte("<feed")) && bytes.Contains(head, []byte("http://www.w3.org/2005/Atom")):
		return KindAtom
	case bytes.Contains(lower, []byte("<feed")):
		return KindAtom
	case bytes.Contains(lower, []byte("<rss")), bytes.Contains(lower, []byte("<rdf:rdf")):
		return KindRSS
	case bytes.Contains(lower, []byte("<!doctype html")), bytes.Contains(lower, []byte("<html")):
		return KindHFeed
	}

	return KindUnknown
}

func detectJSON(body []byte) Kind {
	head := body
	if len(head) > 4096 {
		head = head[:4096]
	}

	if bytes.Contains(head, []byte("jsonfeed.org")) {
		return KindJSONFeed
	}
	if bytes.Contains(head, []byte("@context")) ||
		bytes.Contains(head, []byte(`"type":"Group"`)) ||
		bytes.Contains(head, []byte(`"type": "Group"`)) ||
		bytes.Contains(head, []byte(`"inbox"`)) {
		return KindActivityPub
	}

	return KindUnknown
}
