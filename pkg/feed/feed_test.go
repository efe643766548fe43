package feed

import (
	"strings"
	"testing"
	"time"
)

func TestUIDStable(t *testing.T) {
	a := UID("https://example.com/feed", "post-1")
	b := UID("https://example.com/feed", "post-1")
	if a != b {
		t.Errorf("same inputs produced different uids: %s vs %s", a, b)
	}
	if len(a) != 24 {
		t.Errorf("expected 24-char uid, got %d chars: %s", len(a), a)
	}
	if UID("https://other.example/feed", "post-1") == a {
		t.Error("different feed URLs should not collide")
	}
	if UID("https://example.com/feed", "post-2") == a {
		t.Error("different source IDs should not collide")
	}
}

func TestPostType(t *testing.T) {
	tests := []struct {
		name string
		item Item
		want string
	}{
		{"plain", Item{Type: "entry"}, "post"},
		{"like", Item{LikeOf: []string{"https://a.example/1"}}, "like"},
		{"repost", Item{RepostOf: []string{"https://a.example/1"}}, "repost"},
		{"bookmark", Item{BookmarkOf: []string{"https://a.example/1"}}, "bookmark"},
		{"reply", Item{InReplyTo: []string{"https://a.example/1"}}, "reply"},
		{"like wins over reply", Item{LikeOf: []string{"x"}, InReplyTo: []string{"y"}}, "like"},
		{"rsvp", Item{Type: "rsvp"}, "rsvp"},
		{"checkin", Item{Type: "checkin"}, "checkin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.PostType(); got != tt.want {
				t.Errorf("PostType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        Kind
	}{
		{"atom by header", "application/atom+xml", "", KindAtom},
		{"rss by header", "application/rss+xml; charset=utf-8", "", KindRSS},
		{"jsonfeed by header", "application/feed+json", "", KindJSONFeed},
		{"html by header", "text/html; charset=utf-8", "<html></html>", KindHFeed},
		{"jsonfeed under generic json", "application/json", `{"version":"https://jsonfeed.org/version/1.1"}`, KindJSONFeed},
		{"activitypub actor", "application/activity+json", `{"@context":"https://www.w3.org/ns/activitystreams","type":"Person"}`, KindActivityPub},
		{"atom by body", "text/xml", `<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"></feed>`, KindAtom},
		{"rss by body", "application/xml", `<?xml version="1.0"?><rss version="2.0"></rss>`, KindRSS},
		{"rdf by body", "application/xml", `<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"></rdf:RDF>`, KindRSS},
		{"html by body", "application/octet-stream", "<!DOCTYPE html><html></html>", KindHFeed},
		{"unknown", "application/octet-stream", "plain text", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect([]byte(tt.body), tt.contentType); got != tt.want {
				t.Errorf("Detect() = %s, want %s", got, tt.want)
			}
		})
	}
}

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">
<channel>
<title>Example Blog</title>
<link>https://blog.example</link>
<atom:link rel="self" href="https://blog.example/feed.xml"/>
<atom:link rel="hub" href="https://hub.example/"/>
<item>
<title>First Post</title>
<link>https://blog.example/1</link>
<guid>https://blog.example/1</guid>
<pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
<description>Short intro</description>
<content:encoded xmlns:content="http://purl.org/rss/1.0/modules/content/"><![CDATA[<p>Full <b>body</b></p><script>alert(1)</script>]]></content:encoded>
<enclosure url="https://blog.example/1.jpg" type="image/jpeg" length="1234"/>
</item>
<item>
<title>No Date</title>
<link>https://blog.example/2</link>
</item>
</channel>
</rss>`

func TestParseRSS(t *testing.T) {
	parsed, err := Parse([]byte(sampleRSS), "https://blog.example/feed.xml", KindRSS)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if parsed.Meta.Title != "Example Blog" {
		t.Errorf("expected feed title 'Example Blog', got %q", parsed.Meta.Title)
	}
	if parsed.Meta.Hub != "https://hub.example/" {
		t.Errorf("expected hub from atom:link, got %q", parsed.Meta.Hub)
	}
	if parsed.Meta.Self != "https://blog.example/feed.xml" {
		t.Errorf("expected self link, got %q", parsed.Meta.Self)
	}
	if len(parsed.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(parsed.Items))
	}

	first := parsed.Items[0]
	if first.UID != UID("https://blog.example/feed.xml", "https://blog.example/1") {
		t.Errorf("uid not derived from guid: %s", first.UID)
	}
	want := time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)
	if !first.Published.Equal(want) {
		t.Errorf("published = %v, want %v", first.Published, want)
	}
	if first.Content == nil {
		t.Fatal("expected content on first item")
	}
	if strings.Contains(first.Content.HTML, "<script") {
		t.Errorf("script survived sanitization: %s", first.Content.HTML)
	}
	if !strings.Contains(first.Content.HTML, "<b>body</b>") {
		t.Errorf("allowed markup was stripped: %s", first.Content.HTML)
	}
	if first.Summary != "Short intro" {
		t.Errorf("summary = %q, want 'Short intro'", first.Summary)
	}
	if len(first.Photo) != 1 || first.Photo[0] != "https://blog.example/1.jpg" {
		t.Errorf("image enclosure not mapped to photo: %v", first.Photo)
	}

	second := parsed.Items[1]
	if !second.Published.IsZero() {
		t.Errorf("dateless item should have zero published, got %v", second.Published)
	}
	if second.UID != UID("https://blog.example/feed.xml", "https://blog.example/2") {
		t.Errorf("uid should fall back to link when guid is missing: %s", second.UID)
	}
}

func TestParseJSONFeed(t *testing.T) {
	body := `{
		"version": "https://jsonfeed.org/version/1.1",
		"title": "JSON Blog",
		"hubs": [{"type": "WebSub", "url": "https://hub.example/"}],
		"items": [
			{"id": "1", "url": "https://blog.example/1", "content_html": "<p>hi</p>", "date_published": "2024-05-01T10:00:00Z"}
		]
	}`

	parsed, err := Parse([]byte(body), "https://blog.example/feed.json", KindJSONFeed)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Meta.Hub != "https://hub.example/" {
		t.Errorf("expected hub from hubs array, got %q", parsed.Meta.Hub)
	}
	if len(parsed.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(parsed.Items))
	}
	if parsed.Items[0].UID != UID("https://blog.example/feed.json", "1") {
		t.Errorf("uid not derived from the id field: %s", parsed.Items[0].UID)
	}
}

func TestParseJSONFeedRejectsOtherJSON(t *testing.T) {
	if _, err := Parse([]byte(`{"version": "2.0"}`), "https://x.example/f.json", KindJSONFeed); err == nil {
		t.Error("expected an error for JSON without a jsonfeed.org version")
	}
}

func TestParseActivityPub(t *testing.T) {
	_, err := Parse([]byte(`{"@context":"x"}`), "https://social.example/users/alice", KindActivityPub)
	if err == nil {
		t.Fatal("expected an error for ActivityPub input")
	}
	if !strings.Contains(err.Error(), "https://social.example/feed/") {
		t.Errorf("error should suggest the origin feed path: %v", err)
	}
}

const sampleHFeed = `<!DOCTYPE html>
<html><head><title>Page Title</title></head><body>
<div class="h-feed">
  <h1 class="p-name">Alice's Notes</h1>
  <article class="h-entry">
    <a class="u-url" href="/notes/1"><time class="dt-published" datetime="2024-05-01T10:00:00Z">May 1</time></a>
    <div class="p-author h-card"><img class="u-photo" src="/alice.jpg"><a class="u-url p-name" href="/">Alice</a></div>
    <div class="e-content"><p>Hello <em>world</em></p></div>
  </article>
  <article class="h-entry">
    <a class="u-url" href="/notes/2">permalink</a>
    <a class="u-like-of" href="https://other.example/post">a post</a>
  </article>
</div>
</body></html>`

func TestParseHFeed(t *testing.T) {
	parsed, err := Parse([]byte(sampleHFeed), "https://alice.example/", KindHFeed)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if parsed.Meta.Title != "Alice's Notes" {
		t.Errorf("feed title = %q, want h-feed p-name", parsed.Meta.Title)
	}
	if len(parsed.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(parsed.Items))
	}

	first := parsed.Items[0]
	if first.URL != "https://alice.example/notes/1" {
		t.Errorf("relative u-url not resolved: %s", first.URL)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !first.Published.Equal(want) {
		t.Errorf("published = %v, want %v", first.Published, want)
	}
	if first.Author == nil || first.Author.Name != "Alice" {
		t.Fatalf("author not extracted: %+v", first.Author)
	}
	if first.Author.Photo != "https://alice.example/alice.jpg" {
		t.Errorf("author photo not resolved: %s", first.Author.Photo)
	}
	if first.Content == nil || !strings.Contains(first.Content.HTML, "<em>world</em>") {
		t.Errorf("content not preserved: %+v", first.Content)
	}

	second := parsed.Items[1]
	if second.PostType() != "like" {
		t.Errorf("u-like-of entry should classify as like, got %s", second.PostType())
	}
	if len(second.LikeOf) != 1 || second.LikeOf[0] != "https://other.example/post" {
		t.Errorf("like-of target = %v", second.LikeOf)
	}
}

func TestParseHFeedNoEntries(t *testing.T) {
	body := `<html><body><p>just a page</p></body></html>`
	if _, err := Parse([]byte(body), "https://x.example/", KindHFeed); err == nil {
		t.Error("expected an error for HTML without h-entry elements")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-01T10:00:00Z", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-05-01T10:00:00", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-05-01 10:00:00", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-05-01 10:00", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-05-01", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"not a date", time.Time{}},
		{"", time.Time{}},
	}

	for _, tt := range tests {
		if got := parseDate(tt.in); !got.Equal(tt.want) {
			t.Errorf("parseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseLinkHeader(t *testing.T) {
	tests := []struct {
		name     string
		values   []string
		wantHub  string
		wantSelf string
	}{
		{
			"combined value",
			[]string{`<https://hub.example/>; rel="hub", <https://blog.example/feed>; rel="self"`},
			"https://hub.example/", "https://blog.example/feed",
		},
		{
			"separate headers unquoted",
			[]string{`<https://hub.example/>; rel=hub`, `<https://blog.example/feed>; rel=self`},
			"https://hub.example/", "https://blog.example/feed",
		},
		{
			"case insensitive multi-rel",
			[]string{`<https://hub.example/>; rel="HUB alternate"`},
			"https://hub.example/", "",
		},
		{
			"no rels",
			[]string{`<https://blog.example/style.css>; type="text/css"`},
			"", "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, self := parseLinkHeader(tt.values)
			if hub != tt.wantHub || self != tt.wantSelf {
				t.Errorf("parseLinkHeader() = (%q, %q), want (%q, %q)", hub, self, tt.wantHub, tt.wantSelf)
			}
		})
	}
}

func TestNewContent(t *testing.T) {
	c := NewContent(`<p onclick="x()">Hi <a href="https://a.example" title="t">link</a></p><iframe src="https://evil"></iframe>`)
	if c == nil {
		t.Fatal("expected content")
	}
	if strings.Contains(c.HTML, "onclick") || strings.Contains(c.HTML, "iframe") {
		t.Errorf("disallowed markup survived: %s", c.HTML)
	}
	if !strings.Contains(c.HTML, `href="https://a.example"`) {
		t.Errorf("allowed attribute stripped: %s", c.HTML)
	}
	if c.Text != "Hi link" {
		t.Errorf("text rendering = %q, want 'Hi link'", c.Text)
	}

	if NewContent("") != nil {
		t.Error("empty input should yield nil content")
	}
	if NewContent("<script>x</script>") != nil {
		t.Error("content that sanitizes to nothing should yield nil")
	}
}

func TestDiscoverLinks(t *testing.T) {
	page := `<html><head>
<link rel="alternate" type="application/rss+xml" title="Posts" href="/feed">
<link rel="alternate" type="application/atom+xml" href="https://blog.example/atom.xml">
<link rel="alternate" type="application/rss+xml" href="/feed">
<link rel="alternate" type="text/html" href="/mobile">
<link rel="stylesheet" href="/style.css">
</head><body></body></html>`

	found := DiscoverLinks([]byte(page), "https://blog.example/about")
	if len(found) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %+v", len(found), found)
	}
	if found[0].URL != "https://blog.example/feed" || found[0].Title != "Posts" {
		t.Errorf("first candidate = %+v", found[0])
	}
	if found[1].URL != "https://blog.example/atom.xml" {
		t.Errorf("second candidate = %+v", found[1])
	}

	if found := DiscoverLinks([]byte("<html><head></head></html>"), "https://x.example/"); len(found) != 0 {
		t.Errorf("page without feed links should yield none, got %+v", found)
	}
}
