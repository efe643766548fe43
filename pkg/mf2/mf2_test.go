package mf2

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("building document: %v", err)
	}
	return doc
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing %s: %v", raw, err)
	}
	return u
}

func TestParseFeedSynthetic(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<article class="h-entry"><a class="u-url" href="/a">a</a></article>
		<article class="h-entry"><a class="u-url" href="/b">b</a></article>
	</body></html>`)

	feed := ParseFeed(doc, mustURL(t, "https://site.example/"))
	if feed.Name != "" {
		t.Errorf("synthetic feed should have no name, got %q", feed.Name)
	}
	if len(feed.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(feed.Entries))
	}
	if feed.Entries[1].URL != "https://site.example/b" {
		t.Errorf("second entry url = %q", feed.Entries[1].URL)
	}
}

func TestParseFeedScopesToContainer(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<div class="h-feed">
			<span class="p-name">My Feed</span>
			<article class="h-entry"><span class="p-name">inside</span></article>
		</div>
		<article class="h-entry"><span class="p-name">outside</span></article>
	</body></html>`)

	feed := ParseFeed(doc, nil)
	if feed.Name != "My Feed" {
		t.Errorf("feed name = %q, want the container p-name", feed.Name)
	}
	if len(feed.Entries) != 1 {
		t.Fatalf("entries outside the h-feed must be ignored, got %d entries", len(feed.Entries))
	}
	if feed.Entries[0].Name != "inside" {
		t.Errorf("entry name = %q", feed.Entries[0].Name)
	}
}

func TestParseEntryProperties(t *testing.T) {
	doc := mustDoc(t, `<article class="h-entry">
		<h1 class="p-name">Title</h1>
		<p class="p-summary">A summary</p>
		<a class="u-url u-uid" href="https://site.example/post">permalink</a>
		<time class="dt-published" datetime="2024-03-01T09:00:00Z">March 1</time>
		<span class="p-category">go</span><span class="p-category">indieweb</span>
		<img class="u-photo" src="pic.jpg">
		<a class="u-in-reply-to" href="https://other.example/1">a reply target</a>
		<div class="e-content"><p>Body text</p></div>
	</article>`)

	entries := ParseEntries(doc, mustURL(t, "https://site.example/post"))
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]

	if e.Name != "Title" || e.Summary != "A summary" {
		t.Errorf("name/summary = %q / %q", e.Name, e.Summary)
	}
	if e.URL != "https://site.example/post" {
		t.Errorf("url = %q", e.URL)
	}
	if e.Published != "2024-03-01T09:00:00Z" {
		t.Errorf("published should prefer the datetime attribute, got %q", e.Published)
	}
	if len(e.Categories) != 2 {
		t.Errorf("categories = %v", e.Categories)
	}
	if len(e.Photos) != 1 || e.Photos[0] != "https://site.example/pic.jpg" {
		t.Errorf("photos = %v", e.Photos)
	}
	if len(e.InReplyTo) != 1 || e.InReplyTo[0] != "https://other.example/1" {
		t.Errorf("in-reply-to = %v", e.InReplyTo)
	}
	if !strings.Contains(e.ContentHTML, "Body text") {
		t.Errorf("content = %q", e.ContentHTML)
	}
}

func TestParseAuthorVariants(t *testing.T) {
	tests := []struct {
		name string
		html string
		want Card
	}{
		{
			"embedded h-card",
			`<article class="h-entry"><div class="p-author h-card">
				<a class="u-url p-name" href="https://alice.example/">Alice</a>
				<img class="u-photo" src="https://alice.example/a.jpg">
			</div></article>`,
			Card{Name: "Alice", URL: "https://alice.example/", Photo: "https://alice.example/a.jpg"},
		},
		{
			"plain anchor author",
			`<article class="h-entry"><a class="p-author" href="https://bob.example/">Bob</a></article>`,
			Card{Name: "Bob", URL: "https://bob.example/"},
		},
		{
			"text only author",
			`<article class="h-entry"><span class="p-author">Carol</span></article>`,
			Card{Name: "Carol"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := ParseEntries(mustDoc(t, tt.html), nil)
			if len(entries) != 1 || entries[0].Author == nil {
				t.Fatalf("author not extracted from %s", tt.html)
			}
			got := *entries[0].Author
			if got != tt.want {
				t.Errorf("author = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRepresentativeCard(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<article class="h-entry">
			<div class="p-author h-card"><span class="p-name">Entry Author</span></div>
		</article>
		<div class="h-card">
			<a class="u-url p-name" href="https://site.example/">Site Owner</a>
		</div>
	</body></html>`)

	card := RepresentativeCard(doc, mustURL(t, "https://site.example/"))
	if card == nil {
		t.Fatal("expected a representative card")
	}
	if card.Name != "Site Owner" {
		t.Errorf("card should skip entry-scoped h-cards, got %q", card.Name)
	}

	if got := RepresentativeCard(mustDoc(t, `<html><body></body></html>`), nil); got != nil {
		t.Errorf("expected nil for a page without h-cards, got %+v", got)
	}
}
