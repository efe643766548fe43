package cmd

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/skimreader/skim/pkg/store"
)

func TestSiteURL(t *testing.T) {
	cases := map[string]string{
		"https://blog.example/feed":      "https://blog.example",
		"https://blog.example/rss.xml":   "https://blog.example",
		"https://blog.example/index.xml": "https://blog.example",
		"https://blog.example/posts.rss": "https://blog.example/posts",
		"https://blog.example/feed.json": "https://blog.example/feed.json",
	}
	for in, want := range cases {
		if got := siteURL(in); got != want {
			t.Errorf("siteURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExportOPML(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "skim.db")
	configPath := filepath.Join(dir, "config.toml")
	outputPath := filepath.Join(dir, "subs.opml")

	if err := os.WriteFile(configPath, []byte(fmt.Sprintf("database_path = %q\n", dbPath)), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	ch, err := s.CreateChannel("me", "Tech")
	if err != nil {
		t.Fatalf("creating channel: %v", err)
	}
	if _, _, err := s.CreateFeed(ch.ID, "https://blog.example/feed"); err != nil {
		t.Fatalf("creating feed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("closing store: %v", err)
	}

	if err := exportOPML(configPath, outputPath); err != nil {
		t.Fatalf("exporting: %v", err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	var doc opmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parsing opml: %v", err)
	}
	if doc.Version != "2.0" || len(doc.Outline) != 1 {
		t.Fatalf("document = %+v", doc)
	}
	feeds := doc.Outline[0].Children
	if len(feeds) != 1 || feeds[0].XMLURL != "https://blog.example/feed" {
		t.Fatalf("feeds = %+v", feeds)
	}
	if feeds[0].HTMLURL != "https://blog.example" {
		t.Errorf("htmlUrl = %q", feeds[0].HTMLURL)
	}
}
