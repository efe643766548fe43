package cmd

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/skimreader/skim/pkg/config"
	"github.com/skimreader/skim/pkg/store"
)

// OPMLCommand creates the opml export command
func OPMLCommand() *cli.Command {
	return &cli.Command{
		Name:  "opml",
		Usage: "Export subscriptions as OPML 2.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "output",
				Usage: "Write to this file instead of stdout",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return exportOPML(c.String("config"), c.String("output"))
		},
	}
}

type opmlDocument struct {
	XMLName xml.Name    `xml:"opml"`
	Version string      `xml:"version,attr"`
	Head    opmlHead    `xml:"head"`
	Outline []*opmlNode `xml:"body>outline"`
}

type opmlHead struct {
	Title       string `xml:"title"`
	DateCreated string `xml:"dateCreated"`
}

type opmlNode struct {
	Text     string      `xml:"text,attr"`
	Title    string      `xml:"title,attr,omitempty"`
	Type     string      `xml:"type,attr,omitempty"`
	XMLURL   string      `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string      `xml:"htmlUrl,attr,omitempty"`
	Children []*opmlNode `xml:"outline"`
}

func exportOPML(configPath, outputPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			fmt.Printf("Warning: failed to close store: %v\n", err)
		}
	}()

	doc := opmlDocument{
		Version: "2.0",
		Head: opmlHead{
			Title:       "skim subscriptions",
			DateCreated: time.Now().UTC().Format(time.RFC1123Z),
		},
	}

	channels, err := st.ListChannels(cfg.Owner, cfg.UnreadRetentionDays)
	if err != nil {
		return fmt.Errorf("listing channels: %w", err)
	}
	for _, ch := range channels {
		feeds, err := st.ListFeeds(ch.ID)
		if err != nil {
			return fmt.Errorf("listing feeds for %s: %w", ch.UID, err)
		}
		if len(feeds) == 0 {
			continue
		}
		node := &opmlNode{Text: ch.Name, Title: ch.Name}
		for _, f := range feeds {
			title := f.Title
			if title == "" {
				title = f.URL
			}
			node.Children = append(node.Children, &opmlNode{
				Text:    title,
				Type:    "rss",
				XMLURL:  f.URL,
				HTMLURL: siteURL(f.URL),
			})
		}
		doc.Outline = append(doc.Outline, node)
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling opml: %w", err)
	}
	out := xml.Header + string(data) + "\n"

	if outputPath == "" {
		fmt.Print(out)
		return nil
	}
	if err := os.WriteFile(outputPath, []byte(out), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", outputPath, err)
	}
	fmt.Printf("Exported %d channels to %s\n", len(doc.Outline), outputPath)
	return nil
}

// feedPathSuffixes are the common feed locations stripped to guess the
// site URL behind a feed URL.
var feedPathSuffixes = []string{
	"/feed", "/rss", "/atom.xml", "/rss.xml", "/feed.xml", "/index.xml", ".rss", ".atom",
}

func siteURL(feedURL string) string {
	for _, suffix := range feedPathSuffixes {
		if strings.HasSuffix(feedURL, suffix) {
			return strings.TrimSuffix(feedURL, suffix)
		}
	}
	return feedURL
}
