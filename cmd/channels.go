package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/skimreader/skim/pkg/config"
	"github.com/skimreader/skim/pkg/store"
)

// ChannelsCommand creates the channels command
func ChannelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "channels",
		Usage: "List channels and their feeds",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "feeds",
				Usage: "Include the feeds of each channel",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return listChannels(c.String("config"), c.Bool("feeds"))
		},
	}
}

func listChannels(configPath string, withFeeds bool) error {
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

	channels, err := st.ListChannels(cfg.Owner, cfg.UnreadRetentionDays)
	if err != nil {
		return fmt.Errorf("listing channels: %w", err)
	}
	if len(channels) == 0 {
		fmt.Println("No channels yet. Create one through the Microsub API.")
		return nil
	}

	for _, ch := range channels {
		fmt.Printf("%s  %s (%d unread)\n", ch.UID, ch.Name, ch.Unread)
		if !withFeeds {
			continue
		}
		feeds, err := st.ListFeeds(ch.ID)
		if err != nil {
			return fmt.Errorf("listing feeds for %s: %w", ch.UID, err)
		}
		for _, f := range feeds {
			fmt.Printf("    %s%s\n", f.URL, feedStatus(f))
		}
	}
	return nil
}

func feedStatus(f *store.Feed) string {
	status := ""
	if f.Status == "error" {
		status = fmt.Sprintf(" [error: %s]", f.LastError)
	}
	if f.WebSub.Hub != "" && !f.WebSub.Pending && f.WebSub.ExpiresAt.After(time.Now()) {
		status += " [push]"
	}
	return status
}
