package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/skimreader/skim/pkg/config"
	"github.com/skimreader/skim/pkg/log"
	"github.com/skimreader/skim/pkg/processor"
	"github.com/skimreader/skim/pkg/realtime"
	"github.com/skimreader/skim/pkg/scheduler"
	"github.com/skimreader/skim/pkg/store"
	"github.com/skimreader/skim/pkg/websub"
)

// FetchCommand creates the fetch command
func FetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Fetch due feeds once and exit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Fetch only the feed with this URL, regardless of schedule",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Bool("debug") {
				log.SetGlobalDebug(true)
			}
			return fetchOnce(ctx, c.String("config"), c.String("url"))
		},
	}
}

func fetchOnce(ctx context.Context, configPath, feedURL string) error {
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

	sub := websub.NewSubscriber(st, cfg.BaseURL, cfg.MountPath, cfg.WebSubLeaseSeconds)
	proc := processor.New(processor.Config{
		FetchTimeout:     cfg.FetchTimeout.Duration,
		DiscoveryTimeout: cfg.DiscoveryTimeout.Duration,
	}, st, sub, realtime.NewHub(1))
	sched := scheduler.New(scheduler.Config{
		BatchConcurrency: cfg.BatchConcurrency,
	}, st, proc)

	if feedURL != "" {
		feeds, err := st.AllFeeds(cfg.Owner)
		if err != nil {
			return fmt.Errorf("listing feeds: %w", err)
		}
		for _, f := range feeds {
			if f.URL == feedURL {
				if err := sched.RefreshFeed(ctx, f.ID); err != nil {
					return fmt.Errorf("fetching %s: %w", feedURL, err)
				}
				fmt.Printf("Fetched %s\n", feedURL)
				return nil
			}
		}
		return fmt.Errorf("no followed feed with url %s", feedURL)
	}

	sched.Tick(ctx)
	fmt.Println("Fetch complete")
	return nil
}
