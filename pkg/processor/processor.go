// Package processor runs the ingestion pipeline for one feed: fetch with
// validators, parse, apply channel filters and mute/block lists, insert
// items, and update the polling tier. The WebSub push path reuses the same
// pipeline minus fetching and tier adjustment.
package processor

import (
	"context"
	"errors"
	"time"

	"github.com/skimreader/skim/pkg/feed"
	"github.com/skimreader/skim/pkg/log"
	"github.com/skimreader/skim/pkg/realtime"
	"github.com/skimreader/skim/pkg/scheduler"
	"github.com/skimreader/skim/pkg/store"
	"github.com/skimreader/skim/pkg/websub"
)

var logger = log.ForService("processor")

type Config struct {
	FetchTimeout     time.Duration
	DiscoveryTimeout time.Duration
}

type Processor struct {
	config  Config
	store   *store.Store
	fetcher *feed.Fetcher
	sub     *websub.Subscriber
	hub     *realtime.Hub
}

// New wires the pipeline. sub and hub may be nil: without a subscriber no
// WebSub handshakes are initiated, without a hub no events are fanned out.
func New(config Config, st *store.Store, sub *websub.Subscriber, hub *realtime.Hub) *Processor {
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 30 * time.Second
	}
	if config.DiscoveryTimeout <= 0 {
		config.DiscoveryTimeout = 10 * time.Second
	}
	return &Processor{
		config:  config,
		store:   st,
		fetcher: feed.NewFetcher(config.FetchTimeout),
		sub:     sub,
		hub:     hub,
	}
}

// ProcessFeed runs one full poll of a feed.
func (p *Processor) ProcessFeed(ctx context.Context, f *store.Feed) error {
	result, err := p.fetcher.Fetch(ctx, f.URL, feed.FetchOptions{
		ETag:         f.ETag,
		LastModified: f.LastModified,
	})
	if err != nil {
		p.reschedule(f, false, true)
		if statusErr := p.store.UpdateFeedStatus(f.ID, err); statusErr != nil {
			logger.Errorf("Recording fetch error for %s: %v", f.URL, statusErr)
		}
		return err
	}

	if result.NotModified {
		logger.Debugf("%s not modified", f.URL)
		p.reschedule(f, false, false)
		if err := p.store.UpdateFeedStatus(f.ID, nil); err != nil {
			return err
		}
		return nil
	}

	kind := feed.Detect(result.Body, result.ContentType)
	parsed, err := feed.Parse(result.Body, f.URL, kind)
	if err != nil {
		// A broken or misdetected document backs the feed off like a
		// fetch failure; the next attempt is already scheduled.
		p.reschedule(f, false, true)
		if statusErr := p.store.UpdateFeedStatus(f.ID, err); statusErr != nil {
			logger.Errorf("Recording parse error for %s: %v", f.URL, statusErr)
		}
		return err
	}

	newItems, err := p.ingest(f, parsed.Items)
	if err != nil {
		return err
	}
	if newItems > 0 {
		logger.Infof("%s: %d new items", f.URL, newItems)
	}

	f.ETag = result.ETag
	f.LastModified = result.LastModified
	f.Title = parsed.Meta.Title
	f.Photo = parsed.Meta.Photo
	p.reschedule(f, newItems > 0, false)
	if err := p.store.UpdateFeedStatus(f.ID, nil); err != nil {
		return err
	}

	p.maybeSubscribe(ctx, f, result, parsed)
	return nil
}

// reschedule applies the tier math and persists the polling state.
func (p *Processor) reschedule(f *store.Feed, hasNewItems, fetchFailed bool) {
	now := time.Now().UTC()
	f.Tier, f.Unmodified = scheduler.Next(f.Tier, f.Unmodified, hasNewItems, fetchFailed)
	f.LastFetchedAt = now
	f.NextFetchAt = now.Add(scheduler.Interval(f.Tier))

	if err := p.store.UpdateFeedSchedule(f); err != nil {
		logger.Errorf("Persisting schedule for %s: %v", f.URL, err)
	}
}

// ingest filters and inserts parsed items, returning how many were new.
func (p *Processor) ingest(f *store.Feed, items []feed.Item) (int, error) {
	ch, err := p.store.GetChannelByID(f.ChannelID)
	if err != nil {
		return 0, err
	}

	pattern := compilePattern(ch.ExcludeRegex)
	newItems := 0

	for _, it := range items {
		if !passesTypeFilter(ch.ExcludeTypes, &it) {
			continue
		}
		if matchesPattern(pattern, &it) {
			continue
		}

		muted, err := p.store.IsMuted(ch.Owner, ch.ID, it.URL)
		if err != nil {
			return newItems, err
		}
		if muted {
			continue
		}

		if it.Author != nil && it.Author.URL != "" {
			blocked, err := p.store.IsBlocked(ch.Owner, it.Author.URL)
			if err != nil {
				return newItems, err
			}
			if blocked {
				continue
			}
		}

		created, err := p.store.AddItem(ch.ID, f.ID, it)
		if err != nil {
			return newItems, err
		}
		if created {
			newItems++
			if p.hub != nil {
				p.hub.Broadcast(realtime.NewItemEvent(ch.UID, it.UID, it.URL, it.Name))
			}
		}
	}

	return newItems, nil
}

// maybeSubscribe starts a WebSub handshake when a new hub shows up.
func (p *Processor) maybeSubscribe(ctx context.Context, f *store.Feed, result *feed.Result, parsed *feed.Parsed) {
	if p.sub == nil {
		return
	}

	hub := result.Hub
	if hub == "" {
		hub = parsed.Meta.Hub
	}
	if hub == "" || hub == f.WebSub.Hub {
		return
	}

	topic := result.Self
	if topic == "" {
		topic = parsed.Meta.Self
	}
	if topic == "" {
		topic = f.URL
	}

	if err := p.sub.Subscribe(ctx, f, hub, topic); err != nil {
		logger.Warnf("WebSub subscribe for %s: %v", f.URL, err)
	}
}

// ProcessPush ingests hub-pushed content. The tier is left alone: pushes
// say nothing about how often polling finds changes.
func (p *Processor) ProcessPush(ctx context.Context, f *store.Feed, body []byte, contentType string) {
	kind := feed.Detect(body, contentType)
	parsed, err := feed.Parse(body, f.URL, kind)
	if err != nil {
		logger.Warnf("Parsing pushed content for %s: %v", f.URL, err)
		if statusErr := p.store.UpdateFeedStatus(f.ID, err); statusErr != nil {
			logger.Errorf("Recording push error for %s: %v", f.URL, statusErr)
		}
		return
	}

	newItems, err := p.ingest(f, parsed.Items)
	if err != nil {
		logger.Errorf("Ingesting pushed content for %s: %v", f.URL, err)
		return
	}
	if newItems > 0 {
		logger.Infof("%s: %d new items via push", f.URL, newItems)
	}
	if err := p.store.UpdateFeedStatus(f.ID, nil); err != nil {
		logger.Errorf("Recording push success for %s: %v", f.URL, err)
	}
}

// RenewWebSub re-subscribes a feed whose lease is about to lapse.
func (p *Processor) RenewWebSub(ctx context.Context, f *store.Feed) error {
	if p.sub == nil {
		return nil
	}
	return p.sub.Renew(ctx, f)
}

// Preview fetches and parses a URL without persisting anything, using the
// shorter discovery timeout.
func (p *Processor) Preview(ctx context.Context, url string) (*feed.Parsed, error) {
	result, err := p.fetcher.Fetch(ctx, url, feed.FetchOptions{Timeout: p.config.DiscoveryTimeout})
	if err != nil {
		return nil, err
	}
	if result.NotModified {
		return nil, errors.New("unexpected not-modified response without validators")
	}

	kind := feed.Detect(result.Body, result.ContentType)
	return feed.Parse(result.Body, url, kind)
}

// DiscoveredFeed is one followable candidate found at or behind a page URL.
type DiscoveredFeed struct {
	URL   string
	Title string
}

// Discover probes a URL for followable feeds. A URL that is itself a feed
// yields a single candidate; an HTML page yields its rel=alternate feed
// links.
func (p *Processor) Discover(ctx context.Context, pageURL string) ([]DiscoveredFeed, error) {
	result, err := p.fetcher.Fetch(ctx, pageURL, feed.FetchOptions{Timeout: p.config.DiscoveryTimeout})
	if err != nil {
		return nil, err
	}
	if result.NotModified {
		return nil, errors.New("unexpected not-modified response without validators")
	}

	kind := feed.Detect(result.Body, result.ContentType)
	if kind != feed.KindHFeed {
		parsed, err := feed.Parse(result.Body, pageURL, kind)
		if err != nil {
			return nil, err
		}
		return []DiscoveredFeed{{URL: pageURL, Title: parsed.Meta.Title}}, nil
	}

	candidates := feed.DiscoverLinks(result.Body, pageURL)
	if len(candidates) == 0 {
		// No advertised feeds; the page may still be a followable h-feed.
		if parsed, err := feed.Parse(result.Body, pageURL, feed.KindHFeed); err == nil {
			return []DiscoveredFeed{{URL: pageURL, Title: parsed.Meta.Title}}, nil
		}
		return nil, nil
	}

	found := make([]DiscoveredFeed, 0, len(candidates))
	for _, c := range candidates {
		found = append(found, DiscoveredFeed{URL: c.URL, Title: c.Title})
	}
	return found, nil
}
