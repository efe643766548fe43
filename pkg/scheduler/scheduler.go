// Package scheduler drives feed polling: each feed carries a tier that
// maps to a polling interval, and a ticker drains due feeds into the
// processor at bounded concurrency.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skimreader/skim/pkg/log"
	"github.com/skimreader/skim/pkg/store"
)

var logger = log.ForService("scheduler")

// Processor is the pipeline one due feed is handed to.
type Processor interface {
	ProcessFeed(ctx context.Context, f *store.Feed) error
	RenewWebSub(ctx context.Context, f *store.Feed) error
}

type Config struct {
	// Interval between ticks. Defaults to one minute.
	Interval time.Duration

	// BatchConcurrency bounds concurrent feed processing within a tick.
	BatchConcurrency int

	// RenewalWindow is how far ahead of lease expiry WebSub subscriptions
	// are renewed.
	RenewalWindow time.Duration
}

type Scheduler struct {
	config Config
	store  *store.Store
	proc   Processor

	mu        sync.Mutex
	running   bool
	ticking   bool
	stopCh    chan struct{}
	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
}

func New(config Config, st *store.Store, proc Processor) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.BatchConcurrency <= 0 {
		config.BatchConcurrency = 5
	}
	if config.RenewalWindow <= 0 {
		config.RenewalWindow = 24 * time.Hour
	}
	return &Scheduler{
		config: config,
		store:  st,
		proc:   proc,
		stopCh: make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.ctx, s.ctxCancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(1)
	go s.run(s.ctx)

	logger.Infof("Started scheduler with interval %v, batch concurrency %d",
		s.config.Interval, s.config.BatchConcurrency)
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.ctxCancel()
	s.mu.Unlock()

	s.wg.Wait()
	logger.Infof("Scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// First pass immediately; new subscriptions should not wait a tick.
	s.Tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick drains due feeds once. Overlapping ticks are skipped, not queued:
// if the previous tick is still fetching, this one is a no-op.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	if s.ticking {
		s.mu.Unlock()
		logger.Debugf("Previous tick still running, skipping")
		return
	}
	s.ticking = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.ticking = false
		s.mu.Unlock()
	}()

	due, err := s.store.DueFeeds(time.Now())
	if err != nil {
		logger.Errorf("Listing due feeds: %v", err)
		return
	}
	if len(due) > 0 {
		logger.Debugf("Processing %d due feeds", len(due))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.BatchConcurrency)

	for _, f := range due {
		g.Go(func() error {
			if err := s.proc.ProcessFeed(gctx, f); err != nil {
				// Per-feed failures are recorded on the feed; they never
				// abort the tick.
				logger.Warnf("Processing %s: %v", f.URL, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Errorf("Tick aborted: %v", err)
		return
	}

	s.renewLeases(ctx)
}

func (s *Scheduler) renewLeases(ctx context.Context) {
	expiring, err := s.store.FeedsNeedingRenewal(time.Now().Add(s.config.RenewalWindow))
	if err != nil {
		logger.Errorf("Listing expiring leases: %v", err)
		return
	}

	for _, f := range expiring {
		if err := s.proc.RenewWebSub(ctx, f); err != nil {
			logger.Warnf("Renewing push subscription for %s: %v", f.URL, err)
		}
	}
}

// RefreshFeed processes one feed immediately, outside the tick cycle.
func (s *Scheduler) RefreshFeed(ctx context.Context, feedID string) error {
	f, err := s.store.GetFeed(feedID)
	if err != nil {
		return err
	}
	return s.proc.ProcessFeed(ctx, f)
}
