package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v3"

	"github.com/skimreader/skim/pkg/api"
	"github.com/skimreader/skim/pkg/config"
	"github.com/skimreader/skim/pkg/log"
	"github.com/skimreader/skim/pkg/processor"
	"github.com/skimreader/skim/pkg/realtime"
	"github.com/skimreader/skim/pkg/scheduler"
	"github.com/skimreader/skim/pkg/store"
	"github.com/skimreader/skim/pkg/websub"
)

var logger = log.ForService("cmd")

// ServeCommand creates the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the aggregator daemon and Microsub API",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Bool("debug") {
				log.SetGlobalDebug(true)
			}
			return serve(ctx, c.String("config"))
		},
	}
}

// serve runs the daemon. A SIGHUP or a config file change tears the stack
// down and rebuilds it from the new configuration.
func serve(ctx context.Context, configPath string) error {
	for {
		reload, err := runServer(ctx, configPath)
		if err != nil || !reload {
			return err
		}
		logger.Infof("Restarting with reloaded configuration")
	}
}

func runServer(ctx context.Context, configPath string) (bool, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return false, fmt.Errorf("loading config: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return false, fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			fmt.Printf("Warning: failed to close store: %v\n", err)
		}
	}()

	// Collapse read items past the retention cap before taking traffic.
	if err := st.CleanupAll(cfg.MaxFullReadItems); err != nil {
		logger.Warnf("Startup cleanup: %v", err)
	}

	hub := realtime.NewHub(32)
	sub := websub.NewSubscriber(st, cfg.BaseURL, cfg.MountPath, cfg.WebSubLeaseSeconds)
	proc := processor.New(processor.Config{
		FetchTimeout:     cfg.FetchTimeout.Duration,
		DiscoveryTimeout: cfg.DiscoveryTimeout.Duration,
	}, st, sub, hub)
	sched := scheduler.New(scheduler.Config{
		Interval:         cfg.SchedulerInterval.Duration,
		BatchConcurrency: cfg.BatchConcurrency,
	}, st, proc)

	apiServer := api.NewServer(api.Config{
		MountPath:           cfg.MountPath,
		AuthToken:           cfg.AuthToken,
		Owner:               cfg.Owner,
		MaxFullReadItems:    cfg.MaxFullReadItems,
		UnreadRetentionDays: cfg.UnreadRetentionDays,
	}, st, proc, sched, sub, hub)

	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.CorsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sched.Start(serveCtx); err != nil {
		return false, fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.ListenAndServe()
	}()
	logger.Infof("Listening on %s (microsub at %s)", cfg.ListenAddr, cfg.MountPath)

	shutdown := func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("HTTP shutdown: %v", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("Creating config file watcher: %v", err)
	} else {
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Warnf("Closing config file watcher: %v", err)
			}
		}()
		if err := watcher.Add(configPath); err != nil {
			logger.Warnf("Watching config file %s: %v", configPath, err)
		} else {
			logger.Infof("Watching config file for changes: %s", configPath)
		}
	}

	var watchEvents chan fsnotify.Event
	var watchErrors chan error
	if watcher != nil {
		watchEvents = watcher.Events
		watchErrors = watcher.Errors
	}

	for {
		select {
		case <-ctx.Done():
			shutdown()
			return false, nil

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				logger.Infof("Received SIGHUP, reloading configuration")
				shutdown()
				return true, nil
			default:
				fmt.Println("\nShutting down...")
				shutdown()
				return false, nil
			}

		case event, ok := <-watchEvents:
			if !ok {
				watchEvents = nil
				continue
			}
			if !configChanged(event) {
				continue
			}
			// Editors replace files atomically; give the write a moment to
			// land and make sure the file still exists.
			time.Sleep(200 * time.Millisecond)
			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				logger.Warnf("Config file removed without replacement, skipping reload")
				continue
			}
			logger.Infof("Config file changed (%s), reloading", event.Op)
			shutdown()
			return true, nil

		case err, ok := <-watchErrors:
			if !ok {
				watchErrors = nil
				continue
			}
			logger.Warnf("Config file watcher: %v", err)

		case err := <-serverErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return false, fmt.Errorf("http server: %w", err)
			}
			return false, nil
		}
	}
}

func configChanged(event fsnotify.Event) bool {
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove)
}
