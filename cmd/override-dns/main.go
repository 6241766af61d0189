package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"override-dns/pkg/api"
	"override-dns/pkg/config"
	"override-dns/pkg/dns"
	"override-dns/pkg/forwarder"
	"override-dns/pkg/localrecords"
	"override-dns/pkg/logging"
	"override-dns/pkg/mutation"
	"override-dns/pkg/storage"
	"override-dns/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "config.yml", "Path to configuration file")
	watch      = flag.Bool("watch", true, "Reload zone records and API settings when the config file changes")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "override-dns: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfg     *config.Config
		watcher *config.Watcher
		err     error
	)
	if *watch {
		// the watcher's snapshot is the baseline later reloads are diffed against
		watcher, err = config.NewWatcher(*configPath, nil)
		if err != nil {
			return err
		}
		defer watcher.Close()
		cfg = watcher.Config()
	} else if cfg, err = config.Load(*configPath); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logging.SetGlobal(logger)

	logger.Info("override-dns starting",
		"version", version,
		"build_time", buildTime,
		"zone", cfg.Zone.Name,
	)
	if cfg.Zone.Kind != "" && cfg.Zone.Kind != config.ZoneKindPrimary {
		logger.Warn("Override zone kind is not primary; serving it as primary", "kind", cfg.Zone.Kind)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telem, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	metrics, err := telem.InitMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	journal, err := storage.New(&cfg.Storage, metrics)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	// Override zone and its single writer. The writer outlives ctx so
	// queued instructions are drained on shutdown.
	store := localrecords.NewStore(cfg.Zone.Name, logger)
	queue := mutation.NewQueue(cfg.Mutations.QueueCapacity)
	writer := mutation.NewWriter(queue, store, logger)
	writer.SetMetrics(metrics)
	writer.SetJournal(journal)
	go writer.Run(context.WithoutCancel(ctx))

	seed, err := mutation.Seed(cfg.Zone.Records)
	if err != nil {
		logger.Warn("Skipping invalid zone records", "error", err)
	}
	for _, ins := range seed {
		if _, err := queue.Enqueue(ctx, ins); err != nil {
			return fmt.Errorf("failed to seed zone: %w", err)
		}
	}
	logger.Info("Override zone seeded", "record_sets", len(seed))

	// Resolution catalog: the override zone, the root forwarder and any
	// dedicated forward zones
	catalog := dns.NewCatalog()
	catalog.Upsert(localrecords.NewAuthority(store))

	root := forwarder.NewForwarder(cfg.UpstreamDNSServers, cfg.Forwarder, logger)
	catalog.Upsert(forwarder.NewAuthority(".", config.ZoneKindForward, root))
	for _, fz := range cfg.ForwardZones {
		fwd := forwarder.NewForwarder(fz.Upstreams, cfg.Forwarder, logger)
		catalog.Upsert(forwarder.NewAuthority(fz.Name, config.ZoneKindForward, fwd))
	}

	handler := dns.NewHandler(catalog, logger)
	handler.SetMetrics(metrics)
	handler.SetTracer(telem.TracerProvider().Tracer("override-dns/dns"))
	handler.SetStorage(journal, cfg.Storage.LogQueries)
	server := dns.NewServer(cfg.Server, handler, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.New(&api.Config{
			ListenAddress: cfg.API.ListenAddress,
			Auth:          cfg.API,
			Store:         store,
			Queue:         queue,
			Writer:        writer,
			Storage:       journal,
			Catalog:       catalog,
			Forwarder:     root,
			Logger:        logger,
			Version:       version,
		})
		g.Go(func() error { return apiServer.Start(gctx) })
	}

	if cfg.Storage.Enabled {
		g.Go(func() error {
			storage.RunRetention(gctx, journal, cfg.Storage.RetentionDays, logger)
			return nil
		})
	}

	if watcher != nil {
		watcher.OnChange(mutation.ConfigChangeFunc(gctx, queue, logger))
		if apiServer != nil {
			watcher.OnChange(func(_, current *config.Config) {
				apiServer.ApplyConfig(current.API)
			})
		}
		g.Go(func() error { return watcher.Start(gctx) })
	}

	logger.Info("override-dns is running",
		"address", cfg.Server.ListenAddress,
		"upstreams", root.Upstreams(),
		"forward_zones", len(cfg.ForwardZones),
		"api", cfg.API.Enabled,
	)

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("Server error", "error", runErr)
	} else {
		logger.Info("Received shutdown signal")
		runErr = nil
	}

	// Producers are gone; let the writer finish what is queued
	queue.Close()
	select {
	case <-writer.Done():
	case <-time.After(5 * time.Second):
		logger.Warn("Mutation writer did not drain in time", "pending", queue.Len())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := journal.Close(); err != nil {
		logger.Error("Error closing storage", "error", err)
	}
	if err := telem.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during telemetry shutdown", "error", err)
	}

	logger.Info("override-dns stopped", "zone_version", store.Version())
	return runErr
}
