// Package app initializes and holds the long-lived services of the miner,
// acting as the dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/histocoin/artifact-miner/internal/api"
	"github.com/histocoin/artifact-miner/internal/artifact"
	"github.com/histocoin/artifact-miner/internal/config"
	"github.com/histocoin/artifact-miner/internal/enrich"
	"github.com/histocoin/artifact-miner/internal/fetch"
	"github.com/histocoin/artifact-miner/internal/logging"
	"github.com/histocoin/artifact-miner/internal/metrics"
	"github.com/histocoin/artifact-miner/internal/notify"
	"github.com/histocoin/artifact-miner/internal/scraper"
	"github.com/histocoin/artifact-miner/internal/status"
	"github.com/histocoin/artifact-miner/internal/storage/memory"
	"github.com/histocoin/artifact-miner/internal/storage/postgres"
)

// App holds the shared services: logger, record store, outbound client,
// enricher, notifier, orchestrator, and the HTTP server. It is built once
// at startup and closed when the command finishes.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Store        artifact.RecordStore
	Fetcher      *fetch.Client
	Notifier     notify.Publisher
	Tracker      *status.Tracker
	Orchestrator *scraper.Orchestrator
	Server       *api.Server
}

// New builds the full service graph from configuration. It fails fast when
// any critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics.Init()

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	fetcher := fetch.New(fetch.Config{
		ConnectTimeout: time.Duration(cfg.HTTP.ConnectTimeoutSeconds) * time.Second,
		Timeout:        cfg.FetchTimeout(),
		ReadTimeout:    time.Duration(cfg.HTTP.ReadTimeoutSeconds) * time.Second,
		ConnectorLimit: cfg.HTTP.ConnectorLimit,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		UserAgent:      cfg.HTTP.UserAgent,
		RatePerDomain:  cfg.HTTP.RatePerDomain,
	}, logger)

	var robots *fetch.RobotsGate
	if cfg.HTTP.RespectRobots {
		robots = fetch.NewRobotsGate(fetcher, cfg.HTTP.UserAgent, logger)
	}

	notifier, err := newNotifier(ctx, cfg, logger)
	if err != nil {
		store.Close()
		fetcher.Close()
		return nil, err
	}

	tracker := status.NewTracker(status.LogSink{Logger: logger}, status.PromSink{})

	processors := scraper.NewProcessors(scraper.ProcessorsConfig{
		Fetcher:     fetcher,
		Enricher:    enrich.New(cfg.Ollama.Host, cfg.Ollama.Model, fetcher.HTTPClient(), logger),
		Store:       store,
		Robots:      robots,
		Notifier:    notifier,
		Gate:        scraper.NewGate(cfg.Scraper.Concurrency),
		SampleSize:  cfg.Scraper.SampleSize,
		SearchCache: gocache.New(time.Duration(cfg.Scraper.SearchCacheTTLSeconds)*time.Second, time.Minute),
		Logger:      logger,
	})

	orchestrator := scraper.NewOrchestrator(store, processors, tracker, cfg.Cooldown(), logger)
	server := api.NewServer(store, orchestrator, tracker, fetcher, logger)

	logger.Info("application services initialized",
		zap.Bool("postgres", cfg.DB.DSN != ""),
		zap.String("notify_provider", cfg.Notify.Provider),
	)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        store,
		Fetcher:      fetcher,
		Notifier:     notifier,
		Tracker:      tracker,
		Orchestrator: orchestrator,
		Server:       server,
	}, nil
}

func newStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (artifact.RecordStore, error) {
	if cfg.DB.DSN == "" {
		logger.Info("no db.dsn configured, using in-memory record store")
		return memory.NewRecordStore(), nil
	}
	logger.Info("connecting to postgres", zap.String("table", cfg.DB.Table))
	store, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize postgres store: %w", err)
	}
	return store, nil
}

func newNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (notify.Publisher, error) {
	switch cfg.Notify.Provider {
	case "pubsub":
		logger.Info("connecting to pub/sub", zap.String("topic", cfg.Notify.TopicID))
		pub, err := notify.NewPubSubPublisher(ctx, cfg.Notify.ProjectID, cfg.Notify.TopicID, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize pubsub notifier: %w", err)
		}
		return pub, nil
	default:
		return notify.NoOp{}, nil
	}
}

// Close shuts the services down in reverse dependency order.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	a.Orchestrator.Stop()
	a.Orchestrator.Wait()
	if err := a.Notifier.Close(); err != nil {
		a.Logger.Warn("closing notifier failed", zap.Error(err))
	}
	a.Fetcher.Close()
	a.Store.Close()
	_ = a.Logger.Sync()
}
