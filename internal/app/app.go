// Package app assembles the service from configuration: it picks provider
// implementations, wires the job system, and owns teardown. Construction is
// fail-fast; a half-built App is never returned.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/reviewpulse/reviewpulse/internal/alerts"
	"github.com/reviewpulse/reviewpulse/internal/alerts/cache"
	cachememory "github.com/reviewpulse/reviewpulse/internal/alerts/cache/memory"
	cacheredis "github.com/reviewpulse/reviewpulse/internal/alerts/cache/redis"
	"github.com/reviewpulse/reviewpulse/internal/analysis"
	"github.com/reviewpulse/reviewpulse/internal/api"
	"github.com/reviewpulse/reviewpulse/internal/clock"
	"github.com/reviewpulse/reviewpulse/internal/clock/system"
	"github.com/reviewpulse/reviewpulse/internal/config"
	iduuid "github.com/reviewpulse/reviewpulse/internal/id/uuid"
	"github.com/reviewpulse/reviewpulse/internal/jobs"
	jobsmemory "github.com/reviewpulse/reviewpulse/internal/jobs/memory"
	"github.com/reviewpulse/reviewpulse/internal/pipeline"
	"github.com/reviewpulse/reviewpulse/internal/pricing"
	"github.com/reviewpulse/reviewpulse/internal/product"
	productmemory "github.com/reviewpulse/reviewpulse/internal/product/memory"
	productpostgres "github.com/reviewpulse/reviewpulse/internal/product/postgres"
	"github.com/reviewpulse/reviewpulse/internal/publisher"
	pubsubpublisher "github.com/reviewpulse/reviewpulse/internal/publisher/pubsub"
	"github.com/reviewpulse/reviewpulse/internal/push"
	"github.com/reviewpulse/reviewpulse/internal/scrape"
	"github.com/reviewpulse/reviewpulse/internal/session"
	sessionmemory "github.com/reviewpulse/reviewpulse/internal/session/memory"
	sessionpostgres "github.com/reviewpulse/reviewpulse/internal/session/postgres"
	"github.com/reviewpulse/reviewpulse/internal/storage"
	"github.com/reviewpulse/reviewpulse/internal/storage/gcs"
	storagememory "github.com/reviewpulse/reviewpulse/internal/storage/memory"
)

// App holds every long-lived component and the handles needed to tear them
// down.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Clock      clock.Clock
	Sessions   *session.StateMachine
	Products   product.Store
	Alerts     *alerts.Dispatcher
	Dispatcher *jobs.Dispatcher
	Pipeline   *pipeline.Pipeline
	Server     *api.Server

	sessionStore session.Store
	redisCache   *cacheredis.Cache
	pubsubClient *pubsub.Client
	gcsClient    *gstorage.Client
}

// New builds the full object graph from configuration. Any provider that
// fails to initialize aborts construction; partially built resources are
// released before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config: cfg,
		Logger: logger,
		Clock:  system.New(),
	}

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.initStores(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.initAlerts(ctx, cfg); err != nil {
		return nil, err
	}

	pub, err := a.buildPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	blobs, err := a.buildBlobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	scraper, err := scrape.NewClient(scrape.ClientConfig{
		BaseURL: cfg.Scraper.BaseURL,
		APIKey:  cfg.Scraper.APIKey,
		Timeout: time.Duration(cfg.Scraper.TimeoutSeconds) * time.Second,
	}, logger.Named("scraper"))
	if err != nil {
		return nil, fmt.Errorf("init scraper client: %w", err)
	}
	analyzer, err := analysis.NewClient(analysis.ClientConfig{
		BaseURL: cfg.Analysis.BaseURL,
		APIKey:  cfg.Analysis.APIKey,
		Timeout: time.Duration(cfg.Analysis.TimeoutSeconds) * time.Second,
	}, logger.Named("analysis"))
	if err != nil {
		return nil, fmt.Errorf("init analysis client: %w", err)
	}
	pricer, err := buildPricing(cfg)
	if err != nil {
		return nil, err
	}

	registry := jobs.NewRegistry()
	a.Dispatcher = jobs.NewDispatcher(registry, jobs.DefaultSpecs(), map[string]jobs.Pool{
		jobs.QueueScraping: {Queue: jobsmemory.NewQueue(cfg.Workers.QueueDepth), Workers: cfg.Workers.Scraping},
		jobs.QueueAnalysis: {Queue: jobsmemory.NewQueue(cfg.Workers.QueueDepth), Workers: cfg.Workers.Analysis},
		jobs.QueuePricing:  {Queue: jobsmemory.NewQueue(cfg.Workers.QueueDepth), Workers: cfg.Workers.Pricing},
		jobs.QueueMetadata: {Queue: jobsmemory.NewQueue(cfg.Workers.QueueDepth), Workers: cfg.Workers.Metadata},
	}, a.Clock, logger.Named("jobs"))

	orchestrator := scrape.NewOrchestrator(scraper, a.Products, blobs, a.Dispatcher, a.Alerts, a.Clock, logger.Named("scrape"))
	orchestrator.Register(registry)

	a.Pipeline = pipeline.New(a.Sessions, a.Products, analyzer, orchestrator, a.Dispatcher, pub, a.Alerts, a.Clock, logger.Named("pipeline"))
	a.Pipeline.Register(registry)

	pricing.NewHandler(pricer, a.Products, a.Alerts, logger.Named("pricing")).Register(registry)

	a.Server = api.NewServer(a.Sessions, a.Pipeline, iduuid.New(), cfg, logger.Named("api"))

	ok = true
	return a, nil
}

func (a *App) initStores(ctx context.Context, cfg config.Config) error {
	switch cfg.DB.Provider {
	case "postgres":
		sessions, err := sessionpostgres.New(ctx, sessionpostgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
			MinConns: int32(cfg.DB.MinConns),
		})
		if err != nil {
			return fmt.Errorf("init session store: %w", err)
		}
		a.sessionStore = sessions
		products, err := productpostgres.New(ctx, productpostgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
			MinConns: int32(cfg.DB.MinConns),
		})
		if err != nil {
			return fmt.Errorf("init product store: %w", err)
		}
		a.Products = products
	case "memory":
		a.sessionStore = sessionmemory.New()
		a.Products = productmemory.New()
	default:
		return fmt.Errorf("unknown db.provider %q", cfg.DB.Provider)
	}
	a.Sessions = session.NewStateMachine(a.sessionStore, a.Clock, a.Logger.Named("sessions"))
	return nil
}

func (a *App) initAlerts(ctx context.Context, cfg config.Config) error {
	var channel push.Channel
	switch cfg.Push.Provider {
	case "pushover":
		ch, err := push.NewPushover(push.PushoverConfig{
			Endpoint: cfg.Push.Endpoint,
			Token:    cfg.Push.Token,
			UserKey:  cfg.Push.UserKey,
		})
		if err != nil {
			return fmt.Errorf("init push channel: %w", err)
		}
		channel = ch
	case "noop":
		channel = push.NoopChannel{}
	default:
		return fmt.Errorf("unknown push.provider %q", cfg.Push.Provider)
	}

	var throttle cache.Cache
	switch cfg.Redis.Provider {
	case "redis":
		c, err := cacheredis.New(ctx, cacheredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("init throttle cache: %w", err)
		}
		a.redisCache = c
		throttle = c
	case "memory":
		throttle = cachememory.New(a.Clock)
	default:
		return fmt.Errorf("unknown redis.provider %q", cfg.Redis.Provider)
	}

	a.Alerts = alerts.NewDispatcher(channel, throttle, a.Logger.Named("alerts"))
	return nil
}

func (a *App) buildPublisher(ctx context.Context, cfg config.Config) (publisher.Publisher, error) {
	switch cfg.PubSub.Provider {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		a.pubsubClient = client
		return pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName)), nil
	case "noop":
		return publisher.Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown pubsub.provider %q", cfg.PubSub.Provider)
	}
}

func (a *App) buildBlobStore(ctx context.Context, cfg config.Config) (storage.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	case "memory":
		return storagememory.NewBlobStore(), nil
	case "noop":
		return storage.NoopBlobStore{}, nil
	default:
		return nil, fmt.Errorf("unknown storage.provider %q", cfg.Storage.Provider)
	}
}

func buildPricing(cfg config.Config) (pricing.Service, error) {
	if cfg.Pricing.BaseURL == "" {
		return pricing.Noop{}, nil
	}
	client, err := pricing.NewClient(pricing.ClientConfig{
		BaseURL: cfg.Pricing.BaseURL,
		APIKey:  cfg.Pricing.APIKey,
		Timeout: time.Duration(cfg.Pricing.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("init pricing client: %w", err)
	}
	return client, nil
}

// Close releases every resource the App owns. Safe to call on a partially
// constructed App and safe to call more than once.
func (a *App) Close() {
	if a.Dispatcher != nil {
		a.Dispatcher.Close()
		a.Dispatcher = nil
	}
	if a.sessionStore != nil {
		a.sessionStore.Close()
		a.sessionStore = nil
	}
	if a.Products != nil {
		a.Products.Close()
		a.Products = nil
	}
	if a.redisCache != nil {
		if err := a.redisCache.Close(); err != nil {
			a.Logger.Warn("close redis cache", zap.Error(err))
		}
		a.redisCache = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.Logger.Warn("close pubsub client", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.Logger.Warn("close gcs client", zap.Error(err))
		}
		a.gcsClient = nil
	}
}
