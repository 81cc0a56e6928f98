// Package app initializes and holds the long-lived services of the scraper,
// acting as the dependency injection container for the binary.
package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	archivegcs "github.com/gendonholaholo/shopscrap/internal/archive/gcs"
	archivemem "github.com/gendonholaholo/shopscrap/internal/archive/memory"
	"github.com/gendonholaholo/shopscrap/internal/api"
	"github.com/gendonholaholo/shopscrap/internal/auditlog"
	"github.com/gendonholaholo/shopscrap/internal/bridge"
	"github.com/gendonholaholo/shopscrap/internal/clock/system"
	"github.com/gendonholaholo/shopscrap/internal/config"
	"github.com/gendonholaholo/shopscrap/internal/extension"
	"github.com/gendonholaholo/shopscrap/internal/fetcher"
	collyfetcher "github.com/gendonholaholo/shopscrap/internal/fetcher/colly"
	headlessfetcher "github.com/gendonholaholo/shopscrap/internal/fetcher/headless"
	"github.com/gendonholaholo/shopscrap/internal/id/uuid"
	memorypublisher "github.com/gendonholaholo/shopscrap/internal/publisher/memory"
	"github.com/gendonholaholo/shopscrap/internal/publisher/pubsub"
	"github.com/gendonholaholo/shopscrap/internal/queue"
	"github.com/gendonholaholo/shopscrap/internal/scraper"
	"github.com/gendonholaholo/shopscrap/internal/service"
	memorystore "github.com/gendonholaholo/shopscrap/internal/store/memory"
	redisstore "github.com/gendonholaholo/shopscrap/internal/store/redis"
)

// App holds the shared, long-lived services of the scraper. It is built once
// at startup and torn down in reverse order on shutdown.
type App struct {
	Queue   *queue.Queue
	Manager *extension.Manager
	Service *service.Service
	Server  *api.Server

	cfg    config.Config
	logger *zap.Logger

	runCancel context.CancelFunc
	closers   []func()
}

// New builds every service from the configuration. It fails fast: any
// provider that cannot be initialized aborts startup.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	clock := system.New()
	ids := uuid.New()

	store, bus, err := a.buildStore(clock)
	if err != nil {
		a.closeAll()
		return nil, err
	}

	audit, err := a.buildAudit(ctx)
	if err != nil {
		a.closeAll()
		return nil, err
	}

	notifier, err := a.buildNotifier(ctx)
	if err != nil {
		a.closeAll()
		return nil, err
	}

	archive, err := a.buildArchive(ctx)
	if err != nil {
		a.closeAll()
		return nil, err
	}

	a.Queue = queue.New(queue.Deps{
		Store:  store,
		Bus:    bus,
		Clock:  clock,
		IDs:    ids,
		Logger: logger.Named("queue"),
	}, queue.Config{
		Workers:         cfg.Queue.Workers,
		MaxPending:      cfg.Queue.MaxPending,
		MaxRetries:      cfg.Queue.MaxRetries,
		RetryDelay:      cfg.Queue.RetryDelay(),
		JobTimeout:      cfg.Queue.JobTimeout(),
		PollInterval:    cfg.Queue.PollInterval(),
		ResultTTL:       cfg.Queue.ResultTTL(),
		CleanupInterval: cfg.Queue.CleanupInterval(),
	})
	if notifier != nil {
		a.Queue.SetNotifier(notifier, cfg.Notify.Topic)
	}

	a.Manager = extension.NewManager(clock, ids, logger.Named("extension"), extension.Config{
		TaskTimeout:      time.Duration(cfg.Extension.TaskTimeoutSeconds) * time.Second,
		HeartbeatTimeout: time.Duration(cfg.Extension.HeartbeatTimeoutSeconds) * time.Second,
		SweepInterval:    time.Duration(cfg.Extension.SweepIntervalSeconds) * time.Second,
	})

	a.Service = service.New(service.Config{
		BaseURL:      cfg.Scraper.BaseURL,
		UseExtension: cfg.Scraper.UseExtension,
		UseHeadless:  cfg.Scraper.HeadlessEnabled,
		TaskTimeout:  time.Duration(cfg.Extension.TaskTimeoutSeconds) * time.Second,
	}, a.buildFetcher(), a.Manager, bridge.New(cfg.Scraper.BaseURL, logger.Named("bridge")), audit, archive, clock, logger.Named("service"))

	a.Service.RegisterHandlers(a.Queue)
	a.Service.SetProgressSink(a.Queue)
	a.Manager.SetProgressHandler(a.Service.HandleTaskProgress)

	a.Server = api.NewServer(a.Queue, bus, a.Manager, cfg, logger.Named("api"))
	return a, nil
}

// Start launches the worker pool and the extension heartbeat sweeper.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.runCancel = cancel
	go a.Manager.Run(runCtx)
	return a.Queue.Start(ctx)
}

// Shutdown drains the queue and releases every provider, newest first.
func (a *App) Shutdown(ctx context.Context) {
	if err := a.Queue.Stop(ctx); err != nil {
		a.logger.Error("queue drain failed", zap.Error(err))
	}
	if a.runCancel != nil {
		a.runCancel()
	}
	a.closeAll()
}

func (a *App) buildStore(clock scraper.Clock) (scraper.JobStore, scraper.EventBus, error) {
	switch a.cfg.Store.Provider {
	case "memory":
		a.logger.Info("using in-memory job store")
		return memorystore.NewStore(clock), memorystore.NewBus(), nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     a.cfg.Store.RedisAddr,
			Password: a.cfg.Store.RedisPassword,
			DB:       a.cfg.Store.RedisDB,
		})
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("redis close failed", zap.Error(err))
			}
		})
		a.logger.Info("using redis job store", zap.String("addr", a.cfg.Store.RedisAddr))
		return redisstore.NewStore(client), redisstore.NewBus(client, a.logger.Named("bus")), nil
	default:
		return nil, nil, fmt.Errorf("unknown store provider: %s", a.cfg.Store.Provider)
	}
}

func (a *App) buildAudit(ctx context.Context) (auditlog.Logger, error) {
	switch a.cfg.Audit.Provider {
	case "noop":
		return auditlog.NewNoop(), nil
	case "postgres":
		a.logger.Info("connecting to postgres audit log")
		pg, err := auditlog.NewPostgres(ctx, a.cfg.Audit.DSN, a.logger.Named("audit"))
		if err != nil {
			return nil, fmt.Errorf("init audit log: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown audit provider: %s", a.cfg.Audit.Provider)
	}
}

func (a *App) buildNotifier(ctx context.Context) (scraper.Publisher, error) {
	switch a.cfg.Notify.Provider {
	case "noop":
		return nil, nil
	case "memory":
		return memorypublisher.New(), nil
	case "pubsub":
		a.logger.Info("connecting to pub/sub", zap.String("topic", a.cfg.Notify.Topic))
		pub, err := pubsub.New(ctx, a.cfg.Notify.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init notifier: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := pub.Close(); err != nil {
				a.logger.Warn("pub/sub close failed", zap.Error(err))
			}
		})
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown notify provider: %s", a.cfg.Notify.Provider)
	}
}

func (a *App) buildArchive(ctx context.Context) (scraper.Archive, error) {
	switch a.cfg.Archive.Provider {
	case "noop":
		return nil, nil
	case "memory":
		return archivemem.New(), nil
	case "gcs":
		a.logger.Info("connecting to gcs archive", zap.String("bucket", a.cfg.Archive.Bucket))
		arc, err := archivegcs.New(ctx, a.cfg.Archive.Bucket, a.cfg.Archive.Prefix)
		if err != nil {
			return nil, fmt.Errorf("init archive: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := arc.Close(); err != nil {
				a.logger.Warn("archive close failed", zap.Error(err))
			}
		})
		return arc, nil
	default:
		return nil, fmt.Errorf("unknown archive provider: %s", a.cfg.Archive.Provider)
	}
}

func (a *App) buildFetcher() scraper.Fetcher {
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Scraper.UserAgent,
		Timeout:   time.Duration(a.cfg.Scraper.TimeoutSeconds) * time.Second,
	})

	var headless scraper.Fetcher
	if a.cfg.Scraper.HeadlessEnabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Scraper.MaxParallel,
			UserAgent:         a.cfg.Scraper.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Scraper.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			a.closers = append(a.closers, hf.Close)
			headless = hf
		}
	}
	return fetcher.NewRouter(static, headless)
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
