// marketfeed keeps a local market store in sync with the prediction-market
// backend over WebSocket, falling back to REST polling while the push
// channel is unavailable.
//
// Usage: marketfeed -config configs/marketfeed.yaml -env .env
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketfeed/internal/api"
	"github.com/rickgao/marketfeed/internal/cache"
	"github.com/rickgao/marketfeed/internal/config"
	"github.com/rickgao/marketfeed/internal/connection"
	"github.com/rickgao/marketfeed/internal/database"
	"github.com/rickgao/marketfeed/internal/logging"
	"github.com/rickgao/marketfeed/internal/market"
	"github.com/rickgao/marketfeed/internal/metrics"
	"github.com/rickgao/marketfeed/internal/mirror"
	"github.com/rickgao/marketfeed/internal/poller"
	"github.com/rickgao/marketfeed/internal/probe"
	"github.com/rickgao/marketfeed/internal/router"
	"github.com/rickgao/marketfeed/internal/version"
	"github.com/rickgao/marketfeed/internal/writer"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	envPath := flag.String("env", ".env", "path to .env file (optional)")
	flag.Parse()

	if err := run(*configPath, *envPath); err != nil {
		slog.Error("marketfeed failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, envPath string) error {
	// Load .env before config so ${VAR} expansion sees it
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return err
	}

	logger, logCloser := logging.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("starting marketfeed",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"api_host", cfg.API.Host,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store := market.NewStore(logger, m)
	defer store.Close()

	// Local snapshot: seed the store so last-known data is served at once
	var snapshot *cache.Cache
	if cfg.Cache.Enabled() {
		snapshot, err = cache.Open(cfg.Cache.Path, cache.WithLogger(logger), cache.WithMetrics(m))
		if err != nil {
			return err
		}
		defer snapshot.Close()

		seed, err := snapshot.Load()
		if err != nil {
			logger.Warn("snapshot unreadable, starting empty", "error", err)
		} else if len(seed) > 0 {
			store.SetMarkets(seed)
			logger.Info("store seeded from snapshot", "markets", len(seed))
		}
	}

	// Postgres sink
	var (
		pool        *pgxpool.Pool
		pgWriter    *writer.MarketWriter
		redisClient *redis.Client
		redisMirror *mirror.Mirror
	)
	if cfg.Database.Postgres.Enabled() {
		pool, err = database.Connect(ctx, cfg.Database.Postgres, cfg.Instance.ID, logger)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()

		pgWriter = writer.NewMarketWriter(writer.WriterConfig{
			BatchSize:     cfg.Writers.BatchSize,
			FlushInterval: cfg.Writers.FlushInterval,
		}, store.Subscribe("postgres", cfg.Writers.BufferSize), pool, nil, logger, m)
		if err := pgWriter.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := pgWriter.Start(ctx); err != nil {
			return err
		}
	}

	// Redis mirror
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		redisMirror = mirror.New(mirror.Config{
			Key:     cfg.Redis.Key,
			Channel: cfg.Redis.Channel,
		}, redisClient, store.Subscribe("redis", cfg.Writers.BufferSize), logger, m)
		if err := redisMirror.Start(ctx); err != nil {
			return err
		}
	}

	apiClient := api.NewClient(cfg.API.Host, cfg.API.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	prober := probe.New(apiClient, probe.Config{
		Timeout: cfg.Probe.Timeout,
		TTL:     cfg.Probe.TTL,
	}, nil, logger, m)

	poll := poller.New(poller.Config{
		Interval: cfg.Poller.Interval,
		Timeout:  cfg.Poller.Timeout,
		Limit:    cfg.Poller.Limit,
	}, apiClient, store, nil, logger, m)

	rtr := router.New(store, router.DefaultConfig(), logger, m)

	clientCfg := connection.DefaultClientConfig()
	clientCfg.Token = cfg.API.Token
	clientCfg.PingInterval = cfg.Stream.PingInterval
	clientCfg.PingTimeout = cfg.Stream.PingTimeout
	clientCfg.HandshakeTimeout = cfg.Stream.HandshakeTimeout
	clientCfg.BufferSize = cfg.Stream.BufferSize

	mgr, err := connection.NewManager(connection.ManagerConfig{
		APIHost:              cfg.API.Host,
		Channel:              cfg.Stream.Channel,
		ReconnectBaseDelay:   cfg.Stream.ReconnectBaseDelay,
		MaxReconnectAttempts: cfg.Stream.ReconnectAttempts(),
		Client:               clientCfg,
	}, connection.Deps{
		Prober:  prober,
		Poller:  poll,
		Handler: rtr,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		return fmt.Errorf("create connection manager: %w", err)
	}

	sinks := make(map[string]func() interface{})
	if pgWriter != nil {
		sinks["postgres"] = func() interface{} { return pgWriter.Stats() }
	}
	if redisMirror != nil {
		sinks["redis"] = func() interface{} { return redisMirror.Stats() }
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: newHandler(handlerDeps{
			Manager:     mgr,
			Store:       store,
			Prober:      prober,
			Poller:      poll,
			Router:      rtr,
			Sinks:       sinks,
			Gatherer:    reg,
			MetricsPath: cfg.Metrics.Path,
			Logger:      logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sinkCtx, cancelSinks := context.WithCancel(context.Background())
	defer cancelSinks()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", srv.Addr, "metrics_path", cfg.Metrics.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if snapshot != nil {
		buf := store.Subscribe("cache", cfg.Writers.BufferSize)
		g.Go(func() error {
			return snapshot.Run(sinkCtx, store, buf, cfg.Cache.SaveInterval)
		})
	}

	watch := mgr.Watch()
	g.Go(func() error {
		for change := range watch {
			logger.Info("connection status changed",
				"from", change.From.String(),
				"to", change.To.String(),
				"reason", change.Reason,
			)
		}
		return nil
	})

	if err := mgr.Start(gctx); err != nil {
		return err
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Producers first, then sinks, then the surface.
		if err := mgr.Stop(shutdownCtx); err != nil {
			logger.Warn("connection manager stop", "error", err)
		}
		if pgWriter != nil {
			if err := pgWriter.Stop(shutdownCtx); err != nil {
				logger.Warn("market writer stop", "error", err)
			}
		}
		if redisMirror != nil {
			if err := redisMirror.Stop(shutdownCtx); err != nil {
				logger.Warn("redis mirror stop", "error", err)
			}
		}
		cancelSinks()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", "error", err)
		}
		return nil
	})

	logger.Info("marketfeed running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("marketfeed stopped")
	return nil
}
