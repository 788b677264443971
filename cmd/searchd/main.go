package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/cascadesearch/cascade/internal/analytics"
	"github.com/cascadesearch/cascade/internal/index"
	"github.com/cascadesearch/cascade/internal/search"
	"github.com/cascadesearch/cascade/internal/server"
	"github.com/cascadesearch/cascade/pkg/config"
	"github.com/cascadesearch/cascade/pkg/health"
	"github.com/cascadesearch/cascade/pkg/kafka"
	"github.com/cascadesearch/cascade/pkg/logger"
	"github.com/cascadesearch/cascade/pkg/metrics"
	"github.com/cascadesearch/cascade/pkg/postgres"
	pkgredis "github.com/cascadesearch/cascade/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search engine", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	group, ctx := errgroup.WithContext(ctx)

	var met *metrics.Metrics
	if cfg.Metrics.Enabled {
		met = metrics.New()
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			slog.Info("metrics server listening", "addr", addr)
			if err := http.ListenAndServe(addr, metrics.Handler()); err != nil {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	store, err := index.Open(index.Options{
		Storage:          cfg.Storage,
		SearchableFields: cfg.Search.SearchableFields,
		FilterableFields: cfg.Search.FilterableFields,
	})
	if err != nil {
		slog.Error("failed to open index store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("index store opened", "data_dir", cfg.Storage.DataDir, "in_memory", cfg.Storage.InMemory)

	engine, err := search.NewEngine(store, cfg.Search, met)
	if err != nil {
		slog.Error("invalid search configuration", "error", err)
		os.Exit(1)
	}

	var queryCache *server.QueryCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, query caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		queryCache = server.NewQueryCache(redisClient, cfg.Redis, met)
		slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	var collector *analytics.Collector
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		collector = analytics.NewCollector(producer, 10000)
		collector.Start(ctx)
		defer collector.Close()
		slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.AnalyticsEvents)

		ingestor := index.NewIngestor(store, cfg.Storage, met)
		group.Go(func() error {
			return ingestor.Consumer(cfg.Kafka).Start(ctx)
		})
		group.Go(func() error {
			return ingestor.Run(ctx)
		})
		slog.Info("document ingestion started", "topic", cfg.Kafka.Topics.DocumentIngest)
	}

	var pgClient *postgres.Client
	if cfg.Postgres.Host != "" {
		pgClient, err = postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, analytics persistence disabled", "error", err)
		} else {
			defer pgClient.Close()
			eventStore := analytics.NewStore(pgClient)
			group.Go(func() error {
				return eventStore.Consumer(cfg.Kafka).Start(ctx)
			})
			slog.Info("analytics event store started", "database", cfg.Postgres.Database)
		}
	}

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		all, err := store.Snapshot().AllDocids(ctx)
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{
			Status: health.StatusUp,
			Detail: map[string]string{"documents": strconv.FormatUint(all.GetCardinality(), 10)},
		}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	if pgClient != nil {
		checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
			if err := pgClient.DB.PingContext(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}

	handler := server.NewHandler(engine, store, queryCache, collector)
	srv := server.New(cfg.Server, server.Router(cfg.Server, handler, checker, met))

	group.Go(func() error {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
