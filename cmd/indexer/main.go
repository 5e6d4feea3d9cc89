package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sascha1337/wasmd-indexer/internal/api"
	"github.com/sascha1337/wasmd-indexer/internal/api/handler"
	"github.com/sascha1337/wasmd-indexer/internal/computation"
	"github.com/sascha1337/wasmd-indexer/internal/config"
	"github.com/sascha1337/wasmd-indexer/internal/eventstore"
	"github.com/sascha1337/wasmd-indexer/internal/formula"
	"github.com/sascha1337/wasmd-indexer/internal/ingest"
	"github.com/sascha1337/wasmd-indexer/internal/search"
	"github.com/sascha1337/wasmd-indexer/internal/state"
	"github.com/sascha1337/wasmd-indexer/internal/transform"
	"github.com/sascha1337/wasmd-indexer/internal/webhook"
	"github.com/sascha1337/wasmd-indexer/pkg/db/postgres"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	setupLogging(cfg.LogLevel)

	logger, err := newZapLogger(cfg.LogLevel)
	if err != nil {
		slog.Error("failed to build logger", "err", err)
		os.Exit(1)
	}
	defer logger.Sync()

	slog.Info("starting wasmd-indexer",
		"http_enabled", cfg.HTTPEnabled,
		"webhooks_enabled", cfg.WebhooksEnabled,
		"cache_updates_enabled", cfg.CacheUpdatesEnabled,
	)

	db, err := postgres.New(ctx, logger, "wasmd-indexer", &postgres.PoolConfig{URL: cfg.PostgresURL, Schema: cfg.PostgresSchema, Component: "indexer"})
	if err != nil {
		slog.Error("failed to connect to postgres", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.CreateSchemaIfNotExists(ctx, cfg.PostgresSchema); err != nil {
		slog.Error("failed to create postgres schema", "err", err, "schema", cfg.PostgresSchema)
		os.Exit(1)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("failed to parse redis url", "err", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	store := eventstore.New(db, logger)
	if err := store.InitSchema(ctx); err != nil {
		slog.Error("failed to init event store schema", "err", err)
		os.Exit(1)
	}

	transformer := transform.New(db)
	if err := transformer.InitSchema(ctx); err != nil {
		slog.Error("failed to init transform schema", "err", err)
		os.Exit(1)
	}

	registry := formula.NewRegistry()
	formula.RegisterBuiltins(registry)
	runtime := formula.NewRuntime(store, registry, "")

	cache := computation.New(db, runtime, logger)
	if err := cache.InitSchema(ctx); err != nil {
		slog.Error("failed to init computation schema", "err", err)
		os.Exit(1)
	}

	st := state.New(db)
	if err := st.InitSchema(ctx); err != nil {
		slog.Error("failed to init state schema", "err", err)
		os.Exit(1)
	}

	soketi := webhook.NewSoketiClient(cfg.Soketi)
	subs := webhook.FromConfig(cfg.Webhooks)
	dispatcher := webhook.New(db, store, subs, soketi, logger)
	if err := dispatcher.InitSchema(ctx); err != nil {
		slog.Error("failed to init webhook schema", "err", err)
		os.Exit(1)
	}

	var notifier *webhook.Notifier
	var drainer *webhook.Drainer
	if cfg.WebhooksEnabled {
		notifier, err = webhook.NewNotifier(redisClient, cfg.WebhookTopic)
		if err != nil {
			slog.Error("failed to create webhook notifier", "err", err)
			os.Exit(1)
		}
		defer notifier.Close()

		drainer, err = webhook.NewDrainer(redisClient, cfg.WebhookTopic, cfg.WebhookConsumerGroup, dispatcher, cfg.WebhookConcurrency, logger)
		if err != nil {
			slog.Error("failed to create webhook drainer", "err", err)
			os.Exit(1)
		}
		defer drainer.Close()
	}

	var source ingest.EventSource
	if cfg.SourceWasmWSURL != "" {
		source = ingest.NewWebSocketSource(cfg.SourceWasmWSURL, cfg.WSMaxRetries, cfg.WSReconnectDelay)
	} else {
		source = ingest.NewFileSource(cfg.SourceWasmPath)
	}

	driver := ingest.New(source, ingest.Config{
		BatchSize:                  cfg.BatchSize,
		InitialBlockHeightOverride: cfg.InitialBlockHeight,
		CacheUpdatesEnabled:        cfg.CacheUpdatesEnabled,
		WebhooksEnabled:            cfg.WebhooksEnabled,
	}, store, transformer, cache, st, dispatcher, notifier, search.Noop{})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting ingestion driver")
		return driver.Run(ctx)
	})

	if drainer != nil {
		g.Go(func() error {
			slog.Info("starting webhook drainer")
			return drainer.Run(ctx)
		})
	}

	if cfg.HTTPEnabled {
		h := handler.NewHandler(cache, st, logger)
		srv, err := api.NewServer(h, logger, cfg.HTTPAddr)
		if err != nil {
			slog.Error("failed to create api server", "err", err)
			os.Exit(1)
		}
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("indexer error", "err", err)
		os.Exit(1)
	}

	slog.Info("shutdown complete")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func newZapLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level.SetLevel(zap.InfoLevel)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
