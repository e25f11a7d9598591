package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Conxian/conxian-nexus/internal/alert"
	"github.com/Conxian/conxian-nexus/internal/api"
	"github.com/Conxian/conxian-nexus/internal/chain/stacks"
	"github.com/Conxian/conxian-nexus/internal/config"
	"github.com/Conxian/conxian-nexus/internal/gateway"
	"github.com/Conxian/conxian-nexus/internal/ingest"
	"github.com/Conxian/conxian-nexus/internal/merkle"
	"github.com/Conxian/conxian-nexus/internal/safety"
	"github.com/Conxian/conxian-nexus/internal/sequencer"
	"github.com/Conxian/conxian-nexus/internal/store/postgres"
	storeredis "github.com/Conxian/conxian-nexus/internal/store/redis"
	"github.com/Conxian/conxian-nexus/internal/tracing"
)

func main() {
	if err := run(); err != nil && err != context.Canceled {
		slog.Error("nexus exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("conxian nexus starting",
		"chain_api", cfg.Chain.APIURL,
		"drift_threshold", cfg.Safety.DriftThreshold,
		"recovery_samples", cfg.Safety.RecoverySamples,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing.
	otlpEndpoint := ""
	if cfg.Tracing.Enabled {
		otlpEndpoint = cfg.Tracing.OTLPEndpoint
	}
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.ServiceName, otlpEndpoint, true)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	// Persistence.
	db, err := postgres.New(postgres.Config{
		URL:             cfg.DB.URL,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.DB.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	blockRepo := postgres.NewBlockRepo(db)
	txRepo := postgres.NewTransactionRepo(db)
	rootRepo := postgres.NewStateRootRepo(db)
	eventStore := postgres.NewEventStore(db, blockRepo, txRepo)

	// Broadcast.
	publisher, err := storeredis.NewPublisher(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer publisher.Close()

	// Alerting.
	var channels []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.Alert.WebhookURL))
	}
	if len(channels) == 0 {
		channels = append(channels, &alert.NoopAlerter{})
	}
	alerter := alert.NewMultiAlerter(
		time.Duration(cfg.Alert.CooldownMin)*time.Minute, logger, channels...)

	// Upstream chain.
	chainClient := stacks.NewClient(cfg.Chain.APIURL, logger)

	// Core.
	acc := merkle.NewAccumulator()
	tracker := ingest.NewTracker(eventStore, blockRepo, txRepo, rootRepo, acc,
		ingest.WithRootPublisher(publisher),
		ingest.WithTrackerLogger(logger),
	)
	if err := tracker.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild tracker: %w", err)
	}

	poller := ingest.NewPoller(chainClient, tracker,
		ingest.WithPollInterval(cfg.Chain.PollInterval),
		ingest.WithConfirmationDepth(cfg.Chain.ConfirmationDepth),
		ingest.WithMaxBlocksPerTick(cfg.Chain.MaxBlocksPerTick),
		ingest.WithPollerLogger(logger),
	)

	monitor := safety.New(tracker, chainClient,
		safety.WithHeartbeatInterval(cfg.Safety.HeartbeatInterval),
		safety.WithQueryTimeout(cfg.Safety.QueryTimeout),
		safety.WithDriftThreshold(cfg.Safety.DriftThreshold),
		safety.WithRecoverySamples(cfg.Safety.RecoverySamples),
		safety.WithStatusPublisher(publisher),
		safety.WithAlerter(alerter),
		safety.WithMonitorLogger(logger),
	)

	seq := sequencer.New(tracker, sequencer.WithLogger(logger))

	registry := gateway.NewRegistry(gateway.WithRegistryLogger(logger))
	if cfg.Gateway.BisqURL != "" {
		if err := registry.Register(gateway.NewBisqService(cfg.Gateway.BisqURL)); err != nil {
			return fmt.Errorf("register bisq adapter: %w", err)
		}
	}
	if cfg.Gateway.RGBURL != "" {
		if err := registry.Register(gateway.NewRGBService(cfg.Gateway.RGBURL)); err != nil {
			return fmt.Errorf("register rgb adapter: %w", err)
		}
	}

	server := api.NewServer(
		fmt.Sprintf(":%d", cfg.Server.Port),
		tracker, acc, rootRepo, seq, monitor, registry,
		api.WithServerLogger(logger),
		api.WithRateLimit(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst),
		api.WithMaxBodyBytes(int64(cfg.Server.MaxRequestBodyKB)<<10),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	logger.Info("conxian nexus started", "port", cfg.Server.Port)
	return g.Wait()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
