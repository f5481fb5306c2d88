package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"listing_hunter/internal/activity"
	"listing_hunter/internal/api"
	"listing_hunter/internal/config"
	"listing_hunter/internal/messaging/telegram"
	"listing_hunter/internal/publisher"
	"listing_hunter/internal/scheduler"
	"listing_hunter/internal/service"
	"listing_hunter/internal/source/olx"
	"listing_hunter/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("listing hunter stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return err
	}
	logger.Info("connected to database")

	listingStore := postgres.NewListingStore(db)
	txManager := postgres.NewTransactionManager(db)
	recipientStore := postgres.NewRecipientStore(db, txManager)
	filterStore := postgres.NewFilterStore(db)

	activityLog := activity.New(activity.DefaultCapacity, logger)
	if cfg.RabbitMQ.URL != "" {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			return err
		}
		defer rabbitMQ.Close()
		activityLog.WithSink(rabbitMQ, 100)
	}

	olxSource := olx.New(olx.Config{
		BaseURL:        cfg.Source.BaseURL,
		AccessToken:    cfg.Source.AccessToken,
		Timeout:        cfg.Source.Timeout,
		Canton:         cfg.Source.Canton,
		PriceFrom:      cfg.Source.PriceFrom,
		PriceTo:        cfg.Source.PriceTo,
		MaxAttempts:    cfg.Source.Retry.MaxAttempts,
		InitialBackoff: cfg.Source.Retry.InitialBackoff,
		MaxBackoff:     cfg.Source.Retry.MaxBackoff,
	}, logger)

	telegramClient := telegram.NewClient(telegram.Config{
		BotToken:  cfg.Telegram.BotToken,
		BaseURL:   cfg.Telegram.BaseURL,
		Timeout:   cfg.Telegram.Timeout,
		RateLimit: cfg.Telegram.RateLimit,
	}, logger)
	checkBot(ctx, telegramClient, logger)

	state := service.NewState()
	if *cfg.Sync.NotifyOnStart {
		state.EnableNotifications(time.Now().UTC())
	}

	dispatcher := service.NewDispatcher(listingStore, recipientStore, filterStore, telegramClient, activityLog, state, logger)
	backfill := service.NewBackfillService(olxSource, listingStore, activityLog, state, logger, cfg.Sync)
	detection := service.NewDetectionService(olxSource, listingStore, dispatcher, activityLog, state, logger, cfg.Sync)

	handler := api.NewHandler(listingStore, recipientStore, filterStore, telegramClient, olxSource, state, activityLog, cfg.Retention)
	server := api.NewServer(cfg.HTTP.Addr, handler, logger)

	logger.Info("starting listing hunter",
		"source", olxSource.Name(),
		"categories", cfg.Sync.Categories,
		"backfill_interval", cfg.Sync.BackfillInterval,
		"check_interval", cfg.Sync.CheckInterval,
		"notifications_enabled", state.NotificationsEnabled(),
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.NewScheduler("backfill", backfill, cfg.Sync.BackfillInterval, cfg.Sync.RunTimeout, logger).Start(gCtx)
	})
	g.Go(func() error {
		return scheduler.NewScheduler("detection", detection, cfg.Sync.CheckInterval, cfg.Sync.RunTimeout, logger).Start(gCtx)
	})
	g.Go(func() error {
		return activityLog.Run(gCtx)
	})
	g.Go(func() error {
		return server.Start(gCtx)
	})
	if *cfg.Telegram.Polling && telegramClient.Configured() {
		poller := telegram.NewPoller(telegramClient, recipientStore, cfg.Telegram.PollInterval, logger)
		g.Go(func() error {
			return poller.Start(gCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("listing hunter stopped")
	return nil
}

// checkBot logs the bot identity. A missing or bad token is not fatal: sends
// will fail and be logged, the sync cycles keep running.
func checkBot(ctx context.Context, client *telegram.Client, logger *slog.Logger) {
	if !client.Configured() {
		logger.Warn("telegram bot token not configured, notifications will fail")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	info, err := client.GetMe(ctx)
	if err != nil {
		logger.Warn("telegram bot check failed", "error", err)
		return
	}
	logger.Info("telegram bot ready", "username", info.Username)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
