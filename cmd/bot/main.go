package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ton_wallet_bot/internal/access"
	"ton_wallet_bot/internal/broadcast"
	"ton_wallet_bot/internal/config"
	"ton_wallet_bot/internal/domain"
	"ton_wallet_bot/internal/feature/owner"
	"ton_wallet_bot/internal/feature/user"
	"ton_wallet_bot/internal/feature/wallet"
	"ton_wallet_bot/internal/health"
	"ton_wallet_bot/internal/logging"
	"ton_wallet_bot/internal/store"
	"ton_wallet_bot/internal/telegram"
)

const (
	mongoConnectTimeout      = 10 * time.Second
	mongoIndexTimeout        = 5 * time.Second
	mongoDisconnectTimeout   = 5 * time.Second
	ownerBootstrapTimeout    = 5 * time.Second
	schedulerStartTimeout    = 10 * time.Second
	schedulerShutdownTimeout = 30 * time.Second
	telegramShutdownTimeout  = 10 * time.Second
	healthShutdownTimeout    = 5 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":    "startup",
		"mongo_db": cfg.MongoDB,
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo connection error")
		fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	if err := mongoManager.EnsureBaseIndexes(indexCtx); err != nil {
		cancelIndexes()
		logger.WithError(err).Error("mongo index setup error")
		fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
		os.Exit(1)
	}
	cancelIndexes()

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	ownerRegistrar := owner.NewRegistrar(mongoManager.Users(), logger)
	ownerCtx, cancelOwner := context.WithTimeout(context.Background(), ownerBootstrapTimeout)
	if err := ownerRegistrar.EnsureOwner(ownerCtx, cfg.BotOwnerID); err != nil {
		cancelOwner()
		logger.WithError(err).Error("owner bootstrap error")
		fmt.Fprintf(os.Stderr, "owner bootstrap error: %v\n", err)
		os.Exit(1)
	}
	if err := ownerRegistrar.EnsureAdmins(ownerCtx, cfg.BotOwnerID, cfg.AdminIDs); err != nil {
		cancelOwner()
		logger.WithError(err).Error("admin bootstrap error")
		fmt.Fprintf(os.Stderr, "admin bootstrap error: %v\n", err)
		os.Exit(1)
	}
	cancelOwner()

	userRegistrar := user.NewRegistrar(mongoManager.Users(), logger)
	userRepository := domain.NewUserRepository(mongoManager.Users())
	directory := user.NewDirectory(mongoManager.Users())
	statsProvider := store.NewStatsProvider(mongoManager.Users(), mongoManager.ScheduledTasks())
	checker := access.NewChecker(cfg.BotOwnerID, cfg.AdminIDs)
	walletService := wallet.NewService(userRegistrar, cfg.WalletSessionTTL, logger)

	// The dispatcher needs the Telegram client as its sender and the client
	// needs the scheduler, so the sender is bound after the client exists.
	sender := &lateSender{}
	dispatcher := broadcast.NewDispatcher(
		broadcast.NewResolver(directory),
		sender,
		broadcast.DispatcherConfig{
			SendInterval: cfg.BroadcastSendInterval,
			Timeout:      cfg.BroadcastTimeout,
		},
		logger,
	)
	scheduler := broadcast.NewService(
		broadcast.NewMongoStore(mongoManager.ScheduledTasks()),
		dispatcher,
		broadcast.Config{SweepInterval: cfg.ScheduleSweepInterval},
		logger,
	)

	tgClient, err := telegram.NewClient(cfg, logger,
		telegram.WithUserRegistrar(userRegistrar),
		telegram.WithAccessChecker(checker),
		telegram.WithScheduler(scheduler),
		telegram.WithWallet(walletService),
		telegram.WithUserFetcher(userRepository),
		telegram.WithStatsProvider(statsProvider),
	)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}
	sender.bind(tgClient)

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	healthServer := health.NewServer(cfg.HTTPPort, mongoManager, statsProvider, logger)
	healthErr := make(chan error, 1)
	go func() {
		healthErr <- healthServer.ListenAndServe()
	}()

	schedulerCtx, cancelScheduler := context.WithTimeout(context.Background(), schedulerStartTimeout)
	if err := scheduler.Start(schedulerCtx); err != nil {
		cancelScheduler()
		logger.WithError(err).Error("broadcast scheduler start error")
		fmt.Fprintf(os.Stderr, "broadcast scheduler start error: %v\n", err)
		os.Exit(1)
	}
	cancelScheduler()

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	case err := <-healthErr:
		if err != nil {
			logger.WithField("event", "health_failed").WithError(err).Error("health server failed")
		}
	}

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), schedulerShutdownTimeout)
	if err := scheduler.Stop(drainCtx); err != nil {
		logger.WithError(err).Warn("broadcast scheduler did not drain in time")
	}
	cancelDrain()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelHealth()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
