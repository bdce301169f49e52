// Command courtside runs the paper-trading bot engine for in-game sports
// prediction markets. It ingests a live tick feed over websocket, drives one
// bot session per (user, event) pair, and exposes an HTTP control surface.
//
// Usage:
//
//	courtside --config config.yaml
//	courtside --feed ws://feed.example.com/ticks --postgres $DATABASE_URL
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/vadiminshakov/courtside/config"
	"github.com/vadiminshakov/courtside/internal/domain"
	"github.com/vadiminshakov/courtside/internal/events"
	"github.com/vadiminshakov/courtside/internal/feed"
	"github.com/vadiminshakov/courtside/internal/registry"
	"github.com/vadiminshakov/courtside/internal/storage/postgres"
	"github.com/vadiminshakov/courtside/server"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.New(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	broadcaster := events.NewBroadcaster(64)

	reg := registry.New(registry.Config{
		Store:           store,
		WalletRecorder:  store,
		Broadcaster:     broadcaster,
		Clock:           domain.FootballClock{},
		WalDir:          cfg.WalDir,
		MinBankroll:     cfg.MinBankroll,
		StartingBalance: cfg.StartingBalance,
		Logger:          logger,
	})

	if cfg.FeedURL != "" {
		feedClient := feed.NewClient(cfg.FeedURL, reg, logger)
		go func() {
			if err := feedClient.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("feed client stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("no feed URL configured, ticks must arrive via control surface peers")
	}

	srv := server.NewServer(cfg.ListenAddr, reg, broadcaster, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}

	reg.StopAll()
	logger.Info("shutdown complete")
}
