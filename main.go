package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryan-buckman/onosendai/internal/broadcast"
	"github.com/bryan-buckman/onosendai/internal/config"
	"github.com/bryan-buckman/onosendai/internal/database"
	"github.com/bryan-buckman/onosendai/internal/model"
	"github.com/bryan-buckman/onosendai/internal/provider"
	"github.com/bryan-buckman/onosendai/internal/server"
	"github.com/bryan-buckman/onosendai/internal/update"
)

func main() {
	cfg := config.Load()

	settings, err := config.LoadSettings(cfg.ColumnsFile)
	if err != nil {
		log.Fatalf("Failed to load columns: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := broadcast.NewHub()
	var states broadcast.Publisher = hub
	if cfg.RedisURL != "" {
		rdb, err := broadcast.ConnectRedis(ctx, cfg.RedisURL, hub)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
		go rdb.Listen(ctx)
		states = rdb
		log.Printf("Column states shared over Redis")
	}

	db, err := openStore(cfg, states)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	log.Printf("Using %s database", db.DatabaseType())

	registry := provider.NewRegistry(map[model.ProviderKind]provider.Factory{
		model.ProviderTwitter: func() (provider.Adapter, error) {
			return provider.NewTwitter(cfg.TwitterConsumerKey, cfg.TwitterConsumerSecret), nil
		},
		model.ProviderSuccessWhale: func() (provider.Adapter, error) {
			return provider.NewSuccessWhale(cfg.SuccessWhaleURL, nil), nil
		},
		model.ProviderInstapaper: func() (provider.Adapter, error) {
			return provider.NewInstapaper(cfg.InstapaperURL, nil), nil
		},
	})

	updater := update.New(db, registry, update.WithPushBatchSize(cfg.PushBatchSize))
	poller := update.NewPoller(updater, settings.Accounts, settings.Columns, db.SupportsHighConcurrency(), cfg.PollInterval)
	srv := server.New(db, poller, hub)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.ListenAddr) }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
	case <-ctx.Done():
		log.Printf("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

func openStore(cfg *config.Config, states broadcast.Publisher) (database.Store, error) {
	if cfg.DatabaseURL != "" {
		return database.NewPostgres(cfg.DatabaseURL, states)
	}
	return database.New(cfg.DatabasePath, states)
}
