package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/soltixdb/shardgate/internal/config"
	"github.com/soltixdb/shardgate/internal/feed"
	"github.com/soltixdb/shardgate/internal/grpc"
	"github.com/soltixdb/shardgate/internal/logging"
	"github.com/soltixdb/shardgate/internal/metadata"
	"github.com/soltixdb/shardgate/internal/proxy"
	"github.com/soltixdb/shardgate/internal/router"
	"github.com/soltixdb/shardgate/internal/utils"
)

var (
	Version   = "dev"     // Injected via ldflags during build
	GitCommit = "unknown" // Injected via ldflags during build
	BuildTime = "unknown" // Injected via ldflags during build
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	if Version != "dev" {
		utils.Version = Version
	}
	if cfg.Client.Name == "" {
		cfg.Client.Name = utils.ClientName(utils.Version)
	}
	logger.Info("shardgate starting...",
		"version", utils.Version, "commit", GitCommit, "build time", BuildTime, "client", cfg.Client.Name)

	logger.Info("Connecting to etcd", "endpoints", cfg.Etcd.Endpoints)
	store, err := metadata.NewEtcdStore(cfg.Etcd, logger)
	if err != nil {
		logger.Fatal("Failed to connect to etcd", "error", err)
	}
	defer func() { _ = store.Close() }()

	coord, err := proxy.NewCoordinator(cfg, store, logger)
	if err != nil {
		logger.Fatal("Failed to create coordinator", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var publisher *feed.Publisher
	if cfg.Feed.Enabled {
		logger.Info("Connecting to event feed", "type", cfg.Feed.Type, "url", cfg.Feed.URL)
		transport, err := feed.NewTransport(cfg.Feed)
		if err != nil {
			logger.Fatal("Failed to connect to event feed", "error", err)
		}
		publisher = feed.NewPublisher(transport, cfg.Feed.SubjectPrefix, cfg.Feed.Compress, logger)
		publisher.Start(ctx)
		coord.AddObserver(publisher)
	}

	if err := coord.RegisterAll(ctx, cfg.Client.Clusters); err != nil {
		logger.Fatal("Failed to register clusters", "clusters", cfg.Client.Clusters, "error", err)
	}
	coord.Start(ctx)
	logger.Info("Clusters registered", "clusters", coord.Names())

	if cfg.Auth.Enabled {
		logger.Info("API key authentication enabled", "num_keys", len(cfg.Auth.APIKeys))
	} else {
		logger.Warn("API key authentication DISABLED - all requests will be allowed")
	}

	health := grpc.NewHealthServer(cfg.GetGRPCAddress(), coord, utils.GRPCHealthRefreshInterval, logger)
	go func() {
		if err := health.Start(ctx); err != nil {
			logger.Fatal("Failed to start gRPC health server", "error", err)
		}
	}()

	app := router.New(logger, coord, store, cfg)
	go func() {
		addr := cfg.GetServerAddress()
		logger.Info("Admin API listening", "address", addr)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start admin API", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), utils.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Admin API forced to shutdown", "error", err)
	}
	health.Stop()
	coord.Stop()
	cancel()

	if publisher != nil {
		if err := publisher.Stop(); err != nil {
			logger.Error("Failed to stop event feed", "error", err)
		}
		published, dropped, failed := publisher.Stats()
		logger.Info("Event feed stopped", "published", published, "dropped", dropped, "failed", failed)
	}

	logger.Info("shardgate exited")
}
