package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pildhora-sync/internal/config"
	"pildhora-sync/internal/logger"
	"pildhora-sync/internal/service"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; real deployments configure through the environment
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "pildhora-sync")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	svc, err := service.NewSyncService(cfg, log)
	if err != nil {
		log.Fatal("Failed to build sync service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.Fatal("Failed to start sync service", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("Shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	svc.Stop()
}
