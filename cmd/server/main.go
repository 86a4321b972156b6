package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/threadhub/realtime/internal/infrastructure/config"
	"github.com/threadhub/realtime/internal/infrastructure/logging"
	"github.com/threadhub/realtime/internal/infrastructure/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.Default()
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		logger = logging.NewDefault()
	}
	defer logger.Sync()

	logger.Info("starting realtime service",
		zap.String("port", cfg.Server.Port),
		zap.Duration("ping_interval", cfg.Liveness.PingInterval),
	)

	srv := server.NewServer(cfg, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
			os.Exit(1)
		}
	case err := <-errChan:
		logger.Fatal("server failed", zap.Error(err))
	}
}
