package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"review-service/internal/config"
	"review-service/internal/server"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Load environment variables from .env
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, relying on system env vars")
	}

	// Load app config
	cfg := config.Load()

	// Initialize servers (HTTP + gRPC)
	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise review service", zap.Error(err))
	}

	// Channel to capture errors
	errCh := make(chan error, 2)

	// Run HTTP server in background
	go func() {
		if err := srv.StartHTTP(); err != nil {
			errCh <- err
		}
	}()

	// Run gRPC server in background
	go func() {
		if err := srv.StartGRPC(cfg.GRPCAddr); err != nil {
			errCh <- err
		}
	}()

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("shutting down review service", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
}
