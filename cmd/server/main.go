package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Dhoini/payment-reconciler/config"
	"github.com/Dhoini/payment-reconciler/internal/app"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/joho/godotenv"
)

func main() {
	// .env необязателен: в контейнере переменные приходят из окружения
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.INFO).Fatal("Failed to load configuration: %v", err)
	}

	log := newLogger(cfg.Logging)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("Failed to initialize application", "error", err)
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		log.Errorw("Server stopped with error", "error", err)
		return
	}
	log.Info("Server stopped gracefully")
}

func newLogger(cfg config.LoggingConfig) *logger.Logger {
	level := logger.ParseLevel(cfg.Level)
	if os.Getenv("DEBUG") == "true" {
		level = logger.DEBUG
	}
	if cfg.Format == "json" {
		return logger.NewJSON(level)
	}
	return logger.New(level)
}
