package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/variantly/variantly/internal/analytics"
	"github.com/variantly/variantly/internal/config"
	"github.com/variantly/variantly/internal/experiments"
	"github.com/variantly/variantly/internal/experiments/store"
	"github.com/variantly/variantly/internal/server"
	"github.com/variantly/variantly/pkg/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Create logger
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.NewLogger(logLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Open the configured store backend
	st, err := newStore(cfg)
	if err != nil {
		zapLogger.Fatal("Failed to open store", zap.Error(err))
	}

	// Create the configured analytics sink
	sink := newSink(cfg, zapLogger)

	// Create the experiment registry
	registry := experiments.NewRegistry(zapLogger, st, sink)
	defer func() {
		if err := registry.Close(); err != nil {
			zapLogger.Error("Failed to close registry", zap.Error(err))
		}
	}()

	// Create API server
	apiServer := server.NewServer(zapLogger, registry)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		zapLogger.Info("Starting API server", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		zapLogger.Error("Server shutdown failed", zap.Error(err))
	}

	zapLogger.Info("Server exited properly")
}

func newStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(cfg.Store.DSN)
	case "postgres":
		return store.NewPostgresStore(cfg.Store.DSN)
	case "redis":
		return store.NewRedisStore(cfg.Store.Redis.Address, cfg.Store.Redis.Password, cfg.Store.Redis.DB)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

func newSink(cfg *config.Config, zapLogger *zap.Logger) analytics.Sink {
	switch cfg.Analytics.Sink {
	case "kafka":
		return analytics.NewKafkaSink(cfg.Analytics.Kafka.Brokers, cfg.Analytics.Kafka.Topic, zapLogger)
	case "none":
		return analytics.NopSink{}
	default:
		return analytics.NewLogSink(zapLogger)
	}
}
