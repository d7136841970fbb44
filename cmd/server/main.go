package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payrail/internal/api"
	"payrail/internal/config"
	"payrail/internal/database"
	"payrail/internal/exchange"
	"payrail/internal/notify"
	"payrail/internal/registry"
	"payrail/internal/service"
	"payrail/internal/worker"

	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := initLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting payment rail service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("db_host", cfg.Database.Host),
		zap.Int("num_chains", len(cfg.Chains)),
		zap.Bool("workers_enabled", cfg.Worker.Enabled))

	// Connect to database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connected successfully")

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.RunMigrations(migrateCtx, db); err != nil {
		migrateCancel()
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	migrateCancel()
	logger.Info("Database migrations applied successfully")

	// Chain adapters
	chains, err := registry.Build(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build chain registry", zap.Error(err))
	}
	defer chains.Close()

	logger.Info("Chain adapters ready", zap.Any("networks", chains.Networks()))

	exchangeClient, err := exchange.NewClient(&cfg.Exchange, logger)
	if err != nil {
		logger.Fatal("Failed to create exchange client", zap.Error(err))
	}

	// Initialize services
	hub := notify.NewHub(db, logger)
	transferService := service.NewTransferService(chains, db, logger)
	feeService := service.NewFeeService(cfg, logger)

	logger.Info("Services initialized")

	apiHandler := api.NewHandler(transferService, db, feeService, hub, logger)
	router := api.SetupRouter(apiHandler, cfg.Server.AllowedOrigins, logger)

	// Create HTTP server
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server",
			zap.String("addr", serverAddr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	var workerManager *worker.WorkerManager
	if cfg.Worker.Enabled {
		workerManager = worker.NewWorkerManager(db, exchangeClient, hub, cfg.Worker, logger)
		workerManager.Start()
		logger.Info("Workers started")
	} else {
		logger.Info("Workers disabled")
	}

	logger.Info("Service initialized successfully",
		zap.String("status", "ready"),
		zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for interrupt signal or server error
	select {
	case err := <-serverErrors:
		logger.Error("HTTP server error", zap.Error(err))
	case sig := <-quit:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	logger.Info("Shutting down service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown workers first
	if workerManager != nil {
		if err := workerManager.Shutdown(10 * time.Second); err != nil {
			logger.Error("Worker shutdown error", zap.Error(err))
		}
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
		httpServer.Close()
	} else {
		logger.Info("HTTP server stopped gracefully")
	}

	logger.Info("Service stopped successfully")
}

func initLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if os.Getenv("ENV") == "production" {
		cfg = zap.NewProductionConfig()
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
		}
		cfg.Level = lvl
	}
	return cfg.Build()
}
