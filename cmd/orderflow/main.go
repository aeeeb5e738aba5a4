package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"

	"github.com/orderflow/orderflow/config"
	"github.com/orderflow/orderflow/pkg/api"
	"github.com/orderflow/orderflow/pkg/api/events"
	"github.com/orderflow/orderflow/pkg/api/handlers"
	"github.com/orderflow/orderflow/pkg/logger"
	"github.com/orderflow/orderflow/pkg/metrics"
	"github.com/orderflow/orderflow/pkg/order"
	"github.com/orderflow/orderflow/pkg/saga"
	"github.com/orderflow/orderflow/pkg/services"
	"github.com/orderflow/orderflow/pkg/steps"
	"github.com/orderflow/orderflow/pkg/telemetry/tracing"
	"github.com/orderflow/orderflow/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	appName    = flag.String("app-name", "", "Override app name")
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}

	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	overrides := buildOverrides()

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("Starting Orderflow",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)

	log.Debug("Configuration loaded", "config", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Tracing
	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
		if err != nil {
			log.Error("Failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := shutdownTracing(shutdownCtx); err != nil {
				log.Error("Error shutting down tracing", "error", err)
			}
		}()
		log.Info("Initialized tracing", "exporter", cfg.Tracing.Exporter, "endpoint", cfg.Tracing.Endpoint)
	}

	// Storage backend
	var (
		orderStore     order.Store
		executionStore saga.ExecutionStore
		retryStore     saga.RetryStore
	)
	switch cfg.Storage.Type {
	case "badger":
		opts := badger.DefaultOptions(cfg.Storage.Badger.Path).
			WithSyncWrites(cfg.Storage.Badger.SyncWrites).
			WithValueLogFileSize(cfg.Storage.Badger.ValueLogFileSize).
			WithNumVersionsToKeep(cfg.Storage.Badger.NumVersionsToKeep).
			WithLogger(nil)
		db, err := badger.Open(opts)
		if err != nil {
			log.Error("Failed to open Badger database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Error("Error closing Badger database", "error", err)
			}
		}()

		orderStore, err = order.NewBadgerStore(db)
		if err != nil {
			log.Error("Failed to create order store", "error", err)
			os.Exit(1)
		}
		sagaStore, err := saga.NewBadgerStore(db)
		if err != nil {
			log.Error("Failed to create saga store", "error", err)
			os.Exit(1)
		}
		executionStore = sagaStore
		retryStore = sagaStore
		log.Info("Initialized Badger storage", "path", cfg.Storage.Badger.Path)
	case "memory":
		orderStore = order.NewMemoryStore()
		sagaStore := saga.NewMemoryStore()
		executionStore = sagaStore
		retryStore = sagaStore
		log.Info("Initialized memory storage")
	default:
		orderStore = order.NewMemoryStore()
		sagaStore := saga.NewMemoryStore()
		executionStore = sagaStore
		retryStore = sagaStore
		log.Warn("Unknown storage type, using memory storage", "type", cfg.Storage.Type)
	}

	// Retry guard: Redis when configured, in-process otherwise
	var retryGuard saga.RetryGuard
	if cfg.Storage.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Error("Error closing Redis client", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("Failed to connect to Redis", "address", cfg.Storage.Redis.Address, "error", err)
			os.Exit(1)
		}
		retryGuard, err = saga.NewRedisRetryGuard(redisClient, cfg.Saga.RetryLockTTL, log)
		if err != nil {
			log.Error("Failed to create Redis retry guard", "error", err)
			os.Exit(1)
		}
		log.Info("Initialized Redis retry guard", "address", cfg.Storage.Redis.Address)
	} else {
		retryGuard = saga.NewMemoryRetryGuard()
	}

	// Metrics manager
	metricsCfg := metrics.Config{
		Enabled:             cfg.Metrics.Enabled,
		Port:                cfg.Metrics.Port,
		Path:                cfg.Metrics.Path,
		SagaDurationBuckets: metrics.DefaultConfig().SagaDurationBuckets,
		StepDurationBuckets: metrics.DefaultConfig().StepDurationBuckets,
		HTTPDurationBuckets: metrics.DefaultConfig().HTTPDurationBuckets,
	}
	metricsManager := metrics.NewManager(metricsCfg)

	if metricsManager.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	// Downstream service clients
	inventoryService := services.NewMemoryInventoryService()
	paymentService := services.NewMemoryPaymentService()
	shippingService := services.NewMemoryShippingService()

	sagaSteps := []saga.SagaStep{
		steps.NewInventoryStep(inventoryService),
		steps.NewPaymentStep(paymentService),
		steps.NewShippingStep(shippingService),
	}

	// Event fan-out: structured log plus websocket broadcast
	broadcaster := events.NewBroadcaster()
	defer broadcaster.Close()
	eventRecorder := saga.MultiEventRecorder{
		saga.NewLogEventRecorder(log),
		events.NewSagaRecorder(broadcaster),
	}

	orchestrator, err := saga.NewOrchestrator(orderStore, executionStore, sagaSteps,
		saga.WithEventRecorder(eventRecorder),
		saga.WithMetricsRecorder(metricsManager),
		saga.WithLogger(log),
	)
	if err != nil {
		log.Error("Failed to create orchestrator", "error", err)
		os.Exit(1)
	}

	retrier, err := saga.NewRetryOrchestrator(orchestrator, retryStore, retryGuard, saga.RetryConfig{
		MaxAttempts:            cfg.Saga.MaxRetryAttempts,
		DefaultPaymentMethodID: cfg.Saga.DefaultPaymentMethodID,
	})
	if err != nil {
		log.Error("Failed to create retry orchestrator", "error", err)
		os.Exit(1)
	}

	// HTTP handlers
	orderHandler := handlers.NewOrderHandler(orderStore, executionStore, retryStore, orchestrator, retrier, log)
	healthHandler := handlers.NewHealthHandler(nil)
	wsHandler := handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{})
	go wsHandler.Run(ctx, broadcaster)
	defer wsHandler.Close()

	apiHandlers := &api.Handlers{
		Orders:    orderHandler,
		Health:    healthHandler,
		WebSocket: wsHandler,
	}
	if metricsManager.Enabled() {
		apiHandlers.Metrics = metricsManager
	}

	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	log.Info("Orderflow is running",
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
	)
	log.Info("Press Ctrl+C to stop")

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("HTTP server error", "error", err)
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	log.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", "error", err)
	}

	log.Info("Orderflow stopped gracefully")
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("Orderflow - Order Processing Saga Service\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("Orderflow - Order processing service with saga-based coordination\n\n")
	fmt.Printf("Usage: orderflow [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  orderflow                                 # Run with default config\n")
	fmt.Printf("  orderflow -config config.yaml             # Use specific config file\n")
	fmt.Printf("  orderflow -port 9090 -log-level debug     # Override specific options\n")
	fmt.Printf("  orderflow -version                        # Print version info\n")
}
