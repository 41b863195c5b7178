package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GeoPulse/geopulse-backend/config"
	"github.com/GeoPulse/geopulse-backend/handlers"
	"github.com/GeoPulse/geopulse-backend/internal/events"
	"github.com/GeoPulse/geopulse-backend/internal/location"
	"github.com/GeoPulse/geopulse-backend/internal/websocket"
	"github.com/GeoPulse/geopulse-backend/logger"
	"github.com/GeoPulse/geopulse-backend/router"
	"github.com/GeoPulse/geopulse-backend/services"
	"github.com/GeoPulse/geopulse-backend/store"
	"github.com/GeoPulse/geopulse-backend/store/memstore"
	"github.com/GeoPulse/geopulse-backend/store/redisstore"
	"github.com/GeoPulse/geopulse-backend/types"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Initialize logger
	logger.InitLogger()
	log := logger.GetLogger()
	defer func() { _ = logger.Close() }()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if dump, err := cfg.Redacted(); err == nil {
		log.Debugf("Loaded configuration:\n%s", dump)
	}

	// Initialize Redis client when the redis event backend is selected
	var redisClient *redis.Client
	if cfg.EventService.Backend == config.EventBackendRedis {
		redisOptions := &redis.Options{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}

		if cfg.Redis.UseTLS {
			redisOptions.TLSConfig = &tls.Config{
				ServerName: cfg.Redis.Address,
				MinVersion: tls.VersionTLS12,
			}
		}

		redisClient = redis.NewClient(redisOptions)
		defer func() { _ = redisClient.Close() }()
	}

	// Broadcast broker: in-memory stream or Redis pub/sub
	eventCfg := events.Config{
		PublishTimeout:   time.Duration(cfg.EventService.PublishTimeoutSeconds) * time.Second,
		SubscribeTimeout: time.Duration(cfg.EventService.SubscribeTimeoutSeconds) * time.Second,
		EventBufferSize:  cfg.EventService.EventBufferSize,
	}

	var broker events.Broker
	if redisClient != nil {
		broker = events.NewRedisPublisher(redisClient, eventCfg)
	} else {
		broker = events.NewStream(eventCfg)
	}
	eventService := events.NewService(broker)

	// Last-fix store
	fixTTL := time.Duration(cfg.Location.FixTTLSeconds) * time.Second
	var fixes store.FixStore
	if redisClient != nil {
		fixes = redisstore.NewFixStore(redisClient, fixTTL)
	} else {
		fixes = memstore.NewFixStore(fixTTL)
	}

	// Record the latest published fix per device
	if err := eventService.RegisterHandler("last_fix_recorder", services.NewLastFixRecorder(fixes)); err != nil {
		log.Fatalf("Failed to register fix recorder: %v", err)
	}

	// Location provider and feed manager
	batchPolicy, err := types.ParseBatchPolicy(cfg.Location.BatchPolicy)
	if err != nil {
		log.Fatalf("Invalid batch policy: %v", err)
	}
	providerFactory := location.SimulatedProviderFactory(cfg.Location)
	feedManager := services.NewFeedManager(providerFactory, eventService, batchPolicy)

	// WebSocket hub
	hub := websocket.NewHub(eventService)
	wsHandler := websocket.NewHandler(hub, &cfg.Server)

	// HTTP handlers
	healthService := services.NewHealthService(redisClient, feedManager, cfg.Server.Version)
	deps := router.Dependencies{
		Config:          cfg,
		HealthHandler:   handlers.NewHealthHandler(healthService),
		LocationHandler: handlers.NewLocationHandler(feedManager, fixes),
		WSHandler:       wsHandler,
		Logger:          log,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.SetupRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		log.Errorw("WebSocket hub shutdown error", "error", err)
	}
	feedManager.Shutdown()
	if err := eventService.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Event service shutdown error", "error", err)
	}

	log.Info("Server stopped")
}
