package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"busticket/internal/config"
	"busticket/internal/kafka"
	"busticket/internal/logger"
	"busticket/internal/sandbox"
)

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})

	maxRetries := 5
	var err error
	for i := 0; i < maxRetries; i++ {
		log.Info("REDIS", fmt.Sprintf("Attempting to connect to Redis at %s (attempt %d/%d)", cfg.Addr, i+1, maxRetries))
		if err = client.Ping(ctx).Err(); err == nil {
			break
		}
		log.Error("REDIS", fmt.Sprintf("Redis connection error: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Failed to connect to Redis after %d attempts: %v", maxRetries, err))
	}

	log.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Addr, client.Options().DB))
	return client
}

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Dir, "busticket-sandbox", cfg.Log.Level)
	if err != nil {
		log = logger.NewWithWriter(os.Stdout, cfg.Log.Level)
		log.Warn("LOGGER", fmt.Sprintf("Logging to stdout only: %v", err))
	}
	defer log.Close()

	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	log.Info("APP", "Starting seat hold sandbox")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := connectRedis(ctx, cfg.Redis, log)
	defer redisClient.Close()

	catalog, err := sandbox.LoadCatalog(cfg.Server.CatalogPath)
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	locks := sandbox.NewLockStore(redisClient, cfg.Server.SeatLockTTL)
	for _, p := range catalog.Products() {
		if err := locks.MarkSold(ctx, p.ID, p.TakenSeats...); err != nil {
			log.Fatal("REDIS", fmt.Sprintf("Failed to seed sold seats of %s: %v", p.ID, err))
		}
	}
	log.Info("APP", fmt.Sprintf("Loaded %d trips from %s", len(catalog.Products()), cfg.Server.CatalogPath))

	var publisher sandbox.SeatPublisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.HoldEvents, cfg.Kafka.Topics.SeatStatus, log)
		defer producer.Close()
		log.Info("KAFKA", "Kafka producer initialized successfully")

		requiredTopics := []string{cfg.Kafka.Topics.HoldEvents, cfg.Kafka.Topics.SeatStatus}
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, requiredTopics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		publisher = producer
	}

	log.Info("REDIS", "Starting seat unlock subscription")
	if err := sandbox.WatchExpiredLocks(ctx, redisClient, publisher, log); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Seat unlock events disabled: %v", err))
	}

	handler := sandbox.NewHandler(locks, catalog, publisher, cfg.Server.JWTSecret, log)
	if cfg.Server.JWTSecret == "" {
		log.Warn("AUTH", "SANDBOX_JWT_SECRET not set, hold and order routes are unauthenticated")
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Sandbox running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Sandbox started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	cancel()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Sandbox shutdown complete")
	}
}
