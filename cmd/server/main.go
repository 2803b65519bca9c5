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

	"blindbox-service/config"
	"blindbox-service/internal/api"
	"blindbox-service/internal/broker"
	"blindbox-service/internal/redisclient"
	"blindbox-service/internal/service"
	"blindbox-service/internal/store"
	"blindbox-service/internal/util"
	"blindbox-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting blindbox service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.Migrate {
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
		logger.Info("Schema applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBox)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	eventPublisher := broker.NewEventPublisher(producer)

	userService := service.NewUserService(db, redisClient, eventPublisher, service.UserConfig{
		JWTSecret:      cfg.Auth.JWTSecret,
		TokenTTL:       cfg.Auth.TokenTTL,
		BcryptCost:     cfg.Auth.BcryptCost,
		InitialBalance: cfg.Business.InitialBalance,
		MaxRecharge:    cfg.Business.MaxRecharge,
	})
	boxCache := service.NewGuardedCache(redisClient, redisclient.BoxTombstoneTTL)
	boxService := service.NewBoxService(db, boxCache, eventPublisher, cfg.Business.BoxCacheTTL)
	purchaseService := service.NewPurchaseService(db, boxCache, redisClient, eventPublisher)
	orderService := service.NewOrderService(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	cacheConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicBox, cfg.Kafka.ConsumerGroup)
	cacheWorker := worker.NewCacheWorker(cacheConsumer, redisClient, db)
	go func() {
		if err := cacheWorker.Start(workerCtx); err != nil {
			logger.Error("Cache worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Users:     userService,
		Boxes:     boxService,
		Purchases: purchaseService,
		Orders:    orderService,
		Revoked:   redisClient,
		JWTSecret: cfg.Auth.JWTSecret,
		Checks: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := cacheWorker.Stop(); err != nil {
		logger.Error("Failed to stop cache worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
