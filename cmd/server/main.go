package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eshop-service/config"
	"eshop-service/internal/api"
	"eshop-service/internal/broker"
	"eshop-service/internal/redisclient"
	"eshop-service/internal/service"
	"eshop-service/internal/store"
	"eshop-service/internal/util"
	"eshop-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "eshop-service"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	if err := run(cfg); err != nil {
		util.GetLogger().Error("Service stopped with error", zap.Error(err))
		util.SyncLogger()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := util.GetLogger()
	logger.Info("Starting eshop service",
		zap.String("env", cfg.Server.Env),
		zap.String("stock_policy", cfg.Business.StockPolicy))

	if cfg.Observ.TracingEnabled {
		tp, err := util.InitTracer("eshop-service", cfg.Observ.JaegerEndpoint)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	db, err := store.NewStore(cfg.Database.Driver, cfg.Database.URL, store.Options{
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Database connected", zap.String("driver", db.DriverName()))

	if cfg.Database.AutoSchema {
		if err := db.EnsureSchema(context.Background()); err != nil {
			return err
		}
	}

	// Interfaces stay untyped nil when a backend is disabled.
	var (
		cache       service.ProductCache
		idempotency service.IdempotencyStore
		events      service.EventPublisher
	)

	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, redisclient.Options{
			ProductTTL:     cfg.Redis.ProductCacheTTL,
			IdempotencyTTL: cfg.Redis.IdempotencyTTL,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisClient.Close()
		cache, idempotency = redisClient, redisClient
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	var lowStock *worker.LowStockWorker
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		events = broker.NewEventPublisher(producer)

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
		lowStock = worker.NewLowStockWorker(consumer, db, cfg.Business.LowStockThreshold)
		logger.Info("Kafka initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	orderService := service.NewOrderService(db, cache, idempotency, events, service.StockPolicy(cfg.Business.StockPolicy))
	productService := service.NewProductService(db, cache)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	api.NewHandler(orderService, productService, db).SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if lowStock != nil {
		g.Go(func() error {
			return lowStock.Start(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server forced to shutdown", zap.Error(err))
		}
		if lowStock != nil {
			if err := lowStock.Stop(); err != nil {
				logger.Warn("Error stopping low-stock worker", zap.Error(err))
			}
		}
		return nil
	})

	err = g.Wait()
	logger.Info("Server exited")
	return err
}
