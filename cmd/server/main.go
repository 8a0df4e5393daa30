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

	"shea-order-service/config"
	"shea-order-service/internal/api"
	"shea-order-service/internal/broker"
	"shea-order-service/internal/delivery"
	"shea-order-service/internal/notify"
	"shea-order-service/internal/paystack"
	"shea-order-service/internal/redisclient"
	"shea-order-service/internal/service"
	"shea-order-service/internal/store"
	"shea-order-service/internal/store/memory"
	"shea-order-service/internal/util"
	"shea-order-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting shea order service")

	tp, err := util.InitTracer("shea-order-service", cfg.Server.Env, cfg.Observ.JaegerEndpoint, cfg.Observ.SampleRatio)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	var readiness []func(context.Context) error

	var db store.Store
	if cfg.Database.URL != "" {
		pg, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := pg.Migrate(context.Background()); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		readiness = append(readiness, func(ctx context.Context) error { return pg.GetDB().PingContext(ctx) })
		db = pg
		log.Println("Database connected")
	} else {
		db = memory.NewSeeded()
		logger.Warn("DATABASE_URL not set, using the in-memory store")
	}
	defer db.Close()

	checkoutOpts := service.CheckoutOptions{
		LockTTL:        cfg.Business.CheckoutLockTTL,
		IdempotencyTTL: cfg.Business.IdempotencyTTL,
		AdminEmail:     cfg.Business.AdminEmail,
	}
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, checkout locks and idempotency disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		checkoutOpts.Locker = redisClient
		checkoutOpts.Idempotency = redisClient
		readiness = append(readiness, redisClient.Ping)
		log.Println("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	notifier := broker.NewEventNotifier(producer)
	gateway := paystack.NewClient(cfg.Paystack)
	quoter := delivery.NewCalculator(cfg.Delivery)
	ledger := service.NewStockLedger()

	services := api.Services{
		Carts:         service.NewCartService(db),
		Checkout:      service.NewCheckoutService(db, gateway, quoter, notifier, checkoutOpts),
		Sales:         service.NewSaleService(db, ledger, service.NewLineItemValidator(), notifier),
		Payments:      service.NewPaymentReconciler(db, gateway, notifier, cfg.Paystack.SecretKey, cfg.Business.AdminEmail),
		Cancellations: service.NewCancellationService(db, gateway, ledger, notifier, cfg.Business.CancellationPenaltyRatio, cfg.Business.AdminEmail),
		Ready: func(ctx context.Context) error {
			for _, check := range readiness {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, db, notify.NewLogMailer())
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Notification worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(services, cfg.Auth.JWTSecret)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		log.Printf("Error stopping notification worker: %v", err)
	}

	log.Println("Server exited")
}
