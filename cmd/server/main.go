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

	"github.com/Wafaqih/rekbernexo/config"
	"github.com/Wafaqih/rekbernexo/internal/api"
	"github.com/Wafaqih/rekbernexo/internal/broker"
	"github.com/Wafaqih/rekbernexo/internal/fee"
	"github.com/Wafaqih/rekbernexo/internal/redisclient"
	"github.com/Wafaqih/rekbernexo/internal/service"
	"github.com/Wafaqih/rekbernexo/internal/storage"
	"github.com/Wafaqih/rekbernexo/internal/store"
	"github.com/Wafaqih/rekbernexo/internal/util"
	"github.com/Wafaqih/rekbernexo/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting rekber service")

	tp, err := util.InitTracer(util.TracerConfig{
		ServiceName:    "rekber-service",
		Environment:    cfg.Server.Env,
		JaegerEndpoint: cfg.Observ.JaegerEndpoint,
		SampleRatio:    cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(store.Config{
		Driver:           cfg.Database.Driver,
		URL:              cfg.Database.URL,
		OperationTimeout: cfg.Database.OperationTimeout,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	fees, err := fee.LoadSchedule(cfg.Business.FeeScheduleFile)
	if err != nil {
		logger.Fatal("Failed to load fee schedule", zap.Error(err))
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicNotifications))

	eventPublisher := broker.NewEventPublisher(producer)

	dealService := service.NewDealService(db, eventPublisher, fees, service.Options{
		AdminIDs:     cfg.Business.AdminIDs,
		UnpaidExpiry: cfg.Business.UnpaidExpiry,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sweeper, err := worker.NewSweeper(dealService, redisClient, worker.SweeperConfig{
		Interval:          cfg.Business.SweepInterval,
		UnpaidExpiry:      cfg.Business.UnpaidExpiry,
		AutoCompleteAfter: cfg.Business.AutoCompleteAfter,
		ReminderAfter:     cfg.Business.ReminderAfter,
		Workers:           cfg.Business.SweepWorkers,
		BatchSize:         cfg.Business.SweepBatchSize,
	})
	if err != nil {
		logger.Fatal("Failed to create sweeper", zap.Error(err))
	}
	go func() {
		if err := sweeper.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Sweeper error", zap.Error(err))
		}
	}()

	commandConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCommands, cfg.Kafka.ConsumerGroup)
	commandWorker := worker.NewCommandWorker(commandConsumer, dealService, redisClient, eventPublisher)
	go func() {
		if err := commandWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Command worker error", zap.Error(err))
		}
	}()

	proofs, err := storage.NewProofStorage(cfg.Business.ProofDir, cfg.Business.ProofMaxMB)
	if err != nil {
		logger.Fatal("Failed to prepare proof storage", zap.Error(err))
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(dealService, api.Options{
		JWTSecret:          cfg.Auth.JWTSecret,
		RateLimitPerMinute: cfg.Auth.RateLimitPerMinute,
		Proofs:             proofs,
		Checks: map[string]api.Pinger{
			"database": db,
			"redis":    redisClient,
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	var metricsSrv *http.Server
	if port := cfg.Observ.PrometheusPort; port != "" && port != cfg.Server.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%s", port), Handler: mux}
		go func() {
			logger.Info("Starting metrics server", zap.String("port", port))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	workerCancel()
	sweeper.Stop()
	if err := commandWorker.Stop(); err != nil {
		logger.Warn("Error stopping command worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
