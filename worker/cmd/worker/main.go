package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mediaGen/core/bootstrap"
	"mediaGen/core/engine"
	"mediaGen/core/models"
	"mediaGen/worker/config"
	"mediaGen/worker/kafka"
	"mediaGen/worker/pool"
	"mediaGen/worker/service"
)

func main() {
	cfg := config.Load()

	logger, _ := zap.NewProduction()
	if cfg.Env == "development" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	logger.Info("Worker Service starting",
		zap.Int("workers", cfg.WorkerCount),
		zap.String("topic", cfg.KafkaTopic),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog, err := engine.LoadCatalog(cfg.ModelCatalog)
	if err != nil {
		logger.Fatal("Failed to load model catalog", zap.Error(err))
	}

	eng, err := engine.NewGenAIEngine(ctx, engine.GenAIConfig{
		APIKey:       cfg.GeminiAPIKey,
		RateInterval: cfg.EngineRateInterval,
	}, catalog, logger)
	if err != nil {
		logger.Fatal("Failed to create generation engine", zap.Error(err))
	}

	opts := cfg.Core()
	opts.Fetcher = eng
	core, err := bootstrap.Build(ctx, opts, logger)
	if err != nil {
		logger.Fatal("Failed to initialise core", zap.Error(err))
	}
	defer core.Close()

	processor := service.NewProcessor(core.Manager, eng, catalog, service.Options{
		PollInterval:    cfg.PollInterval,
		PollMaxAttempts: cfg.PollMaxAttempts,
		DedupWindow:     cfg.DedupWindow,
		MaxInputEdge:    cfg.MaxInputEdge,
	}, logger)

	consumer, err := kafka.NewConsumer(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaGroupID, logger)
	if err != nil {
		logger.Fatal("Failed to create Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	workers := pool.NewWorkerPool(cfg.WorkerCount)
	err = consumer.Consume(ctx, cfg.KafkaTopic, func(_ context.Context, msg *models.GenerationMessage) error {
		// The session context ends at every rebalance; tasks run on the
		// process context instead.
		return workers.Run(ctx, msg, processor.Process)
	})
	if err != nil {
		logger.Error("Consumer stopped", zap.Error(err))
	}

	logger.Info("Shutting down Worker Service, waiting for in-flight tasks")
	workers.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsSrv.Shutdown(shutdownCtx)
}
