package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mediaGen/api/config"
	"mediaGen/api/handlers"
	"mediaGen/api/kafka"
	"mediaGen/api/middleware"
	"mediaGen/api/service"
	"mediaGen/core/bootstrap"
	"mediaGen/core/engine"
)

func main() {
	cfg := config.Load()

	logger, _ := zap.NewProduction()
	if cfg.Env == "development" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	logger.Info("API Service starting", zap.String("port", cfg.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := bootstrap.Build(ctx, cfg.Core(), logger)
	if err != nil {
		logger.Fatal("Failed to initialise core", zap.Error(err))
	}
	defer core.Close()

	catalog, err := engine.LoadCatalog(cfg.ModelCatalog)
	if err != nil {
		logger.Fatal("Failed to load model catalog", zap.Error(err))
	}

	producer, err := kafka.NewProducer(strings.Split(cfg.KafkaBrokers, ","))
	if err != nil {
		logger.Fatal("Failed to create Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	var statusCache service.StatusReader
	if core.StatusCache != nil {
		statusCache = core.StatusCache
	}
	taskService := service.NewTaskService(core.Manager, catalog, statusCache, producer, cfg.KafkaTopic, cfg.MaxFileSize, logger)
	// base64 inflates uploads by a third; leave room for several inputs.
	taskHandler := handlers.NewTaskHandler(taskService, 4*cfg.MaxFileSize, logger)

	r := mux.NewRouter()
	r.Use(middleware.TraceID, middleware.Recovery(logger), middleware.Logging(logger))
	taskHandler.Register(r)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Server started", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down API Service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
