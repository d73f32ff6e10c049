package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gps-ingest-gateway/internal/accumulator"
	"gps-ingest-gateway/internal/config"
	"gps-ingest-gateway/internal/coordinator"
	"gps-ingest-gateway/internal/eventbus"
	"gps-ingest-gateway/internal/httpapi"
	"gps-ingest-gateway/internal/jobqueue"
	"gps-ingest-gateway/internal/logger"
	"gps-ingest-gateway/internal/mqttapi"
	"gps-ingest-gateway/internal/position"
	"gps-ingest-gateway/internal/processor"
	"gps-ingest-gateway/internal/store"
	pkgmqtt "gps-ingest-gateway/pkg/mqtt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("Failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	env := cfg.Server.Environment
	if env == "" {
		env = "development"
	}
	if err := logger.Init(env); err != nil {
		os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting gps ingestion gateway", zap.String("environment", env))

	if cfg.Redis.Addr == "" {
		logger.Fatal("Redis configuration is missing. Please set REDIS_ADDR.")
	}

	bus := eventbus.New()

	rdb := store.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	st := store.New(rdb, store.Config{
		MaxHistoryEntries:   cfg.Ingest.MaxHistoryEntries,
		LatestKeyTTL:        time.Duration(cfg.Ingest.LatestKeyTTLSeconds) * time.Second,
		CleanupEnabled:      cfg.Ingest.CleanupEnabled,
		MaxDeviceInactivity: time.Duration(cfg.Ingest.MaxDeviceInactivityMS) * time.Millisecond,
	})

	var backend jobqueue.Backend
	if cfg.JobStore.Host != "" {
		backend, err = jobqueue.NewPostgresBackend(cfg.JobStore.DSN())
		if err != nil {
			logger.Fatal("failed to open durable job store", zap.Error(err))
		}
	} else {
		logger.Warn("JOBSTORE_DB_HOST not set, falling back to an in-memory job queue (not durable across restarts)")
		backend = jobqueue.NewMemoryBackend()
	}

	jobs := jobqueue.NewManager(jobqueue.Config{
		CompressPayloads:   cfg.Ingest.CompressPayloads,
		HistoryConcurrency: cfg.Ingest.HistoryQueueConcurrency,
		HistoryBaseBackoff: cfg.Ingest.HistoryRetryBaseDelay,
		HistoryKeepOK:      cfg.Ingest.KeepCompletedHistory,
		HistoryKeepFailed:  cfg.Ingest.KeepFailedHistory,
		LatestConcurrency:  cfg.Ingest.LatestQueueConcurrency,
		LatestBaseBackoff:  cfg.Ingest.LatestRetryBaseDelay,
		LatestKeepOK:       cfg.Ingest.KeepCompletedLatest,
		LatestKeepFailed:   cfg.Ingest.KeepFailedLatest,
		MaxAttempts:        cfg.Ingest.JobMaxAttempts,
	}, backend, st, bus)

	accum := accumulator.New(accumulator.Config{
		BatchInterval: time.Duration(cfg.Ingest.BatchIntervalMS) * time.Millisecond,
		MaxBatchSize:  cfg.Ingest.BatchMaxSize,
	}, jobs, bus)

	proc := processor.New(processor.Config{
		Limits: position.Limits{
			MaxAge:    cfg.Ingest.MaxAge,
			MaxFuture: cfg.Ingest.MaxFuture,
		},
		DuplicateEnabled: cfg.Ingest.DuplicateEnabled,
		TimeThreshold:    time.Duration(cfg.Ingest.DuplicateTimeThresholdMS) * time.Millisecond,
		CoordThreshold:   cfg.Ingest.DuplicateCoordinateThreshold,
		CacheSize:        cfg.Ingest.DuplicateCacheSize,
	}, bus)

	coord := coordinator.New(coordinator.Config{
		ShutdownDeadline: cfg.Ingest.ShutdownDeadline,
	}, st, jobs, accum, proc, bus)

	var mqttAdapter *mqttapi.Adapter
	if cfg.MQTT.Enabled {
		mqttAdapter = mqttapi.New(mqttapi.Config{
			ClientConfig: &pkgmqtt.Config{
				Broker:         cfg.MQTT.Broker,
				ClientID:       cfg.MQTT.ClientID,
				Username:       cfg.MQTT.Username,
				Password:       cfg.MQTT.Password,
				CleanSession:   true,
				KeepAlive:      cfg.MQTT.KeepAlive,
				ConnectTimeout: cfg.MQTT.ConnectTimeout,
				AutoReconnect:  true,
			},
			LocationTopic: cfg.MQTT.LocationTopic,
			QoS:           cfg.MQTT.QoS,
		}, proc, accum)
	}

	coord.Start()
	if mqttAdapter != nil {
		if err := mqttAdapter.Start(); err != nil {
			logger.Fatal("failed to start mqtt ingestion", zap.Error(err))
		}
	}

	handler := httpapi.New(proc, accum, st, coord)
	router := httpapi.NewRouter(cfg, handler)

	host := cfg.Server.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}
	addr := net.JoinHostPort(host, port)

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Ingest.ShutdownDeadline+5*time.Second)
	defer cancel()

	if mqttAdapter != nil {
		mqttAdapter.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.Error("coordinator shutdown error", zap.Error(err))
	}

	logger.Info("gps ingestion gateway exited cleanly")
}
