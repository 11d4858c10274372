package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/blackbox/internal/api"
	"github.com/miradorstack/blackbox/internal/cache"
	"github.com/miradorstack/blackbox/internal/config"
	"github.com/miradorstack/blackbox/internal/engine"
	"github.com/miradorstack/blackbox/internal/ingest"
	"github.com/miradorstack/blackbox/internal/metrics"
	"github.com/miradorstack/blackbox/internal/services"
	"github.com/miradorstack/blackbox/internal/store"
	"github.com/miradorstack/blackbox/internal/utils"
	"github.com/miradorstack/blackbox/internal/validate"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting blackbox",
		slog.String("grpc_address", cfg.Server.GRPCAddress),
		slog.String("http_address", cfg.Server.HTTPAddress),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("lock", cfg.Lock.Backend))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	locker, err := openLocker(cfg.Lock, logger)
	if err != nil {
		logger.Error("failed to initialise detection lock", slog.Any("error", err))
		os.Exit(1)
	}
	defer locker.Close()

	eng, err := engine.New(st, engine.Config{
		ErrorThreshold:        cfg.Engine.ErrorThreshold,
		HighSeverityThreshold: cfg.Engine.HighSeverityThreshold,
		DetectionWindow:       cfg.Engine.DetectionWindow,
		CorrelationWindow:     cfg.Engine.CorrelationWindow,
		MessageGroupLength:    cfg.Engine.MessageGroupLength,
		RequestIndexSize:      cfg.Engine.RequestIndexSize,
	},
		engine.WithLogger(logger),
		engine.WithLocker(locker),
		engine.WithRecorder(metrics.Prometheus{}),
	)
	if err != nil {
		logger.Error("failed to build engine", slog.Any("error", err))
		os.Exit(1)
	}

	validator, err := validate.NewSchemaValidator(logger)
	if err != nil {
		logger.Error("failed to compile event schema", slog.Any("error", err))
		os.Exit(1)
	}

	incidentService := services.NewIncidentService(logger, st, eng, validator)

	server, err := api.NewServer(cfg.Server, services.NewGRPCService(logger, incidentService), logger)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}
	go server.WatchHealth(ctx, incidentService.Health, cfg.Server.HealthInterval)

	httpServer, err := api.NewHTTPServer(cfg.Server, api.NewGateway(incidentService, logger, cfg.Server.CORSOrigins).Handler())
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	var subscriber *ingest.Subscriber
	if cfg.NATS.Enabled {
		subscriber, err = ingest.NewSubscriber(cfg.NATS, incidentService, logger)
		if err != nil {
			logger.Error("failed to connect to nats", slog.Any("error", err))
			os.Exit(1)
		}
		if err := subscriber.Start(ctx); err != nil {
			logger.Error("failed to subscribe to event stream", slog.Any("error", err))
			os.Exit(1)
		}
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("gRPC server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	go func() {
		logger.Info("REST gateway listening", slog.String("address", httpServer.Address()))
		if serveErr := httpServer.Start(); serveErr != nil {
			logger.Error("REST gateway exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if subscriber != nil {
		if err := subscriber.Close(); err != nil {
			logger.Warn("nats drain", slog.Any("error", err))
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("REST gateway shutdown", slog.Any("error", err))
	}
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("blackbox stopped", slog.Duration("ingest_p95", incidentService.LatencyP95()))
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (store.Store, error) {
	if cfg.Driver != config.DriverPostgres {
		return store.NewMemoryStore(nil), nil
	}
	pg, err := store.NewPostgresStore(ctx, store.PostgresOptions{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		Migrate:         cfg.Migrate,
	}, logger)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

func openLocker(cfg config.LockConfig, logger *slog.Logger) (cache.Locker, error) {
	if cfg.Backend != config.LockValkey {
		return cache.NewLocalLocker(), nil
	}
	vl, err := cache.NewValkeyLocker(cache.ValkeyConfig{
		Addr:           cfg.Addr,
		Username:       cfg.Username,
		Password:       cfg.Password,
		DB:             cfg.DB,
		TLS:            cfg.TLS,
		TTL:            cfg.TTL,
		DialTimeout:    cfg.DialTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryInterval:  cfg.RetryInterval,
		AcquireTimeout: cfg.AcquireTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	return vl, nil
}
