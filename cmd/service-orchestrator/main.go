package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	apiserver "github.com/meridian-cloud/service-orchestrator/internal/api_server"
	"github.com/meridian-cloud/service-orchestrator/internal/config"
	"github.com/meridian-cloud/service-orchestrator/internal/handlers"
	"github.com/meridian-cloud/service-orchestrator/internal/monitor"
	"github.com/meridian-cloud/service-orchestrator/internal/provisioning"
	"github.com/meridian-cloud/service-orchestrator/internal/provisioning/factory"
	"github.com/meridian-cloud/service-orchestrator/internal/service"
	"github.com/meridian-cloud/service-orchestrator/internal/store"
	"github.com/meridian-cloud/service-orchestrator/internal/tasks"
	"github.com/meridian-cloud/service-orchestrator/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Service.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	db, err := store.InitDB(cfg)
	if err != nil {
		logger.Fatal("initializing database", zap.Error(err))
	}
	dataStore := store.NewStore(db)
	defer dataStore.Close()

	dispatcher := webhook.New(webhook.Config{
		Endpoint:   cfg.Webhook.Endpoint,
		Secret:     cfg.Webhook.Secret,
		Timeout:    cfg.Webhook.Timeout,
		MaxRetries: cfg.Webhook.MaxRetries,
	}, logger)

	providers := factory.New(dataStore, provisioning.ShellRunner{}, factory.Settings{
		BaseDomain:     cfg.Service.BaseDomain,
		ProbeTimeout:   cfg.Monitor.ProbeTimeout,
		VerifyTimeout:  cfg.Provisioner.VerifyTimeout,
		VerifyInterval: cfg.Provisioner.VerifyInterval,
	}, logger)
	orchestrator := provisioning.NewOrchestrator(dataStore, logger)

	checker := monitor.NewHealthChecker(dataStore, dispatcher, cfg.Monitor, logger)
	collector := monitor.NewMetricsCollector(dataStore, monitor.NewProviderSampler(providers), dispatcher, cfg.Monitor, logger)
	scheduler := monitor.NewScheduler(dataStore, checker, collector, cfg.Monitor, logger)
	defer scheduler.Stop()

	queue := tasks.NewQueue(cfg.Provisioner.Workers, cfg.Provisioner.QueueSize, logger)
	queue.Start()
	defer queue.Stop()

	runner := tasks.NewRunner(queue, dataStore, orchestrator, providers, dispatcher, scheduler, checker, cfg.Provisioner, logger)

	instanceService := service.NewInstanceService(dataStore, runner, providers, dispatcher, scheduler, cfg.Provisioner, logger)
	alertService := service.NewAlertService(dataStore, logger)
	handler := handlers.New(instanceService, alertService, logger)

	listener, err := net.Listen("tcp", cfg.Service.Address)
	if err != nil {
		logger.Fatal("listening", zap.String("address", cfg.Service.Address), zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Resume monitoring of instances that were active before the restart.
	if err := scheduler.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrapping monitor schedules", zap.Error(err))
	}

	srv := apiserver.New(cfg, listener, handler, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server failed", zap.Error(err))
	}
	logger.Info("shutting down")
}

func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(parsed)
	return zapCfg.Build()
}
