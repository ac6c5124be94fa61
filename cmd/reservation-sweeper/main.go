package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prohmpiriya/ticket-engine/internal/di"
	"github.com/prohmpiriya/ticket-engine/internal/metrics"
	"github.com/prohmpiriya/ticket-engine/pkg/config"
	"github.com/prohmpiriya/ticket-engine/pkg/logger"
	"github.com/prohmpiriya/ticket-engine/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: "reservation-sweeper",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Reservation Sweeper Worker...")

	// A standalone sweeper only sees holds kept in shared storage
	if cfg.Engine.LedgerBackend != "redis" || !cfg.Database.Enabled() {
		appLog.Fatal("Reservation sweeper needs ENGINE_LEDGER_BACKEND=redis and a DATABASE_HOST")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry tracing
	tel, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:       cfg.OTel.Enabled,
		ServiceName:   "reservation-sweeper",
		CollectorAddr: cfg.OTel.CollectorAddr,
		SampleRatio:   cfg.OTel.SampleRatio,
		Environment:   cfg.App.Environment,
	})
	if err != nil {
		appLog.Warn(fmt.Sprintf("Failed to initialize tracer (continuing without tracing): %v", err))
	} else {
		defer tel.Shutdown(context.Background())
	}
	if err := metrics.Init(); err != nil {
		appLog.Warn(fmt.Sprintf("Failed to initialize metrics: %v", err))
	}

	infra, err := di.Connect(ctx, cfg, "reservation-sweeper", appLog)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Infrastructure setup failed: %v", err))
	}
	defer infra.Close()

	container, err := di.NewContainer(ctx, &di.ContainerConfig{
		Config:   cfg,
		DB:       infra.DB,
		Redis:    infra.Redis,
		Producer: infra.Producer,
		Logger:   appLog,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to build container: %v", err))
	}
	defer container.Close()

	if err := container.Sweeper.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start reservation sweeper: %v", err))
	}
	appLog.Info("Reservation Sweeper Worker started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down worker...")
	container.Sweeper.Stop()
	cancel()

	stats := container.Sweeper.GetStats()
	appLog.Info(fmt.Sprintf("Worker exited gracefully (swept=%d, expired=%d)", stats.TotalSwept, stats.TotalExpired))
}
