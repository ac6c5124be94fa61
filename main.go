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

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticket-engine/internal/di"
	"github.com/prohmpiriya/ticket-engine/internal/handler"
	"github.com/prohmpiriya/ticket-engine/internal/metrics"
	"github.com/prohmpiriya/ticket-engine/pkg/config"
	"github.com/prohmpiriya/ticket-engine/pkg/logger"
	"github.com/prohmpiriya/ticket-engine/pkg/middleware"
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
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Ticket Engine...")

	ctx := context.Background()

	// Initialize OpenTelemetry tracing
	tel, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	})
	if err != nil {
		appLog.Warn(fmt.Sprintf("Failed to initialize tracer (continuing without tracing): %v", err))
	} else if cfg.OTel.Enabled {
		appLog.Info("OpenTelemetry tracing initialized")
	}
	if err := metrics.Init(); err != nil {
		appLog.Warn(fmt.Sprintf("Failed to initialize metrics: %v", err))
	}

	infra, err := di.Connect(ctx, cfg, cfg.Kafka.ClientID, appLog)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Infrastructure setup failed: %v", err))
	}
	defer infra.Close()

	// Build dependency injection container
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

	if cfg.Engine.EmbeddedSweeper {
		if err := container.Sweeper.Start(ctx); err != nil {
			appLog.Fatal(fmt.Sprintf("Failed to start reservation sweeper: %v", err))
		}
	}

	// Setup Gin
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DisableConsoleColor()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(appLog))
	router.Use(telemetry.TracingMiddleware())
	router.Use(metrics.Middleware())

	redeemLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.Engine.RedeemRatePerSecond,
		BurstSize:         cfg.Engine.RedeemBurst,
	})
	handler.RegisterRoutes(router, container.Handlers(), handler.RouteConfig{
		Auth: middleware.Auth(middleware.AuthConfig{
			Secret:          cfg.JWT.Secret,
			Issuer:          cfg.JWT.Issuer,
			AllowUserHeader: cfg.JWT.AllowUserHeader && !cfg.IsProduction(),
		}),
		RedeemLimiter: redeemLimiter.Middleware(),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	// Start server in goroutine
	go func() {
		appLog.Info(fmt.Sprintf("Ticket Engine listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	// Give outstanding purchases time to settle
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(fmt.Sprintf("Server forced to shutdown: %v", err))
	}
	container.Sweeper.Stop()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		appLog.Warn(fmt.Sprintf("Failed to flush traces: %v", err))
	}

	appLog.Info("Server exited gracefully")
}
