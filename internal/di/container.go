package di

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/ticket-engine/internal/admission"
	"github.com/prohmpiriya/ticket-engine/internal/catalog"
	"github.com/prohmpiriya/ticket-engine/internal/gateway"
	"github.com/prohmpiriya/ticket-engine/internal/handler"
	"github.com/prohmpiriya/ticket-engine/internal/ledger"
	"github.com/prohmpiriya/ticket-engine/internal/notify"
	"github.com/prohmpiriya/ticket-engine/internal/purchase"
	"github.com/prohmpiriya/ticket-engine/internal/repository"
	"github.com/prohmpiriya/ticket-engine/internal/voucher"
	"github.com/prohmpiriya/ticket-engine/internal/worker"
	"github.com/prohmpiriya/ticket-engine/pkg/config"
	"github.com/prohmpiriya/ticket-engine/pkg/database"
	"github.com/prohmpiriya/ticket-engine/pkg/kafka"
	"github.com/prohmpiriya/ticket-engine/pkg/logger"
	pkgredis "github.com/prohmpiriya/ticket-engine/pkg/redis"
	"github.com/prohmpiriya/ticket-engine/pkg/retry"
)

// Container holds all dependencies for the ticket engine
type Container struct {
	// Infrastructure
	DB       *database.PostgresDB
	Redis    *pkgredis.Client
	Producer *kafka.Producer

	// Repositories
	CatalogRepo repository.CatalogRepository
	OrderRepo   repository.OrderRepository

	// Publishers
	EventPublisher purchase.EventPublisher
	Notifier       notify.Notifier

	// Services
	Ledger       ledger.Ledger
	Vouchers     voucher.Evaluator
	Registry     admission.Registry
	Gateway      gateway.PaymentGateway
	Orchestrator purchase.Orchestrator
	Catalog      catalog.Service

	// Workers
	Sweeper *worker.ReservationSweeper

	// Handlers
	HealthHandler   *handler.HealthHandler
	CatalogHandler  *handler.CatalogHandler
	PurchaseHandler *handler.PurchaseHandler
	TicketHandler   *handler.TicketHandler
	AdminHandler    *handler.AdminHandler
}

// ContainerConfig contains configuration for building the container.
// DB, Redis and Producer are optional; the matching in-memory or no-op
// implementations are used when they are nil.
type ContainerConfig struct {
	Config   *config.Config
	DB       *database.PostgresDB
	Redis    *pkgredis.Client
	Producer *kafka.Producer
	Logger   *logger.Logger
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *ContainerConfig) (*Container, error) {
	if cfg == nil || cfg.Config == nil {
		return nil, fmt.Errorf("container config is required")
	}
	appCfg := cfg.Config
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	c := &Container{
		DB:       cfg.DB,
		Redis:    cfg.Redis,
		Producer: cfg.Producer,
	}

	casRetry := &retry.Config{
		MaxAttempts:     appCfg.Engine.CASMaxAttempts,
		InitialInterval: appCfg.Engine.CASInitialBackoff,
		JitterFactor:    0.2,
	}

	// Initialize stores
	ledgerStore, err := c.ledgerStore(ctx, appCfg.Engine.LedgerBackend, log)
	if err != nil {
		return nil, err
	}

	var (
		voucherStore   voucher.Store
		admissionStore admission.Store
	)
	if c.DB != nil {
		pool := c.DB.Pool()
		c.CatalogRepo = repository.NewPostgresCatalogRepository(pool)
		c.OrderRepo = repository.NewPostgresOrderRepository(pool)
		voucherStore = voucher.NewPostgresStore(pool)
		admissionStore = admission.NewPostgresStore(pool)
	} else {
		log.Warn("No database configured, catalog, orders, vouchers and tickets are kept in memory")
		c.CatalogRepo = repository.NewMemoryCatalogRepository()
		c.OrderRepo = repository.NewMemoryOrderRepository()
		voucherStore = voucher.NewMemoryStore()
		admissionStore = admission.NewMemoryStore()
	}

	var idempotency purchase.IdempotencyStore
	if c.Redis != nil {
		idempotency = purchase.NewRedisIdempotencyStore(c.Redis)
	} else {
		idempotency = purchase.NewMemoryIdempotencyStore()
	}

	// Initialize publishers
	c.EventPublisher = purchase.NewNoOpEventPublisher()
	c.Notifier = notify.NewNoOpNotifier(log)
	if c.Producer != nil {
		publisher, err := purchase.NewKafkaEventPublisher(c.Producer, &purchase.EventPublisherConfig{
			Topic:       appCfg.Kafka.EventsTopic,
			ServiceName: appCfg.App.Name,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		c.EventPublisher = publisher
		c.Notifier = notify.NewKafkaNotifier(c.Producer, appCfg.Kafka.NotificationTopic)
	}

	// Initialize payment gateway
	switch appCfg.Payment.Provider {
	case "stripe":
		gw, err := gateway.NewStripeGateway(&gateway.StripeGatewayConfig{SecretKey: appCfg.Payment.StripeSecretKey})
		if err != nil {
			return nil, fmt.Errorf("failed to create stripe gateway: %w", err)
		}
		c.Gateway = gw
	default:
		c.Gateway = gateway.NewSimulatedGateway(&gateway.SimulatedGatewayConfig{
			SuccessRate: 1.0,
			DelayMs:     int(appCfg.Payment.SimDelay.Milliseconds()),
		})
	}

	// Initialize services
	c.Ledger = ledger.New(ledgerStore, &ledger.Config{
		ReservationTTL: appCfg.Engine.ReservationTimeout,
		Retry:          casRetry,
		Logger:         log,
	})
	c.Vouchers = voucher.NewEvaluator(voucherStore, &voucher.Config{
		Retry:  casRetry,
		Logger: log,
	})
	c.Registry = admission.NewRegistry(admissionStore, &admission.Config{
		Retry:    casRetry,
		Logger:   log,
		Listener: c.EventPublisher,
	})
	c.Catalog = catalog.NewService(c.CatalogRepo, c.Ledger, &catalog.Config{Logger: log})
	c.Orchestrator = purchase.NewOrchestrator(purchase.Deps{
		Ledger:      c.Ledger,
		Vouchers:    c.Vouchers,
		Registry:    c.Registry,
		Gateway:     c.Gateway,
		Notifier:    c.Notifier,
		Publisher:   c.EventPublisher,
		Catalog:     c.CatalogRepo,
		Orders:      c.OrderRepo,
		Idempotency: idempotency,
	}, &purchase.Config{
		PaymentTimeout: appCfg.Payment.Timeout,
		IdempotencyTTL: appCfg.Engine.IdempotencyTTL,
		Currency:       appCfg.Payment.Currency,
		Logger:         log,
	})

	// Stock for ticket types persisted before this process started
	seeded, err := c.Catalog.Seed(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to seed ledger from catalog: %w", err)
	}
	log.Info(fmt.Sprintf("Ledger seeded with %d ticket types", seeded))

	// Initialize workers
	sweeperCfg := worker.DefaultReservationSweeperConfig()
	if appCfg.Engine.SweepInterval > 0 {
		sweeperCfg.ScanInterval = appCfg.Engine.SweepInterval
	}
	if appCfg.Engine.SweepBatchSize > 0 {
		sweeperCfg.BatchSize = appCfg.Engine.SweepBatchSize
	}
	sweeperCfg.Logger = log
	c.Sweeper = worker.NewReservationSweeper(c.Ledger, c.Orchestrator, sweeperCfg)

	// Initialize handlers
	c.HealthHandler = handler.NewHealthHandler(c.healthComponents())
	c.CatalogHandler = handler.NewCatalogHandler(c.Catalog)
	c.PurchaseHandler = handler.NewPurchaseHandler(c.Orchestrator, c.Vouchers)
	c.TicketHandler = handler.NewTicketHandler(c.Registry)
	c.AdminHandler = handler.NewAdminHandler(c.Catalog, c.Vouchers, c.Sweeper)

	return c, nil
}

// Handlers returns the HTTP handlers for route registration
func (c *Container) Handlers() *handler.Handlers {
	return &handler.Handlers{
		Health:   c.HealthHandler,
		Catalog:  c.CatalogHandler,
		Purchase: c.PurchaseHandler,
		Ticket:   c.TicketHandler,
		Admin:    c.AdminHandler,
	}
}

// Close releases the publishers; infrastructure is closed by its owner
func (c *Container) Close() error {
	if c.EventPublisher != nil {
		return c.EventPublisher.Close()
	}
	return nil
}

func (c *Container) ledgerStore(ctx context.Context, backend string, log *logger.Logger) (ledger.Store, error) {
	if backend != "redis" {
		return ledger.NewMemoryStore(), nil
	}
	if c.Redis == nil {
		return nil, fmt.Errorf("redis ledger backend selected but no redis client configured")
	}
	store := ledger.NewRedisStore(c.Redis)
	// Pre-load Lua scripts into Redis
	if err := store.LoadScripts(ctx); err != nil {
		log.Warn(fmt.Sprintf("Failed to pre-load ledger Lua scripts: %v", err))
	} else {
		log.Info("Ledger Lua scripts pre-loaded into Redis")
	}
	return store, nil
}

func (c *Container) healthComponents() map[string]handler.HealthChecker {
	components := map[string]handler.HealthChecker{}
	if c.DB != nil {
		components["database"] = c.DB
	}
	if c.Redis != nil {
		components["redis"] = c.Redis
	}
	return components
}
