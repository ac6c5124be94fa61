package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/internal/gateway"
	"github.com/prohmpiriya/ticket-engine/internal/handler"
	"github.com/prohmpiriya/ticket-engine/pkg/config"
	"github.com/prohmpiriya/ticket-engine/pkg/logger"
	pkgredis "github.com/prohmpiriya/ticket-engine/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "ticket-engine", Environment: "development"},
		Payment: config.PaymentConfig{
			Provider: "simulated",
			Currency: "eur",
			Timeout:  time.Second,
		},
		Engine: config.EngineConfig{
			LedgerBackend:      "memory",
			ReservationTimeout: time.Minute,
			SweepInterval:      time.Second,
			SweepBatchSize:     10,
			CASMaxAttempts:     5,
			CASInitialBackoff:  time.Millisecond,
			IdempotencyTTL:     time.Hour,
		},
	}
}

func TestNewContainer_Memory(t *testing.T) {
	c, err := NewContainer(context.Background(), &ContainerConfig{Config: testConfig(), Logger: logger.NewNop()})
	require.NoError(t, err)

	assert.IsType(t, &gateway.SimulatedGateway{}, c.Gateway)
	assert.NotNil(t, c.Sweeper)

	h := c.Handlers()
	require.NotNil(t, h.Purchase)
	require.NotNil(t, h.Admin)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler.RegisterRoutes(router, h, handler.RouteConfig{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, c.Close())
}

func TestNewContainer_SeedsLedgerFromCatalog(t *testing.T) {
	ctx := context.Background()
	first, err := NewContainer(ctx, &ContainerConfig{Config: testConfig(), Logger: logger.NewNop()})
	require.NoError(t, err)

	require.NoError(t, first.CatalogRepo.UpsertEvent(ctx, &domain.Event{ID: "ev-1", Name: "Show"}))
	require.NoError(t, first.CatalogRepo.UpsertTicketType(ctx, &domain.TicketType{
		ID: "ga", EventID: "ev-1", Label: "GA", Currency: "eur", Capacity: 7,
	}))

	// Catalog rows written before the ledger knew about them
	_, err = first.Ledger.Stock(ctx, "ga")
	require.Error(t, err)

	seeded, err := first.Catalog.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, seeded)

	stock, err := first.Ledger.Stock(ctx, "ga")
	require.NoError(t, err)
	assert.Equal(t, 7, stock.Available())
}

func TestNewContainer_RedisLedger(t *testing.T) {
	mr := miniredis.RunT(t)
	client := pkgredis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))

	cfg := testConfig()
	cfg.Engine.LedgerBackend = "redis"

	c, err := NewContainer(context.Background(), &ContainerConfig{Config: cfg, Redis: client, Logger: logger.NewNop()})
	require.NoError(t, err)
	require.NotNil(t, c.Ledger)
}

func TestNewContainer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{"redis ledger without client", func(cfg *config.Config) { cfg.Engine.LedgerBackend = "redis" }},
		{"stripe without key", func(cfg *config.Config) { cfg.Payment.Provider = "stripe" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			_, err := NewContainer(context.Background(), &ContainerConfig{Config: cfg, Logger: logger.NewNop()})
			assert.Error(t, err)
		})
	}

	_, err := NewContainer(context.Background(), nil)
	assert.Error(t, err)
}
