package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/internal/ledger"
	"github.com/prohmpiriya/ticket-engine/pkg/logger"
	"github.com/shopspring/decimal"
)

type mockReleaser struct {
	SweepFunc func(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
}

func (m *mockReleaser) Sweep(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	if m.SweepFunc != nil {
		return m.SweepFunc(ctx, now, limit)
	}
	return nil, nil
}

type mockExpirer struct {
	mu         sync.Mutex
	ExpireFunc func(ctx context.Context, orderID string) (*domain.Order, error)
	calls      []string
}

func (m *mockExpirer) Expire(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	m.calls = append(m.calls, orderID)
	m.mu.Unlock()
	if m.ExpireFunc != nil {
		return m.ExpireFunc(ctx, orderID)
	}
	return &domain.Order{ID: orderID, Status: domain.OrderFailed}, nil
}

func (m *mockExpirer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func testConfig() *ReservationSweeperConfig {
	return &ReservationSweeperConfig{
		ScanInterval: 10 * time.Millisecond,
		BatchSize:    50,
		Logger:       logger.NewNop(),
	}
}

func TestSweepOnce_ExpiresEachOrderOnce(t *testing.T) {
	releaser := &mockReleaser{
		SweepFunc: func(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
			if limit != 50 {
				t.Errorf("Expected limit 50, got %d", limit)
			}
			return []*domain.Reservation{
				{ID: "r1", OrderID: "order-1"},
				{ID: "r2", OrderID: "order-1"},
				{ID: "r3", OrderID: "order-2"},
			}, nil
		},
	}
	expirer := &mockExpirer{}
	sweeper := NewReservationSweeper(releaser, expirer, testConfig())

	if n := sweeper.SweepOnce(context.Background()); n != 3 {
		t.Errorf("Expected 3 swept, got %d", n)
	}

	calls := expirer.Calls()
	if len(calls) != 2 || calls[0] != "order-1" || calls[1] != "order-2" {
		t.Errorf("Expected one expiry per order, got %v", calls)
	}

	stats := sweeper.GetStats()
	if stats.TotalSwept != 3 || stats.TotalExpired != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.LastScanTime.IsZero() {
		t.Error("Expected LastScanTime to be set")
	}
}

func TestSweepOnce_ExpiryErrorsAreNotFatal(t *testing.T) {
	releaser := &mockReleaser{
		SweepFunc: func(context.Context, time.Time, int) ([]*domain.Reservation, error) {
			return []*domain.Reservation{
				{ID: "r1", OrderID: "paid"},
				{ID: "r2", OrderID: "busy"},
				{ID: "r3", OrderID: "broken"},
				{ID: "r4", OrderID: "ok"},
				{ID: "r5", OrderID: "charged"},
			}, nil
		},
	}
	expirer := &mockExpirer{
		ExpireFunc: func(_ context.Context, orderID string) (*domain.Order, error) {
			switch orderID {
			case "paid":
				return nil, domain.ErrOrderNotPending
			case "busy":
				return nil, domain.ErrRequestInProgress
			case "broken":
				return nil, errors.New("db down")
			case "charged":
				return nil, domain.ErrReconciliationRequired
			}
			return &domain.Order{ID: orderID}, nil
		},
	}
	sweeper := NewReservationSweeper(releaser, expirer, testConfig())
	sweeper.SweepOnce(context.Background())

	if len(expirer.Calls()) != 5 {
		t.Errorf("Expected every order to be tried, got %v", expirer.Calls())
	}
	if stats := sweeper.GetStats(); stats.TotalExpired != 1 || stats.LastSweptCount != 5 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestSweepOnce_LedgerError(t *testing.T) {
	releaser := &mockReleaser{
		SweepFunc: func(context.Context, time.Time, int) ([]*domain.Reservation, error) {
			return nil, errors.New("redis unavailable")
		},
	}
	expirer := &mockExpirer{}
	sweeper := NewReservationSweeper(releaser, expirer, testConfig())

	if n := sweeper.SweepOnce(context.Background()); n != 0 {
		t.Errorf("Expected 0 swept, got %d", n)
	}
	if len(expirer.Calls()) != 0 {
		t.Error("Expected no expiry calls")
	}
}

func TestSweepOnce_FreesLedgerCapacity(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	l := ledger.New(ledger.NewMemoryStore(), &ledger.Config{
		ReservationTTL: time.Minute,
		Now:            clock,
		Logger:         logger.NewNop(),
	})
	ctx := context.Background()
	tt := &domain.TicketType{ID: "tt-1", EventID: "ev-1", UnitPrice: decimal.NewFromInt(10), Currency: "eur", Capacity: 1}
	if err := l.Register(ctx, tt); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := l.Reserve(ctx, "tt-1", "order-1", 1); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if _, err := l.Reserve(ctx, "tt-1", "order-2", 1); !errors.Is(err, domain.ErrOutOfStock) {
		t.Fatalf("Expected ErrOutOfStock, got %v", err)
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	cfg := testConfig()
	cfg.Now = clock
	expirer := &mockExpirer{}
	sweeper := NewReservationSweeper(l, expirer, cfg)
	if n := sweeper.SweepOnce(ctx); n != 1 {
		t.Fatalf("Expected 1 swept, got %d", n)
	}
	if calls := expirer.Calls(); len(calls) != 1 || calls[0] != "order-1" {
		t.Errorf("Expected order-1 to be expired, got %v", calls)
	}

	stock, err := l.Stock(ctx, "tt-1")
	if err != nil {
		t.Fatalf("Stock failed: %v", err)
	}
	if stock.Reserved != 0 || stock.Available() != 1 {
		t.Errorf("Expected capacity back, got %+v", stock)
	}
	if _, err := l.Reserve(ctx, "tt-1", "order-2", 1); err != nil {
		t.Errorf("Expected reserve after sweep to succeed, got %v", err)
	}
}

func TestReservationSweeper_StartStop(t *testing.T) {
	var mu sync.Mutex
	sweeps := 0
	releaser := &mockReleaser{
		SweepFunc: func(context.Context, time.Time, int) ([]*domain.Reservation, error) {
			mu.Lock()
			sweeps++
			mu.Unlock()
			return nil, nil
		},
	}
	sweeper := NewReservationSweeper(releaser, &mockExpirer{}, testConfig())

	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sweeper.Start(context.Background()); err == nil {
		t.Error("Expected second Start to fail")
	}
	if !sweeper.GetStats().IsRunning {
		t.Error("Expected sweeper to be running")
	}

	time.Sleep(50 * time.Millisecond)
	sweeper.Stop()
	sweeper.Stop()

	mu.Lock()
	defer mu.Unlock()
	if sweeps < 2 {
		t.Errorf("Expected at least 2 sweeps, got %d", sweeps)
	}
	if sweeper.GetStats().IsRunning {
		t.Error("Expected sweeper to be stopped")
	}
}
