package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/internal/metrics"
	"github.com/prohmpiriya/ticket-engine/pkg/logger"
)

// ReservationSweeperConfig contains configuration for the reservation sweeper
type ReservationSweeperConfig struct {
	// ScanInterval is the interval between sweeps
	ScanInterval time.Duration
	// BatchSize caps the reservations released per sweep
	BatchSize int
	Now       func() time.Time
	Logger    *logger.Logger
}

// DefaultReservationSweeperConfig returns default configuration
func DefaultReservationSweeperConfig() *ReservationSweeperConfig {
	return &ReservationSweeperConfig{
		ScanInterval: 5 * time.Second,
		BatchSize:    100,
	}
}

// ExpiredHoldReleaser releases holds whose TTL has passed
type ExpiredHoldReleaser interface {
	Sweep(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
}

// OrderExpirer fails the pending order that owned a swept hold
type OrderExpirer interface {
	Expire(ctx context.Context, orderID string) (*domain.Order, error)
}

// ReservationSweeper returns expired holds to available stock and fails their orders
type ReservationSweeper struct {
	ledger ExpiredHoldReleaser
	orders OrderExpirer
	config *ReservationSweeperConfig
	log    *logger.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	running bool

	// Stats
	totalSwept       int64
	totalExpired     int64
	lastScanTime     time.Time
	lastSweptCount   int
	lastExpiredCount int
}

// NewReservationSweeper creates a new reservation sweeper
func NewReservationSweeper(ledger ExpiredHoldReleaser, orders OrderExpirer, config *ReservationSweeperConfig) *ReservationSweeper {
	if config == nil {
		config = DefaultReservationSweeperConfig()
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	log := config.Logger
	if log == nil {
		log = logger.Get()
	}

	return &ReservationSweeper{
		ledger: ledger,
		orders: orders,
		config: config,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// Start starts the sweeper
func (w *ReservationSweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("reservation sweeper already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info(fmt.Sprintf("Starting reservation sweeper (interval: %v, batch: %d)", w.config.ScanInterval, w.config.BatchSize))

	w.wg.Add(1)
	go w.loop(ctx)

	return nil
}

// Stop stops the sweeper and waits for the running sweep to finish
func (w *ReservationSweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping reservation sweeper")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Reservation sweeper stopped")
}

func (w *ReservationSweeper) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	w.SweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep and returns the number of holds released
func (w *ReservationSweeper) SweepOnce(ctx context.Context) int {
	released, err := w.ledger.Sweep(ctx, w.config.Now(), w.config.BatchSize)
	if err != nil {
		w.log.Error(fmt.Sprintf("Failed to sweep expired reservations: %v", err))
		metrics.RecordError(ctx, "sweep", "ledger.sweep")
		return 0
	}

	// A multi-line order shows up once per line
	seen := make(map[string]bool, len(released))
	expired := 0
	for _, res := range released {
		if res.OrderID == "" || seen[res.OrderID] {
			continue
		}
		seen[res.OrderID] = true

		if _, err := w.orders.Expire(ctx, res.OrderID); err != nil {
			switch {
			case errors.Is(err, domain.ErrOrderNotPending), domain.IsNotFoundError(err):
				w.log.Debug(fmt.Sprintf("Order %s needs no expiry: %v", res.OrderID, err))
			case errors.Is(err, domain.ErrReconciliationRequired):
				w.log.Warn(fmt.Sprintf("Order %s was charged but never committed, flagged for reconciliation", res.OrderID))
			case errors.Is(err, domain.ErrRequestInProgress):
				w.log.Warn(fmt.Sprintf("Order %s is still in flight, leaving it to its purchase", res.OrderID))
			default:
				w.log.Error(fmt.Sprintf("Failed to expire order %s: %v", res.OrderID, err))
			}
			continue
		}
		expired++
	}

	metrics.RecordSweep(ctx, int64(len(released)))

	w.mu.Lock()
	w.lastScanTime = w.config.Now()
	w.lastSweptCount = len(released)
	w.lastExpiredCount = expired
	w.totalSwept += int64(len(released))
	w.totalExpired += int64(expired)
	w.mu.Unlock()

	if len(released) > 0 {
		w.log.Info(fmt.Sprintf("Swept %d expired reservations, expired %d orders", len(released), expired))
	}
	return len(released)
}

// GetStats returns sweeper statistics
func (w *ReservationSweeper) GetStats() *ReservationSweeperStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &ReservationSweeperStats{
		IsRunning:        w.running,
		TotalSwept:       w.totalSwept,
		TotalExpired:     w.totalExpired,
		LastScanTime:     w.lastScanTime,
		LastSweptCount:   w.lastSweptCount,
		LastExpiredCount: w.lastExpiredCount,
	}
}

// ReservationSweeperStats contains sweeper statistics
type ReservationSweeperStats struct {
	IsRunning        bool      `json:"is_running"`
	TotalSwept       int64     `json:"total_swept"`
	TotalExpired     int64     `json:"total_expired"`
	LastScanTime     time.Time `json:"last_scan_time"`
	LastSweptCount   int       `json:"last_swept_count"`
	LastExpiredCount int       `json:"last_expired_count"`
}
