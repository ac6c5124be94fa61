package metrics

import (
	"context"
	"sync"

	"github.com/prohmpiriya/ticket-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// Purchase counters
	PurchasesCommitted     *telemetry.Counter
	PurchasesFailed        *telemetry.Counter
	PurchasesReplayed      *telemetry.Counter
	ReconciliationRequired *telemetry.Counter

	// Inventory counters
	HoldsSwept *telemetry.Counter

	// Admission counters
	Redemptions *telemetry.Counter

	// Error tracking counters
	ErrorsTotal       *telemetry.Counter
	SlowRequestsTotal *telemetry.Counter

	// Histograms
	PurchaseDuration *telemetry.Histogram
	PaymentDuration  *telemetry.Histogram
	RequestDuration  *telemetry.Histogram

	// Gauges
	ActiveHolds *telemetry.UpDownCounter

	initOnce sync.Once
	initErr  error
)

// Init initializes all engine metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	var err error

	counters := []struct {
		dst  **telemetry.Counter
		opts telemetry.MetricOpts
	}{
		{&PurchasesCommitted, telemetry.MetricOpts{Name: "purchase_committed_total", Description: "Total number of purchases committed", Unit: "1"}},
		{&PurchasesFailed, telemetry.MetricOpts{Name: "purchase_failures_total", Description: "Total number of failed purchases by reason", Unit: "1"}},
		{&PurchasesReplayed, telemetry.MetricOpts{Name: "purchase_replays_total", Description: "Total number of idempotent purchase replays", Unit: "1"}},
		{&ReconciliationRequired, telemetry.MetricOpts{Name: "purchase_reconciliation_required_total", Description: "Purchases charged but not committed", Unit: "1"}},
		{&HoldsSwept, telemetry.MetricOpts{Name: "ledger_holds_swept_total", Description: "Total number of expired holds released by the sweeper", Unit: "1"}},
		{&Redemptions, telemetry.MetricOpts{Name: "admission_redemptions_total", Description: "Total number of redemption attempts by outcome", Unit: "1"}},
		{&ErrorsTotal, telemetry.MetricOpts{Name: "engine_errors_total", Description: "Total number of errors by type", Unit: "1"}},
		{&SlowRequestsTotal, telemetry.MetricOpts{Name: "engine_slow_requests_total", Description: "Total number of slow requests (>1s)", Unit: "1"}},
	}
	for _, c := range counters {
		if *c.dst, err = telemetry.NewCounter(c.opts); err != nil {
			return err
		}
	}

	PurchaseDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "purchase_duration_seconds",
		Description: "End to end purchase duration",
		Unit:        "s",
	}, []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30})
	if err != nil {
		return err
	}

	PaymentDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "payment_charge_duration_seconds",
		Description: "Duration of payment authority calls",
		Unit:        "s",
	}, []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30})
	if err != nil {
		return err
	}

	RequestDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "engine_request_duration_seconds",
		Description: "HTTP request duration in seconds",
		Unit:        "s",
	}, []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
	if err != nil {
		return err
	}

	ActiveHolds, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "ledger_active_holds",
		Description: "Current number of held tickets",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	return nil
}

// RecordHold records tickets moving into held
func RecordHold(ctx context.Context, ticketTypeID string, quantity int) {
	ActiveHolds.Add(ctx, int64(quantity), attribute.String("ticket_type_id", ticketTypeID))
}

// RecordHoldReleased records held tickets leaving the held state
func RecordHoldReleased(ctx context.Context, ticketTypeID string, quantity int) {
	ActiveHolds.Add(ctx, -int64(quantity), attribute.String("ticket_type_id", ticketTypeID))
}

// RecordCommit records a committed purchase
func RecordCommit(ctx context.Context, tickets int, durationSeconds float64) {
	PurchasesCommitted.Inc(ctx, attribute.Int("tickets", tickets))
	PurchaseDuration.Record(ctx, durationSeconds, attribute.String("outcome", "committed"))
}

// RecordFailure records a failed purchase
func RecordFailure(ctx context.Context, reason string, durationSeconds float64) {
	PurchasesFailed.Inc(ctx, attribute.String("reason", reason))
	PurchaseDuration.Record(ctx, durationSeconds, attribute.String("outcome", "failed"))
}

// RecordReplay records an idempotent replay
func RecordReplay(ctx context.Context) {
	PurchasesReplayed.Inc(ctx)
}

// RecordReconciliation records a charged purchase that could not commit
func RecordReconciliation(ctx context.Context) {
	ReconciliationRequired.Inc(ctx)
}

// RecordPayment records a payment authority call
func RecordPayment(ctx context.Context, provider, outcome string, durationSeconds float64) {
	PaymentDuration.Record(ctx, durationSeconds,
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)
}

// RecordSweep records holds released by the sweeper
func RecordSweep(ctx context.Context, count int64) {
	HoldsSwept.Add(ctx, count)
}

// RecordRedemption records a redemption attempt
func RecordRedemption(ctx context.Context, outcome string) {
	Redemptions.Inc(ctx, attribute.String("outcome", outcome))
}

// RecordError records an error by type and operation
func RecordError(ctx context.Context, errorType, operation string) {
	ErrorsTotal.Inc(ctx,
		attribute.String("error_type", errorType),
		attribute.String("operation", operation),
	)
}

// RecordRequestDuration records HTTP request duration and tracks slow requests
func RecordRequestDuration(ctx context.Context, operation string, durationSeconds float64) {
	RequestDuration.Record(ctx, durationSeconds, attribute.String("operation", operation))
	if durationSeconds > 1.0 {
		SlowRequestsTotal.Inc(ctx, attribute.String("operation", operation))
	}
}
