package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricOpts describes a single instrument
type MetricOpts struct {
	Name        string
	Description string
	Unit        string
}

func meter() metric.Meter {
	return otel.Meter(DefaultTracerName)
}

// Counter is a monotonically increasing int64 instrument
type Counter struct {
	c metric.Int64Counter
}

// NewCounter registers an int64 counter on the global meter provider
func NewCounter(opts MetricOpts) (*Counter, error) {
	c, err := meter().Int64Counter(opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", opts.Name, err)
	}
	return &Counter{c: c}, nil
}

// Add increments the counter
func (c *Counter) Add(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.c.Add(ctx, n, metric.WithAttributes(attrs...))
}

// Inc adds one
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, attrs...)
}

// Histogram records float64 distributions such as latencies
type Histogram struct {
	h metric.Float64Histogram
}

// NewHistogram registers a float64 histogram on the global meter provider
func NewHistogram(opts MetricOpts) (*Histogram, error) {
	return NewHistogramWithBuckets(opts, nil)
}

// NewHistogramWithBuckets registers a histogram with explicit bucket boundaries
func NewHistogramWithBuckets(opts MetricOpts, buckets []float64) (*Histogram, error) {
	hopts := []metric.Float64HistogramOption{
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	}
	if len(buckets) > 0 {
		hopts = append(hopts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := meter().Float64Histogram(opts.Name, hopts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", opts.Name, err)
	}
	return &Histogram{h: h}, nil
}

// Record adds an observation
func (h *Histogram) Record(ctx context.Context, v float64, attrs ...attribute.KeyValue) {
	if h == nil {
		return
	}
	h.h.Record(ctx, v, metric.WithAttributes(attrs...))
}

// UpDownCounter tracks values that rise and fall, like live holds
type UpDownCounter struct {
	c metric.Int64UpDownCounter
}

// NewUpDownCounter registers an int64 up/down counter
func NewUpDownCounter(opts MetricOpts) (*UpDownCounter, error) {
	c, err := meter().Int64UpDownCounter(opts.Name,
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create up/down counter %s: %w", opts.Name, err)
	}
	return &UpDownCounter{c: c}, nil
}

// Add applies a delta
func (c *UpDownCounter) Add(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.c.Add(ctx, n, metric.WithAttributes(attrs...))
}

// Inc adds one
func (c *UpDownCounter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, attrs...)
}

// Dec subtracts one
func (c *UpDownCounter) Dec(ctx context.Context, attrs ...attribute.KeyValue) {
	c.Add(ctx, -1, attrs...)
}
