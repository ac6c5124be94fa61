package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errConflict = errors.New("version conflict")

func fastConfig(attempts int) *Config {
	return &Config{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
		JitterFactor:    0,
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", config.MaxAttempts)
	}
	if config.InitialInterval != 2*time.Millisecond {
		t.Errorf("InitialInterval = %v, want 2ms", config.InitialInterval)
	}
	if config.JitterFactor != 0.2 {
		t.Errorf("JitterFactor = %f, want 0.2", config.JitterFactor)
	}
}

func TestNew_WithZeroValues(t *testing.T) {
	retrier := New(&Config{JitterFactor: 3})

	if retrier.config.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5 (default)", retrier.config.MaxAttempts)
	}
	if retrier.config.MaxInterval != 50*time.Millisecond {
		t.Errorf("MaxInterval = %v, want 50ms (default)", retrier.config.MaxInterval)
	}
	if retrier.config.JitterFactor != 1 {
		t.Errorf("JitterFactor = %f, want clamped to 1", retrier.config.JitterFactor)
	}
}

func TestNew_DoesNotMutateCallerConfig(t *testing.T) {
	cfg := &Config{}
	New(cfg)
	if cfg.MaxAttempts != 0 {
		t.Errorf("caller config mutated: MaxAttempts = %d", cfg.MaxAttempts)
	}
}

func TestRetrier_Do(t *testing.T) {
	tests := []struct {
		name          string
		failures      int
		err           error
		retryIf       func(error) bool
		wantErr       error
		wantAttempts  int
		wantExhausted bool
	}{
		{"success first try", 0, errConflict, nil, nil, 1, false},
		{"success after conflicts", 2, errConflict, nil, nil, 3, false},
		{"exhausted", 10, errConflict, nil, ErrMaxAttemptsExceeded, 5, true},
		{"permanent stops immediately", 10, Permanent(errConflict), nil, errConflict, 1, false},
		{
			name:         "retryIf rejects",
			failures:     10,
			err:          errors.New("out of stock"),
			retryIf:      func(err error) bool { return errors.Is(err, errConflict) },
			wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fastConfig(5)
			cfg.RetryIf = tt.retryIf

			calls := 0
			result := New(cfg).Do(context.Background(), func(ctx context.Context) error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})

			if tt.wantErr != nil && !errors.Is(result.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", result.Err, tt.wantErr)
			}
			if tt.wantErr == nil && tt.retryIf == nil && result.Err != nil {
				t.Errorf("Err = %v, want nil", result.Err)
			}
			if result.Attempts != tt.wantAttempts {
				t.Errorf("Attempts = %d, want %d", result.Attempts, tt.wantAttempts)
			}
			if result.Exhausted() != tt.wantExhausted {
				t.Errorf("Exhausted() = %v, want %v", result.Exhausted(), tt.wantExhausted)
			}
		})
	}
}

func TestRetrier_Do_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := New(fastConfig(3)).Do(ctx, func(ctx context.Context) error {
		t.Fatal("operation must not run on a canceled context")
		return nil
	})

	if !errors.Is(result.Err, ErrContextCanceled) {
		t.Errorf("Err = %v, want %v", result.Err, ErrContextCanceled)
	}
}

func TestRetrier_DoWithCallback(t *testing.T) {
	var seen []int
	result := New(fastConfig(3)).DoWithCallback(context.Background(),
		func(ctx context.Context) error { return errConflict },
		func(attempt int, err error, next time.Duration) {
			seen = append(seen, attempt)
			if next <= 0 {
				t.Errorf("next interval must be positive, got %v", next)
			}
		})

	if !result.Exhausted() {
		t.Fatalf("expected exhaustion, got %v", result.Err)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("callback attempts = %v, want [1 2]", seen)
	}
	if !errors.Is(result.LastError, errConflict) {
		t.Errorf("LastError = %v, want %v", result.LastError, errConflict)
	}
}

func TestInterval_Capped(t *testing.T) {
	r := New(&Config{
		MaxAttempts:     10,
		InitialInterval: time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		Multiplier:      10,
	})

	if got := r.interval(5); got != 4*time.Millisecond {
		t.Errorf("interval(5) = %v, want capped 4ms", got)
	}
}
