package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Common errors
var (
	ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")
	ErrContextCanceled     = errors.New("context canceled during retry")
)

// Config contains retry configuration
type Config struct {
	// MaxAttempts is the total number of attempts including the first one (default: 5)
	MaxAttempts int
	// InitialInterval is the backoff before the second attempt (default: 2ms)
	InitialInterval time.Duration
	// MaxInterval caps a single backoff (default: 50ms)
	MaxInterval time.Duration
	// Multiplier grows the interval after each attempt (default: 2.0)
	Multiplier float64
	// JitterFactor is the random ± fraction applied to each interval (default: 0.2)
	JitterFactor float64
	// RetryIf decides whether a non-nil error is worth another attempt.
	// Nil retries everything except PermanentError.
	RetryIf func(error) bool
}

// DefaultConfig returns the short, jittered backoff used for compare-and-swap loops
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:     5,
		InitialInterval: 2 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
		Multiplier:      2.0,
		JitterFactor:    0.2,
	}
}

// BackgroundConfig returns a slower backoff for network calls such as broker publishes
func BackgroundConfig() *Config {
	return &Config{
		MaxAttempts:     4,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
}

// Operation is the function to be retried
type Operation func(ctx context.Context) error

// PermanentError wraps an error indicating it should NOT be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks an error as permanent (not retryable)
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Result contains the result of a retry operation
type Result struct {
	// Err is the final error (nil if successful). Permanent errors are unwrapped.
	Err error
	// Attempts is the total number of attempts made
	Attempts int
	// TotalDuration is the total time spent including waits
	TotalDuration time.Duration
	// LastError is the error returned by the last attempt
	LastError error
}

// Exhausted reports whether the operation ran out of attempts
func (r *Result) Exhausted() bool {
	return errors.Is(r.Err, ErrMaxAttemptsExceeded)
}

// Retrier handles retry logic with exponential backoff
type Retrier struct {
	config Config
}

// New creates a new Retrier, filling zero values from DefaultConfig
func New(config *Config) *Retrier {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	c := *config

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = def.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = def.MaxInterval
	}
	if c.Multiplier <= 0 {
		c.Multiplier = def.Multiplier
	}
	c.JitterFactor = math.Max(0, math.Min(1, c.JitterFactor))

	return &Retrier{config: c}
}

// MaxAttempts returns the configured attempt budget
func (r *Retrier) MaxAttempts() int {
	return r.config.MaxAttempts
}

// RetryCallback is called before each backoff wait
type RetryCallback func(attempt int, err error, nextInterval time.Duration)

// Do executes the operation with retry logic
func (r *Retrier) Do(ctx context.Context, op Operation) *Result {
	return r.DoWithCallback(ctx, op, nil)
}

// DoWithCallback executes the operation with retry logic and a callback
func (r *Retrier) DoWithCallback(ctx context.Context, op Operation, callback RetryCallback) *Result {
	start := time.Now()
	result := &Result{}

	finish := func(err error) *Result {
		result.Err = err
		result.TotalDuration = time.Since(start)
		return result
	}

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return finish(ErrContextCanceled)
		}

		result.Attempts = attempt
		err := op(ctx)
		if err == nil {
			return finish(nil)
		}
		result.LastError = err

		var permErr *PermanentError
		if errors.As(err, &permErr) {
			result.LastError = permErr.Err
			return finish(permErr.Err)
		}
		if r.config.RetryIf != nil && !r.config.RetryIf(err) {
			return finish(err)
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		interval := r.interval(attempt - 1)
		if callback != nil {
			callback(attempt, err, interval)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return finish(ErrContextCanceled)
		case <-timer.C:
		}
	}

	return finish(ErrMaxAttemptsExceeded)
}

// interval returns the jittered backoff after the given zero-based attempt
func (r *Retrier) interval(attempt int) time.Duration {
	interval := float64(r.config.InitialInterval) * math.Pow(r.config.Multiplier, float64(attempt))

	if r.config.JitterFactor > 0 {
		jitter := interval * r.config.JitterFactor
		interval += (rand.Float64()*2 - 1) * jitter
	}

	if interval > float64(r.config.MaxInterval) {
		interval = float64(r.config.MaxInterval)
	}
	if interval <= 0 {
		interval = float64(r.config.InitialInterval)
	}

	return time.Duration(interval)
}

// Do is a convenience function that creates a retrier and executes the operation
func Do(ctx context.Context, config *Config, op Operation) *Result {
	return New(config).Do(ctx, op)
}
