package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// ErrExhausted is wrapped by every error reporting that the attempt budget ran out.
var ErrExhausted = errors.New("retry attempts exhausted")

// Config holds retry configuration
type Config struct {
	Enabled            bool          // Enable/disable retry logic
	MaxAttempts        int           // Maximum number of retry attempts after the first one
	InitialDelay       time.Duration // Initial delay before first retry
	MaxDelay           time.Duration // Maximum delay between retries
	Multiplier         float64       // Exponential backoff multiplier (typically 2.0)
	Linear             bool          // Delay grows as InitialDelay * n instead of exponentially
	Jitter             bool          // Add random jitter to prevent thundering herd
	RetryableErrors    []error       // List of errors that should trigger retry (nil = all errors)
	NonRetryableErrors []error       // List of errors that should NOT trigger retry
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// FixedConfig returns a config that tries at most attempts times in total,
// waiting delay between attempts.
func FixedConfig(attempts int, delay time.Duration) Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  attempts - 1,
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1.0,
	}
}

// LinearConfig returns a config that tries at most attempts times in total,
// waiting base*n after the n-th failed attempt.
func LinearConfig(attempts int, base time.Duration) Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  attempts - 1,
		InitialDelay: base,
		MaxDelay:     base * time.Duration(attempts),
		Linear:       true,
	}
}

// Retry executes a function with exponential backoff retry logic
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	if !cfg.Enabled {
		return fn()
	}

	var lastErr error

	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if stop, wrapped := classify(cfg, err); stop {
			return wrapped
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := calculateDelay(cfg, attempt)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("max attempts (%d) exceeded: %w: %w", cfg.MaxAttempts, ErrExhausted, lastErr)
}

// RetryWithResult executes a function that returns a result with exponential backoff retry logic
func RetryWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Retry(ctx, cfg, func() error {
		var err error
		result, err = fn()
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Scheduler runs fn after d on the caller's owning execution context. The
// returned stop func prevents fn from running if it has not run yet.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

// Schedule is the non-blocking counterpart of Retry. The first attempt runs
// synchronously; every later attempt is rescheduled through sched, so no
// goroutine ever sleeps. fn receives the 1-based attempt number.
//
// done is called exactly once with nil on success or the final error, unless
// the returned cancel func is called first, in which case done is never called.
func Schedule(sched Scheduler, cfg Config, fn func(attempt int) error, done func(err error)) (cancel func()) {
	var (
		cancelled atomic.Bool
		stopTimer func() bool
	)

	var run func(attempt int)
	run = func(attempt int) {
		if cancelled.Load() {
			return
		}

		err := fn(attempt)
		if cancelled.Load() {
			return
		}
		if err == nil {
			done(nil)
			return
		}
		if !cfg.Enabled {
			done(err)
			return
		}
		if stop, wrapped := classify(cfg, err); stop {
			done(wrapped)
			return
		}
		if attempt > cfg.MaxAttempts {
			done(fmt.Errorf("max attempts (%d) exceeded: %w: %w", cfg.MaxAttempts+1, ErrExhausted, err))
			return
		}

		stopTimer = sched.AfterFunc(calculateDelay(cfg, attempt-1), func() {
			run(attempt + 1)
		})
	}

	run(1)

	return func() {
		if cancelled.Swap(true) {
			return
		}
		if stopTimer != nil {
			stopTimer()
		}
	}
}

// classify reports whether err must end retrying, and the error to return.
func classify(cfg Config, err error) (bool, error) {
	if isListed(err, cfg.NonRetryableErrors) {
		return true, fmt.Errorf("non-retryable error: %w", err)
	}
	if len(cfg.RetryableErrors) > 0 && !isListed(err, cfg.RetryableErrors) {
		return true, fmt.Errorf("error not in retryable list: %w", err)
	}
	return false, nil
}

// calculateDelay calculates the delay before the retry that follows the
// zero-based attempt.
func calculateDelay(cfg Config, attempt int) time.Duration {
	var delay float64
	if cfg.Linear {
		delay = float64(cfg.InitialDelay) * float64(attempt+1)
	} else {
		multiplier := cfg.Multiplier
		if multiplier <= 0 {
			multiplier = 1
		}
		delay = float64(cfg.InitialDelay) * math.Pow(multiplier, float64(attempt))
	}

	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	duration := time.Duration(delay)

	// ±25% random variation
	if cfg.Jitter && duration > 0 {
		jitter := duration / 4
		duration = duration - jitter + time.Duration(rand.Int64N(int64(jitter*2)+1))
	}

	return duration
}

func isListed(err error, list []error) bool {
	for _, candidate := range list {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}
