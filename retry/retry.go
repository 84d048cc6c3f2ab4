// Package retry runs operations with exponential backoff. Delivery code
// uses it for remote submission; callers classify errors through
// Config.IsRetryable or by marking them with MarkNotRetryable.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Sentinel errors carried inside RetryError.Err.
var (
	// ErrNotRetryable marks an error that must not be retried.
	ErrNotRetryable = errors.New("retry: error is not retryable")

	// ErrExhausted is returned when every attempt failed.
	ErrExhausted = errors.New("retry: attempts exhausted")

	// ErrCanceled is returned when the context ended between attempts.
	ErrCanceled = errors.New("retry: context canceled")
)

// Config controls the backoff schedule.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero means execute exactly once.
	MaxRetries int

	// InitialBackoff is the delay before the first retry. Defaults to
	// 100ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts. Defaults to 30s.
	MaxBackoff time.Duration

	// Multiplier grows the delay after each attempt. Defaults to 2.
	Multiplier float64

	// Jitter randomizes each delay by up to the given fraction, 0 to 1.
	Jitter float64

	// IsRetryable classifies errors. Nil means DefaultIsRetryable.
	IsRetryable func(error) bool
}

// DefaultConfig returns the default schedule: three retries starting at
// 100ms and doubling.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		Jitter:         0.1,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	c.Jitter = math.Max(0, math.Min(1, c.Jitter))
	if c.IsRetryable == nil {
		c.IsRetryable = DefaultIsRetryable
	}
	return c
}

// backoff computes the delay before retry number attempt, zero based.
func (c Config) backoff(attempt int) time.Duration {
	d := float64(c.InitialBackoff) * math.Pow(c.Multiplier, float64(attempt))
	if d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	if c.Jitter > 0 {
		span := d * c.Jitter
		d = d - span + rand.Float64()*2*span
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, the error is classified non-retryable, the
// attempts run out, or ctx ends. Failures are reported as *RetryError.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	var last error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				return err
			}
			return &RetryError{Err: ErrCanceled, Attempts: attempt, Cause: last}
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !cfg.IsRetryable(last) {
			return &RetryError{Err: ErrNotRetryable, Attempts: attempt + 1, Cause: last}
		}
		if attempt >= cfg.MaxRetries {
			return &RetryError{Err: ErrExhausted, Attempts: attempt + 1, Cause: last}
		}

		select {
		case <-ctx.Done():
			return &RetryError{Err: ErrCanceled, Attempts: attempt + 1, Cause: last}
		case <-time.After(cfg.backoff(attempt)):
		}
	}
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var ferr error
		out, ferr = fn(ctx)
		return ferr
	})
	return out, err
}

// RetryError reports why the retry loop stopped.
type RetryError struct {
	// Err is ErrExhausted, ErrNotRetryable or ErrCanceled.
	Err error
	// Attempts is how many times fn ran.
	Attempts int
	// Cause is the last error fn returned.
	Cause error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts (%v): %v", e.Attempts, e.Err, e.Cause)
}

func (e *RetryError) Unwrap() error { return e.Cause }

// Is matches both the stop reason and the underlying cause.
func (e *RetryError) Is(target error) bool {
	return errors.Is(e.Err, target) || errors.Is(e.Cause, target)
}

// DefaultIsRetryable treats errors as retryable unless they carry a
// Retryable() bool method saying otherwise or wrap ErrNotRetryable.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotRetryable) {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// MarkNotRetryable wraps err so DefaultIsRetryable refuses to retry it.
func MarkNotRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &marked{cause: err, retryable: false}
}

// MarkRetryable wraps err so DefaultIsRetryable always retries it.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &marked{cause: err, retryable: true}
}

type marked struct {
	cause     error
	retryable bool
}

func (m *marked) Error() string   { return m.cause.Error() }
func (m *marked) Unwrap() error   { return m.cause }
func (m *marked) Retryable() bool { return m.retryable }
