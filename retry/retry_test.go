package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds first try", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(), func(ctx context.Context) error {
			calls++
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(), func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		err := Do(ctx, fastConfig(), func(ctx context.Context) error {
			calls++
			return boom
		})
		if !errors.Is(err, ErrExhausted) {
			t.Errorf("expected ErrExhausted, got %v", err)
		}
		if !errors.Is(err, boom) {
			t.Errorf("expected cause to survive the wrap, got %v", err)
		}
		if calls != 4 {
			t.Errorf("expected 4 calls (1 + 3 retries), got %d", calls)
		}

		var re *RetryError
		if !errors.As(err, &re) {
			t.Fatalf("expected *RetryError, got %T", err)
		}
		if re.Attempts != 4 {
			t.Errorf("expected 4 attempts, got %d", re.Attempts)
		}
	})

	t.Run("stops on non-retryable", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(), func(ctx context.Context) error {
			calls++
			return MarkNotRetryable(errors.New("permanent"))
		})
		if !errors.Is(err, ErrNotRetryable) {
			t.Errorf("expected ErrNotRetryable, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("custom classifier", func(t *testing.T) {
		fatal := errors.New("fatal")
		cfg := fastConfig()
		cfg.IsRetryable = func(err error) bool { return !errors.Is(err, fatal) }

		calls := 0
		err := Do(ctx, cfg, func(ctx context.Context) error {
			calls++
			return fatal
		})
		if !errors.Is(err, ErrNotRetryable) {
			t.Errorf("expected ErrNotRetryable, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("zero retries runs once", func(t *testing.T) {
		calls := 0
		err := Do(ctx, Config{InitialBackoff: time.Millisecond}, func(ctx context.Context) error {
			calls++
			return errors.New("nope")
		})
		if !errors.Is(err, ErrExhausted) {
			t.Errorf("expected ErrExhausted, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("canceled between attempts", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		err := Do(cctx, fastConfig(), func(ctx context.Context) error {
			calls++
			cancel()
			return errors.New("transient")
		})
		if !errors.Is(err, ErrCanceled) {
			t.Errorf("expected ErrCanceled, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})
}

func TestDoWithResult(t *testing.T) {
	ctx := context.Background()

	calls := 0
	got, err := DoWithResult(ctx, fastConfig(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestDefaultIsRetryable(t *testing.T) {
	if DefaultIsRetryable(nil) {
		t.Error("nil error must not be retryable")
	}
	if DefaultIsRetryable(MarkNotRetryable(errors.New("x"))) {
		t.Error("marked error must not be retryable")
	}
	if !DefaultIsRetryable(MarkRetryable(errors.New("x"))) {
		t.Error("explicitly retryable error must be retryable")
	}
	if !DefaultIsRetryable(errors.New("x")) {
		t.Error("plain error should default to retryable")
	}
}

func TestBackoffCapped(t *testing.T) {
	cfg := Config{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		Multiplier:     10,
	}.withDefaults()
	if d := cfg.backoff(5); d > 20*time.Millisecond {
		t.Errorf("backoff exceeded cap: %v", d)
	}
}
