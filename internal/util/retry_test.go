package util

import (
	"context"
	"errors"
	"testing"
)

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	v, err := Retry(3, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 || calls != 3 {
		t.Fatalf("v = %d, calls = %d", v, calls)
	}
}

func TestRetryErrExhausts(t *testing.T) {
	calls := 0
	err := RetryErr(4, func() error {
		calls++
		return errors.New("always")
	})
	if err == nil || calls != 4 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestRetryErrWithContextStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryErrWithContext(ctx, 5, func(context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryZeroTriesRunsOnce(t *testing.T) {
	calls := 0
	_ = RetryErr(0, func() error {
		calls++
		return nil
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
