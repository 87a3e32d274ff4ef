package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	ok, err := Do(context.Background(), Policy{Attempts: 3, Base: time.Millisecond, Jitter: time.Millisecond}, func(attempt int) (bool, error) {
		calls++
		return true, nil
	})
	if !ok || err != nil {
		t.Fatalf("want success, got ok=%v err=%v", ok, err)
	}
	if calls != 1 {
		t.Fatalf("want 1 call, got %d", calls)
	}
}

func TestDoRetriesOnFailureThenSucceeds(t *testing.T) {
	calls := 0
	ok, err := Do(context.Background(), Policy{Attempts: 3, Base: time.Millisecond, Jitter: time.Millisecond}, func(attempt int) (bool, error) {
		calls++
		if calls < 3 {
			return false, errors.New("boom")
		}
		return true, nil
	})
	if !ok || err != nil {
		t.Fatalf("want success after retries, got ok=%v err=%v", ok, err)
	}
	if calls != 3 {
		t.Fatalf("want 3 calls, got %d", calls)
	}
}

func TestDoStopsAtAttemptsBudget(t *testing.T) {
	calls := 0
	ok, err := Do(context.Background(), Policy{Attempts: 2, Base: time.Millisecond, Jitter: time.Millisecond}, func(attempt int) (bool, error) {
		calls++
		return false, errors.New("always fails")
	})
	if ok || err == nil {
		t.Fatalf("want exhausted failure, got ok=%v err=%v", ok, err)
	}
	if calls != 2 {
		t.Fatalf("want exactly Attempts calls, got %d", calls)
	}
}

func TestDoNonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	nonRetryable := errors.New("404 not found")
	ok, err := Do(context.Background(), Policy{
		Attempts: 5, Base: time.Millisecond, Jitter: time.Millisecond,
		IsRetryable: func(err error, ok bool) bool { return false },
	}, func(attempt int) (bool, error) {
		calls++
		return false, nonRetryable
	})
	if ok {
		t.Fatalf("want failure")
	}
	if err != nonRetryable {
		t.Fatalf("want the non-retryable error surfaced, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("want exactly 1 call for a non-retryable error, got %d", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Do(ctx, Policy{Attempts: 5, Base: time.Hour, Jitter: time.Millisecond}, func(attempt int) (bool, error) {
		calls++
		return false, errors.New("boom")
	})
	if calls != 1 {
		t.Fatalf("want 1 call before the canceled context stops retries, got %d", calls)
	}
	if err == nil {
		t.Fatalf("want an error surfaced")
	}
}
