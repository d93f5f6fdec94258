package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errConflict = errors.New("could not serialize access due to concurrent update")

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetryPolicyReplaysConflicts(t *testing.T) {
	var retries []int
	policy := RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		OnRetry:     func(attempt int, _ error) { retries = append(retries, attempt) },
		sleep:       noSleep,
	}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errConflict
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Fatalf("unexpected retry callbacks %v", retries)
	}
}

func TestRetryPolicyExhaustion(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, sleep: noSleep}
	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return errConflict
	})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
}

func TestRetryPolicyDoesNotReplayOtherErrors(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, sleep: noSleep}
	boom := errors.New("connection refused")

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected single failing call, got %d calls err=%v", calls, err)
	}

	calls = 0
	err = policy.Do(context.Background(), func(context.Context) error {
		calls++
		return rejection{err: errConflict}
	})
	var rej rejection
	if !errors.As(err, &rej) || calls != 1 {
		t.Fatalf("rejections must never be replayed, got %d calls err=%v", calls, err)
	}
}

func TestRetryPolicyStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, func(context.Context) error {
			calls++
			return errConflict
		})
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop ignored cancellation")
	}
}

func TestRetryBackoffIsBounded(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 25 * time.Millisecond}
	for attempt := 1; attempt <= 40; attempt++ {
		d := policy.backoff(attempt)
		if d <= 0 || d > maxRetryDelay {
			t.Fatalf("attempt %d: delay %v out of range", attempt, d)
		}
	}
	if (RetryPolicy{}).backoff(3) != 0 {
		t.Fatal("zero base delay should not sleep")
	}
}
