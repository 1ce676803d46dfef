package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"imgshift/internal/retry"
)

func TestDelayBackoff(t *testing.T) {
	p := retry.Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 350 * time.Millisecond},
		{10, 350 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Fatalf("Delay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
	if (retry.Policy{}).Delay(3) != 0 {
		t.Fatal("zero base delay should not wait")
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	var slept []time.Duration
	p := retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	calls := 0
	attempts, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil || attempts != 3 || calls != 3 {
		t.Fatalf("Do = %d, %v (calls %d)", attempts, err, calls)
	}
	if len(slept) != 2 || slept[0] != 10*time.Millisecond || slept[1] != 20*time.Millisecond {
		t.Fatalf("unexpected sleeps %v", slept)
	}
}

func TestDoStopsAtBound(t *testing.T) {
	p := retry.Policy{MaxAttempts: 3, Sleep: func(context.Context, time.Duration) error { return nil }}
	boom := errors.New("boom")
	attempts, err := p.Do(context.Background(), func(context.Context, int) error { return boom })
	if !errors.Is(err, boom) || attempts != 3 {
		t.Fatalf("Do = %d, %v", attempts, err)
	}
}

func TestDoHonorsPermanent(t *testing.T) {
	p := retry.Policy{MaxAttempts: 5}
	boom := errors.New("missing")
	attempts, err := p.Do(context.Background(), func(context.Context, int) error { return retry.Permanent(boom) })
	if attempts != 1 || !errors.Is(err, boom) || !retry.IsPermanent(err) {
		t.Fatalf("Do = %d, %v", attempts, err)
	}
	if retry.Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should be nil")
	}
}

func TestDoAbortsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{MaxAttempts: 5, BaseDelay: time.Hour}
	attempts, err := p.Do(ctx, func(context.Context, int) error {
		cancel()
		return errors.New("fail")
	})
	if attempts != 1 || !errors.Is(err, context.Canceled) {
		t.Fatalf("Do = %d, %v", attempts, err)
	}
}
