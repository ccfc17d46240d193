package retry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"
)

type recordSleeper struct {
	delays []time.Duration
}

func (s *recordSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

type classifiedErr struct {
	retryable  bool
	retryAfter time.Duration
	hasAfter   bool
}

func (e *classifiedErr) Error() string { return "classified" }

func (e *classifiedErr) Retryable() bool { return e.retryable }

func (e *classifiedErr) RetryAfter() (time.Duration, bool) { return e.retryAfter, e.hasAfter }

func (e *classifiedErr) RetryReason() string { return "rate limit" }

func testPolicy(sleep Sleeper, attempts int, rnd float64) Policy {
	return Policy{
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       8 * time.Second,
		Multiplier:     2.0,
		MaxAttempts:    attempts,
		JitterFraction: 0.30,
		Sleep:          sleep,
		Now:            time.Now,
		Rand:           func() float64 { return rnd },
	}
}

func TestRetryableWithJitterRange(t *testing.T) {
	var calls int
	sleep := &recordSleeper{}

	err := Do(context.Background(), testPolicy(sleep.Sleep, 2, 0.0), nil, func(ctx context.Context) error {
		calls++
		return &classifiedErr{retryable: true}
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", exhausted.Attempts)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(sleep.delays) != 1 {
		t.Fatalf("expected 1 sleep, got %d", len(sleep.delays))
	}
	delay := sleep.delays[0]
	if delay < 340*time.Millisecond || delay > 660*time.Millisecond {
		t.Fatalf("delay out of jitter range: %s", delay)
	}
}

func TestRetryAfterIsHonoured(t *testing.T) {
	sleep := &recordSleeper{}

	_ = Do(context.Background(), testPolicy(sleep.Sleep, 2, 0.5), nil, func(ctx context.Context) error {
		return &classifiedErr{retryable: true, retryAfter: 2 * time.Second, hasAfter: true}
	})

	if len(sleep.delays) != 1 {
		t.Fatalf("expected 1 sleep, got %d", len(sleep.delays))
	}
	if sleep.delays[0] != 2*time.Second {
		t.Fatalf("expected retry-after 2s, got %s", sleep.delays[0])
	}
}

func TestRetryAfterIsCappedByMaxDelay(t *testing.T) {
	sleep := &recordSleeper{}

	_ = Do(context.Background(), testPolicy(sleep.Sleep, 2, 0.5), nil, func(ctx context.Context) error {
		return &classifiedErr{retryable: true, retryAfter: time.Minute, hasAfter: true}
	})

	if sleep.delays[0] != 8*time.Second {
		t.Fatalf("expected cap 8s, got %s", sleep.delays[0])
	}
}

func TestTransientThenSuccess(t *testing.T) {
	var calls int
	sleep := &recordSleeper{}

	err := Do(context.Background(), testPolicy(sleep.Sleep, 3, 0.5), nil, func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return io.ErrUnexpectedEOF
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(sleep.delays) != 2 {
		t.Fatalf("expected 2 sleeps, got %d", len(sleep.delays))
	}
	if sleep.delays[1] <= sleep.delays[0] {
		t.Fatalf("expected growing backoff, got %v", sleep.delays)
	}
}

func TestNoRetryOnPermanentError(t *testing.T) {
	var calls int
	sleep := &recordSleeper{}
	permanent := &classifiedErr{retryable: false}

	err := Do(context.Background(), testPolicy(sleep.Sleep, 3, 0.5), nil, func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if len(sleep.delays) != 0 {
		t.Fatalf("expected 0 sleeps, got %d", len(sleep.delays))
	}
}

func TestContextCancelStopsRetry(t *testing.T) {
	var calls int
	ctx, cancel := context.WithCancel(context.Background())
	sleepFunc := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := Do(ctx, testPolicy(sleepFunc, 3, 0.5), nil, func(ctx context.Context) error {
		calls++
		return &classifiedErr{retryable: true}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	header := http.Header{}
	header.Set("Retry-After", "3")
	if d, ok := ParseRetryAfter(header, now); !ok || d != 3*time.Second {
		t.Fatalf("seconds form: got %s %v", d, ok)
	}

	header.Set("Retry-After", now.Add(5*time.Second).Format(http.TimeFormat))
	if d, ok := ParseRetryAfter(header, now); !ok || d != 5*time.Second {
		t.Fatalf("date form: got %s %v", d, ok)
	}

	header.Set("Retry-After", "soon")
	if _, ok := ParseRetryAfter(header, now); ok {
		t.Fatalf("garbage should not parse")
	}
}

func TestIsRetryableStatus(t *testing.T) {
	for _, status := range []int{408, 429, 500, 502, 503, 504} {
		if !IsRetryableStatus(status) {
			t.Fatalf("status %d should be retryable", status)
		}
	}
	for _, status := range []int{400, 401, 403, 404, 422} {
		if IsRetryableStatus(status) {
			t.Fatalf("status %d should not be retryable", status)
		}
	}
}

func TestBodySnippet(t *testing.T) {
	if got := BodySnippet([]byte("abcdef"), 3); got != "abc" {
		t.Fatalf("unexpected snippet %q", got)
	}
	if got := BodySnippet(nil, 3); got != "" {
		t.Fatalf("unexpected snippet %q", got)
	}
}
