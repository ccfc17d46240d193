package llm

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"tgrelay/internal/conversation"
	"tgrelay/internal/retry"
)

// WithRetry retries transient upstream failures (rate limits, timeouts,
// unavailable backends) according to policy. Other failures return at once.
func WithRetry(next Gateway, policy retry.Policy, logger *slog.Logger) Gateway {
	return GatewayFunc(func(ctx context.Context, systemPrompt string, history []conversation.Turn, newText string) (string, error) {
		var reply string
		err := retry.Do(ctx, policy, logger, func(ctx context.Context) error {
			out, err := next.Generate(ctx, systemPrompt, history, newText)
			if err != nil {
				return err
			}
			reply = out
			return nil
		})
		if err != nil {
			return "", err
		}
		return reply, nil
	})
}

// WithConcurrencyLimit caps the number of in-flight calls to next. Waiting
// for a slot honours ctx and fails as a timeout.
func WithConcurrencyLimit(next Gateway, limit int64) Gateway {
	if limit <= 0 {
		return next
	}
	sem := semaphore.NewWeighted(limit)
	return GatewayFunc(func(ctx context.Context, systemPrompt string, history []conversation.Turn, newText string) (string, error) {
		if err := sem.Acquire(ctx, 1); err != nil {
			return "", &UpstreamError{Kind: KindTimeout, Provider: "limiter", Err: err}
		}
		defer sem.Release(1)
		return next.Generate(ctx, systemPrompt, history, newText)
	})
}

// Observer receives the outcome of every backend call.
type Observer interface {
	ObserveGeneration(provider, model string, elapsed time.Duration, err error)
}

// WithObserver reports each call of next to obs.
func WithObserver(next Gateway, provider, model string, obs Observer) Gateway {
	if obs == nil {
		return next
	}
	return GatewayFunc(func(ctx context.Context, systemPrompt string, history []conversation.Turn, newText string) (string, error) {
		start := time.Now()
		reply, err := next.Generate(ctx, systemPrompt, history, newText)
		obs.ObserveGeneration(provider, model, time.Since(start), err)
		return reply, err
	})
}
