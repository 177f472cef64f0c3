package providers

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/sdasgarali/ai-doc-processor-latest/internal/types"
)

// RetryPolicy is shared by every provider call. Only TransientProviderError is
// retried; a rate-limit error carrying RetryAfter waits exactly that long.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// RateLimitDelay is used for 429 responses without a Retry-After header,
	// scaled by attempt number.
	RateLimitDelay time.Duration

	Logger *slog.Logger
}

// DefaultRetryPolicy returns 3 attempts with 1s exponential backoff capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		RateLimitDelay: 30 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.RateLimitDelay <= 0 {
		p.RateLimitDelay = d.RateLimitDelay
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

// Delay returns the wait before retry n (0-based) after err.
func (p RetryPolicy) Delay(n uint, err error) time.Duration {
	p = p.withDefaults()

	var te *types.TransientProviderError
	if errors.As(err, &te) {
		if te.RetryAfter > 0 {
			return te.RetryAfter
		}
		if te.StatusCode == 429 {
			return p.RateLimitDelay * time.Duration(n+1)
		}
	}

	base := p.BaseDelay << n
	if base <= 0 || base > p.MaxDelay {
		base = p.MaxDelay
	}
	// Jitter: -20% to +30%
	return time.Duration(float64(base) * (0.8 + 0.5*rand.Float64()))
}

// Do runs fn until it succeeds, returns a non-transient error, or attempts run out.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	return retry.Do(
		func() error { return fn(ctx) },
		retry.Context(ctx),
		retry.Attempts(uint(p.MaxAttempts)),
		retry.RetryIf(types.IsTransient),
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			return p.Delay(n, err)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.Logger.Warn("provider call failed, retrying",
				"op", op,
				"attempt", n+1,
				"max_attempts", p.MaxAttempts,
				"error", err,
			)
		}),
	)
}
