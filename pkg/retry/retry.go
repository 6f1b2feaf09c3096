// Package retry wraps transient provider calls in a bounded exponential
// backoff policy.
//
// The default policy makes at most 3 attempts, doubling the delay from
// 200ms with ±20% jitter. Errors marked with Permanent stop immediately,
// as does context cancellation.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Policy configures the backoff schedule.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// MaxInterval caps the delay between attempts.
	MaxInterval time.Duration

	// Multiplier grows the delay between attempts.
	Multiplier float64

	// RandomizationFactor jitters each delay by ±factor.
	RandomizationFactor float64
}

// DefaultPolicy returns the policy used for LLM, embedder, and reranker
// calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         3,
		InitialInterval:     200 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.2,
	}
}

// Permanent marks err as non-retryable, stopping the backoff loop.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsRetryableStatus reports whether an HTTP status code from a provider is
// worth retrying.
func IsRetryableStatus(code int) bool {
	return code == 429 || code >= 500
}

// Do runs op under the default policy.
func Do(ctx context.Context, operation string, op func() error) error {
	return DoWithPolicy(ctx, DefaultPolicy(), operation, op)
}

// DoWithPolicy runs op under the given policy. The operation name appears
// in retry log entries.
func DoWithPolicy(ctx context.Context, policy Policy, operation string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval
	b.Multiplier = policy.Multiplier
	b.RandomizationFactor = policy.RandomizationFactor
	b.MaxElapsedTime = 0

	retries := uint64(0)
	if policy.MaxAttempts > 1 {
		retries = uint64(policy.MaxAttempts - 1)
	}

	notify := func(err error, delay time.Duration) {
		log.Debug().
			Err(err).
			Str("operation", operation).
			Dur("backoff", delay).
			Msg("retrying after transient error")
	}
	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx), notify)
}
