package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ob-labs/powermem-go/pkg/retry"
)

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:         3,
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		Multiplier:          2.0,
		RandomizationFactor: 0.2,
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := retry.DoWithPolicy(context.Background(), fastPolicy(), "test", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsAtAttemptCap(t *testing.T) {
	attempts := 0
	err := retry.DoWithPolicy(context.Background(), fastPolicy(), "test", func() error {
		attempts++
		return errors.New("still failing")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts, "should stop after MaxAttempts")
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("bad request")
	attempts := 0
	err := retry.DoWithPolicy(context.Background(), fastPolicy(), "test", func() error {
		attempts++
		return retry.Permanent(sentinel)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel))
	assert.Equal(t, 1, attempts, "permanent errors must not be retried")
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := retry.DoWithPolicy(ctx, retry.Policy{
		MaxAttempts:         10,
		InitialInterval:     50 * time.Millisecond,
		MaxInterval:         time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0,
	}, "test", func() error {
		attempts++
		cancel()
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, attempts, 2, "cancellation should stop the loop")
}

func TestIsRetryableStatus(t *testing.T) {
	assert.True(t, retry.IsRetryableStatus(429))
	assert.True(t, retry.IsRetryableStatus(500))
	assert.True(t, retry.IsRetryableStatus(503))
	assert.False(t, retry.IsRetryableStatus(400))
	assert.False(t, retry.IsRetryableStatus(401))
	assert.False(t, retry.IsRetryableStatus(404))
}
