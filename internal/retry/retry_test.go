package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}, nil,
		func(_ context.Context, attempt int) error {
			calls++
			assert.Equal(t, calls, attempt)
			if attempt < 3 {
				return errTransient
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil,
		func(context.Context, int) error {
			calls++
			return errTransient
		})
	assert.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	terminal := errors.New("terminal")
	calls := 0
	err := Do(context.Background(), Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	}, nil, func(context.Context, int) error {
		calls++
		return terminal
	})
	assert.Same(t, terminal, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := Do(ctx, Policy{MaxAttempts: 5, BaseDelay: time.Hour}, nil,
		func(context.Context, int) error {
			cancel()
			return errTransient
		})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPolicy_BackoffBounds(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 400 * time.Millisecond}
	for n := 2; n <= 8; n++ {
		d := p.Backoff(n)
		assert.LessOrEqual(t, d, 400*time.Millisecond)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
	}
	assert.Zero(t, Policy{}.Backoff(3))
}
