package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fastPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: time.Millisecond}
}

func TestPolicy_Backoff(t *testing.T) {
	p := Default()

	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 8*time.Second, p.Backoff(3))
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	n, err := Do(context.Background(), fastPolicy(), func(_ context.Context, attempt int) error {
		assert.Equal(t, calls, attempt)
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, calls)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	n, err := Do(context.Background(), fastPolicy(), func(context.Context, int) error {
		calls++
		return errFlaky
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStops(t *testing.T) {
	calls := 0
	n, err := Do(context.Background(), fastPolicy(), func(context.Context, int) error {
		calls++
		return Permanent(errFlaky)
	})

	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, errFlaky)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 3, BaseDelay: time.Hour}

	calls := 0
	n, err := Do(ctx, p, func(context.Context, int) error {
		calls++
		cancel()
		return errFlaky
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{}, func(context.Context, int) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	assert.False(t, IsPermanent(errFlaky))
}
