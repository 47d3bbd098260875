package retry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/platform/retry"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = retry.Policy{
	MaxRetries: 2,
	BaseDelay:  time.Microsecond,
}

func TestPolicy_Delay(t *testing.T) {
	p := retry.Policy{BaseDelay: time.Second}

	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
}

func TestDo_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, alwaysRetry, func() (struct{}, error) {
		calls++
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ReturnsValueAfterRetries(t *testing.T) {
	calls := 0
	val, err := retry.Do(context.Background(), fastPolicy, alwaysRetry, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, alwaysStop, func() (struct{}, error) {
		calls++
		return struct{}{}, permanent
	})

	var permErr *retry.PermanentError
	require.ErrorAs(t, err, &permErr)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustedRetries(t *testing.T) {
	underlying := errors.New("transient")
	calls := 0
	_, err := retry.Do(context.Background(), fastPolicy, alwaysRetry, func() (struct{}, error) {
		calls++
		return struct{}{}, underlying
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, underlying)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, fastPolicy.MaxRetries+1, calls)
}

func TestDo_ZeroRetriesRunsOnce(t *testing.T) {
	calls := 0
	err := retry.DoVoid(context.Background(), retry.Policy{}, alwaysRetry, func() error {
		calls++
		return errors.New("down")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExponentialDelaysOnFakeClock(t *testing.T) {
	clock := clockwork.NewFakeClock()

	var mu sync.Mutex
	var delays []time.Duration
	p := retry.Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Clock:      clock,
		OnRetry: func(_ int, _ error, d time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			delays = append(delays, d)
		},
	}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- retry.DoVoid(context.Background(), p, alwaysRetry, func() error {
			calls++
			if calls <= 3 {
				return errors.New("transient")
			}
			return nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, wait := range []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second} {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(wait)
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("retry loop did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)
	assert.Equal(t, 4, calls)
}

func TestDo_ContextCancellationDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := retry.Policy{MaxRetries: 3, BaseDelay: 10 * time.Second}

	calls := 0
	_, err := retry.Do(ctx, p, alwaysRetry, func() (struct{}, error) {
		calls++
		cancel()
		return struct{}{}, errors.New("transient")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryCallback(t *testing.T) {
	var recorded []int
	p := fastPolicy
	p.OnRetry = func(retry int, _ error, _ time.Duration) {
		recorded = append(recorded, retry)
	}

	_, _ = retry.Do(context.Background(), p, alwaysRetry, func() (struct{}, error) {
		return struct{}{}, errors.New("fail")
	})

	// not called for the final, exhausting attempt
	assert.Equal(t, []int{1, 2}, recorded)
}

func alwaysRetry(error) retry.Action { return retry.Retry }
func alwaysStop(error) retry.Action  { return retry.Stop }
