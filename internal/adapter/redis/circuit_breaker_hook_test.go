package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommands(hook *CircuitBreakerHook, n int, result error) []error {
	ctx := context.Background()
	process := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
		return result
	})

	errs := make([]error, 0, n)
	for i := 0; i < n; i++ {
		errs = append(errs, process(ctx, goredis.NewIntCmd(ctx, "publish", "changes:sessions", "{}")))
	}
	return errs
}

func TestCircuitBreakerHook_ClosedOnSuccess(t *testing.T) {
	hook := NewCircuitBreakerHook()

	for _, err := range runCommands(hook, 10, nil) {
		assert.NoError(t, err)
	}
	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_NilIsNotAFailure(t *testing.T) {
	hook := NewCircuitBreakerHook()

	for _, err := range runCommands(hook, 10, goredis.Nil) {
		assert.ErrorIs(t, err, goredis.Nil)
	}
	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_TransientFailuresStayClosed(t *testing.T) {
	hook := NewCircuitBreakerHook()

	for _, err := range runCommands(hook, 2, errors.New("connection refused")) {
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrOpen)
	}
	assert.Equal(t, circuitbreaker.ClosedState, hook.State())
}

func TestCircuitBreakerHook_OpensAndFailsFast(t *testing.T) {
	hook := NewCircuitBreakerHook()
	runCommands(hook, 5, errors.New("connection timeout"))
	require.Equal(t, circuitbreaker.OpenState, hook.State())

	called := false
	process := hook.ProcessHook(func(ctx context.Context, cmd goredis.Cmder) error {
		called = true
		return nil
	})
	ctx := context.Background()
	err := process(ctx, goredis.NewIntCmd(ctx, "publish", "changes:sessions", "{}"))

	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.False(t, called, "command must not reach redis while open")
}

func TestCircuitBreakerHook_PipelineFailsFastWhenOpen(t *testing.T) {
	hook := NewCircuitBreakerHook()
	runCommands(hook, 5, errors.New("connection timeout"))

	pipeline := hook.ProcessPipelineHook(func(ctx context.Context, cmds []goredis.Cmder) error {
		return nil
	})
	err := pipeline(context.Background(), nil)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestStateToFloat(t *testing.T) {
	assert.Equal(t, 0.0, stateToFloat(circuitbreaker.ClosedState))
	assert.Equal(t, 1.0, stateToFloat(circuitbreaker.HalfOpenState))
	assert.Equal(t, 2.0, stateToFloat(circuitbreaker.OpenState))
}
