package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, back off and try again
)

// Policy controls how often and how patiently an operation is retried.
// The n-th retry (1-based) waits BaseDelay * 2^n, so a 1s base yields 2s, 4s, 8s.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Clock      clockwork.Clock
	OnRetry    func(retry int, err error, delay time.Duration)
}

// Delay returns the wait before the given 1-based retry.
func (p Policy) Delay(retry int) time.Duration {
	return p.BaseDelay << uint(retry)
}

type Classify func(err error) Action
type Operation[T any] func() (T, error)
type VoidOperation func() error

// Do runs op until it succeeds, classify says Stop, retries run out, or ctx
// is cancelled while waiting. Cancelling ctx stops the pending timer.
func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var zero T
	for attempt := 0; ; attempt++ {
		val, err := op()
		if err == nil {
			return val, nil
		}

		if classify(err) == Stop {
			return zero, &PermanentError{Err: err}
		}

		if attempt >= p.MaxRetries {
			return zero, fmt.Errorf("failed after %d attempts: %w", attempt+1, err)
		}

		retry := attempt + 1
		delay := p.Delay(retry)
		if p.OnRetry != nil {
			p.OnRetry(retry, err, delay)
		}

		timer := clock.NewTimer(delay)
		select {
		case <-timer.Chan():
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}
}

func DoVoid(ctx context.Context, p Policy, classify Classify, op VoidOperation) error {
	_, err := Do(ctx, p, classify, func() (struct{}, error) { return struct{}{}, op() })
	return err
}

type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
