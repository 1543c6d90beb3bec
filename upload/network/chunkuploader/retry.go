package chunkuploader

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

type retrier struct {
	maxRetries     int
	baseDelay      time.Duration
	maxJitter      time.Duration
	requestTimeout time.Duration
	jitter         func(max time.Duration) time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

func newRetrier(config Config) retrier {
	return retrier{
		maxRetries:     config.MaxRetries,
		baseDelay:      config.BaseDelay,
		maxJitter:      config.MaxJitter,
		requestTimeout: config.RequestTimeout,
		jitter:         randomJitter,
		sleep:          sleepContext,
	}
}

// maxBackoff bounds the exponential part of the delay, jitter comes on top.
const maxBackoff = 5 * time.Minute

// backoff returns the delay before the given retry (1 for the first retry).
func (r retrier) backoff(retry int) time.Duration {
	delay := maxBackoff
	if shift := retry - 1; shift < 32 && r.baseDelay <= maxBackoff>>shift {
		delay = r.baseDelay << shift
	}
	if r.maxJitter > 0 {
		delay += r.jitter(r.maxJitter)
	}
	return delay
}

// do sends with retries. It returns the number of attempts made and the duration of the last one.
// Cancellation of ctx is never retried.
func (r retrier) do(ctx context.Context, send func(context.Context) error, onRetry func(attempt int, err error)) (int, time.Duration, error) {
	var lastErr error

	for attempt := 1; attempt <= r.maxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, 0, err
		}

		took, err := r.attempt(ctx, send)
		if err == nil {
			return attempt, took, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return attempt, took, ctx.Err()
		}
		if attempt > r.maxRetries {
			break
		}

		onRetry(attempt, err)
		if err := r.sleep(ctx, r.backoff(attempt)); err != nil {
			return attempt, took, err
		}
	}

	return r.maxRetries + 1, 0, lastErr
}

func (r retrier) attempt(ctx context.Context, send func(context.Context) error) (time.Duration, error) {
	attemptCtx := ctx
	if r.requestTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.requestTimeout)
		defer cancel()
	}

	start := time.Now()
	err := send(attemptCtx)
	took := time.Since(start)

	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return took, &timeoutError{timeout: r.requestTimeout, err: err}
	}
	return took, err
}

type timeoutError struct {
	timeout time.Duration
	err     error
}

func (e *timeoutError) Error() string {
	return "request timed out after " + e.timeout.String() + ": " + e.err.Error()
}

func (e *timeoutError) Unwrap() error { return e.err }

func (e *timeoutError) Timeout() bool { return true }

func randomJitter(max time.Duration) time.Duration {
	return time.Duration(rand.Int63n(int64(max)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
