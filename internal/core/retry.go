package core

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Retryer runs catalog operations with bounded exponential backoff.
// Attempts are capped, delays double per attempt with jitter, and errors
// classified as non-retryable (auth, not-found, cancellation) fail fast.
type Retryer struct {
	logger      *zap.Logger
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration
}

func NewRetryer(logger *zap.Logger, cfg SyncConfig) *Retryer {
	return &Retryer{
		logger:      logger.Named("retry"),
		maxAttempts: cfg.MaxRetries,
		baseDelay:   cfg.RetryBaseDelay,
		timeout:     cfg.RequestTimeout,
	}
}

// Do invokes fn until it succeeds, exhausts the configured attempts, or returns
// a non-retryable error. Each attempt gets its own timeout derived from
// ctx. The returned error is the last attempt's error.
func (r *Retryer) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.delayFor(attempt)
			r.logger.Warn("Retrying operation",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if r.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		lastErr = fn(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

// delayFor returns base * 2^(attempt-1) with up to 25% jitter added.
func (r *Retryer) delayFor(attempt int) time.Duration {
	delay := r.baseDelay << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}
