package resilience

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/merlya/merlya/pkg/config"
	"github.com/merlya/merlya/pkg/metrics"
)

// RetryAttemptsMetric counts real retries (never first attempts), labeled by
// function name and attempt number.
const RetryAttemptsMetric = "merlya_retry_attempts_total"

type retryOptions struct {
	retriable func(error) bool
	registry  *metrics.Registry
}

// RetryOption customizes Retry behavior per call site.
type RetryOption func(*retryOptions)

// WithRetriable restricts which errors are retried. Non-retriable errors are
// returned immediately. Default: everything except context cancellation.
func WithRetriable(fn func(error) bool) RetryOption {
	return func(o *retryOptions) { o.retriable = fn }
}

// WithMetricsRegistry overrides the metrics registry. Default: metrics.Default().
func WithMetricsRegistry(reg *metrics.Registry) RetryOption {
	return func(o *retryOptions) { o.registry = reg }
}

// Retry invokes fn up to cfg.MaxAttempts times. The sleep before attempt i+1
// is min(initial_delay * factor^(i-1), max_delay), without jitter, so
// behavior is deterministic. The last error is returned after exhaustion.
func Retry(ctx context.Context, name string, cfg config.RetryConfig, fn func(ctx context.Context) error, opts ...RetryOption) error {
	o := retryOptions{
		retriable: defaultRetriable,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = metrics.Default()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = cfg.BackoffFactor
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !o.retriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		// notify fires only when a retry will actually happen; the first
		// attempt therefore never counts here.
		o.registry.Counter(RetryAttemptsMetric).IncLabeled(1, map[string]string{
			"function": name,
			"attempt":  strconv.Itoa(attempt + 1),
		})
		slog.Warn("Retrying after failure",
			"function", name, "failed_attempt", attempt, "delay", delay, "error", err)
	}

	return backoff.RetryNotify(operation, policy, notify)
}

// RetryTyped is Retry with a typed result.
func RetryTyped[T any](ctx context.Context, name string, cfg config.RetryConfig, fn func(ctx context.Context) (T, error), opts ...RetryOption) (T, error) {
	var result T
	err := Retry(ctx, name, cfg, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// defaultRetriable retries everything except context cancellation and open
// circuits; those cannot heal within a retry loop.
func defaultRetriable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return true
}
