package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	registryRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mastr_retries_total",
		Help: "Total number of retry attempts by fault class",
	}, []string{"fault"})

	registryRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mastr_retry_backoff_seconds",
		Help:    "Backoff duration for retries by fault class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"fault"})

	registryRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mastr_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by fault class",
	}, []string{"fault"})
)

// RetryPolicy wraps a single registry call with bounded exponential
// backoff. It is an explicit object rather than a decorator so attempt
// counting and classification stay testable apart from the call itself.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// Factor is the multiplier for exponential backoff.
	Factor float64

	// MaxDelay caps the backoff between attempts.
	MaxDelay time.Duration

	// Logger used for retry observability. Zero value logs via the
	// global logger.
	Logger *zerolog.Logger
}

// DefaultRetryPolicy mirrors the registry defaults: at most 3 attempts,
// 5s base delay, doubling up to 60s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		Factor:      2.0,
		MaxDelay:    60 * time.Second,
	}
}

func (p RetryPolicy) logger() *zerolog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return &log.Logger
}

// Do executes fn, retrying classified transient faults with exponential
// backoff. Non-retryable errors propagate immediately. After exhausting
// attempts the last fault is wrapped in ErrRetryExhausted.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	backoff := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				p.logger().Info().
					Str("op", op).
					Int("attempt", attempt).
					Msg("Call succeeded after retry")
			}
			return nil
		}

		lastErr = err

		// Non-matching error kinds propagate without retry.
		if !IsRetryable(err) {
			return err
		}

		if attempt >= maxAttempts {
			break
		}

		fault := faultOf(err)
		registryRetriesTotal.WithLabelValues(string(fault)).Inc()

		// Add jitter (±20%) to avoid synchronized worker retries.
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		registryRetryBackoffSeconds.WithLabelValues(string(fault)).Observe(jitter.Seconds())

		p.logger().Debug().
			Str("op", op).
			Str("fault", string(fault)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying call after backoff")

		select {
		case <-ctx.Done():
			p.logger().Warn().
				Str("op", op).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * p.Factor)
		if p.MaxDelay > 0 && backoff > p.MaxDelay {
			backoff = p.MaxDelay
		}
	}

	fault := faultOf(lastErr)
	registryRetryExhaustedTotal.WithLabelValues(string(fault)).Inc()
	p.logger().Warn().
		Str("op", op).
		Str("fault", string(fault)).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, maxAttempts, lastErr)
}

// faultOf extracts the fault class from an error, if any.
func faultOf(err error) FaultClass {
	var regErr *Error
	if errors.As(err, &regErr) {
		return regErr.Fault
	}
	return ""
}
