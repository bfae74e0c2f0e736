package engine

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/soochol/ingest/internal/ingest"
)

// RetryPolicy defines how a failing step is retried.
type RetryPolicy struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// DefaultRetryPolicy carries backoff settings but no retries; callers opt
// in by setting MaxRetries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    0,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// WithRetry wraps s so that transient failures (timeouts, refused or reset
// connections, 5xx and rate limits) are retried with exponential backoff.
// Other errors fail immediately. A Rollbacker stays a Rollbacker.
func WithRetry(s Step, policy RetryPolicy) Step {
	if policy.MaxRetries <= 0 {
		return s
	}
	r := retryStep{Step: s, policy: policy}
	if rb, ok := s.(Rollbacker); ok {
		return retryStepWithRollback{retryStep: r, rb: rb}
	}
	return r
}

type retryStep struct {
	Step
	policy RetryPolicy
}

func (s retryStep) Execute(ctx context.Context, data ingest.Record) (ingest.Record, error) {
	for attempt := 0; ; attempt++ {
		out, err := s.Step.Execute(ctx, data)
		if err == nil || attempt >= s.policy.MaxRetries || !isRetryable(err) || ctx.Err() != nil {
			return out, err
		}
		slog.Info("retry: step failed", "step", s.Name(), "attempt", attempt+1, "err", err)
		sleepWithBackoff(ctx, s.policy, attempt)
	}
}

type retryStepWithRollback struct {
	retryStep
	rb Rollbacker
}

func (s retryStepWithRollback) Rollback(ctx context.Context, data ingest.Record) error {
	return s.rb.Rollback(ctx, data)
}

// sleepWithBackoff waits for the backoff duration, respecting context cancellation.
func sleepWithBackoff(ctx context.Context, policy RetryPolicy, attempt int) {
	timer := time.NewTimer(calculateBackoff(policy, attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func calculateBackoff(policy RetryPolicy, attempt int) time.Duration {
	factor := policy.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	delay := time.Duration(float64(policy.InitialDelay) * math.Pow(factor, float64(attempt)))
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		return policy.MaxDelay
	}
	return delay
}

var retryablePatterns = []string{
	"timeout", "rate limit", "too many requests",
	"429", "502", "503", "504",
	"connection reset", "connection refused", "eof",
	"bad connection",
}

func isRetryable(err error) bool {
	lower := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
