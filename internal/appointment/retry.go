package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// RetryPolicy bounds every store call made by the Service.
type RetryPolicy struct {
	MaxAttempts     int           // including the first attempt
	AttemptTimeout  time.Duration // deadline applied to each attempt
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		AttemptTimeout:  2 * time.Second,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = def.AttemptTimeout
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

// withRetry runs fn until it succeeds, fails with a non-transient error or
// the attempt budget is spent. Only ErrTransient (or an attempt deadline
// firing while ctx is still live) is retried.
func withRetry[T any](ctx context.Context, s *Service, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry.InitialInterval
	b.MaxInterval = s.retry.MaxInterval

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		if attempt > 1 {
			s.metrics.IncRetry(op)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.retry.AttemptTimeout)
		defer cancel()

		start := time.Now()
		v, err := fn(attemptCtx)
		s.metrics.ObserveStore(op, time.Since(start))

		if err == nil {
			return v, nil
		}

		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = Transient(err)
		}
		if ctx.Err() != nil || !errors.Is(err, ErrTransient) {
			return v, backoff.Permanent(err)
		}

		s.log.Warn("transient store failure",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.retry.MaxAttempts),
			zap.Error(err),
		)
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.retry.MaxAttempts)))
}
