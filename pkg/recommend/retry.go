package recommend

import (
	"context"
	"time"

	"onebookreader/pkg/apierror"
)

const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 30 * time.Second
)

// RetryPolicy bounds how often and how patiently a failed fetch is retried.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy retries twice, waiting 1s and then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

// resolveRetry returns DefaultRetryPolicy when p is nil. An explicit policy
// keeps its MaxRetries, so zero disables retrying; missing delays take the
// defaults.
func resolveRetry(p *RetryPolicy) RetryPolicy {
	def := DefaultRetryPolicy()
	if p == nil {
		return def
	}
	out := *p
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = def.BaseDelay
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = def.MaxDelay
	}
	return out
}

// Delay returns the wait before retry n (0 for the first retry): BaseDelay
// doubled n times, capped at MaxDelay.
func (p RetryPolicy) Delay(n int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// retryable reports whether err is worth another attempt. Session
// rejections and caller errors are final.
func retryable(err error) bool {
	return apierror.Transient(err)
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryWithBackoff runs fn until it succeeds, fails with a final error, or
// the retry budget is spent. Only the last error is returned.
func retryWithBackoff(ctx context.Context, p RetryPolicy, sleep sleepFunc, onRetry func(n int, delay time.Duration, err error), fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn(ctx)
		if err == nil || !retryable(err) || attempt == p.MaxRetries {
			return err
		}
		delay := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
	return err
}
