package checkout

import (
	"context"
	"time"
)

// RetryPolicy names how a backend call reacts to errors. Session creation and
// status polling deliberately use different policies.
type RetryPolicy struct {
	Name string
	// MaxAttempts of zero means keep going until cancelled.
	MaxAttempts  int
	Interval     time.Duration
	Timeout      time.Duration
	AbortOnError bool
}

// SessionCreationPolicy fails fast: one attempt, errors go straight back to the form.
func SessionCreationPolicy(timeout time.Duration) RetryPolicy {
	return RetryPolicy{
		Name:         "session-creation",
		MaxAttempts:  1,
		Timeout:      timeout,
		AbortOnError: true,
	}
}

// StatusPollPolicy repeats on a fixed period and tolerates errors until cancelled.
func StatusPollPolicy(interval, timeout time.Duration) RetryPolicy {
	return RetryPolicy{
		Name:     "status-poll",
		Interval: interval,
		Timeout:  timeout,
	}
}

// Do runs fn until it succeeds or the policy gives up.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := p.once(ctx, fn)
		if err == nil {
			return nil
		}
		if p.AbortOnError || (p.MaxAttempts > 0 && attempt >= p.MaxAttempts) || ctx.Err() != nil {
			return err
		}
		select {
		case <-time.After(p.Interval):
		case <-ctx.Done():
			return err
		}
	}
}

func (p RetryPolicy) once(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := p.attemptContext(ctx)
	defer cancel()
	return fn(ctx)
}

func (p RetryPolicy) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.Timeout)
}
