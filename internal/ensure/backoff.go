package ensure

import (
	"context"
	"math"
	"time"
)

// Delay returns how long to wait after dispatching cycle n (0-based):
// min(DelayAfterSend*2^n, MaxBackoff) with exponential backoff, else DelayAfterSend.
// A MaxBackoff of zero means uncapped.
func (c RetryConfig) Delay(n int) time.Duration {
	if !c.UseExponentialBackoff {
		return c.DelayAfterSend
	}

	d := c.DelayAfterSend
	for i := 0; i < n && d > 0 && d <= math.MaxInt64/2; i++ {
		if c.MaxBackoff > 0 && d >= c.MaxBackoff {
			break
		}
		d *= 2
	}
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

func (c RetryConfig) scope() RetryScope {
	if c.Scope == "" {
		return RetryBatch
	}
	return c.Scope
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
