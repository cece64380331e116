package resilience

import (
	"context"
	"time"
)

// RetryPolicy retries outbound bridge deliveries a fixed number of
// times with a flat backoff. The summary push runs inside the
// end-of-session barrier, so the whole policy must fit the barrier
// window; keep MaxRetries small.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

// Do runs fn until it succeeds or the attempts are spent. A cancelled
// context stops the backoff wait immediately and returns the last
// delivery error, not ctx.Err, so the caller's log names the fault.
func (r RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if i == r.MaxRetries {
			return err
		}
		timer := time.NewTimer(r.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
