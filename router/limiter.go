package router

import (
	"context"
	"time"

	"github.com/juju/ratelimit"
)

// controlLimiter paces Subscribe/Unsubscribe churn. It deliberately
// never gates Publish: spec.md §1 excludes message-level flow control
// from this design, but an admin-operation churn limiter is a
// control-plane safeguard, not message flow control, so it is in scope
// (see SPEC_FULL.md §4.2). A nil *ratelimit.Bucket disables limiting.
type controlLimiter struct {
	bucket *ratelimit.Bucket
}

// wait blocks until a token is available or ctx is done, whichever
// comes first. With no bucket configured it returns immediately.
func (l controlLimiter) wait(ctx context.Context) error {
	if l.bucket == nil {
		return nil
	}

	d := l.bucket.Take(1)
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
