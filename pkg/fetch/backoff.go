package fetch

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrMaxRetries is returned by Wait once the attempt budget is spent.
var ErrMaxRetries = errors.New("maximum retries exceeded")

// backoff is exponential backoff with jitter. Not safe for concurrent use;
// every fetch owns its own instance.
type backoff struct {
	baseDelay time.Duration
	maxDelay  time.Duration
	attempt   uint
	maxRetry  uint
}

func newBackoff(baseDelay, maxDelay time.Duration, maxRetries uint) *backoff {
	return &backoff{baseDelay: baseDelay, maxDelay: maxDelay, maxRetry: maxRetries}
}

// next returns the delay before the next attempt: 2^attempt * base, jittered
// by +/-50%, capped at maxDelay.
func (b *backoff) next() time.Duration {
	delay := b.baseDelay * time.Duration(1<<b.attempt)
	if delay <= 0 || delay > b.maxDelay {
		delay = b.maxDelay
	}
	if delay > 1 {
		delay = delay/2 + time.Duration(rand.Int63n(int64(delay)))
	}
	if delay > b.maxDelay {
		delay = b.maxDelay
	}
	return delay
}

// Wait sleeps until the next attempt is due, or fails when retries are
// exhausted or ctx is done.
func (b *backoff) Wait(ctx context.Context) error {
	if b.attempt >= b.maxRetry {
		return ErrMaxRetries
	}
	timer := time.NewTimer(b.next())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	b.attempt++
	return nil
}
