// File path: internal/query/retry.go
package query

import (
	"context"
	"errors"
	"time"

	"github.com/assetlens/unitylog/internal/store"
)

// retryPolicy is the single retryable-read policy applied to every query
// that can observe the read-after-write consistency window: a bulk commit
// on the ingest goroutine may not be visible to an immediately following
// read.
type retryPolicy struct {
	maxRetries int
	backoff    time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{maxRetries: 3, backoff: 500 * time.Millisecond}
}

// do runs fn until it reports ready or retries are exhausted. fn returns
// (ready, err): ErrNotReady and ready=false both trigger a backed-off
// retry; any other error is final. The last attempt's state is accepted
// as-is so callers degrade to best-effort rather than failing.
func (p retryPolicy) do(ctx context.Context, fn func(ctx context.Context) (bool, error)) error {
	delay := p.backoff
	for attempt := 0; ; attempt++ {
		ready, err := fn(ctx)
		if err != nil && !errors.Is(err, store.ErrNotReady) {
			return err
		}
		if ready && err == nil {
			return nil
		}
		if attempt >= p.maxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}
