package ratelimit

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	// DownloadRetryBaseDelay seeds the Fibonacci backoff between stream
	// download attempts.
	DownloadRetryBaseDelay = 1 * time.Second
	// APIRetryBaseDelay is the first interval of the exponential backoff
	// between API request attempts.
	APIRetryBaseDelay = 200 * time.Millisecond
	// APIRetryMaxElapsed bounds the total time spent retrying a single API
	// request.
	APIRetryMaxElapsed = 30 * time.Second
)

// ItemDelayDuration is a random pause of 2 to 5 seconds between the items of
// a collection.
func ItemDelayDuration() time.Duration {
	const (
		from = 2
		to   = 5
	)
	millis := rand.IntN(to-from)*1000 + from*1000 + rand.N(1000) //nolint:gosec

	return time.Duration(millis) * time.Millisecond
}

// ItemDelay sleeps for ItemDelayDuration or until ctx is done.
func ItemDelay(ctx context.Context) error {
	t := time.NewTimer(ItemDelayDuration())
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
