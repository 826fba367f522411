package httpclient

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/tthsd/tthsd/internal/engine/types"
	"github.com/tthsd/tthsd/internal/utils"
)

// GetRangeWithRetry wraps GetRange with the exponential backoff policy from
// spec §4.A: attempts start at RetryBaseDelay, double each time, cap at
// RetryMaxDelay, up to maxRetries attempts. Non-retryable 4xx statuses
// (anything but 408/429) fail immediately, matching the teacher's
// downloadTask retry loop in spirit.
func (c *Client) GetRangeWithRetry(ctx context.Context, url string, start, end int64, maxRetries int, onChunk func([]byte) error) error {
	if maxRetries < 1 {
		maxRetries = types.MaxTaskRetries
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			WaitForHostCooldown(ctx, url)
			delay := backoffDelay(attempt)
			utils.Debug("httpclient: retrying range [%d,%d) attempt %d after %v", start, end, attempt+1, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.GetRange(ctx, url, start, end, onChunk)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return err
		}
		if !isTransientNetErr(err) {
			var statusErr2 *StatusError
			if !errors.As(err, &statusErr2) {
				// Unclassified error (e.g. a sink write failure); don't retry blindly.
				return err
			}
		}
	}
	return lastErr
}

func backoffDelay(attempt int) time.Duration {
	delay := types.RetryBaseDelay << uint(attempt-1)
	if delay > types.RetryMaxDelay {
		delay = types.RetryMaxDelay
	}
	return delay
}

func isTransientNetErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var statusErr *StatusError
	return errors.As(err, &statusErr)
}
