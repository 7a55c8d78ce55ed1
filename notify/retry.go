package notify

import (
	"context"
	"time"
)

// DefaultRetrySchedule spaces delivery attempts for flaky outbound targets:
// immediate, then 2s, then 5s.
var DefaultRetrySchedule = []time.Duration{0, 2 * time.Second, 5 * time.Second}

// Retry runs fn once per delay in schedule, sleeping the delay first.
// It returns the number of attempts made and the last error, nil on the
// first success. Context cancellation stops the schedule early.
func Retry(ctx context.Context, schedule []time.Duration, fn func() error) (int, error) {
	var lastErr error
	attempts := 0
	for _, delay := range schedule {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return attempts, ctx.Err()
			}
		}
		attempts++
		if lastErr = fn(); lastErr == nil {
			return attempts, nil
		}
	}
	return attempts, lastErr
}
