package scheduler

import (
	"context"
	"time"

	"github.com/vnykmshr/systask/pkg/scheduling/workerpool"
)

// BackoffTask wraps a job with retry logic.
type BackoffTask struct {
	Job          workerpool.Job
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Run calls Job until it succeeds or MaxRetries retries have failed, doubling
// the pause between attempts up to MaxDelay. It returns the last error.
func (bt BackoffTask) Run(ctx context.Context) error {
	var lastErr error
	delay := bt.InitialDelay

	for attempt := 0; attempt <= bt.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		lastErr = bt.Job(ctx)
		if lastErr == nil {
			return nil
		}

		// Double delay for next attempt
		delay *= 2
		if bt.MaxDelay > 0 && delay > bt.MaxDelay {
			delay = bt.MaxDelay
		}
	}

	return lastErr
}
