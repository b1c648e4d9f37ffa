package utils

import (
	"context"
	"fmt"
	"time"

	"device-notifier/internal/logging"
)

// Retry calls fn up to maxAttempts times, sleeping delay between attempts.
// Errors for which retryable returns false are returned immediately.
func Retry(ctx context.Context, logger *logging.Logger, maxAttempts int, delay time.Duration, retryable func(error) bool, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		logger.Warnf("Attempt %d/%d failed: %v", attempt, maxAttempts, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry interrupted after %d attempts: %w", attempt, lastErr)
		case <-time.After(delay):
		}
	}
	if maxAttempts == 1 {
		return lastErr
	}
	return fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}
