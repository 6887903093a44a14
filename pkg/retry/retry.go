package retry

import (
	"context"
	"errors"
	"time"
)

// Config describes the retry behavior.
type Config struct {
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number that just failed, so the
	// wait before attempt n+1 is BaseDelay*n.
	BaseDelay time.Duration
	// MaxDelay caps a single wait. Zero means no cap.
	MaxDelay time.Duration
	// OnRetry, when set, is called after a failed attempt that will be retried.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Delay returns the wait that follows the given failed attempt.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.BaseDelay * time.Duration(attempt)
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// Do executes fn and retries with linear backoff until it succeeds, the
// attempts are exhausted or the context is cancelled. The error of the last
// attempt is returned.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return errors.Join(err, ctxErr)
			}
			return ctxErr
		}

		if err = fn(attempt); err == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		sleep := cfg.Delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, sleep, err)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}
