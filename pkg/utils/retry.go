package utils

import (
	"context"
	"time"
)

// RetryConfig controls the bounded-retry combinator.
// Keep it config-driven; defaults should be safe and conservative.
type RetryConfig struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// BaseDelay is the wait before the first retry; each further retry
	// doubles it, capped at MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Sleep is injectable for deterministic tests. Defaults to a
	// context-aware timer sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c RetryConfig) withDefaults() RetryConfig {
	out := c
	if out.Attempts <= 0 {
		out.Attempts = 2
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = time.Second
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = 30 * time.Second
	}
	if out.Sleep == nil {
		out.Sleep = SleepContext
	}
	return out
}

// Retry runs op up to cfg.Attempts times with exponential backoff between
// tries. It returns nil on the first success, the last error once attempts
// are exhausted, or the context error if ctx is done while waiting.
func Retry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	var err error
	delay := cfg.BaseDelay
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			if serr := cfg.Sleep(ctx, delay); serr != nil {
				return serr
			}
			delay *= 2
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
		if err = op(ctx); err == nil {
			return nil
		}
	}
	return err
}

// SleepContext waits for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
