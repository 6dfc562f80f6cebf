// Package retryable provides the single bounded-retry primitive shared by
// container discovery, context-loss recovery, and heartbeat recovery.
// One abstraction instead of per-feature retry loops: fixed attempts,
// fixed delay, context-aware waits, last error reported on exhaustion.
package retryable

import (
	"context"
	"log/slog"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	// Attempts is the total number of tries (not re-tries). Minimum 1.
	Attempts int
	// Delay is the fixed wait between consecutive attempts.
	Delay time.Duration
	// Logger, when set, records each failed attempt at warn level.
	Logger *slog.Logger
	// Label names the operation in logs.
	Label string
}

func (p *Policy) defaults() {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
}

// Do runs fn until it succeeds, the attempt budget is exhausted, or ctx
// is cancelled. It returns nil on success, ctx.Err() on cancellation, and
// the last attempt's error on exhaustion.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p.defaults()

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if p.Logger != nil {
			p.Logger.Warn("retryable: attempt failed",
				"op", p.Label,
				"attempt", attempt,
				"attempts", p.Attempts,
				"error", lastErr)
		}

		if attempt < p.Attempts && p.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay):
			}
		}
	}
	return lastErr
}

// DoValue is Do for functions that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
