// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package poll implements bounded polling: a fixed interval, a fixed
// wall-clock budget, and prompt exit on cancellation.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/helixml/hyprmoon/internal/log"
	"github.com/helixml/hyprmoon/internal/metrics"
)

// ErrBudgetExhausted is returned when the probe never succeeded within the budget.
var ErrBudgetExhausted = errors.New("poll budget exhausted")

// Probe is one attempt. Returning done=true stops polling. A non-nil error
// is treated as a transient failure and only remembered for the final error.
type Probe func(ctx context.Context) (done bool, err error)

// Options bound a polling loop.
type Options struct {
	Name     string // metrics label
	Interval time.Duration
	Budget   time.Duration
}

// Until runs probe at most once per Interval until it reports done, Budget
// elapses, or ctx is cancelled. The first attempt runs immediately. When the
// next slot would fall past the budget, one last attempt runs at the deadline
// instead, bounded by finalGrace. It returns the number of attempts made.
func Until(ctx context.Context, opts Options, probe Probe) (int, error) {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	budgetCtx := ctx
	var deadline time.Time
	if opts.Budget > 0 {
		deadline = time.Now().Add(opts.Budget)
		var cancel context.CancelFunc
		budgetCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	logger := log.WithComponentFromContext(ctx, "poll")
	limiter := rate.NewLimiter(rate.Every(opts.Interval), 1)

	var (
		attempts int
		lastErr  error
	)
	for {
		r := limiter.Reserve()
		delay := r.Delay()
		final := !deadline.IsZero() && time.Now().Add(delay).After(deadline)
		if final {
			r.Cancel()
			delay = time.Until(deadline)
		}
		if err := sleep(ctx, delay); err != nil {
			break
		}

		attemptCtx, cancel := budgetCtx, context.CancelFunc(func() {})
		if final {
			attemptCtx, cancel = context.WithTimeout(ctx, finalGrace(opts.Interval))
		}
		attempts++
		done, err := probe(attemptCtx)
		cancel()
		metrics.IncPollAttempt(opts.Name, done)
		if done {
			return attempts, nil
		}
		if err != nil {
			lastErr = err
			logger.Debug().Err(err).Str("probe", opts.Name).Int("attempt", attempts).Bool("final", final).Msg("poll attempt failed")
		}
		if final {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return attempts, err
	}
	if lastErr != nil {
		return attempts, fmt.Errorf("%s: %w after %d attempts: %w", opts.Name, ErrBudgetExhausted, attempts, lastErr)
	}
	return attempts, fmt.Errorf("%s: %w after %d attempts", opts.Name, ErrBudgetExhausted, attempts)
}

// finalGrace bounds the attempt made at the deadline.
func finalGrace(interval time.Duration) time.Duration {
	return min(interval, time.Second)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
