// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestUntil_SucceedsAfterTransientFailures(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	calls := 0
	attempts, err := Until(context.Background(), Options{Name: "t", Interval: 10 * time.Millisecond, Budget: time.Second},
		func(context.Context) (bool, error) {
			calls++
			if calls < 3 {
				return false, errors.New("connection refused")
			}
			return true, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestUntil_StopsAtBudget(t *testing.T) {
	start := time.Now()
	attempts, err := Until(context.Background(), Options{Name: "t", Interval: 50 * time.Millisecond, Budget: 300 * time.Millisecond},
		func(context.Context) (bool, error) { return false, errors.New("connection refused") })

	elapsed := time.Since(start)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Contains(t, err.Error(), "connection refused")
	assert.GreaterOrEqual(t, attempts, 2)
	assert.GreaterOrEqual(t, elapsed, 280*time.Millisecond, "must use the whole budget")
	assert.Less(t, elapsed, 600*time.Millisecond, "must not overrun the budget noticeably")
}

func TestUntil_LastAttemptAtDeadline(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	// Slots at 0 and 200ms; the service comes up at 250ms, before the 300ms budget ends.
	start := time.Now()
	attempts, err := Until(context.Background(), Options{Name: "t", Interval: 200 * time.Millisecond, Budget: 300 * time.Millisecond},
		func(context.Context) (bool, error) {
			if time.Since(start) < 250*time.Millisecond {
				return false, errors.New("connection refused")
			}
			return true, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 290*time.Millisecond)
	assert.Less(t, elapsed, 600*time.Millisecond)
}

func TestUntil_FinalAttemptHasLiveContext(t *testing.T) {
	var ctxErrs []error
	attempts, err := Until(context.Background(), Options{Name: "t", Interval: time.Second, Budget: 100 * time.Millisecond},
		func(ctx context.Context) (bool, error) {
			ctxErrs = append(ctxErrs, ctx.Err())
			return false, nil
		})

	require.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []error{nil, nil}, ctxErrs)
}
