// Package ratelimit implements a fixed-window per-minute request counter
// keyed by account identifier. The window resets at each clock-minute
// boundary, so bursts straddling a boundary can briefly admit up to twice
// the configured limit within a contiguous 60 seconds; that allowance is
// accepted behavior.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // time until the next window opens; zero when allowed
}

// Limiter admits or rejects one request for an account. A rejected request
// does not consume from the window.
type Limiter interface {
	Allow(ctx context.Context, accountID string, limitPerMin int) (Decision, error)
}

// window returns the fixed-window index and the time remaining in it.
func window(now time.Time) (int64, time.Duration) {
	unix := now.Unix()
	idx := unix / 60
	remaining := time.Duration((idx+1)*60-unix) * time.Second
	return idx, remaining
}

// windowKey builds the counter key for an account in a window.
func windowKey(accountID string, windowIdx int64) string {
	return fmt.Sprintf("%s:%d", accountID, windowIdx)
}
