// Package guardrails holds cross cutting safety helpers for derive runs
package guardrails

import (
	"context"
	"time"
)

// Timeouts is an optional budget bundle for one unit of work.
// Zero values mean no extra timeout at that level
type Timeouts struct {
	// Tag caps the histogram phase of one (tag, MET)
	Tag time.Duration

	// File caps opening and reading a single input file, retries excluded
	File time.Duration

	// DB caps one ledger write
	DB time.Duration
}

// ForTag returns a context limited by the tag budget without extending any parent deadline
func ForTag(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Tag)
}

// ForFile returns a sub context for one file attempt
func ForFile(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.File)
}

// ForDB returns a sub context for a ledger write
func ForDB(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.DB)
}

// Remaining returns the time until the deadline on ctx or zero when none is set or already expired
func Remaining(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
	}
	return 0
}

// withChildTimeout takes the tighter of d and the parent remainder; d <= 0 only adds cancel
func withChildTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	if rem := Remaining(parent); rem > 0 && rem < d {
		return context.WithTimeout(parent, rem)
	}
	return context.WithTimeout(parent, d)
}
