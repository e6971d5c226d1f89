// Package ratelimit implements per-key sliding-window request limits.
//
// Only admitted requests occupy the window. A rejected request does not
// extend the penalty, so a client that backs off regains access exactly one
// window after its oldest admitted request.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether one more request for key fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
