// Package ratelimit provides the token bucket shared by every probe emission of a scan.
package ratelimit

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Limiter gates packet emissions to a fixed number per second. The zero rate
// means unlimited. A Limiter is safe for concurrent use.
type Limiter struct {
	limiter *rate.Limiter
	emitted atomic.Uint64
}

// New creates a Limiter allowing pps emissions per second. The bucket holds a
// single token so no burst above the configured rate is possible.
func New(pps int) *Limiter {
	if pps <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(pps), 1)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	l.emitted.Add(1)
	return nil
}

// Emitted returns the number of tokens handed out so far.
func (l *Limiter) Emitted() uint64 {
	return l.emitted.Load()
}

// Rate returns the configured emissions per second, or 0 when unlimited.
func (l *Limiter) Rate() int {
	if l.limiter.Limit() == rate.Inf {
		return 0
	}
	return int(l.limiter.Limit())
}
