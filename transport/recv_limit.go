package transport

import (
	"context"
	"sync/atomic"

	"go.uber.org/ratelimit"
	"golang.org/x/time/rate"
)

// TokenRecvLimiter is a token bucket limiter guarding connection admission.
// The limiter pointer is swapped atomically so hot reload never races an
// in-flight admission check.
type TokenRecvLimiter struct {
	limiter atomic.Pointer[rate.Limiter]
}

// NewTokenRecvLimiter creates a token bucket allowing limit admissions per
// second with the given burst.
func NewTokenRecvLimiter(limit int, burst int) *TokenRecvLimiter {
	l := &TokenRecvLimiter{}
	l.limiter.Store(rate.NewLimiter(rate.Limit(limit), burst))
	return l
}

// TryTake consumes a token if one is available. Non-blocking; used on engine
// worker goroutines where blocking would stall the accept path.
func (l *TokenRecvLimiter) TryTake() bool {
	return l.limiter.Load().Allow()
}

// Take blocks until a token is available.
func (l *TokenRecvLimiter) Take() error {
	return l.limiter.Load().Wait(context.Background())
}

// Reload swaps in a new limit and burst at runtime.
func (l *TokenRecvLimiter) Reload(limit int, burst int) {
	l.limiter.Store(rate.NewLimiter(rate.Limit(limit), burst))
}

// FunnelRecvLimiter is a leaky bucket limiter pacing inbound packet delivery.
// Unlike the token bucket it never bursts; each Take spaces deliveries evenly
// across the second.
type FunnelRecvLimiter struct {
	limiter atomic.Pointer[ratelimit.Limiter]
}

// NewFunnelRecvLimiter creates a leaky bucket passing limit items per second.
func NewFunnelRecvLimiter(limit int) *FunnelRecvLimiter {
	limiter := ratelimit.New(limit)
	l := &FunnelRecvLimiter{}
	l.limiter.Store(&limiter)
	return l
}

// Take blocks until the next delivery slot.
func (l *FunnelRecvLimiter) Take() {
	(*l.limiter.Load()).Take()
}

// Reload swaps in a new per-second limit at runtime.
func (l *FunnelRecvLimiter) Reload(limit int) {
	limiter := ratelimit.New(limit)
	l.limiter.Store(&limiter)
}
