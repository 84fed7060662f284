// Package status keeps the local mirror of commit statuses and pushes dirty
// entries to the external status API under a token budget.
package status

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is the token bucket shared by all status pushes.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows tokensPerHour pushes per hour, refilled continuously,
// with a bucket that starts full.
func NewRateLimiter(tokensPerHour int) *RateLimiter {
	if tokensPerHour < 1 {
		tokensPerHour = 1
	}
	every := time.Hour / time.Duration(tokensPerHour)
	return &RateLimiter{limiter: rate.NewLimiter(rate.Every(every), tokensPerHour)}
}

// Unlimited returns a limiter that never throttles.
func Unlimited() *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
}

// TryConsume takes one token if available. It never blocks.
func (l *RateLimiter) TryConsume() bool {
	return l.limiter.Allow()
}

// Available reports the approximate number of tokens left.
func (l *RateLimiter) Available() float64 {
	return l.limiter.Tokens()
}
