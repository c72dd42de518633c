package notify

import (
	"context"
	"sync"
	"time"
)

// rateLimiter is a token bucket in front of the message endpoint, which
// caps how many messages an application may send per minute.
type rateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

// newRateLimiter returns nil when ratePerMinute <= 0, meaning unthrottled.
func newRateLimiter(burst int, ratePerMinute float64) *rateLimiter {
	if ratePerMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		tokens:   float64(burst),
		max:      float64(burst),
		rate:     ratePerMinute / 60.0,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done. A nil limiter
// never blocks.
func (rl *rateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return ctx.Err()
	}
	for {
		rl.mu.Lock()
		now := time.Now()
		rl.tokens += now.Sub(rl.lastTime).Seconds() * rl.rate
		if rl.tokens > rl.max {
			rl.tokens = rl.max
		}
		rl.lastTime = now

		if rl.tokens >= 1.0 {
			rl.tokens -= 1.0
			rl.mu.Unlock()
			return nil
		}
		wait := time.Duration((1.0 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
