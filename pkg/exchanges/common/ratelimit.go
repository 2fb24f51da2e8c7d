package common

import (
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var rlLog = logrus.WithField("component", "ratelimit")

// RateLimiter tracks the exchange-reported request weight.
type RateLimiter struct {
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
}

// NewRateLimiter creates a weight tracker.
// limit: maximum weight allowed (2400 for USDT-M futures)
// resetInterval: time window (1 minute)
func NewRateLimiter(limit int, resetInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// UpdateFromHeader records the X-MBX-USED-WEIGHT-1M value.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight

	percentage := float64(rl.usedWeight) / float64(rl.limit) * 100
	if percentage >= 95 {
		rlLog.Warnf("rate limit critical: %d/%d (%.1f%%)", rl.usedWeight, rl.limit, percentage)
	} else if percentage >= 80 {
		rlLog.Warnf("rate limit warning: %d/%d (%.1f%%)", rl.usedWeight, rl.limit, percentage)
	}
}

// GetUsage returns current usage information.
func (rl *RateLimiter) GetUsage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit, 0
	}
	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}

// ShouldDelay returns true once 90% of the window is used.
func (rl *RateLimiter) ShouldDelay() bool {
	_, _, pct := rl.GetUsage()
	return pct >= 90
}

// WindowRemaining is the time left until the weight window rolls over.
func (rl *RateLimiter) WindowRemaining() time.Duration {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	left := rl.resetInterval - time.Since(rl.lastReset)
	if left < 0 {
		return 0
	}
	return left
}
