package fetch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter spaces out requests to the same host. Batch scans use it to
// avoid hammering a host when many submitted URLs share it.
type RateLimiter struct {
	hostNext   map[string]time.Time // hostname -> earliest time of the next request
	hostNextMu sync.Mutex
	minDelay   time.Duration
	log        *logrus.Entry
}

// NewRateLimiter creates a RateLimiter. A minDelay <= 0 disables waiting.
func NewRateLimiter(minDelay time.Duration, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		hostNext: make(map[string]time.Time),
		minDelay: minDelay,
		log:      log,
	}
}

// Wait blocks until host may be contacted again and reserves the next
// slot. Jitter of +/- 10% desynchronizes concurrent callers.
func (rl *RateLimiter) Wait(ctx context.Context, host string) error {
	if rl == nil || rl.minDelay <= 0 {
		return ctx.Err()
	}

	delay := rl.minDelay
	if jitterRange := int64(delay) / 5; jitterRange > 0 {
		delay += time.Duration(rand.Int63n(jitterRange)) - delay/10
	}

	rl.hostNextMu.Lock()
	now := time.Now()
	slot := rl.hostNext[host]
	if slot.Before(now) {
		slot = now
	}
	rl.hostNext[host] = slot.Add(delay)
	rl.hostNextMu.Unlock()

	sleep := slot.Sub(now)
	if sleep <= 0 {
		return ctx.Err()
	}
	rl.log.WithFields(logrus.Fields{"host": host, "sleep": sleep}).Debug("Rate limit applying sleep")

	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
