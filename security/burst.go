package security

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBurstRPS   = 20
	defaultBurst      = 40
	burstIdleEviction = 5 * time.Minute
)

// BurstLimiter is an in-process token bucket per key. It smooths request
// spikes before the shared fixed-window counter is consulted.
type BurstLimiter struct {
	mu       sync.Mutex
	limiters map[string]*burstEntry
	rps      rate.Limit
	burst    int
	cleanup  *time.Timer
	now      func() time.Time
}

type burstEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func CreateBurstLimiter(rps float64, burst int) *BurstLimiter {
	if rps <= 0 {
		rps = defaultBurstRPS
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	bl := &BurstLimiter{
		limiters: make(map[string]*burstEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
	bl.scheduleCleanup()
	return bl
}

func (bl *BurstLimiter) Allow(key string) bool {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	now := bl.now()
	entry, ok := bl.limiters[key]
	if !ok {
		entry = &burstEntry{limiter: rate.NewLimiter(bl.rps, bl.burst)}
		bl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// RetryAfter reports how long key must wait for its next token.
func (bl *BurstLimiter) RetryAfter(key string) time.Duration {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	entry, ok := bl.limiters[key]
	if !ok {
		return 0
	}
	now := bl.now()
	tokens := entry.limiter.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) / float64(bl.rps) * float64(time.Second))
}

func (bl *BurstLimiter) Len() int {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return len(bl.limiters)
}

func (bl *BurstLimiter) evictIdle() {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	cutoff := bl.now().Add(-burstIdleEviction)
	for key, entry := range bl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(bl.limiters, key)
		}
	}
}

func (bl *BurstLimiter) scheduleCleanup() {
	bl.cleanup = time.AfterFunc(burstIdleEviction, func() {
		bl.evictIdle()
		bl.scheduleCleanup()
	})
}

func (bl *BurstLimiter) Close() {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	if bl.cleanup != nil {
		bl.cleanup.Stop()
	}
}
