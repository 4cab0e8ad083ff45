package httpapi

import (
	"sync"
	"time"
)

// Rate-limit bucket families. Each endpoint family keeps its own per-IP
// fixed window.
const (
	bucketPronounce  = "pronounce"
	bucketSession    = "session-score"
	bucketEasePocket = "easepocket-score"
	bucketLearning   = "learning"
)

var bucketLimits = map[string]int{
	bucketPronounce:  30,
	bucketSession:    12,
	bucketEasePocket: 20,
	bucketLearning:   80,
}

const (
	rateWindow    = time.Minute
	pruneInterval = 5 * time.Minute
)

type windowEntry struct {
	count       int
	windowStart time.Time
}

// rateLimiter is a per-IP fixed-window counter. A client's window restarts
// when it ages past the window size; idle entries are pruned opportunistically
// at most every pruneInterval.
type rateLimiter struct {
	mu        sync.Mutex
	entries   map[string]*windowEntry
	lastPrune time.Time
	now       func() time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

// Allow records one request for (bucket, ip) and reports whether it fits the
// bucket's per-minute limit.
func (l *rateLimiter) Allow(bucket, ip string) bool {
	limit, ok := bucketLimits[bucket]
	if !ok {
		return true
	}

	now := l.now()
	key := bucket + "|" + ip

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybePrune(now)

	e := l.entries[key]
	if e == nil || now.Sub(e.windowStart) > rateWindow {
		l.entries[key] = &windowEntry{count: 1, windowStart: now}
		return true
	}
	e.count++
	return e.count <= limit
}

func (l *rateLimiter) maybePrune(now time.Time) {
	if now.Sub(l.lastPrune) < pruneInterval {
		return
	}
	l.lastPrune = now
	for key, e := range l.entries {
		if now.Sub(e.windowStart) > pruneInterval {
			delete(l.entries, key)
		}
	}
}
