package web

import (
	"sync"
	"time"
)

// Defaults mirror the WEB_AUTH_* configuration values so a zero-valued
// Options still gets a working limiter.
const (
	DefaultAuthLimit      = 10
	DefaultAuthWindow     = time.Minute
	DefaultAuthMaxEntries = 1024
)

// authLimiter throttles failed token checks per remote host. The status API
// sits next to the ingestion staging root, so a client replaying a revoked
// token should not get unlimited guesses at the current one.
type authLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	maxHosts  int
	buckets   map[string]*authBucket
	lastPrune time.Time
}

// authBucket tracks one host's failures inside the current window.
type authBucket struct {
	failures int
	openedAt time.Time
	lastSeen time.Time
}

func newAuthLimiter(limit int, window time.Duration, maxHosts int) *authLimiter {
	if limit <= 0 {
		limit = DefaultAuthLimit
	}
	if window <= 0 {
		window = DefaultAuthWindow
	}
	if maxHosts <= 0 {
		maxHosts = DefaultAuthMaxEntries
	}
	return &authLimiter{
		limit:    limit,
		window:   window,
		maxHosts: maxHosts,
		buckets:  make(map[string]*authBucket),
	}
}

// allow records a failed authorization attempt from key and reports whether
// the request may still receive the usual 401. Once a host exhausts its
// budget within the window it is answered with 429 until the window rolls.
func (l *authLimiter) allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	if key == "" {
		key = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pruneDue(now) {
		l.prune(now)
	}

	bucket := l.buckets[key]
	if bucket == nil {
		bucket = &authBucket{openedAt: now}
		l.buckets[key] = bucket
	} else if now.Sub(bucket.openedAt) >= l.window {
		bucket.failures = 0
		bucket.openedAt = now
	}
	bucket.lastSeen = now

	if bucket.failures >= l.limit {
		return false
	}
	bucket.failures++
	return true
}

func (l *authLimiter) pruneDue(now time.Time) bool {
	if len(l.buckets) > l.maxHosts {
		return true
	}
	return l.lastPrune.IsZero() || now.Sub(l.lastPrune) >= l.window
}

// prune drops hosts idle for two full windows, then evicts arbitrary
// buckets if the map is still over maxHosts. Eviction only resets a
// host's count early, so over-capacity errs toward letting requests in.
func (l *authLimiter) prune(now time.Time) {
	idleCutoff := now.Add(-2 * l.window)
	for key, bucket := range l.buckets {
		if bucket.lastSeen.Before(idleCutoff) {
			delete(l.buckets, key)
		}
	}

	for key := range l.buckets {
		if len(l.buckets) <= l.maxHosts {
			break
		}
		delete(l.buckets, key)
	}
	l.lastPrune = now
}
