package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

/* Fixed-window request counting per client IP. Window rollover resets the
 * counter, which accepts brief bursts at the boundary; the gateway does not
 * need a sliding-log limiter. Sharded so distinct IPs never contend on one
 * lock. The tracked-key cap bounds memory against senders rotating source
 * addresses.
 */

const (
	shardCount = 32

	// maxTrackedPerShard caps tracked IPs per shard
	maxTrackedPerShard = 4096
)

type window struct {
	start time.Time
	count int
}

type limiterShard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// Limiter counts requests per IP within a fixed window
type Limiter struct {
	shards  [shardCount]*limiterShard
	window  time.Duration
	ceiling int
	now     func() time.Time
}

// LimiterOption configures a Limiter
type LimiterOption func(*Limiter)

// WithLimiterClock overrides the time source, used by tests
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a limiter allowing ceiling requests per IP per window
func NewLimiter(windowSize time.Duration, ceiling int, opts ...LimiterOption) *Limiter {
	l := &Limiter{window: windowSize, ceiling: ceiling, now: time.Now}
	for i := range l.shards {
		l.shards[i] = &limiterShard{windows: make(map[string]*window)}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// Allow reports whether a request from clientIP fits the current window
func (l *Limiter) Allow(clientIP string) bool {
	s := l.shards[shardIndex(clientIP)]
	now := l.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.windows) >= maxTrackedPerShard {
		evictStaleWindows(s.windows, now, l.window)
	}

	w, ok := s.windows[clientIP]
	if !ok || now.Sub(w.start) >= l.window {
		s.windows[clientIP] = &window{start: now, count: 1}
		return true
	}

	w.count++
	return w.count <= l.ceiling
}

// evictStaleWindows prunes elapsed windows, falling back to arbitrary
// eviction if every tracked window is still live. Caller holds the lock.
func evictStaleWindows(windows map[string]*window, now time.Time, size time.Duration) {
	for ip, w := range windows {
		if now.Sub(w.start) >= size {
			delete(windows, ip)
		}
	}
	for len(windows) >= maxTrackedPerShard {
		for ip := range windows {
			delete(windows, ip)
			break
		}
	}
}

/* FailureTracker counts consecutive signature-verification failures per IP
 * and blocks sources that cross the threshold within a rolling window. A
 * verified request clears the record, so legitimate tenants with a briefly
 * misconfigured secret unblock themselves on the next good delivery.
 */

type failureRecord struct {
	count       int
	lastFailure time.Time
}

type trackerShard struct {
	mu       sync.Mutex
	failures map[string]*failureRecord
}

// FailureTracker blocks IPs that keep failing signature verification
type FailureTracker struct {
	shards    [shardCount]*trackerShard
	window    time.Duration
	threshold int
	now       func() time.Time
}

// TrackerOption configures a FailureTracker
type TrackerOption func(*FailureTracker)

// WithTrackerClock overrides the time source, used by tests
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *FailureTracker) {
		t.now = now
	}
}

// NewFailureTracker creates a tracker blocking after threshold failures per window
func NewFailureTracker(windowSize time.Duration, threshold int, opts ...TrackerOption) *FailureTracker {
	t := &FailureTracker{window: windowSize, threshold: threshold, now: time.Now}
	for i := range t.shards {
		t.shards[i] = &trackerShard{failures: make(map[string]*failureRecord)}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordFailure counts one signature failure against clientIP.
// A failure outside the rolling window restarts the count.
func (t *FailureTracker) RecordFailure(clientIP string) {
	s := t.shards[shardIndex(clientIP)]
	now := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.failures) >= maxTrackedPerShard {
		evictStaleFailures(s.failures, now, t.window)
	}

	r, ok := s.failures[clientIP]
	if !ok || now.Sub(r.lastFailure) >= t.window {
		s.failures[clientIP] = &failureRecord{count: 1, lastFailure: now}
		return
	}
	r.count++
	r.lastFailure = now
}

// RecordSuccess clears the failure record for clientIP
func (t *FailureTracker) RecordSuccess(clientIP string) {
	s := t.shards[shardIndex(clientIP)]
	s.mu.Lock()
	delete(s.failures, clientIP)
	s.mu.Unlock()
}

// IsBlocked reports whether clientIP has reached the failure threshold
// within the rolling window
func (t *FailureTracker) IsBlocked(clientIP string) bool {
	s := t.shards[shardIndex(clientIP)]
	now := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.failures[clientIP]
	if !ok {
		return false
	}
	if now.Sub(r.lastFailure) >= t.window {
		delete(s.failures, clientIP)
		return false
	}
	return r.count >= t.threshold
}

func evictStaleFailures(failures map[string]*failureRecord, now time.Time, size time.Duration) {
	for ip, r := range failures {
		if now.Sub(r.lastFailure) >= size {
			delete(failures, ip)
		}
	}
	for len(failures) >= maxTrackedPerShard {
		for ip := range failures {
			delete(failures, ip)
			break
		}
	}
}
