package replay

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

/* Guard is an in-memory TTL-based idempotency gate for webhook deliveries.
 * State is sharded by key so concurrent requests only contend when they
 * carry the same event, which is exactly the duplicate-delivery case.
 * Entries are never persisted; losing them on restart only widens the
 * replay window until the TTL refills.
 */

// Outcome is the result of a check-and-record operation
type Outcome int

const (
	Fresh Outcome = iota + 1
	Duplicate
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case Fresh:
		return "fresh"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

const (
	shardCount = 64

	// sweepBatch caps how many expired entries a single sweep pass removes
	// per shard, so the sweeper never stalls request handling.
	sweepBatch = 256

	// DefaultSweepInterval is the cadence of the background sweeper
	DefaultSweepInterval = 30 * time.Second
)

type shard struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiresAt
}

// Guard tracks recently seen event keys with a per-key TTL
type Guard struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// Option configures a Guard
type Option func(*Guard)

// WithClock overrides the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// NewGuard creates an empty replay guard
func NewGuard(opts ...Option) *Guard {
	g := &Guard{now: time.Now}
	for i := range g.shards {
		g.shards[i] = &shard{entries: make(map[string]time.Time)}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return g.shards[h.Sum32()%shardCount]
}

/* CheckAndRecord atomically tests whether key was seen within its TTL and
 * records it if not. Exactly one of N concurrent callers with the same key
 * observes Fresh; the rest observe Duplicate. An expired entry is treated
 * as never seen and re-recorded with a new deadline.
 */
func (g *Guard) CheckAndRecord(key string, ttl time.Duration) Outcome {
	s := g.shardFor(key)
	now := g.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiresAt, ok := s.entries[key]; ok && now.Before(expiresAt) {
		return Duplicate
	}
	s.entries[key] = now.Add(ttl)
	return Fresh
}

// Len reports the number of tracked keys, counting expired entries not yet swept
func (g *Guard) Len() int {
	total := 0
	for _, s := range g.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

/* Sweep removes expired entries, at most sweepBatch per shard per call.
 * Returns the number of entries removed. The lock is held per shard only
 * for the duration of that shard's batch.
 */
func (g *Guard) Sweep() int {
	now := g.now()
	removed := 0
	for _, s := range g.shards {
		s.mu.Lock()
		n := 0
		for key, expiresAt := range s.entries {
			if n >= sweepBatch {
				break
			}
			if !now.Before(expiresAt) {
				delete(s.entries, key)
				removed++
			}
			n++
		}
		s.mu.Unlock()
	}
	return removed
}

// Run sweeps periodically until the context is cancelled
func (g *Guard) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}
