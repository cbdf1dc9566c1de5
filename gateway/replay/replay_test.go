package replay

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndRecord(t *testing.T) {
	t.Run("first sight is fresh, repeats are duplicates", func(t *testing.T) {
		guard := NewGuard()

		assert.Equal(t, Fresh, guard.CheckAndRecord("CA123.voice", time.Hour))
		assert.Equal(t, Duplicate, guard.CheckAndRecord("CA123.voice", time.Hour))
		assert.Equal(t, Duplicate, guard.CheckAndRecord("CA123.voice", time.Hour))
	})

	t.Run("distinct keys do not collide", func(t *testing.T) {
		guard := NewGuard()

		assert.Equal(t, Fresh, guard.CheckAndRecord("CA123.voice", time.Hour))
		assert.Equal(t, Fresh, guard.CheckAndRecord("CA123.recording", time.Hour))
		assert.Equal(t, Fresh, guard.CheckAndRecord("CA456.voice", time.Hour))
	})

	t.Run("key is fresh again after its TTL elapses", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		guard := NewGuard(WithClock(func() time.Time { return now }))

		assert.Equal(t, Fresh, guard.CheckAndRecord("CA123.voice", 5*time.Minute))
		now = now.Add(4 * time.Minute)
		assert.Equal(t, Duplicate, guard.CheckAndRecord("CA123.voice", 5*time.Minute))
		now = now.Add(2 * time.Minute)
		assert.Equal(t, Fresh, guard.CheckAndRecord("CA123.voice", 5*time.Minute))
	})

	t.Run("independent TTLs per key class", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		guard := NewGuard(WithClock(func() time.Time { return now }))

		guard.CheckAndRecord("short", 5*time.Minute)
		guard.CheckAndRecord("long", 24*time.Hour)

		now = now.Add(10 * time.Minute)
		assert.Equal(t, Fresh, guard.CheckAndRecord("short", 5*time.Minute))
		assert.Equal(t, Duplicate, guard.CheckAndRecord("long", 24*time.Hour))
	})
}

func TestCheckAndRecordConcurrent(t *testing.T) {
	t.Run("exactly one of N concurrent callers sees fresh", func(t *testing.T) {
		guard := NewGuard()

		const n = 100
		var wg sync.WaitGroup
		outcomes := make(chan Outcome, n)

		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcomes <- guard.CheckAndRecord("CA123.voice.sigfrag", time.Hour)
			}()
		}
		wg.Wait()
		close(outcomes)

		fresh := 0
		for o := range outcomes {
			if o == Fresh {
				fresh++
			}
		}
		assert.Equal(t, 1, fresh)
	})
}

func TestSweep(t *testing.T) {
	t.Run("removes only expired entries", func(t *testing.T) {
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		guard := NewGuard(WithClock(func() time.Time { return now }))

		for i := 0; i < 50; i++ {
			guard.CheckAndRecord(fmt.Sprintf("expired-%d", i), time.Minute)
		}
		now = now.Add(30 * time.Minute)
		for i := 0; i < 50; i++ {
			guard.CheckAndRecord(fmt.Sprintf("live-%d", i), time.Hour)
		}

		removed := guard.Sweep()
		assert.Equal(t, 50, removed)
		assert.Equal(t, 50, guard.Len())
	})

	t.Run("nothing to remove", func(t *testing.T) {
		guard := NewGuard()
		guard.CheckAndRecord("CA123.voice", time.Hour)
		assert.Equal(t, 0, guard.Sweep())
		assert.Equal(t, 1, guard.Len())
	})
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "fresh", Fresh.String())
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}
