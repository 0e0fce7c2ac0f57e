package tracking

import (
	"sync"
	"time"
)

var batcherNow = time.Now

// Batcher accumulates accepted waypoints in arrival order. A flush swaps
// the buffer out under the lock, so add and flush are safe from different
// execution contexts and no waypoint is ever lost or duplicated.
type Batcher struct {
	mu     sync.Mutex
	size   int
	maxAge time.Duration
	buf    []Waypoint
	oldest time.Time
}

func NewBatcher(size int, maxAge time.Duration) *Batcher {
	if size < 1 {
		size = 1
	}
	return &Batcher{size: size, maxAge: maxAge}
}

// Add appends a waypoint and returns the swapped-out buffer when the size
// threshold is reached, nil otherwise.
func (b *Batcher) Add(w Waypoint) []Waypoint {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buf) == 0 {
		b.oldest = batcherNow()
	}
	b.buf = append(b.buf, w)
	if len(b.buf) >= b.size {
		return b.swap()
	}
	return nil
}

// Flush swaps out and returns the buffered waypoints. It returns nil when
// the buffer is empty; a flush never produces an empty batch.
func (b *Batcher) Flush() []Waypoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.swap()
}

// FlushIfStale flushes only when the oldest buffered waypoint has exceeded
// the maximum batch age.
func (b *Batcher) FlushIfStale() []Waypoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 || batcherNow().Sub(b.oldest) < b.maxAge {
		return nil
	}
	return b.swap()
}

func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

func (b *Batcher) swap() []Waypoint {
	if len(b.buf) == 0 {
		return nil
	}
	out := b.buf
	b.buf = nil
	return out
}
