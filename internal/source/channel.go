package source

import (
	"context"
	"sync"

	"github.com/cbram/travel-companion-sub002/internal/tracking"
)

// ChannelSource is fed by an external producer (the ingest endpoint). Push
// never blocks: samples beyond the buffer or faster than the precision
// cadence are dropped, mirroring how a platform sensor coalesces updates.
type ChannelSource struct {
	mu       sync.Mutex
	buffer   int
	ch       chan tracking.RawSample
	started  bool
	stopped  bool
	throttle throttle
}

func NewChannelSource(buffer int) *ChannelSource {
	if buffer < 1 {
		buffer = 16
	}
	return &ChannelSource{buffer: buffer}
}

// Start opens a fresh sample stream. A stopped source can be started again;
// each session gets its own channel so a consumer draining the previous
// session's closed channel never sees the new session's samples.
func (s *ChannelSource) Start(ctx context.Context) (<-chan tracking.RawSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started && !s.stopped {
		return nil, ErrAlreadyStarted
	}
	s.ch = make(chan tracking.RawSample, s.buffer)
	s.started = true
	s.stopped = false
	s.throttle.reset()
	return s.ch, nil
}

// Stop closes the sample stream. Idempotent.
func (s *ChannelSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return
	}
	s.stopped = true
	close(s.ch)
}

// SetPrecision adjusts the emission cadence. Never blocks the caller.
func (s *ChannelSource) SetPrecision(tier tracking.PrecisionTier) {
	s.throttle.setTier(tier)
}

// Push offers a sample to the stream and reports whether it was emitted.
func (s *ChannelSource) Push(sample tracking.RawSample) bool {
	if !s.throttle.admit(sample) {
		return false
	}

	// The send stays under the lock so it cannot race a concurrent Stop
	// closing the channel; the default arm keeps it non-blocking.
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return false
	}
	select {
	case s.ch <- sample:
		return true
	default:
		return false
	}
}
