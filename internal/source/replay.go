package source

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/cbram/travel-companion-sub002/internal/tracking"
)

// ReplaySource emits samples recorded as JSON lines, one RawSample per
// line. With pacing enabled it sleeps out the capture-time deltas so a
// trace plays back at its original cadence.
type ReplaySource struct {
	path string
	pace bool

	mu       sync.Mutex
	cancel   context.CancelFunc
	started  bool
	throttle throttle
}

func NewReplaySource(path string, pace bool) *ReplaySource {
	return &ReplaySource{path: path, pace: pace}
}

func (s *ReplaySource) Start(ctx context.Context) (<-chan tracking.RawSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, ErrAlreadyStarted
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true
	s.throttle.reset()

	ch := make(chan tracking.RawSample, 16)
	go s.run(ctx, f, ch)
	return ch, nil
}

func (s *ReplaySource) run(ctx context.Context, f *os.File, ch chan tracking.RawSample) {
	defer close(ch)
	defer f.Close()

	var prev time.Time
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var sample tracking.RawSample
		if err := json.Unmarshal(scanner.Bytes(), &sample); err != nil {
			continue
		}

		if s.pace && !prev.IsZero() {
			if d := sample.CapturedAt.Sub(prev); d > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(d):
				}
			}
		}
		prev = sample.CapturedAt

		if !s.throttle.admit(sample) {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case ch <- sample:
		}
	}
}

func (s *ReplaySource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	s.cancel()
}

func (s *ReplaySource) SetPrecision(tier tracking.PrecisionTier) {
	s.throttle.setTier(tier)
}
