// Package source adapts position sensors to the tracking engine. The
// engine sees only the tracking.SampleSource contract; implementations
// here cover device-pushed samples (Channel) and recorded traces (Replay).
package source

import (
	"errors"
	"sync"

	"github.com/cbram/travel-companion-sub002/internal/shared/geo"
	"github.com/cbram/travel-companion-sub002/internal/tracking"
)

// significantChangeM is the displacement that always passes the precision
// throttle, regardless of tier cadence. Without it a paused session could
// never observe the movement that should resume it.
const significantChangeM = 50.0

var ErrAlreadyStarted = errors.New("source already started")

// throttle drops samples that arrive faster than the active tier's update
// rate, unless they represent a significant displacement.
type throttle struct {
	mu       sync.Mutex
	tier     tracking.PrecisionTier
	last     tracking.RawSample
	haveLast bool
}

func (t *throttle) setTier(tier tracking.PrecisionTier) {
	t.mu.Lock()
	t.tier = tier
	t.mu.Unlock()
}

func (t *throttle) admit(s tracking.RawSample) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.haveLast {
		t.last = s
		t.haveLast = true
		return true
	}

	tier := t.tier
	if tier == "" {
		tier = tracking.TierBalanced
	}
	if s.CapturedAt.Sub(t.last.CapturedAt) >= tier.Profile().MinInterval ||
		geo.HaversineM(t.last.Lat, t.last.Lng, s.Lat, s.Lng) >= significantChangeM {
		t.last = s
		return true
	}
	return false
}

func (t *throttle) reset() {
	t.mu.Lock()
	t.haveLast = false
	t.mu.Unlock()
}
