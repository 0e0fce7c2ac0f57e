package tracking

import (
	"sync"
	"time"

	"github.com/cbram/travel-companion-sub002/internal/shared/geo"
)

type PauseState int

const (
	Moving PauseState = iota
	Paused
)

// PauseDetector flips between Moving and Paused based on sustained lack of
// significant movement. Transitions report via the changed flag exactly
// once; samples that do not cross a threshold never re-trigger one.
type PauseDetector struct {
	mu           sync.Mutex
	window       time.Duration
	radiusM      float64
	resumeM      float64
	sampleCount  int
	state        PauseState
	anchor       RawSample
	recent       []RawSample
	lastAccepted time.Time
}

func NewPauseDetector(window time.Duration, radiusM, resumeM float64, sampleCount int) *PauseDetector {
	if sampleCount < 2 {
		sampleCount = 2
	}
	return &PauseDetector{
		window:      window,
		radiusM:     radiusM,
		resumeM:     resumeM,
		sampleCount: sampleCount,
		state:       Moving,
	}
}

// Observe feeds a validated raw sample through the state machine and
// returns the resulting state plus whether a transition happened.
func (d *PauseDetector) Observe(s RawSample) (PauseState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case Paused:
		if geo.HaversineM(d.anchor.Lat, d.anchor.Lng, s.Lat, s.Lng) > d.resumeM {
			d.state = Moving
			d.recent = d.recent[:0]
			d.lastAccepted = s.CapturedAt
			return Moving, true
		}
		return Paused, false

	default:
		d.recent = append(d.recent, s)
		if len(d.recent) > d.sampleCount {
			d.recent = d.recent[1:]
		}

		if d.lastAccepted.IsZero() {
			d.lastAccepted = s.CapturedAt
			return Moving, false
		}
		if s.CapturedAt.Sub(d.lastAccepted) < d.window {
			return Moving, false
		}
		if len(d.recent) < d.sampleCount || !d.clustered() {
			return Moving, false
		}

		d.state = Paused
		d.anchor = s
		return Paused, true
	}
}

// clustered reports whether every recent sample lies within the pause
// radius of the newest one.
func (d *PauseDetector) clustered() bool {
	latest := d.recent[len(d.recent)-1]
	for _, s := range d.recent[:len(d.recent)-1] {
		if geo.HaversineM(latest.Lat, latest.Lng, s.Lat, s.Lng) > d.radiusM {
			return false
		}
	}
	return true
}

// NoteAccepted records the capture time of an accepted waypoint; the pause
// window is measured from the last significant move, not the last sample.
func (d *PauseDetector) NoteAccepted(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Moving {
		d.lastAccepted = t
	}
}

func (d *PauseDetector) State() PauseState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}
