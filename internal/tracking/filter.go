package tracking

import (
	"sync"
	"time"

	"github.com/cbram/travel-companion-sub002/internal/shared/geo"

	"github.com/google/uuid"
)

// ThresholdProfile is the significance gate for one tracking mode.
type ThresholdProfile struct {
	MinElapsed   time.Duration
	MinDistanceM float64
	MaxAccuracyM float64
}

func profileFor(mode Mode) ThresholdProfile {
	if mode == ModeTracking {
		return ThresholdProfile{MinElapsed: 15 * time.Second, MinDistanceM: 5, MaxAccuracyM: 50}
	}
	return ThresholdProfile{MinElapsed: 60 * time.Second, MinDistanceM: 25, MaxAccuracyM: 100}
}

// PowerState is the battery snapshot used to scale thresholds.
type PowerState struct {
	Level    float64
	External bool
}

// MovementFilter decides whether a raw sample is significant enough to
// become a waypoint. Both the distance and the elapsed-time gate must pass
// (AND policy); the session's first sample is always accepted.
type MovementFilter struct {
	mu         sync.Mutex
	profile    ThresholdProfile
	lowBattery float64
	last       Waypoint
	haveLast   bool
}

func NewMovementFilter(mode Mode, lowBatteryLevel float64) *MovementFilter {
	return &MovementFilter{profile: profileFor(mode), lowBattery: lowBatteryLevel}
}

// Accept returns a new waypoint when the sample passes the gates, nil
// otherwise. The last-accepted reference is updated under the same lock so
// concurrent samples cannot double-accept.
func (f *MovementFilter) Accept(s RawSample, power PowerState) *Waypoint {
	if !s.Valid() || s.AccuracyM > f.profile.MaxAccuracyM {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.haveLast {
		scale := 1.0
		if power.External {
			scale = 0.5
		} else if power.Level < f.lowBattery {
			scale = 2.0
		}

		elapsed := s.CapturedAt.Sub(f.last.CapturedAt)
		distance := geo.HaversineM(f.last.Lat, f.last.Lng, s.Lat, s.Lng)

		minElapsed := time.Duration(float64(f.profile.MinElapsed) * scale)
		if elapsed < minElapsed || distance < f.profile.MinDistanceM*scale {
			return nil
		}
	}

	wp := Waypoint{
		ID:         uuid.NewString(),
		Lat:        s.Lat,
		Lng:        s.Lng,
		AccuracyM:  s.AccuracyM,
		CapturedAt: s.CapturedAt,
		Kind:       "auto",
	}
	f.last = wp
	f.haveLast = true
	return &wp
}

// Reset clears the last-accepted reference so the next sample is treated as
// the session's first.
func (f *MovementFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.haveLast = false
}
