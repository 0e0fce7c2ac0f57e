package tracking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"time"
)

type Mode string

const (
	ModeTracking Mode = "tracking"
	ModeNormal   Mode = "normal"
)

type SessionState string

const (
	StateIdle     SessionState = "idle"
	StateTracking SessionState = "tracking"
	StatePaused   SessionState = "paused"
	StateStopped  SessionState = "stopped"
)

type PrecisionTier string

const (
	TierNavigation PrecisionTier = "navigation"
	TierHigh       PrecisionTier = "high"
	TierBalanced   PrecisionTier = "balanced"
	TierLow        PrecisionTier = "low"
)

// TierProfile binds a precision tier to a desired sensor accuracy and a
// maximum update rate (expressed as a minimum interval between samples).
type TierProfile struct {
	DesiredAccuracyM float64
	MinInterval      time.Duration
}

func (t PrecisionTier) Profile() TierProfile {
	switch t {
	case TierNavigation:
		return TierProfile{DesiredAccuracyM: 5, MinInterval: time.Second}
	case TierHigh:
		return TierProfile{DesiredAccuracyM: 10, MinInterval: 5 * time.Second}
	case TierBalanced:
		return TierProfile{DesiredAccuracyM: 50, MinInterval: 15 * time.Second}
	default:
		return TierProfile{DesiredAccuracyM: 500, MinInterval: time.Minute}
	}
}

// RawSample is an ephemeral position report from the sample source. It is
// never persisted directly.
type RawSample struct {
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	AccuracyM    float64   `json:"accuracy_m"`
	CapturedAt   time.Time `json:"captured_at"`
	BatteryLevel float64   `json:"battery_level,omitempty"`
}

// Valid reports whether the sample can be allowed to influence session
// state. Non-finite or out-of-range coordinates and invalid accuracy radii
// are rejected outright.
func (s RawSample) Valid() bool {
	if !isFinite(s.Lat) || !isFinite(s.Lng) || !isFinite(s.AccuracyM) {
		return false
	}
	if s.Lat < -90 || s.Lat > 90 || s.Lng < -180 || s.Lng > 180 {
		return false
	}
	if s.AccuracyM <= 0 {
		return false
	}
	return !s.CapturedAt.IsZero()
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

type Waypoint struct {
	ID         string    `json:"id"`
	TripID     string    `json:"trip_id"`
	SessionID  string    `json:"session_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	AccuracyM  float64   `json:"accuracy_m"`
	CapturedAt time.Time `json:"captured_at"`
	Kind       string    `json:"kind"`
	Label      string    `json:"label,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// Valid reports whether the waypoint satisfies the store's required fields.
// Used by the pipeline to salvage a batch after a validation failure.
func (w Waypoint) Valid() bool {
	if w.ID == "" || w.TripID == "" {
		return false
	}
	if !isFinite(w.Lat) || !isFinite(w.Lng) {
		return false
	}
	if w.Lat < -90 || w.Lat > 90 || w.Lng < -180 || w.Lng > 180 {
		return false
	}
	return w.AccuracyM > 0 && !w.CapturedAt.IsZero()
}

// Batch is an ordered group of waypoints committed to the store as one unit.
// Mode and SessionStart describe the owning session so the store can record
// it alongside the first committed batch.
type Batch struct {
	Key          string     `json:"key"`
	SessionID    string     `json:"session_id"`
	TripID       string     `json:"trip_id"`
	Mode         Mode       `json:"mode,omitempty"`
	SessionStart time.Time  `json:"session_start,omitempty"`
	Waypoints    []Waypoint `json:"waypoints"`
	CreatedAt    time.Time  `json:"created_at"`
	AttemptCount int        `json:"attempt_count"`
}

// NewBatch wraps waypoints in a batch keyed by the sorted waypoint id set.
// The key is the idempotent commit token: replaying the same batch against
// the store can never duplicate rows.
func NewBatch(sessionID, tripID string, waypoints []Waypoint) *Batch {
	return &Batch{
		Key:       batchKey(waypoints),
		SessionID: sessionID,
		TripID:    tripID,
		Waypoints: waypoints,
		CreatedAt: time.Now(),
	}
}

func batchKey(waypoints []Waypoint) string {
	ids := make([]string, len(waypoints))
	for i, w := range waypoints {
		ids[i] = w.ID
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Session is the live tracking session. Exactly one exists per active trip;
// it is mutated only on the engine's control path.
type Session struct {
	ID         string       `json:"id"`
	TripID     string       `json:"trip_id"`
	OwnerID    string       `json:"owner_id"`
	Mode       Mode         `json:"mode"`
	State      SessionState `json:"state"`
	Tier       PrecisionTier `json:"precision_tier"`
	StartedAt  time.Time    `json:"started_at"`
	LastMoveAt time.Time    `json:"last_move_at"`
}

// Status is the observable state exposed to the presentation layer.
type Status struct {
	IsTracking    bool          `json:"is_tracking"`
	IsPaused      bool          `json:"is_paused"`
	Tier          PrecisionTier `json:"precision_tier"`
	PendingOutbox int           `json:"pending_outbox"`
	Accepted      int64         `json:"accepted"`
	Committed     int64         `json:"committed"`
	TripID        string        `json:"trip_id,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
}

// SampleSource abstracts the positioning sensor. Implementations must not
// block in SetPrecision.
type SampleSource interface {
	Start(ctx context.Context) (<-chan RawSample, error)
	Stop()
	SetPrecision(tier PrecisionTier)
}

// TripProvider resolves the owner's active trip. An empty id means there is
// no trip to attach waypoints to and tracking must refuse to start.
type TripProvider interface {
	ActiveTripID(ctx context.Context, ownerID string) (string, error)
}

// Committer is the durable write pipeline as seen by the engine.
type Committer interface {
	Enqueue(batch *Batch)
	CommitNow(ctx context.Context, batch *Batch) error
	ReplayOutbox(ctx context.Context) error
	Pending(ctx context.Context) (int, error)
}

// Broadcaster fans committed waypoints out to presentation-layer observers.
type Broadcaster interface {
	Broadcast(tripID string, payload []byte)
}
