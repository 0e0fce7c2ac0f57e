package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cbram/travel-companion-sub002/internal/lifecycle"
	"github.com/cbram/travel-companion-sub002/internal/power"

	"github.com/google/uuid"
)

var (
	ErrAlreadyTracking = errors.New("tracking already active")
	ErrNotTracking     = errors.New("tracking not active")
	ErrNoTrip          = errors.New("no trip to attach waypoints to")
)

// Options carries the tuning knobs for one engine instance.
type Options struct {
	BatchSize        int
	MaxBatchAge      time.Duration
	PauseWindow      time.Duration
	PauseRadiusM     float64
	ResumeDistanceM  float64
	PauseSampleCount int
	LowBatteryLevel  float64
}

func (o *Options) withDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.MaxBatchAge <= 0 {
		o.MaxBatchAge = time.Minute
	}
	if o.PauseWindow <= 0 {
		o.PauseWindow = 5 * time.Minute
	}
	if o.PauseRadiusM <= 0 {
		o.PauseRadiusM = 50
	}
	if o.ResumeDistanceM <= 0 {
		o.ResumeDistanceM = 50
	}
	if o.PauseSampleCount <= 0 {
		o.PauseSampleCount = 10
	}
	if o.LowBatteryLevel <= 0 {
		o.LowBatteryLevel = 0.2
	}
}

// Service is the tracking engine: it owns the session state machine, feeds
// samples through the movement filter and pause detector, batches accepted
// waypoints and hands batches to the write pipeline. Samples never perform
// blocking I/O; all store traffic runs on the pipeline's writer.
type Service struct {
	opts      Options
	source    SampleSource
	power     power.Provider
	trips     TripProvider
	committer Committer
	hub       Broadcaster

	mu          sync.Mutex
	session     *Session
	filter      *MovementFilter
	pause       *PauseDetector
	batcher     *Batcher
	stopStale   func()
	consumeDone chan struct{}

	accepted  atomic.Int64
	committed atomic.Int64
	fatal     atomic.Bool
	lastErr   atomic.Value
}

func NewService(src SampleSource, pwr power.Provider, trips TripProvider, committer Committer, hub Broadcaster, opts Options) *Service {
	opts.withDefaults()
	return &Service{
		opts:      opts,
		source:    src,
		power:     pwr,
		trips:     trips,
		committer: committer,
		hub:       hub,
	}
}

// StartTracking opens a session on the given trip. With an empty tripID the
// owner's active trip is resolved; if none exists the engine fails closed
// rather than attaching waypoints to a null owner.
func (s *Service) StartTracking(ctx context.Context, ownerID, tripID string, mode Mode) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil && s.session.State != StateStopped {
		return Session{}, ErrAlreadyTracking
	}

	if tripID == "" {
		if s.trips == nil {
			return Session{}, ErrNoTrip
		}
		id, err := s.trips.ActiveTripID(ctx, ownerID)
		if err != nil || id == "" {
			return Session{}, ErrNoTrip
		}
		tripID = id
	}

	if mode == "" {
		mode = ModeNormal
	}

	ch, err := s.source.Start(ctx)
	if err != nil {
		return Session{}, err
	}

	now := time.Now()
	session := &Session{
		ID:        uuid.NewString(),
		TripID:    tripID,
		OwnerID:   ownerID,
		Mode:      mode,
		State:     StateTracking,
		StartedAt: now,
	}

	s.session = session
	s.filter = NewMovementFilter(mode, s.opts.LowBatteryLevel)
	s.pause = NewPauseDetector(s.opts.PauseWindow, s.opts.PauseRadiusM, s.opts.ResumeDistanceM, s.opts.PauseSampleCount)
	s.batcher = NewBatcher(s.opts.BatchSize, s.opts.MaxBatchAge)
	s.fatal.Store(false)
	s.lastErr.Store("")

	tier := TierFor(mode, false, s.powerState(RawSample{}))
	session.Tier = tier
	s.source.SetPrecision(tier)

	sessionID, trip := session.ID, session.TripID
	tick := s.opts.MaxBatchAge / 2
	if tick < time.Second {
		tick = time.Second
	}
	// The stale flush runs under the engine lock so its dispatch serializes
	// with the sample path and batches reach the writer in acceptance order.
	// The session guard keeps a late tick from touching a successor session's
	// batcher.
	s.stopStale = lifecycle.Every(tick, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.session == nil || s.session.ID != sessionID || s.batcher == nil {
			return
		}
		if wps := s.batcher.FlushIfStale(); wps != nil {
			s.dispatch(sessionID, trip, wps)
		}
	})

	done := make(chan struct{})
	s.consumeDone = done
	go s.consume(ch, done)

	return *session, nil
}

func (s *Service) consume(ch <-chan RawSample, done chan struct{}) {
	defer close(done)
	for sample := range ch {
		s.OnSample(sample)
	}
}

// OnSample runs the hot path for one raw sample and reports whether it was
// accepted as a waypoint. Invalid samples are rejected before they can
// influence session state.
func (s *Service) OnSample(sample RawSample) bool {
	if s.fatal.Load() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.session
	if session == nil || session.State == StateStopped {
		return false
	}
	if !sample.Valid() {
		return false
	}

	ps := s.powerState(sample)

	state, changed := s.pause.Observe(sample)
	if changed {
		if state == Paused {
			session.State = StatePaused
		} else {
			session.State = StateTracking
		}
	}

	s.pushTier(TierFor(session.Mode, state == Paused, ps))

	if state == Paused {
		return false
	}

	wp := s.filter.Accept(sample, ps)
	if wp == nil {
		return false
	}

	wp.TripID = session.TripID
	wp.SessionID = session.ID
	session.LastMoveAt = wp.CapturedAt
	s.pause.NoteAccepted(wp.CapturedAt)
	s.accepted.Add(1)

	if flushed := s.batcher.Add(*wp); flushed != nil {
		s.dispatch(session.ID, session.TripID, flushed)
	}
	return true
}

// CreateManualWaypoint persists a user-labelled waypoint. It bypasses the
// movement filter's gates but still travels the durable write pipeline; the
// current buffer is flushed with it so it reaches the store promptly.
func (s *Service) CreateManualWaypoint(ctx context.Context, label, note string, lat, lng float64) (Waypoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.session
	if session == nil || session.State == StateStopped {
		return Waypoint{}, ErrNotTracking
	}

	wp := Waypoint{
		ID:         uuid.NewString(),
		TripID:     session.TripID,
		SessionID:  session.ID,
		Lat:        lat,
		Lng:        lng,
		AccuracyM:  1,
		CapturedAt: time.Now(),
		Kind:       "manual",
		Label:      label,
		Note:       note,
	}
	if !wp.Valid() {
		return Waypoint{}, errors.New("invalid waypoint coordinates")
	}

	s.batcher.Add(wp)
	if wps := s.batcher.Flush(); wps != nil {
		s.dispatch(session.ID, session.TripID, wps)
	}
	return wp, nil
}

// Flush hands the buffered waypoints to the pipeline. Safe to call at any
// time; an empty buffer is a no-op.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil || s.batcher == nil {
		return nil
	}
	if wps := s.batcher.Flush(); wps != nil {
		s.dispatch(s.session.ID, s.session.TripID, wps)
	}
	return nil
}

// FinalFlush commits the buffer synchronously with a single attempt, for
// the terminating lifecycle transition. Anything the store refuses is
// already in the outbox when this returns.
func (s *Service) FinalFlush(ctx context.Context) error {
	s.mu.Lock()
	session, batcher := s.session, s.batcher
	s.mu.Unlock()

	if session == nil || batcher == nil {
		return nil
	}
	wps := batcher.Flush()
	if wps == nil {
		return nil
	}
	batch := NewBatch(session.ID, session.TripID, wps)
	batch.Mode = session.Mode
	batch.SessionStart = session.StartedAt
	return s.committer.CommitNow(ctx, batch)
}

// ReplayOutbox re-commits deferred batches until the context expires.
func (s *Service) ReplayOutbox(ctx context.Context) error {
	return s.committer.ReplayOutbox(ctx)
}

// StopTracking ends the session. Idempotent; it never cancels an in-flight
// commit, it only stops new samples and triggers a final flush.
func (s *Service) StopTracking(ctx context.Context) error {
	s.mu.Lock()
	session := s.session
	if session == nil || session.State == StateStopped {
		s.mu.Unlock()
		return nil
	}
	session.State = StateStopped
	if s.stopStale != nil {
		s.stopStale()
	}
	done := s.consumeDone
	s.mu.Unlock()

	s.source.Stop()
	if done != nil {
		<-done
	}
	return s.Flush(ctx)
}

// NoteCommitted is the pipeline's success hook: it updates counters and
// fans the committed waypoints out to observers.
func (s *Service) NoteCommitted(batch *Batch) {
	s.committed.Add(int64(len(batch.Waypoints)))
	if s.hub != nil {
		payload, err := json.Marshal(batch.Waypoints)
		if err == nil {
			s.hub.Broadcast(batch.TripID, payload)
		}
	}
}

// NoteFatal is the pipeline's unrecoverable-condition hook: the durability
// guarantee is broken, so tracking stops and one error is surfaced.
func (s *Service) NoteFatal(err error) {
	if err != nil {
		s.lastErr.Store(err.Error())
	}
	s.fatal.Store(true)

	s.mu.Lock()
	session := s.session
	if session != nil && session.State != StateStopped {
		session.State = StateStopped
		if s.stopStale != nil {
			s.stopStale()
		}
	}
	s.mu.Unlock()
	s.source.Stop()
}

// Status reports the observable state for the presentation layer.
func (s *Service) Status(ctx context.Context) Status {
	s.mu.Lock()
	session := s.session
	var st Status
	if session != nil {
		st.IsTracking = session.State == StateTracking || session.State == StatePaused
		st.IsPaused = session.State == StatePaused
		st.Tier = session.Tier
		st.TripID = session.TripID
	}
	s.mu.Unlock()

	st.Accepted = s.accepted.Load()
	st.Committed = s.committed.Load()
	if msg, ok := s.lastErr.Load().(string); ok {
		st.LastError = msg
	}
	if pending, err := s.committer.Pending(ctx); err == nil {
		st.PendingOutbox = pending
	}
	return st
}

func (s *Service) powerState(sample RawSample) PowerState {
	ps := PowerState{Level: 1}
	if s.power != nil {
		ps.Level = s.power.Level()
		ps.External = s.power.External()
	}
	if sample.BatteryLevel > 0 {
		ps.Level = sample.BatteryLevel
	}
	return ps
}

func (s *Service) pushTier(tier PrecisionTier) {
	if s.session == nil || s.session.Tier == tier {
		return
	}
	s.session.Tier = tier
	s.source.SetPrecision(tier)
}

// dispatch runs under s.mu; batches therefore enter the writer queue in the
// order their waypoints were accepted.
func (s *Service) dispatch(sessionID, tripID string, wps []Waypoint) {
	batch := NewBatch(sessionID, tripID, wps)
	if sess := s.session; sess != nil && sess.ID == sessionID {
		batch.Mode = sess.Mode
		batch.SessionStart = sess.StartedAt
	}
	s.committer.Enqueue(batch)
}
