package pipeline

import (
	"context"

	"github.com/cbram/travel-companion-sub002/internal/db"
	"github.com/cbram/travel-companion-sub002/internal/tracking"
)

// Store is the persistent store as seen by the pipeline. Readers share it;
// CommitBatch must expose either the pre-batch or the post-batch snapshot,
// never an interleaving.
type Store interface {
	ResolveTrip(ctx context.Context, tripID string) (bool, error)
	CommitBatch(ctx context.Context, batch *tracking.Batch) error
}

type PGStore struct {
	db db.Querier
}

func NewPGStore(q db.Querier) *PGStore {
	return &PGStore{db: q}
}

// ResolveTrip re-resolves a trip by stable identity. Used both for the
// fail-closed check before the first attempt and as the scope refresh after
// a stale-reference failure.
func (s *PGStore) ResolveTrip(ctx context.Context, tripID string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trips WHERE id=$1)`, tripID).Scan(&ok)
	return ok, err
}

// CommitBatch writes the batch in a single transaction. The session row,
// waypoint rows and the batch ledger row all use ON CONFLICT DO NOTHING on
// their stable keys, so replaying a batch is idempotent.
func (s *PGStore) CommitBatch(ctx context.Context, batch *tracking.Batch) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// The session row rides with its first committed batch; later batches
	// from the same session hit the conflict arm.
	if batch.SessionID != "" {
		mode := string(batch.Mode)
		if mode == "" {
			mode = string(tracking.ModeNormal)
		}
		startedAt := batch.SessionStart
		if startedAt.IsZero() {
			startedAt = batch.CreatedAt
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO track_sessions (id, trip_id, mode, started_at)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (id) DO NOTHING
		`, batch.SessionID, batch.TripID, mode, startedAt)
		if err != nil {
			return err
		}
	}

	for _, wp := range batch.Waypoints {
		_, err := tx.Exec(ctx, `
			INSERT INTO track_waypoints (id, trip_id, session_id, location, accuracy_m, captured_at, kind, label, note)
			VALUES ($1,$2,$3, ST_SetSRID(ST_MakePoint($4,$5), 4326)::geography, $6,$7,$8,$9,$10)
			ON CONFLICT (id) DO NOTHING
		`, wp.ID, wp.TripID, nullIfEmpty(wp.SessionID), wp.Lng, wp.Lat, wp.AccuracyM, wp.CapturedAt, wp.Kind, wp.Label, wp.Note)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO track_batches (key, session_id, waypoint_count)
		VALUES ($1,$2,$3)
		ON CONFLICT (key) DO NOTHING
	`, batch.Key, nullIfEmpty(batch.SessionID), len(batch.Waypoints))
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
