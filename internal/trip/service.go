package trip

import (
	"context"
	"errors"
	"time"

	"github.com/cbram/travel-companion-sub002/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNoActiveTrip means the owner has no trip to attach waypoints to.
var ErrNoActiveTrip = errors.New("no active trip")

type Service struct {
	db db.Querier
}

func NewService(db db.Querier) *Service {
	return &Service{db: db}
}

func (s *Service) CreateTrip(ctx context.Context, input Trip) (Trip, error) {
	input.ID = uuid.NewString()
	if input.Status == "" {
		input.Status = "active"
	}
	if input.StartedAt.IsZero() {
		input.StartedAt = time.Now()
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO trips (id, name, description, owner_id, status, started_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at
	`, input.ID, input.Name, input.Description, input.OwnerID, input.Status, input.StartedAt)
	if err := row.Scan(&input.CreatedAt); err != nil {
		return Trip{}, err
	}
	return input, nil
}

func (s *Service) GetTrip(ctx context.Context, id string) (Trip, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, description, owner_id, status, COALESCE(started_at, created_at), COALESCE(ended_at, 'epoch'::timestamptz), created_at
		FROM trips WHERE id=$1
	`, id)
	var t Trip
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.OwnerID, &t.Status, &t.StartedAt, &t.EndedAt, &t.CreatedAt); err != nil {
		return Trip{}, err
	}
	return t, nil
}

// ActiveTripID resolves the owner's current trip by stable identity. It
// satisfies the engine's TripProvider contract: an ErrNoActiveTrip return
// makes the engine refuse to create waypoints.
func (s *Service) ActiveTripID(ctx context.Context, ownerID string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `
		SELECT id FROM trips
		WHERE owner_id=$1 AND status='active'
		ORDER BY created_at DESC
		LIMIT 1
	`, ownerID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoActiveTrip
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Service) EndTrip(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE trips SET status='ended', ended_at=now() WHERE id=$1
	`, id)
	return err
}
