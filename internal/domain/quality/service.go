package quality

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/outcomes/outcomes/internal/domain/client"
)

// ClientStore loads client snapshots and stores calculated scores.
type ClientStore interface {
	Snapshot(ctx context.Context, clientID uuid.UUID) (*client.Snapshot, error)
	RecordDataQuality(ctx context.Context, clientID uuid.UUID, score int, at time.Time) error
}

type Service struct {
	repo    Repository
	clients ClientStore
	logger  zerolog.Logger
}

func NewService(repo Repository, clients ClientStore, logger zerolog.Logger) *Service {
	return &Service{repo: repo, clients: clients, logger: logger}
}

func (s *Service) CreateRequirement(ctx context.Context, r *Requirement) error {
	if !KnownField(r.FieldName) {
		return fmt.Errorf("%w %q", ErrUnknownField, r.FieldName)
	}
	if r.Weight == 0 {
		r.Weight = 1
	}
	if r.Weight < 0 {
		return fmt.Errorf("weight must be positive, got %d", r.Weight)
	}
	r.Stage = r.stage()
	return s.repo.Create(ctx, r)
}

func (s *Service) DeleteRequirement(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListRequirements(ctx context.Context) ([]Requirement, error) {
	return s.repo.List(ctx)
}

// CalculateForClient computes the client's score as of at and stores it on
// the client record.
func (s *Service) CalculateForClient(ctx context.Context, clientID uuid.UUID, at time.Time) (*Result, error) {
	snap, err := s.clients.Snapshot(ctx, clientID)
	if err != nil {
		return nil, err
	}
	reqs, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load data quality requirements: %w", err)
	}

	res := Calculate(snap, reqs, at)
	for _, cerr := range res.ConfigErrors {
		s.logger.Warn().Err(cerr).Str("client_id", clientID.String()).Msg("data quality requirement skipped")
	}
	if err := s.clients.RecordDataQuality(ctx, clientID, res.Score, at); err != nil {
		return nil, fmt.Errorf("store data quality: %w", err)
	}
	s.logger.Debug().
		Str("client_id", clientID.String()).
		Int("score", res.Score).
		Strs("missing", res.MissingFields).
		Msg("data quality calculated")
	return &res, nil
}
