package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo    Repository
	history HistoryReader
	logger  zerolog.Logger
}

func NewService(repo Repository, history HistoryReader, logger zerolog.Logger) *Service {
	return &Service{repo: repo, history: history, logger: logger}
}

func (s *Service) CreateClient(ctx context.Context, c *Client) error {
	if c.ClientCode == "" {
		return fmt.Errorf("client_code is required")
	}
	if c.Status == "" {
		c.Status = StatusOpen
	}
	if err := validateStatus(c); err != nil {
		return err
	}
	return s.repo.Create(ctx, c)
}

func (s *Service) GetClient(ctx context.Context, id uuid.UUID) (*Client, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateClient(ctx context.Context, c *Client) error {
	if err := validateStatus(c); err != nil {
		return err
	}
	return s.repo.Update(ctx, c)
}

func (s *Service) ListClients(ctx context.Context, status string, limit, offset int) ([]*Client, int, error) {
	return s.repo.List(ctx, status, limit, offset)
}

// ListIDs is used by sweeps; only clients in the given statuses are returned
// when any are passed.
func (s *Service) ListIDs(ctx context.Context, statuses ...string) ([]uuid.UUID, error) {
	return s.repo.ListIDs(ctx, statuses...)
}

func validateStatus(c *Client) error {
	switch c.Status {
	case StatusOpen, StatusWaitingList:
	case StatusClosed, StatusDischarged:
		if c.ClosedDate == nil {
			return fmt.Errorf("closed_date is required when status is %s", c.Status)
		}
	default:
		return fmt.Errorf("invalid status: %s", c.Status)
	}
	return nil
}

func (s *Service) RecordSession(ctx context.Context, ses *Session) error {
	if ses.ClientID == uuid.Nil {
		return fmt.Errorf("client_id is required")
	}
	if ses.SessionDate.IsZero() {
		return fmt.Errorf("session_date is required")
	}
	if _, err := s.repo.GetByID(ctx, ses.ClientID); err != nil {
		return err
	}
	return s.repo.AddSession(ctx, ses)
}

func (s *Service) ListSessions(ctx context.Context, clientID uuid.UUID) ([]Session, error) {
	return s.repo.ListSessions(ctx, clientID)
}

func (s *Service) AddNote(ctx context.Context, n *CaseNote) error {
	if n.ClientID == uuid.Nil {
		return fmt.Errorf("client_id is required")
	}
	if n.Body == "" {
		return fmt.Errorf("body is required")
	}
	if _, err := s.repo.GetByID(ctx, n.ClientID); err != nil {
		return err
	}
	return s.repo.AddNote(ctx, n)
}

func (s *Service) CreateProgram(ctx context.Context, p *Program) error {
	if p.Code == "" || p.Name == "" {
		return fmt.Errorf("code and name are required")
	}
	p.Active = true
	return s.repo.CreateProgram(ctx, p)
}

func (s *Service) ListPrograms(ctx context.Context) ([]*Program, error) {
	return s.repo.ListPrograms(ctx)
}

func (s *Service) RecordDataQuality(ctx context.Context, id uuid.UUID, score int, at time.Time) error {
	return s.repo.UpdateDataQuality(ctx, id, score, at)
}

// Snapshot assembles the immutable view of one client.
func (s *Service) Snapshot(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	sessions, err := s.repo.ListSessions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	notes, err := s.repo.ListNotes(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	forms, measures, err := s.history.Forms(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load forms: %w", err)
	}
	open, err := s.history.OpenFlags(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load open flags: %w", err)
	}
	return NewSnapshot(*c, sessions, notes, forms, measures, open), nil
}
