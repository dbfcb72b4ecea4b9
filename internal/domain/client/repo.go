package client

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("client not found")

type Repository interface {
	Create(ctx context.Context, c *Client) error
	GetByID(ctx context.Context, id uuid.UUID) (*Client, error)
	Update(ctx context.Context, c *Client) error
	List(ctx context.Context, status string, limit, offset int) ([]*Client, int, error)
	// ListIDs returns every client id, optionally only those in the given statuses.
	ListIDs(ctx context.Context, statuses ...string) ([]uuid.UUID, error)
	UpdateDataQuality(ctx context.Context, id uuid.UUID, score int, at time.Time) error

	AddSession(ctx context.Context, s *Session) error
	ListSessions(ctx context.Context, clientID uuid.UUID) ([]Session, error)
	AddNote(ctx context.Context, n *CaseNote) error
	ListNotes(ctx context.Context, clientID uuid.UUID) ([]CaseNote, error)

	CreateProgram(ctx context.Context, p *Program) error
	ListPrograms(ctx context.Context) ([]*Program, error)
}

// HistoryReader loads the parts of a snapshot that other packages own.
type HistoryReader interface {
	// Forms returns pending and submitted forms with the measures they use.
	Forms(ctx context.Context, clientID uuid.UUID) ([]FormSummary, []MeasureInfo, error)
	OpenFlags(ctx context.Context, clientID uuid.UUID) ([]OpenFlag, error)
}
