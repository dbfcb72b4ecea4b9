package flag

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type RuleRepository interface {
	Create(ctx context.Context, r *Rule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Rule, error)
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, activeOnly bool) ([]Rule, error)
}

type FlagRepository interface {
	// Create fails with ErrAlreadyOpen when an uncleared flag of the same
	// type exists for the client.
	Create(ctx context.Context, f *ClientFlag) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClientFlag, error)
	ListByClient(ctx context.Context, clientID uuid.UUID, includeCleared bool) ([]ClientFlag, error)
	Clear(ctx context.Context, id uuid.UUID, actor string, note *string, at time.Time) error
}
