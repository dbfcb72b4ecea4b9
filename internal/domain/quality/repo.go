package quality

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Requirement) error
	Delete(ctx context.Context, id uuid.UUID) error
	// List returns requirements in definition order.
	List(ctx context.Context) ([]Requirement, error)
}
