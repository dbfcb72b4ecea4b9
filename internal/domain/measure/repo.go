package measure

import (
	"context"

	"github.com/google/uuid"
)

type DefinitionRepository interface {
	Create(ctx context.Context, d *Definition) error
	GetByID(ctx context.Context, id uuid.UUID) (*Definition, error)
	LatestVersion(ctx context.Context, code string) (int, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	List(ctx context.Context, limit, offset int) ([]*Definition, int, error)
}

type FormRepository interface {
	Create(ctx context.Context, f *AdministeredForm) error
	GetByID(ctx context.Context, id uuid.UUID) (*AdministeredForm, error)
	// Submit stores the answers and the score atomically.
	Submit(ctx context.Context, f *AdministeredForm) error
	ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*AdministeredForm, int, error)
}

// DefinitionCache is a read-through cache in front of DefinitionRepository.
// A miss returns nil, nil.
type DefinitionCache interface {
	GetDefinition(ctx context.Context, tenant string, id uuid.UUID) (*Definition, error)
	SetDefinition(ctx context.Context, tenant string, d *Definition) error
	InvalidateDefinition(ctx context.Context, tenant string, id uuid.UUID) error
}
