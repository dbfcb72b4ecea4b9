package quality

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomes/outcomes/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) Create(ctx context.Context, req *Requirement) error {
	req.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO data_quality_requirement (id, program_id, field_name, required, stage, weight)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		req.ID, req.ProgramID, req.FieldName, req.Required, req.stage(), req.Weight,
	).Scan(&req.CreatedAt)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM data_quality_requirement WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context) ([]Requirement, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, program_id, field_name, required, stage, weight, created_at
		FROM data_quality_requirement
		ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Requirement
	for rows.Next() {
		var q Requirement
		if err := rows.Scan(&q.ID, &q.ProgramID, &q.FieldName, &q.Required, &q.Stage, &q.Weight, &q.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, q)
	}
	return items, rows.Err()
}
