package flag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outcomes/outcomes/internal/platform/db"
)

const uniqueViolation = "23505"

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Rule Repository ===========

type ruleRepoPG struct{ pool *pgxpool.Pool }

func NewRuleRepoPG(pool *pgxpool.Pool) RuleRepository { return &ruleRepoPG{pool: pool} }

const ruleCols = `id, name, flag_type, active, priority, condition, description, created_at, updated_at`

func scanRule(row pgx.Row) (*Rule, error) {
	var r Rule
	var cond []byte
	if err := row.Scan(&r.ID, &r.Name, &r.FlagType, &r.Active, &r.Priority, &cond,
		&r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	r.Condition = cond
	return &r, nil
}

func (r *ruleRepoPG) Create(ctx context.Context, rule *Rule) error {
	rule.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO flag_rule (id, name, flag_type, active, priority, condition, description)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		rule.ID, rule.Name, rule.FlagType, rule.Active, rule.Priority, []byte(rule.Condition), rule.Description,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
}

func (r *ruleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Rule, error) {
	return scanRule(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+ruleCols+` FROM flag_rule WHERE id = $1`, id))
}

func (r *ruleRepoPG) Update(ctx context.Context, rule *Rule) error {
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		UPDATE flag_rule SET name=$2, flag_type=$3, active=$4, priority=$5, condition=$6,
			description=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		rule.ID, rule.Name, rule.FlagType, rule.Active, rule.Priority, []byte(rule.Condition), rule.Description,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRuleNotFound
	}
	return err
}

func (r *ruleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM flag_rule WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (r *ruleRepoPG) List(ctx context.Context, activeOnly bool) ([]Rule, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT `+ruleCols+` FROM flag_rule
		WHERE ($1 = false OR active)
		ORDER BY priority, name, id`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *rule)
	}
	return items, rows.Err()
}

// =========== Client Flag Repository ===========

type flagRepoPG struct{ pool *pgxpool.Pool }

func NewFlagRepoPG(pool *pgxpool.Pool) FlagRepository { return &flagRepoPG{pool: pool} }

const flagCols = `id, client_id, flag_type, reason, raised_at, raised_by, rule_id, cleared,
	cleared_at, cleared_by, clearance_note`

func scanFlag(row pgx.Row) (*ClientFlag, error) {
	var f ClientFlag
	if err := row.Scan(&f.ID, &f.ClientID, &f.Type, &f.Reason, &f.RaisedAt, &f.RaisedBy, &f.RuleID,
		&f.Cleared, &f.ClearedAt, &f.ClearedBy, &f.ClearanceNote); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (r *flagRepoPG) Create(ctx context.Context, f *ClientFlag) error {
	f.ID = uuid.New()
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO client_flag (id, client_id, flag_type, reason, raised_at, raised_by, rule_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		f.ID, f.ClientID, f.Type, f.Reason, f.RaisedAt, f.RaisedBy, f.RuleID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyOpen
	}
	if err != nil {
		return fmt.Errorf("insert client_flag: %w", err)
	}
	return nil
}

func (r *flagRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ClientFlag, error) {
	return scanFlag(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+flagCols+` FROM client_flag WHERE id = $1`, id))
}

func (r *flagRepoPG) ListByClient(ctx context.Context, clientID uuid.UUID, includeCleared bool) ([]ClientFlag, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT `+flagCols+` FROM client_flag
		WHERE client_id = $1 AND ($2 OR NOT cleared)
		ORDER BY raised_at DESC`, clientID, includeCleared)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ClientFlag
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *f)
	}
	return items, rows.Err()
}

func (r *flagRepoPG) Clear(ctx context.Context, id uuid.UUID, actor string, note *string, at time.Time) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE client_flag SET cleared = true, cleared_at = $2, cleared_by = $3, clearance_note = $4
		WHERE id = $1 AND NOT cleared`, id, at, actor, note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyCleared
	}
	return nil
}
