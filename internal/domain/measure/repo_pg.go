package measure

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/outcomes/outcomes/internal/platform/db"
)

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

// =========== Definition Repository ===========

type definitionRepoPG struct{ pool *pgxpool.Pool }

func NewDefinitionRepoPG(pool *pgxpool.Pool) DefinitionRepository {
	return &definitionRepoPG{pool: pool}
}

func (r *definitionRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const definitionCols = `id, code, name, version, description, clinical_cutoff::text,
	higher_is_worse, active, created_at`

func (r *definitionRepoPG) scanDefinition(row pgx.Row) (*Definition, error) {
	var d Definition
	var cutoff *string
	if err := row.Scan(&d.ID, &d.Code, &d.Name, &d.Version, &d.Description, &cutoff,
		&d.HigherIsWorse, &d.Active, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if cutoff != nil {
		v, err := decimal.NewFromString(*cutoff)
		if err != nil {
			return nil, fmt.Errorf("parse clinical_cutoff: %w", err)
		}
		d.ClinicalCutoff = &v
	}
	return &d, nil
}

func (r *definitionRepoPG) Create(ctx context.Context, d *Definition) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		err := q.QueryRow(ctx, `
			INSERT INTO measure (id, code, name, version, description, clinical_cutoff, higher_is_worse, active)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING created_at`,
			d.ID, d.Code, d.Name, d.Version, d.Description, d.ClinicalCutoff, d.HigherIsWorse, d.Active,
		).Scan(&d.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert measure: %w", err)
		}

		for _, it := range d.Items {
			if _, err := q.Exec(ctx, `
				INSERT INTO measure_item (id, measure_id, item_number, item_code, question_text, scale_type,
					reverse_scored, risk_item, risk_threshold, max_value)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
				it.ID, d.ID, it.Number, it.Code, it.Text, string(it.Scale),
				it.ReverseScored, it.RiskItem, it.RiskThreshold, it.MaxValue); err != nil {
				return fmt.Errorf("insert item %s: %w", it.Code, err)
			}
		}

		for _, s := range d.Subscales {
			if _, err := q.Exec(ctx, `
				INSERT INTO measure_subscale (id, measure_id, name, min_score, max_score, item_codes)
				VALUES ($1,$2,$3,$4,$5,$6)`,
				s.ID, d.ID, s.Name, s.Min, s.Max, s.ItemCodes); err != nil {
				return fmt.Errorf("insert subscale %s: %w", s.Name, err)
			}
		}
		return nil
	})
}

func (r *definitionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Definition, error) {
	d, err := r.scanDefinition(r.conn(ctx).QueryRow(ctx, `SELECT `+definitionCols+` FROM measure WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadParts(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *definitionRepoPG) loadParts(ctx context.Context, d *Definition) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, measure_id, item_number, item_code, question_text, scale_type,
			reverse_scored, risk_item, risk_threshold, max_value
		FROM measure_item WHERE measure_id = $1 ORDER BY item_number`, d.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	d.Items = nil
	for rows.Next() {
		var it Item
		var scale string
		if err := rows.Scan(&it.ID, &it.MeasureID, &it.Number, &it.Code, &it.Text, &scale,
			&it.ReverseScored, &it.RiskItem, &it.RiskThreshold, &it.MaxValue); err != nil {
			return err
		}
		it.Scale = ScaleType(scale)
		d.Items = append(d.Items, it)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	srows, err := r.conn(ctx).Query(ctx, `
		SELECT id, measure_id, name, min_score, max_score, item_codes
		FROM measure_subscale WHERE measure_id = $1 ORDER BY name`, d.ID)
	if err != nil {
		return err
	}
	defer srows.Close()
	d.Subscales = nil
	for srows.Next() {
		var s Subscale
		if err := srows.Scan(&s.ID, &s.MeasureID, &s.Name, &s.Min, &s.Max, &s.ItemCodes); err != nil {
			return err
		}
		d.Subscales = append(d.Subscales, s)
	}
	return srows.Err()
}

func (r *definitionRepoPG) LatestVersion(ctx context.Context, code string) (int, error) {
	var v int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM measure WHERE code = $1`, code).Scan(&v)
	return v, err
}

func (r *definitionRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE measure SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *definitionRepoPG) List(ctx context.Context, limit, offset int) ([]*Definition, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM measure`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+definitionCols+` FROM measure ORDER BY code, version DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var items []*Definition
	for rows.Next() {
		d, err := r.scanDefinition(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		items = append(items, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, d := range items {
		if err := r.loadParts(ctx, d); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

// =========== Form Repository ===========

type formRepoPG struct{ pool *pgxpool.Pool }

func NewFormRepoPG(pool *pgxpool.Pool) FormRepository {
	return &formRepoPG{pool: pool}
}

func (r *formRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const formCols = `id, client_id, measure_id, status, administered_by, administered_at, submitted_at,
	total_score::text, subscale_scores, interpretation_flags, created_at`

func (r *formRepoPG) scanForm(row pgx.Row) (*AdministeredForm, error) {
	var f AdministeredForm
	var total *string
	var subscales []byte
	if err := row.Scan(&f.ID, &f.ClientID, &f.MeasureID, &f.Status, &f.AdministeredBy, &f.AdministeredAt,
		&f.SubmittedAt, &total, &subscales, &f.Flags, &f.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if total != nil {
		v, err := decimal.NewFromString(*total)
		if err != nil {
			return nil, fmt.Errorf("parse total_score: %w", err)
		}
		f.TotalScore = &v
	}
	if len(subscales) > 0 {
		if err := json.Unmarshal(subscales, &f.SubscaleScores); err != nil {
			return nil, fmt.Errorf("decode subscale_scores: %w", err)
		}
	}
	return &f, nil
}

func (r *formRepoPG) Create(ctx context.Context, f *AdministeredForm) error {
	f.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO administered_form (id, client_id, measure_id, status, administered_by, administered_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		f.ID, f.ClientID, f.MeasureID, f.Status, f.AdministeredBy, f.AdministeredAt,
	).Scan(&f.CreatedAt)
}

func (r *formRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AdministeredForm, error) {
	f, err := r.scanForm(r.conn(ctx).QueryRow(ctx, `SELECT `+formCols+` FROM administered_form WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT form_id, item_id, value FROM administered_answer WHERE form_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.FormID, &a.ItemID, &a.Value); err != nil {
			return nil, err
		}
		f.Answers = append(f.Answers, a)
	}
	return f, rows.Err()
}

func (r *formRepoPG) Submit(ctx context.Context, f *AdministeredForm) error {
	subscales, err := json.Marshal(f.SubscaleScores)
	if err != nil {
		return fmt.Errorf("encode subscale_scores: %w", err)
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		tx := db.TxFromContext(ctx)
		batch := &pgx.Batch{}
		for _, a := range f.Answers {
			batch.Queue(`INSERT INTO administered_answer (form_id, item_id, value) VALUES ($1,$2,$3)`,
				f.ID, a.ItemID, a.Value)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("insert answers: %w", err)
			}
		}
		tag, err := tx.Exec(ctx, `
			UPDATE administered_form SET status=$2, submitted_at=$3, total_score=$4,
				subscale_scores=$5, interpretation_flags=$6
			WHERE id = $1 AND status <> $2`,
			f.ID, f.Status, f.SubmittedAt, f.TotalScore, subscales, f.Flags)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrAlreadySubmitted
		}
		return nil
	})
}

func (r *formRepoPG) ListByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]*AdministeredForm, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM administered_form WHERE client_id = $1`, clientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+formCols+` FROM administered_form WHERE client_id = $1
		ORDER BY administered_at DESC LIMIT $2 OFFSET $3`, clientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*AdministeredForm
	for rows.Next() {
		f, err := r.scanForm(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, f)
	}
	return items, total, rows.Err()
}
