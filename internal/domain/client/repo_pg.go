package client

import (
	"context"
	"errors"
	"fmt"
	"time"

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

const clientCols = `id, client_code, first_name, last_name, date_of_birth, gender, email, phone,
	address, postal_code, demographics, program_id, assigned_practitioner, status, referral_date,
	first_appointment_date, closed_date, discharge_reason, consent_to_contact, consent_to_research,
	data_quality_score, data_quality_calculated_at, created_at, updated_at`

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	var demo []byte
	err := row.Scan(&c.ID, &c.ClientCode, &c.FirstName, &c.LastName, &c.DateOfBirth, &c.Gender,
		&c.Email, &c.Phone, &c.Address, &c.PostalCode, &demo, &c.ProgramID, &c.AssignedPractitioner,
		&c.Status, &c.ReferralDate, &c.FirstAppointmentDate, &c.ClosedDate, &c.DischargeReason,
		&c.ConsentToContact, &c.ConsentToResearch, &c.DataQualityScore, &c.DataQualityCalculatedAt,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(demo) > 0 {
		if err := json.Unmarshal(demo, &c.Demographics); err != nil {
			return nil, fmt.Errorf("decode demographics: %w", err)
		}
	}
	return &c, nil
}

func encodeDemographics(m map[string]interface{}) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (r *repoPG) Create(ctx context.Context, c *Client) error {
	c.ID = uuid.New()
	demo, err := encodeDemographics(c.Demographics)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO client (id, client_code, first_name, last_name, date_of_birth, gender, email, phone,
			address, postal_code, demographics, program_id, assigned_practitioner, status, referral_date,
			first_appointment_date, closed_date, discharge_reason, consent_to_contact, consent_to_research)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		RETURNING created_at, updated_at`,
		c.ID, c.ClientCode, c.FirstName, c.LastName, c.DateOfBirth, c.Gender, c.Email, c.Phone,
		c.Address, c.PostalCode, demo, c.ProgramID, c.AssignedPractitioner, c.Status, c.ReferralDate,
		c.FirstAppointmentDate, c.ClosedDate, c.DischargeReason, c.ConsentToContact, c.ConsentToResearch,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	return scanClient(r.conn(ctx).QueryRow(ctx, `SELECT `+clientCols+` FROM client WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, c *Client) error {
	demo, err := encodeDemographics(c.Demographics)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE client SET first_name=$2, last_name=$3, date_of_birth=$4, gender=$5, email=$6, phone=$7,
			address=$8, postal_code=$9, demographics=$10, program_id=$11, assigned_practitioner=$12,
			status=$13, referral_date=$14, first_appointment_date=$15, closed_date=$16,
			discharge_reason=$17, consent_to_contact=$18, consent_to_research=$19, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.FirstName, c.LastName, c.DateOfBirth, c.Gender, c.Email, c.Phone,
		c.Address, c.PostalCode, demo, c.ProgramID, c.AssignedPractitioner,
		c.Status, c.ReferralDate, c.FirstAppointmentDate, c.ClosedDate,
		c.DischargeReason, c.ConsentToContact, c.ConsentToResearch,
	).Scan(&c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) List(ctx context.Context, status string, limit, offset int) ([]*Client, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM client WHERE ($1 = '' OR status = $1)`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+clientCols+` FROM client
		WHERE ($1 = '' OR status = $1) ORDER BY client_code LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListIDs(ctx context.Context, statuses ...string) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id FROM client WHERE cardinality($1::text[]) = 0 OR status = ANY($1) ORDER BY id`, statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repoPG) UpdateDataQuality(ctx context.Context, id uuid.UUID, score int, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE client SET data_quality_score = $2, data_quality_calculated_at = $3 WHERE id = $1`, id, score, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) AddSession(ctx context.Context, s *Session) error {
	s.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO session (id, client_id, session_date, session_type, did_not_attend, practitioner)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at`,
		s.ID, s.ClientID, s.SessionDate, s.SessionType, s.DidNotAttend, s.Practitioner,
	).Scan(&s.CreatedAt)
}

func (r *repoPG) ListSessions(ctx context.Context, clientID uuid.UUID) ([]Session, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, client_id, session_date, session_type, did_not_attend, practitioner, created_at
		FROM session WHERE client_id = $1 ORDER BY session_date`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.ClientID, &s.SessionDate, &s.SessionType, &s.DidNotAttend,
			&s.Practitioner, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repoPG) AddNote(ctx context.Context, n *CaseNote) error {
	n.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO case_note (id, client_id, author, body) VALUES ($1,$2,$3,$4) RETURNING created_at`,
		n.ID, n.ClientID, n.Author, n.Body,
	).Scan(&n.CreatedAt)
}

func (r *repoPG) ListNotes(ctx context.Context, clientID uuid.UUID) ([]CaseNote, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, client_id, author, body, created_at
		FROM case_note WHERE client_id = $1 ORDER BY created_at`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CaseNote
	for rows.Next() {
		var n CaseNote
		if err := rows.Scan(&n.ID, &n.ClientID, &n.Author, &n.Body, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *repoPG) CreateProgram(ctx context.Context, p *Program) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO program (id, code, name, active) VALUES ($1,$2,$3,$4) RETURNING created_at`,
		p.ID, p.Code, p.Name, p.Active,
	).Scan(&p.CreatedAt)
}

func (r *repoPG) ListPrograms(ctx context.Context) ([]*Program, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, code, name, active, created_at FROM program ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Program
	for rows.Next() {
		var p Program
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// =========== History Reader ===========

type historyPG struct{ repoPG }

// NewHistoryReaderPG reads forms and open flags straight from their tables
// so the snapshot is built from one tenant connection.
func NewHistoryReaderPG(pool *pgxpool.Pool) HistoryReader {
	return &historyPG{repoPG{pool: pool}}
}

func (r *historyPG) Forms(ctx context.Context, clientID uuid.UUID) ([]FormSummary, []MeasureInfo, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT f.id, f.measure_id, f.administered_at, f.status, f.submitted_at,
			f.total_score::text, f.interpretation_flags, m.code, m.higher_is_worse
		FROM administered_form f JOIN measure m ON m.id = f.measure_id
		WHERE f.client_id = $1
		ORDER BY f.administered_at`, clientID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var forms []FormSummary
	seen := map[uuid.UUID]bool{}
	var measures []MeasureInfo
	for rows.Next() {
		var f FormSummary
		var status string
		var submittedAt *time.Time
		var total *string
		var m MeasureInfo
		if err := rows.Scan(&f.FormID, &f.MeasureID, &f.AdministeredAt, &status, &submittedAt,
			&total, &f.Flags, &m.Code, &m.HigherIsWorse); err != nil {
			return nil, nil, err
		}
		f.Pending = status != "submitted" || submittedAt == nil || total == nil
		if !f.Pending {
			f.SubmittedAt = *submittedAt
			if f.Total, err = decimal.NewFromString(*total); err != nil {
				return nil, nil, fmt.Errorf("parse total of form %s: %w", f.FormID, err)
			}
		}
		forms = append(forms, f)
		if !seen[f.MeasureID] {
			seen[f.MeasureID] = true
			m.ID = f.MeasureID
			measures = append(measures, m)
		}
	}
	return forms, measures, rows.Err()
}

func (r *historyPG) OpenFlags(ctx context.Context, clientID uuid.UUID) ([]OpenFlag, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, flag_type, rule_id, raised_at FROM client_flag
		WHERE client_id = $1 AND NOT cleared ORDER BY raised_at`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OpenFlag
	for rows.Next() {
		var f OpenFlag
		if err := rows.Scan(&f.ID, &f.Type, &f.RuleID, &f.RaisedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
