package client

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Client statuses.
const (
	StatusOpen        = "Open"
	StatusWaitingList = "WaitingList"
	StatusClosed      = "Closed"
	StatusDischarged  = "Discharged"
)

// Program maps to the program table.
type Program struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Code      string    `db:"code" json:"code" validate:"required,max=32"`
	Name      string    `db:"name" json:"name" validate:"required"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Client maps to the client table.
type Client struct {
	ID                      uuid.UUID              `db:"id" json:"id"`
	ClientCode              string                 `db:"client_code" json:"client_code" validate:"required,max=32"`
	FirstName               string                 `db:"first_name" json:"first_name" validate:"required"`
	LastName                string                 `db:"last_name" json:"last_name" validate:"required"`
	DateOfBirth             *time.Time             `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Gender                  *string                `db:"gender" json:"gender,omitempty"`
	Email                   *string                `db:"email" json:"email,omitempty" validate:"omitempty,email"`
	Phone                   *string                `db:"phone" json:"phone,omitempty"`
	Address                 *string                `db:"address" json:"address,omitempty"`
	PostalCode              *string                `db:"postal_code" json:"postal_code,omitempty"`
	Demographics            map[string]interface{} `db:"demographics" json:"demographics,omitempty"`
	ProgramID               *uuid.UUID             `db:"program_id" json:"program_id,omitempty"`
	AssignedPractitioner    *string                `db:"assigned_practitioner" json:"assigned_practitioner,omitempty"`
	Status                  string                 `db:"status" json:"status" validate:"omitempty,oneof=Open WaitingList Closed Discharged"`
	ReferralDate            *time.Time             `db:"referral_date" json:"referral_date,omitempty"`
	FirstAppointmentDate    *time.Time             `db:"first_appointment_date" json:"first_appointment_date,omitempty"`
	ClosedDate              *time.Time             `db:"closed_date" json:"closed_date,omitempty"`
	DischargeReason         *string                `db:"discharge_reason" json:"discharge_reason,omitempty"`
	ConsentToContact        bool                   `db:"consent_to_contact" json:"consent_to_contact"`
	ConsentToResearch       bool                   `db:"consent_to_research" json:"consent_to_research"`
	DataQualityScore        *int                   `db:"data_quality_score" json:"data_quality_score,omitempty"`
	DataQualityCalculatedAt *time.Time             `db:"data_quality_calculated_at" json:"data_quality_calculated_at,omitempty"`
	CreatedAt               time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time              `db:"updated_at" json:"updated_at"`
}

// IsOpen reports whether the client is still on an active caseload.
func (c *Client) IsOpen() bool {
	return c.Status == StatusOpen || c.Status == StatusWaitingList
}

// Session maps to the session table.
type Session struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ClientID     uuid.UUID `db:"client_id" json:"client_id"`
	SessionDate  time.Time `db:"session_date" json:"session_date" validate:"required"`
	SessionType  string    `db:"session_type" json:"session_type" validate:"required"`
	DidNotAttend bool      `db:"did_not_attend" json:"did_not_attend"`
	Practitioner *string   `db:"practitioner" json:"practitioner,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// CaseNote maps to the case_note table.
type CaseNote struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ClientID  uuid.UUID `db:"client_id" json:"client_id"`
	Author    string    `db:"author" json:"author"`
	Body      string    `db:"body" json:"body" validate:"required"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FormSummary is an administered form as seen by the rule engine. Pending
// forms have no submission time, total or flags.
type FormSummary struct {
	FormID         uuid.UUID
	MeasureID      uuid.UUID
	AdministeredAt time.Time
	Pending        bool
	SubmittedAt    time.Time
	Total          decimal.Decimal
	Flags          []string
}

// HasFlag reports whether the form's interpretation flags include flag.
func (f FormSummary) HasFlag(flag string) bool {
	for _, v := range f.Flags {
		if v == flag {
			return true
		}
	}
	return false
}

// ScorePoint is one total score of a measure at a point in time.
type ScorePoint struct {
	FormID uuid.UUID
	At     time.Time
	Total  decimal.Decimal
}

// MeasureInfo carries what the rules need to know about a measure.
type MeasureInfo struct {
	ID            uuid.UUID
	Code          string
	HigherIsWorse bool
}

// OpenFlag is an uncleared flag on the client.
type OpenFlag struct {
	ID       uuid.UUID
	Type     string
	RuleID   *uuid.UUID
	RaisedAt time.Time
}

// Snapshot is the immutable view of one client that rule evaluation and the
// data quality calculator work from.
type Snapshot struct {
	Client    Client
	Sessions  []Session
	Notes     []CaseNote
	Forms     []FormSummary // submitted only
	Scores    map[uuid.UUID][]ScorePoint
	Measures  map[uuid.UUID]MeasureInfo
	OpenFlags []OpenFlag

	// LastActivity is the latest session, note, form administration or
	// submission, falling back to the referral date and then the record's
	// creation time.
	LastActivity time.Time
}

// NewSnapshot derives the score series and last activity from the raw
// records. Pending forms only count as activity; submitted forms are sorted
// by submission time.
func NewSnapshot(c Client, sessions []Session, notes []CaseNote, forms []FormSummary, measures []MeasureInfo, open []OpenFlag) *Snapshot {
	s := &Snapshot{
		Client:    c,
		Sessions:  sessions,
		Notes:     notes,
		Scores:    make(map[uuid.UUID][]ScorePoint),
		Measures:  make(map[uuid.UUID]MeasureInfo, len(measures)),
		OpenFlags: open,
	}
	var last time.Time
	bump := func(t time.Time) {
		if t.After(last) {
			last = t
		}
	}
	for _, f := range forms {
		bump(f.AdministeredAt)
		if !f.Pending {
			s.Forms = append(s.Forms, f)
		}
	}
	sort.SliceStable(s.Forms, func(i, j int) bool {
		return s.Forms[i].SubmittedAt.Before(s.Forms[j].SubmittedAt)
	})
	for _, m := range measures {
		s.Measures[m.ID] = m
	}

	for _, f := range s.Forms {
		s.Scores[f.MeasureID] = append(s.Scores[f.MeasureID], ScorePoint{FormID: f.FormID, At: f.SubmittedAt, Total: f.Total})
		bump(f.SubmittedAt)
	}
	for _, ses := range sessions {
		bump(ses.SessionDate)
	}
	for _, n := range notes {
		bump(n.CreatedAt)
	}
	if last.IsZero() && c.ReferralDate != nil {
		last = *c.ReferralDate
	}
	if last.IsZero() {
		last = c.CreatedAt
	}
	s.LastActivity = last
	return s
}

// HasOpenFlag reports whether a flag of the given type is open.
func (s *Snapshot) HasOpenFlag(flagType string) bool {
	for _, f := range s.OpenFlags {
		if strings.EqualFold(f.Type, flagType) {
			return true
		}
	}
	return false
}

// MeasureIDs returns measures with scores ordered by code then id.
func (s *Snapshot) MeasureIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.Scores))
	for id := range s.Scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ci, cj := s.Measures[ids[i]].Code, s.Measures[ids[j]].Code
		if ci != cj {
			return ci < cj
		}
		return ids[i].String() < ids[j].String()
	})
	return ids
}

// AttendedSession reports whether any non-DNA session happened on or before at.
func (s *Snapshot) AttendedSession(at time.Time) bool {
	for _, ses := range s.Sessions {
		if !ses.DidNotAttend && !ses.SessionDate.After(at) {
			return true
		}
	}
	return false
}
