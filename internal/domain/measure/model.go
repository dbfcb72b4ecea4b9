package measure

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ScaleType is the response scale of a single item.
type ScaleType string

const (
	ScaleLikert0To4 ScaleType = "likert_0_4"
	ScaleLikert1To5 ScaleType = "likert_1_5"
	ScaleYesNo      ScaleType = "yes_no"
	ScaleNumeric    ScaleType = "numeric"
)

// Definition maps to the measure table. A published definition is never
// edited in place; a new version is stored as a new row.
type Definition struct {
	ID             uuid.UUID        `db:"id" json:"id"`
	Code           string           `db:"code" json:"code" validate:"required,max=32"`
	Name           string           `db:"name" json:"name" validate:"required"`
	Version        int              `db:"version" json:"version"`
	Description    *string          `db:"description" json:"description,omitempty"`
	ClinicalCutoff *decimal.Decimal `db:"clinical_cutoff" json:"clinical_cutoff,omitempty"`
	HigherIsWorse  bool             `db:"higher_is_worse" json:"higher_is_worse"`
	Active         bool             `db:"active" json:"active"`
	Items          []Item           `json:"items" validate:"required,min=1,dive"`
	Subscales      []Subscale       `json:"subscales,omitempty" validate:"dive"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}

// Item maps to the measure_item table.
type Item struct {
	ID            uuid.UUID `db:"id" json:"id"`
	MeasureID     uuid.UUID `db:"measure_id" json:"measure_id"`
	Number        int       `db:"item_number" json:"number" validate:"min=1"`
	Code          string    `db:"item_code" json:"code" validate:"required"`
	Text          string    `db:"question_text" json:"text"`
	Scale         ScaleType `db:"scale_type" json:"scale" validate:"required,oneof=likert_0_4 likert_1_5 yes_no numeric"`
	ReverseScored bool      `db:"reverse_scored" json:"reverse_scored"`
	RiskItem      bool      `db:"risk_item" json:"risk_item"`
	RiskThreshold *int      `db:"risk_threshold" json:"risk_threshold,omitempty"`
	MaxValue      *int      `db:"max_value" json:"max_value,omitempty"`
}

// Subscale maps to the measure_subscale table. Membership is by item code.
type Subscale struct {
	ID        uuid.UUID `db:"id" json:"id"`
	MeasureID uuid.UUID `db:"measure_id" json:"measure_id"`
	Name      string    `db:"name" json:"name" validate:"required"`
	Min       *int      `db:"min_score" json:"min,omitempty"`
	Max       *int      `db:"max_score" json:"max,omitempty"`
	ItemCodes []string  `db:"item_codes" json:"item_codes" validate:"required,min=1"`
}

// AnswerSet maps item id to the raw response value.
type AnswerSet map[uuid.UUID]int

// CompletionMode controls how unanswered items are treated by Score.
type CompletionMode string

const (
	Strict  CompletionMode = "strict"
	Partial CompletionMode = "partial"
)

// ScoreResult is the outcome of scoring one answer set.
type ScoreResult struct {
	Total            decimal.Decimal            `json:"total"`
	Subscales        map[string]decimal.Decimal `json:"subscales"`
	Flags            []string                   `json:"flags"`
	Warnings         []SubscaleBoundsWarning    `json:"warnings,omitempty"`
	OmittedSubscales []string                   `json:"omitted_subscales,omitempty"`
	Partial          bool                       `json:"partial"`
	AnsweredItems    int                        `json:"answered_items"`
}

// HasFlag reports whether the result carries the given interpretation flag.
func (r *ScoreResult) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Form statuses.
const (
	FormPending   = "pending"
	FormSubmitted = "submitted"
)

// AdministeredForm maps to the administered_form table.
type AdministeredForm struct {
	ID             uuid.UUID                  `db:"id" json:"id"`
	ClientID       uuid.UUID                  `db:"client_id" json:"client_id" validate:"required"`
	MeasureID      uuid.UUID                  `db:"measure_id" json:"measure_id" validate:"required"`
	Status         string                     `db:"status" json:"status"`
	AdministeredBy string                     `db:"administered_by" json:"administered_by"`
	AdministeredAt time.Time                  `db:"administered_at" json:"administered_at"`
	SubmittedAt    *time.Time                 `db:"submitted_at" json:"submitted_at,omitempty"`
	TotalScore     *decimal.Decimal           `db:"total_score" json:"total_score,omitempty"`
	SubscaleScores map[string]decimal.Decimal `db:"subscale_scores" json:"subscale_scores,omitempty"`
	Flags          []string                   `db:"interpretation_flags" json:"flags,omitempty"`
	Answers        []Answer                   `json:"answers,omitempty"`
	CreatedAt      time.Time                  `db:"created_at" json:"created_at"`
}

// Answer maps to the administered_answer table.
type Answer struct {
	FormID uuid.UUID `db:"form_id" json:"form_id"`
	ItemID uuid.UUID `db:"item_id" json:"item_id" validate:"required"`
	Value  int       `db:"value" json:"value"`
}

// AnswerSet rebuilds the item-to-value map from persisted answers.
func (f *AdministeredForm) AnswerSet() AnswerSet {
	set := make(AnswerSet, len(f.Answers))
	for _, a := range f.Answers {
		set[a.ItemID] = a.Value
	}
	return set
}
