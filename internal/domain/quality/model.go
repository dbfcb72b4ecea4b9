package quality

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Requirement stages.
const (
	StageIntake    = "Intake"
	StageTreatment = "Treatment"
	StageDischarge = "Discharge"
)

// MaxScore is the top of the data quality scale.
const MaxScore = 5

// Requirement maps to the data_quality_requirement table. A nil ProgramID
// applies tenant-wide.
type Requirement struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	ProgramID *uuid.UUID `db:"program_id" json:"program_id,omitempty"`
	FieldName string     `db:"field_name" json:"field_name" validate:"required,max=100"`
	Required  bool       `db:"required" json:"required"`
	Stage     string     `db:"stage" json:"stage" validate:"omitempty,oneof=Intake Treatment Discharge"`
	Weight    int        `db:"weight" json:"weight" validate:"min=0"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

func (r Requirement) stage() string {
	if r.Stage == "" {
		return StageIntake
	}
	return r.Stage
}

// Result is a data quality calculation for one client.
type Result struct {
	ClientID      uuid.UUID       `json:"client_id"`
	Score         int             `json:"score"`
	Ratio         decimal.Decimal `json:"ratio"`
	MissingFields []string        `json:"missing_fields"`
	Skipped       []string        `json:"skipped,omitempty"`
	ConfigErrors  []error         `json:"-"`
	CalculatedAt  time.Time       `json:"calculated_at"`
}

var (
	ErrNotFound     = errors.New("data quality requirement not found")
	ErrUnknownField = errors.New("unknown data quality field")
)

// ConfigurationError marks a requirement that was left out of the
// calculation.
type ConfigurationError struct {
	RequirementID uuid.UUID
	FieldName     string
	Err           error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("requirement %q (%s): %v", e.FieldName, e.RequirementID, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
