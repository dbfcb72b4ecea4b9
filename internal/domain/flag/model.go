package flag

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Flag types.
const (
	TypeRisk         = "Risk"
	TypeHighRisk     = "HighRisk"
	TypeOffTrack     = "OffTrack"
	TypeNeedsClosing = "NeedsClosing"
	TypeDataQuality  = "DataQuality"
	TypeCustom       = "Custom"
)

var knownTypes = map[string]bool{
	TypeRisk: true, TypeHighRisk: true, TypeOffTrack: true,
	TypeNeedsClosing: true, TypeDataQuality: true, TypeCustom: true,
}

// ValidType reports whether t is one of the flag types above.
func ValidType(t string) bool { return knownTypes[t] }

// autoClearable lists the types a clearance pass may close. Risk flags
// always need a clinician.
var autoClearable = map[string]bool{
	TypeOffTrack: true, TypeNeedsClosing: true, TypeDataQuality: true,
}

// Rule maps to the flag_rule table.
type Rule struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Name        string          `db:"name" json:"name" validate:"required,max=100"`
	FlagType    string          `db:"flag_type" json:"flag_type" validate:"required"`
	Active      bool            `db:"active" json:"active"`
	Priority    int             `db:"priority" json:"priority"`
	Condition   json.RawMessage `db:"condition" json:"condition" validate:"required"`
	Description *string         `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// ClientFlag maps to the client_flag table. Clearing is one-way.
type ClientFlag struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	ClientID      uuid.UUID  `db:"client_id" json:"client_id"`
	Type          string     `db:"flag_type" json:"type"`
	Reason        string     `db:"reason" json:"reason"`
	RaisedAt      time.Time  `db:"raised_at" json:"raised_at"`
	RaisedBy      string     `db:"raised_by" json:"raised_by"`
	RuleID        *uuid.UUID `db:"rule_id" json:"rule_id,omitempty"`
	Cleared       bool       `db:"cleared" json:"cleared"`
	ClearedAt     *time.Time `db:"cleared_at" json:"cleared_at,omitempty"`
	ClearedBy     *string    `db:"cleared_by" json:"cleared_by,omitempty"`
	ClearanceNote *string    `db:"clearance_note" json:"clearance_note,omitempty"`
}

// Action is what a decision asks the caller to do.
type Action string

const (
	ActionRaise    Action = "Raise"
	ActionNoAction Action = "NoAction"
	ActionClear    Action = "Clear"
)

// Decision is the outcome of one rule against one snapshot.
type Decision struct {
	RuleID   uuid.UUID  `json:"rule_id"`
	RuleName string     `json:"rule_name"`
	FlagType string     `json:"flag_type"`
	Action   Action     `json:"action"`
	Reason   string     `json:"reason"`
	FlagID   *uuid.UUID `json:"flag_id,omitempty"`
}

// Evaluation is the result of running every active rule once.
type Evaluation struct {
	Decisions    []Decision `json:"decisions"`
	ConfigErrors []error    `json:"-"`
}

// Raises returns the decisions with ActionRaise.
func (e *Evaluation) Raises() []Decision {
	return e.filter(ActionRaise)
}

// Clears returns the decisions with ActionClear.
func (e *Evaluation) Clears() []Decision {
	return e.filter(ActionClear)
}

func (e *Evaluation) filter(a Action) []Decision {
	var out []Decision
	for _, d := range e.Decisions {
		if d.Action == a {
			out = append(out, d)
		}
	}
	return out
}

var (
	ErrNotFound       = errors.New("flag not found")
	ErrRuleNotFound   = errors.New("flag rule not found")
	ErrAlreadyOpen    = errors.New("a flag of this type is already open")
	ErrAlreadyCleared = errors.New("flag already cleared")
	ErrInvalidRule    = errors.New("invalid flag rule")
	ErrInvalidType    = errors.New("unknown flag type")
)

// ConfigurationError marks a rule that could not be evaluated. The rule is
// skipped; evaluation of the others continues.
type ConfigurationError struct {
	RuleID   uuid.UUID
	RuleName string
	Err      error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("flag rule %q (%s): %v", e.RuleName, e.RuleID, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
