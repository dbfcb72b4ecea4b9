package flag

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/outcomes/outcomes/internal/domain/client"
)

// Condition kinds.
const (
	KindScoreTrend     = "score_trend"
	KindInactivity     = "inactivity"
	KindRiskRecency    = "risk_recency"
	KindQualityBelow   = "quality_below"
	KindMissedSessions = "missed_sessions"
	KindAll            = "all"
	KindAny            = "any"
)

const (
	defaultInactivityDays  = 21
	defaultRiskRecencyDays = 28
	defaultQualityMinimum  = 3
	defaultMissedCount     = 3
	defaultMissedDays      = 90

	maxConditionDepth = 8
)

const day = 24 * time.Hour

// Condition is a parsed rule condition.
type Condition interface {
	Kind() string
	Eval(s *client.Snapshot, at time.Time) Outcome
}

// ParseCondition decodes a condition document. Unknown kinds, unknown
// fields and non-positive parameters are rejected.
func ParseCondition(raw []byte) (Condition, error) {
	return parseCondition(raw, 0)
}

func parseCondition(raw []byte, depth int) (Condition, error) {
	if depth > maxConditionDepth {
		return nil, fmt.Errorf("condition nested deeper than %d", maxConditionDepth)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("empty condition")
	}
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode condition: %w", err)
	}

	switch head.Kind {
	case KindScoreTrend:
		var c ScoreTrend
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return &c, nil
	case KindInactivity:
		var c Inactivity
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return &c, c.validate()
	case KindRiskRecency:
		var c RiskRecency
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		return &c, positive("days", c.Days)
	case KindQualityBelow:
		var c QualityMinimum
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		if c.Minimum != nil && (*c.Minimum < 1 || *c.Minimum > 5) {
			return nil, fmt.Errorf("minimum must be between 1 and 5, got %d", *c.Minimum)
		}
		return &c, nil
	case KindMissedSessions:
		var c Missed
		if err := decodeStrict(raw, &c); err != nil {
			return nil, err
		}
		if err := positive("count", c.Count); err != nil {
			return nil, err
		}
		return &c, positive("days", c.Days)
	case KindAll, KindAny:
		var body struct {
			Kind       string            `json:"kind"`
			Conditions []json.RawMessage `json:"conditions"`
		}
		if err := decodeStrict(raw, &body); err != nil {
			return nil, err
		}
		if len(body.Conditions) == 0 {
			return nil, fmt.Errorf("%s needs at least one condition", head.Kind)
		}
		children := make([]Condition, 0, len(body.Conditions))
		for i, r := range body.Conditions {
			child, err := parseCondition(r, depth+1)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", head.Kind, i, err)
			}
			children = append(children, child)
		}
		if head.Kind == KindAll {
			return &All{Conditions: children}, nil
		}
		return &Any{Conditions: children}, nil
	case "":
		return nil, errors.New("condition has no kind")
	default:
		return nil, fmt.Errorf("unknown condition kind %q", head.Kind)
	}
}

func decodeStrict(raw []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode condition: %w", err)
	}
	return nil
}

func positive(name string, v *int) error {
	if v != nil && *v <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, *v)
	}
	return nil
}

func orDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// ScoreTrend is met when the latest score of a measure shows no improvement
// over the one before it.
type ScoreTrend struct {
	KindTag     string     `json:"kind"`
	MeasureID   *uuid.UUID `json:"measure_id,omitempty"`
	MeasureCode string     `json:"measure_code,omitempty"`
}

func (c *ScoreTrend) Kind() string { return KindScoreTrend }

func (c *ScoreTrend) Eval(s *client.Snapshot, _ time.Time) Outcome {
	return NoImprovement(s, c.MeasureID, c.MeasureCode)
}

// Inactivity is met when nothing has been recorded for the client within
// Days and the client is in one of Statuses.
type Inactivity struct {
	KindTag  string   `json:"kind"`
	Days     *int     `json:"days,omitempty"`
	Statuses []string `json:"statuses,omitempty"`
}

func (c *Inactivity) validate() error {
	if err := positive("days", c.Days); err != nil {
		return err
	}
	for _, s := range c.Statuses {
		if strings.TrimSpace(s) == "" {
			return errors.New("statuses must not contain blanks")
		}
	}
	return nil
}

func (c *Inactivity) Kind() string { return KindInactivity }

func (c *Inactivity) Eval(s *client.Snapshot, at time.Time) Outcome {
	statuses := c.Statuses
	if len(statuses) == 0 {
		statuses = []string{client.StatusOpen}
	}
	return Inactive(s, at, time.Duration(orDefault(c.Days, defaultInactivityDays))*day, statuses)
}

// RiskRecency is met when a recent form indicated risk.
type RiskRecency struct {
	KindTag string `json:"kind"`
	Days    *int   `json:"days,omitempty"`
}

func (c *RiskRecency) Kind() string { return KindRiskRecency }

func (c *RiskRecency) Eval(s *client.Snapshot, at time.Time) Outcome {
	return RecentRisk(s, at, time.Duration(orDefault(c.Days, defaultRiskRecencyDays))*day)
}

// QualityMinimum is met when the data quality score is below Minimum.
type QualityMinimum struct {
	KindTag string `json:"kind"`
	Minimum *int   `json:"minimum,omitempty"`
}

func (c *QualityMinimum) Kind() string { return KindQualityBelow }

func (c *QualityMinimum) Eval(s *client.Snapshot, _ time.Time) Outcome {
	return QualityBelow(s, orDefault(c.Minimum, defaultQualityMinimum))
}

// Missed is met when at least Count sessions within Days were DNA.
type Missed struct {
	KindTag string `json:"kind"`
	Count   *int   `json:"count,omitempty"`
	Days    *int   `json:"days,omitempty"`
}

func (c *Missed) Kind() string { return KindMissedSessions }

func (c *Missed) Eval(s *client.Snapshot, at time.Time) Outcome {
	window := time.Duration(orDefault(c.Days, defaultMissedDays)) * day
	return MissedSessions(s, at, window, orDefault(c.Count, defaultMissedCount))
}

// All is met when every child is met. It is unknown when no child is
// definitely unmet and at least one is unknown.
type All struct {
	Conditions []Condition
}

func (c *All) Kind() string { return KindAll }

func (c *All) Eval(s *client.Snapshot, at time.Time) Outcome {
	reasons := make([]string, 0, len(c.Conditions))
	anyUnknown := false
	for _, child := range c.Conditions {
		o := child.Eval(s, at)
		switch {
		case o.Unknown:
			anyUnknown = true
		case !o.Met:
			return Outcome{Reason: o.Reason}
		}
		reasons = append(reasons, o.Reason)
	}
	if anyUnknown {
		return Outcome{Unknown: true, Reason: strings.Join(reasons, "; ")}
	}
	return Outcome{Met: true, Reason: strings.Join(reasons, "; ")}
}

// Any is met when at least one child is met.
type Any struct {
	Conditions []Condition
}

func (c *Any) Kind() string { return KindAny }

func (c *Any) Eval(s *client.Snapshot, at time.Time) Outcome {
	reasons := make([]string, 0, len(c.Conditions))
	anyUnknown := false
	for _, child := range c.Conditions {
		o := child.Eval(s, at)
		if o.Met {
			return Outcome{Met: true, Reason: o.Reason}
		}
		if o.Unknown {
			anyUnknown = true
		}
		reasons = append(reasons, o.Reason)
	}
	return Outcome{Unknown: anyUnknown, Reason: strings.Join(reasons, "; ")}
}
