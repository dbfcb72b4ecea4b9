package quality

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/outcomes/outcomes/internal/domain/client"
)

var maxScore = decimal.NewFromInt(MaxScore)

// Calculate rates how complete the client's record is on a 0..5 scale.
//
// Requirements scoped to another program are ignored; a program-specific
// requirement replaces the tenant-wide one for the same field. Treatment
// requirements apply once the client has attended a session and discharge
// requirements once the case is closed. Requirements naming an unknown
// field or carrying a non-positive weight are skipped and reported in
// ConfigErrors. With no applicable weight the record counts as complete.
func Calculate(snap *client.Snapshot, reqs []Requirement, at time.Time) Result {
	res := Result{
		ClientID:      snap.Client.ID,
		MissingFields: []string{},
		CalculatedAt:  at,
	}

	overridden := make(map[string]bool)
	for _, r := range reqs {
		if r.ProgramID != nil && inProgram(snap, *r.ProgramID) {
			overridden[strings.ToLower(strings.TrimSpace(r.FieldName))] = true
		}
	}

	stages := map[string]bool{
		StageIntake:    true,
		StageTreatment: snap.AttendedSession(at),
		StageDischarge: snap.Client.Status == client.StatusClosed || snap.Client.Status == client.StatusDischarged,
	}

	var satisfied, applicable int64
	for _, r := range reqs {
		if r.ProgramID != nil && !inProgram(snap, *r.ProgramID) {
			continue
		}
		if r.ProgramID == nil && overridden[strings.ToLower(strings.TrimSpace(r.FieldName))] {
			continue
		}
		if !r.Required {
			continue
		}

		check, ok := lookupField(r.FieldName)
		if !ok {
			res.skip(r, fmt.Errorf("%w %q", ErrUnknownField, r.FieldName))
			continue
		}
		if r.Weight <= 0 {
			res.skip(r, fmt.Errorf("weight must be positive, got %d", r.Weight))
			continue
		}
		if !stages[r.stage()] {
			continue
		}

		applicable += int64(r.Weight)
		if check(snap) {
			satisfied += int64(r.Weight)
		} else {
			res.MissingFields = append(res.MissingFields, r.FieldName)
		}
	}

	if applicable == 0 {
		res.Ratio = decimal.NewFromInt(1)
		res.Score = MaxScore
		return res
	}
	res.Ratio = decimal.NewFromInt(satisfied).Div(decimal.NewFromInt(applicable))
	score := decimal.NewFromInt(satisfied).Mul(maxScore).Div(decimal.NewFromInt(applicable)).Round(0)
	res.Score = clamp(int(score.IntPart()))
	return res
}

func (r *Result) skip(req Requirement, err error) {
	r.Skipped = append(r.Skipped, req.FieldName)
	r.ConfigErrors = append(r.ConfigErrors, &ConfigurationError{
		RequirementID: req.ID,
		FieldName:     req.FieldName,
		Err:           err,
	})
}

func inProgram(snap *client.Snapshot, programID uuid.UUID) bool {
	return snap.Client.ProgramID != nil && *snap.Client.ProgramID == programID
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
