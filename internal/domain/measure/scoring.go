package measure

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Interpretation flags attached to a ScoreResult.
const (
	FlagElevatedScore = "ElevatedScore"
	FlagRiskDetected  = "RiskDetected"
	RiskFlagPrefix    = "Risk:"
)

// Score computes the total, subscale scores and interpretation flags for
// answers against def. It is deterministic and performs no I/O.
//
// In Strict mode every item must be answered. In Partial mode unanswered
// items are left out of the total and subscales are pro-rated over their
// answered members; a subscale with no answered members is omitted.
func Score(def *Definition, answers AnswerSet, mode CompletionMode) (*ScoreResult, error) {
	if mode == "" {
		mode = Strict
	}
	if mode != Strict && mode != Partial {
		return nil, fmt.Errorf("unknown completion mode %q", mode)
	}

	var unknown []string
	for id := range answers {
		if def.ItemByID(id) == nil {
			unknown = append(unknown, id.String())
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &ScoringError{Kind: KindUnknownItem, MeasureCode: def.Code, Items: unknown}
	}

	effective := make(map[string]int, len(answers))
	var missing, outOfRange, risky []string
	var total int64
	for i := range def.Items {
		item := &def.Items[i]
		raw, ok := answers[item.ID]
		if !ok {
			missing = append(missing, item.Code)
			continue
		}
		v, err := item.Effective(raw)
		if err != nil {
			outOfRange = append(outOfRange, item.Code)
			continue
		}
		effective[item.Code] = v
		total += int64(v)
		if item.triggersRisk(v) {
			risky = append(risky, item.Code)
		}
	}
	if len(outOfRange) > 0 {
		return nil, &ScoringError{Kind: KindResponseOutOfRange, MeasureCode: def.Code, Items: outOfRange}
	}
	if mode == Strict && len(missing) > 0 {
		return nil, &ScoringError{Kind: KindIncompleteAnswerSet, MeasureCode: def.Code, Items: missing}
	}

	result := &ScoreResult{
		Total:         decimal.NewFromInt(total),
		Subscales:     make(map[string]decimal.Decimal, len(def.Subscales)),
		Flags:         []string{},
		Partial:       len(missing) > 0,
		AnsweredItems: len(effective),
	}

	for _, sub := range def.Subscales {
		var sum int64
		answered := 0
		for _, code := range sub.ItemCodes {
			if v, ok := effective[code]; ok {
				sum += int64(v)
				answered++
			}
		}
		if answered == 0 {
			result.OmittedSubscales = append(result.OmittedSubscales, sub.Name)
			continue
		}
		score := decimal.NewFromInt(sum)
		if answered < len(sub.ItemCodes) {
			score = score.Mul(decimal.NewFromInt(int64(len(sub.ItemCodes)))).Div(decimal.NewFromInt(int64(answered)))
		}
		result.Subscales[sub.Name] = score
		if outsideBounds(score, sub.Min, sub.Max) {
			result.Warnings = append(result.Warnings, SubscaleBoundsWarning{
				Subscale: sub.Name, Score: score, Min: sub.Min, Max: sub.Max,
			})
		}
	}

	if def.ClinicalCutoff != nil && result.Total.GreaterThan(*def.ClinicalCutoff) {
		result.Flags = append(result.Flags, FlagElevatedScore)
	}
	for _, code := range risky {
		result.Flags = append(result.Flags, RiskFlagPrefix+code)
	}
	if len(risky) > 0 {
		result.Flags = append(result.Flags, FlagRiskDetected)
	}
	sort.Strings(result.Flags)

	return result, nil
}

func outsideBounds(score decimal.Decimal, lo, hi *int) bool {
	if lo != nil && score.LessThan(decimal.NewFromInt(int64(*lo))) {
		return true
	}
	if hi != nil && score.GreaterThan(decimal.NewFromInt(int64(*hi))) {
		return true
	}
	return false
}
