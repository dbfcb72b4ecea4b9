package measure

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// core10Namespace seeds deterministic ids so that every tenant gets the same
// CORE-10 item ids.
var core10Namespace = uuid.MustParse("6f1c3b8e-2a4d-4c8f-9e57-0b3d1a2c4e60")

var core10Questions = []string{
	"I have felt tense, anxious or nervous",
	"I have felt I have someone to turn to for support when needed",
	"I have felt able to cope when things go wrong",
	"Talking to people has felt too much for me",
	"I have felt panic or terror",
	"I made plans to end my life",
	"I have had difficulty getting to sleep or staying asleep",
	"I have felt despairing or hopeless",
	"I have felt unhappy",
	"Unwanted images or memories have been distressing me",
}

// CORE10 returns the standard CORE-10 definition. Items 2 and 3 are reverse
// scored and item 6 is the risk item.
func CORE10() *Definition {
	cutoff := decimal.NewFromInt(10)
	threshold := 1
	desc := "Clinical Outcomes in Routine Evaluation - 10 item"
	def := &Definition{
		ID:             uuid.NewSHA1(core10Namespace, []byte("CORE-10")),
		Code:           "CORE-10",
		Name:           "CORE-10",
		Version:        1,
		Description:    &desc,
		ClinicalCutoff: &cutoff,
		HigherIsWorse:  true,
		Active:         true,
	}
	for i, q := range core10Questions {
		code := fmt.Sprintf("CORE10_%02d", i+1)
		item := Item{
			ID:            uuid.NewSHA1(core10Namespace, []byte(code)),
			MeasureID:     def.ID,
			Number:        i + 1,
			Code:          code,
			Text:          q,
			Scale:         ScaleLikert0To4,
			ReverseScored: i == 1 || i == 2,
			RiskItem:      i == 5,
		}
		if item.RiskItem {
			t := threshold
			item.RiskThreshold = &t
		}
		def.Items = append(def.Items, item)
	}
	return def
}
