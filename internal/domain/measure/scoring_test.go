package measure

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func intPtr(v int) *int { return &v }

func core10Answers(def *Definition, values ...int) AnswerSet {
	set := AnswerSet{}
	for i, v := range values {
		set[def.Items[i].ID] = v
	}
	return set
}

func testDefinition() *Definition {
	d := &Definition{
		Code: "TEST-4",
		Name: "Test Measure",
		Items: []Item{
			{Number: 1, Code: "T1", Scale: ScaleLikert0To4},
			{Number: 2, Code: "T2", Scale: ScaleLikert0To4, ReverseScored: true},
			{Number: 3, Code: "T3", Scale: ScaleLikert0To4},
			{Number: 4, Code: "T4", Scale: ScaleLikert0To4, RiskItem: true, RiskThreshold: intPtr(2)},
		},
		Subscales: []Subscale{
			{Name: "A", ItemCodes: []string{"T1", "T2"}},
			{Name: "B", ItemCodes: []string{"T3", "T4"}},
		},
	}
	d.AssignIDs()
	return d
}

func TestScore_CORE10Scenario(t *testing.T) {
	def := CORE10()
	answers := core10Answers(def, 2, 2, 1, 3, 0, 2, 1, 3, 2, 0)

	result, err := Score(def, answers, Strict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Total.Equal(decimal.NewFromInt(18)) {
		t.Errorf("expected total 18, got %s", result.Total)
	}
	if !DetectRisk(def, answers) {
		t.Error("expected risk to be detected")
	}
	want := []string{FlagElevatedScore, RiskFlagPrefix + "CORE10_06", FlagRiskDetected}
	for _, f := range want {
		if !result.HasFlag(f) {
			t.Errorf("expected flag %s in %v", f, result.Flags)
		}
	}
	if result.Partial {
		t.Error("expected complete result")
	}
	if result.AnsweredItems != 10 {
		t.Errorf("expected 10 answered items, got %d", result.AnsweredItems)
	}
}

func TestScore_CORE10BelowCutoffNoRisk(t *testing.T) {
	def := CORE10()
	// items 2 and 3 answered 4 reverse to 0
	answers := core10Answers(def, 1, 4, 4, 1, 1, 0, 1, 1, 1, 1)

	result, err := Score(def, answers, Strict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Total.Equal(decimal.NewFromInt(7)) {
		t.Errorf("expected total 7, got %s", result.Total)
	}
	if len(result.Flags) != 0 {
		t.Errorf("expected no flags, got %v", result.Flags)
	}
	if DetectRisk(def, answers) {
		t.Error("expected no risk")
	}
}

func TestScore_ReverseScoring(t *testing.T) {
	tests := []struct {
		name string
		item Item
		raw  int
		want int
	}{
		{"likert 0-4", Item{Code: "A", Scale: ScaleLikert0To4, ReverseScored: true}, 1, 3},
		{"likert 1-5", Item{Code: "B", Scale: ScaleLikert1To5, ReverseScored: true}, 2, 3},
		{"yes/no", Item{Code: "C", Scale: ScaleYesNo, ReverseScored: true}, 1, 0},
		{"numeric", Item{Code: "D", Scale: ScaleNumeric, ReverseScored: true, MaxValue: intPtr(10)}, 3, 7},
		{"not reversed", Item{Code: "E", Scale: ScaleLikert0To4}, 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &Definition{Code: "R", Items: []Item{tt.item}}
			def.AssignIDs()
			result, err := Score(def, AnswerSet{def.Items[0].ID: tt.raw}, Strict)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.Total.Equal(decimal.NewFromInt(int64(tt.want))) {
				t.Errorf("expected %d, got %s", tt.want, result.Total)
			}
		})
	}
}

func TestScore_Deterministic(t *testing.T) {
	def := testDefinition()
	answers := AnswerSet{
		def.Items[0].ID: 3,
		def.Items[1].ID: 1,
		def.Items[2].ID: 2,
		def.Items[3].ID: 4,
	}
	first, err := Score(def, answers, Strict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Score(def, answers, Strict)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !again.Total.Equal(first.Total) {
			t.Fatalf("total changed: %s vs %s", again.Total, first.Total)
		}
		if !reflect.DeepEqual(again.Flags, first.Flags) {
			t.Fatalf("flags changed: %v vs %v", again.Flags, first.Flags)
		}
		for name, v := range first.Subscales {
			if !again.Subscales[name].Equal(v) {
				t.Fatalf("subscale %s changed", name)
			}
		}
	}
}

func TestScore_SubscalesPartitionTotal(t *testing.T) {
	def := testDefinition()
	answers := AnswerSet{
		def.Items[0].ID: 4,
		def.Items[1].ID: 0,
		def.Items[2].ID: 2,
		def.Items[3].ID: 1,
	}
	result, err := Score(def, answers, Strict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum := decimal.Zero
	for _, v := range result.Subscales {
		sum = sum.Add(v)
	}
	if !sum.Equal(result.Total) {
		t.Errorf("subscale sum %s != total %s", sum, result.Total)
	}
	if !result.Subscales["A"].Equal(decimal.NewFromInt(8)) {
		t.Errorf("expected subscale A = 8, got %s", result.Subscales["A"])
	}
}

func TestScore_StrictRejectsIncomplete(t *testing.T) {
	def := testDefinition()
	answers := AnswerSet{def.Items[0].ID: 1, def.Items[2].ID: 1}

	_, err := Score(def, answers, Strict)
	if !errors.Is(err, ErrIncompleteAnswerSet) {
		t.Fatalf("expected ErrIncompleteAnswerSet, got %v", err)
	}
	var se *ScoringError
	if !errors.As(err, &se) {
		t.Fatalf("expected *ScoringError, got %T", err)
	}
	if se.Kind != KindIncompleteAnswerSet {
		t.Errorf("expected kind %s, got %s", KindIncompleteAnswerSet, se.Kind)
	}
	if !reflect.DeepEqual(se.Items, []string{"T2", "T4"}) {
		t.Errorf("expected missing [T2 T4], got %v", se.Items)
	}
}

func TestScore_DefaultModeIsStrict(t *testing.T) {
	def := testDefinition()
	_, err := Score(def, AnswerSet{def.Items[0].ID: 1}, "")
	if !errors.Is(err, ErrIncompleteAnswerSet) {
		t.Fatalf("expected ErrIncompleteAnswerSet, got %v", err)
	}
}

func TestScore_PartialProRatesSubscales(t *testing.T) {
	def := &Definition{
		Code: "P",
		Items: []Item{
			{Number: 1, Code: "P1", Scale: ScaleLikert0To4},
			{Number: 2, Code: "P2", Scale: ScaleLikert0To4},
			{Number: 3, Code: "P3", Scale: ScaleLikert0To4},
			{Number: 4, Code: "P4", Scale: ScaleLikert0To4},
		},
		Subscales: []Subscale{{Name: "All", ItemCodes: []string{"P1", "P2", "P3", "P4"}}},
	}
	def.AssignIDs()
	answers := AnswerSet{def.Items[0].ID: 1, def.Items[1].ID: 2, def.Items[2].ID: 3}

	result, err := Score(def, answers, Partial)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Partial {
		t.Error("expected partial result")
	}
	if !result.Total.Equal(decimal.NewFromInt(6)) {
		t.Errorf("expected total 6, got %s", result.Total)
	}
	if !result.Subscales["All"].Equal(decimal.NewFromInt(8)) {
		t.Errorf("expected pro-rated subscale 8, got %s", result.Subscales["All"])
	}
	if result.AnsweredItems != 3 {
		t.Errorf("expected 3 answered, got %d", result.AnsweredItems)
	}
}

func TestScore_PartialOmitsUnansweredSubscale(t *testing.T) {
	def := testDefinition()
	answers := AnswerSet{def.Items[0].ID: 2, def.Items[1].ID: 2}

	result, err := Score(def, answers, Partial)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := result.Subscales["B"]; ok {
		t.Error("expected subscale B to be omitted")
	}
	if !reflect.DeepEqual(result.OmittedSubscales, []string{"B"}) {
		t.Errorf("expected omitted [B], got %v", result.OmittedSubscales)
	}
}

func TestScore_UnknownItem(t *testing.T) {
	def := testDefinition()
	answers := AnswerSet{
		def.Items[0].ID: 1, def.Items[1].ID: 1, def.Items[2].ID: 1, def.Items[3].ID: 1,
		uuid.New(): 2,
	}
	_, err := Score(def, answers, Strict)
	if !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
}

func TestScore_ResponseOutOfRange(t *testing.T) {
	def := testDefinition()
	answers := AnswerSet{
		def.Items[0].ID: 5, def.Items[1].ID: 1, def.Items[2].ID: -1, def.Items[3].ID: 1,
	}
	_, err := Score(def, answers, Strict)
	if !errors.Is(err, ErrResponseOutOfRange) {
		t.Fatalf("expected ErrResponseOutOfRange, got %v", err)
	}
	var se *ScoringError
	errors.As(err, &se)
	if !reflect.DeepEqual(se.Items, []string{"T1", "T3"}) {
		t.Errorf("expected [T1 T3], got %v", se.Items)
	}
}

func TestScore_SubscaleBoundsWarning(t *testing.T) {
	def := testDefinition()
	def.Subscales[0].Max = intPtr(3)
	answers := AnswerSet{
		def.Items[0].ID: 4, def.Items[1].ID: 0, def.Items[2].ID: 0, def.Items[3].ID: 0,
	}
	result, err := Score(def, answers, Strict)
	if err != nil {
		t.Fatalf("bounds violation must not fail scoring: %v", err)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(result.Warnings))
	}
	if result.Warnings[0].Subscale != "A" {
		t.Errorf("expected warning for A, got %s", result.Warnings[0].Subscale)
	}
}

func TestScore_NoCutoffNoElevatedFlag(t *testing.T) {
	def := testDefinition()
	answers := AnswerSet{
		def.Items[0].ID: 4, def.Items[1].ID: 0, def.Items[2].ID: 4, def.Items[3].ID: 0,
	}
	result, err := Score(def, answers, Strict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HasFlag(FlagElevatedScore) {
		t.Error("did not expect ElevatedScore without a cutoff")
	}
}

func TestScore_FlagsSorted(t *testing.T) {
	def := testDefinition()
	cutoff := decimal.NewFromInt(1)
	def.ClinicalCutoff = &cutoff
	answers := AnswerSet{
		def.Items[0].ID: 4, def.Items[1].ID: 0, def.Items[2].ID: 4, def.Items[3].ID: 4,
	}
	result, err := Score(def, answers, Strict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{FlagElevatedScore, "Risk:T4", FlagRiskDetected}
	if !reflect.DeepEqual(result.Flags, want) {
		t.Errorf("expected %v, got %v", want, result.Flags)
	}
}

func TestScore_UnknownMode(t *testing.T) {
	def := testDefinition()
	if _, err := Score(def, AnswerSet{}, CompletionMode("lenient")); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestScore_RiskFlagsAgreeWithDetectRisk(t *testing.T) {
	def := testDefinition()
	for t1 := 0; t1 <= 4; t1++ {
		for t4 := 0; t4 <= 4; t4++ {
			answers := AnswerSet{
				def.Items[0].ID: t1, def.Items[1].ID: 2, def.Items[2].ID: 1, def.Items[3].ID: t4,
			}
			result, err := Score(def, answers, Strict)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := DetectRisk(def, answers); got != result.HasFlag(FlagRiskDetected) {
				t.Fatalf("T1=%d T4=%d: DetectRisk=%v but flags=%v", t1, t4, got, result.Flags)
			}
			triggered := TriggeredRiskItems(def, answers)
			for _, code := range triggered {
				if !result.HasFlag(RiskFlagPrefix + code) {
					t.Fatalf("missing flag for triggered item %s", code)
				}
			}
			if (t4 >= 2) != (len(triggered) == 1) {
				t.Fatalf("T4=%d: unexpected triggered items %v", t4, triggered)
			}
		}
	}
}
