package measure

// DetectRisk reports whether any risk item's effective response meets its
// threshold. Unanswered, unknown and out-of-range answers are ignored; Score
// is responsible for reporting those.
func DetectRisk(def *Definition, answers AnswerSet) bool {
	return len(TriggeredRiskItems(def, answers)) > 0
}

// TriggeredRiskItems returns the codes of risk items at or above threshold,
// in definition order.
func TriggeredRiskItems(def *Definition, answers AnswerSet) []string {
	var codes []string
	for i := range def.Items {
		item := &def.Items[i]
		if !item.RiskItem {
			continue
		}
		raw, ok := answers[item.ID]
		if !ok {
			continue
		}
		v, err := item.Effective(raw)
		if err != nil {
			continue
		}
		if item.triggersRisk(v) {
			codes = append(codes, item.Code)
		}
	}
	return codes
}
