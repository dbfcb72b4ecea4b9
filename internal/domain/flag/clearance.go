package flag

import (
	"time"

	"github.com/google/uuid"

	"github.com/outcomes/outcomes/internal/domain/client"
)

// EvaluateClearances decides which open flags raised by a rule no longer
// hold. Only OffTrack, NeedsClosing and DataQuality flags are considered and
// only when their rule's condition is definitely unmet. Risk flags and
// manually raised flags stay open until a clinician clears them.
func (e *Engine) EvaluateClearances(snap *client.Snapshot, rules []Rule, at time.Time) Evaluation {
	compiled, errs := e.compile(rules)
	byID := make(map[uuid.UUID]compiledRule, len(compiled))
	for _, r := range compiled {
		byID[r.ID] = r
	}

	ev := Evaluation{ConfigErrors: errs}
	for _, f := range snap.OpenFlags {
		if !autoClearable[f.Type] || f.RuleID == nil {
			continue
		}
		r, ok := byID[*f.RuleID]
		if !ok {
			continue
		}
		o := r.cond.Eval(snap, at)
		if o.Met || o.Unknown {
			continue
		}
		id := f.ID
		ev.Decisions = append(ev.Decisions, Decision{
			RuleID:   r.ID,
			RuleName: r.Name,
			FlagType: f.Type,
			Action:   ActionClear,
			Reason:   o.Reason,
			FlagID:   &id,
		})
	}
	return ev
}
