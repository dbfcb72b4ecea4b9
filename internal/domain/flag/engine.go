package flag

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/outcomes/outcomes/internal/domain/client"
)

const reasonAlreadyOpen = "already open"

// Engine evaluates flag rules against client snapshots. It holds no state
// besides its logger and is safe for concurrent use.
type Engine struct {
	logger zerolog.Logger
}

func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger}
}

// compiledRule is an active rule whose condition parsed.
type compiledRule struct {
	Rule
	cond Condition
}

// compile parses the active rules in evaluation order. Rules that fail to
// parse are returned as configuration errors and left out.
func (e *Engine) compile(rules []Rule) ([]compiledRule, []error) {
	active := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority < active[j].Priority
		}
		if active[i].Name != active[j].Name {
			return active[i].Name < active[j].Name
		}
		return active[i].ID.String() < active[j].ID.String()
	})

	var errs []error
	out := make([]compiledRule, 0, len(active))
	for _, r := range active {
		var cerr error
		if !ValidType(r.FlagType) {
			cerr = fmt.Errorf("%w %q", ErrInvalidType, r.FlagType)
		}
		var cond Condition
		if cerr == nil {
			cond, cerr = ParseCondition(r.Condition)
		}
		if cerr != nil {
			ce := &ConfigurationError{RuleID: r.ID, RuleName: r.Name, Err: cerr}
			e.logger.Warn().Err(cerr).
				Str("rule", r.Name).
				Str("rule_id", r.ID.String()).
				Msg("flag rule skipped")
			errs = append(errs, ce)
			continue
		}
		out = append(out, compiledRule{Rule: r, cond: cond})
	}
	return out, errs
}

// Evaluate runs every active rule against the snapshot as of at and returns
// one decision per evaluable rule. A rule whose type already has an open
// flag, or was raised earlier in the same pass, yields NoAction.
func (e *Engine) Evaluate(snap *client.Snapshot, rules []Rule, at time.Time) Evaluation {
	compiled, errs := e.compile(rules)
	ev := Evaluation{Decisions: make([]Decision, 0, len(compiled)), ConfigErrors: errs}

	raised := make(map[string]bool)
	for _, r := range compiled {
		d := Decision{RuleID: r.ID, RuleName: r.Name, FlagType: r.FlagType, Action: ActionNoAction}
		o := r.cond.Eval(snap, at)
		switch {
		case !o.Met:
			d.Reason = o.Reason
		case snap.HasOpenFlag(r.FlagType) || raised[strings.ToLower(r.FlagType)]:
			d.Reason = reasonAlreadyOpen
		default:
			d.Action = ActionRaise
			d.Reason = o.Reason
			raised[strings.ToLower(r.FlagType)] = true
		}
		ev.Decisions = append(ev.Decisions, d)
	}
	return ev
}
