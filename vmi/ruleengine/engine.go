package ruleengine

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/chrschn/insightgo/internal/memspecs"
	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/pkg/vmierr"
	"github.com/chrschn/insightgo/vmi/typegraph"
)

// Engine is the checked, dispatch-ready rule set (§4.4). Build one with New
// and Check; Dispatch changes nothing but the per-rule hit counters, which
// it updates atomically, and is safe for concurrent callers once Check has
// completed, matching the "read-shared after symbol load" model in §5.
type Engine struct {
	graph *typegraph.Graph

	rulesPerType map[types.TypeID][]*ActiveRule
	wildcard     []*ActiveRule

	warnings []string
}

// New returns an empty Engine bound to graph.
func New(graph *typegraph.Graph) *Engine {
	return &Engine{graph: graph, rulesPerType: make(map[types.TypeID][]*ActiveRule)}
}

// Check performs the once-per-symbol-load rule check described in §4.4:
// drops rules whose OS filter excludes the current specs, drops rules
// missing an instance filter (warning), resolves expression actions'
// source/target type names, and builds the rules_per_type index.
func (e *Engine) Check(rules []*TypeRule, specs *memspecs.Specs) []string {
	e.rulesPerType = make(map[types.TypeID][]*ActiveRule)
	e.wildcard = nil
	e.warnings = nil

	for i, r := range rules {
		if r.OsFilter != nil && !r.OsFilter.Match(specs) {
			continue
		}
		if r.Filter == nil {
			e.warn(vmierr.Wrap(vmierr.KindRule, "ruleengine: rule "+r.Name+" has no instance filter", vmierr.ErrRuleFilterMissing))
			continue
		}
		if r.Action != nil && r.Action.Kind == ActionExpression {
			e.resolveActionTypes(r)
		}

		ar := &ActiveRule{Index: i, Rule: r}
		e.index(ar)
	}
	return e.warnings
}

func (e *Engine) resolveActionTypes(r *TypeRule) {
	if r.Action.SourceTypeName != "" {
		candidates := e.graph.FindByName(r.Action.SourceTypeName)
		switch len(candidates) {
		case 1:
			r.Action.SourceType = candidates[0].ID
		case 0:
			e.warn(vmierr.Wrap(vmierr.KindRule, "ruleengine: rule "+r.Name+" source type "+r.Action.SourceTypeName+" not found", vmierr.ErrRuleTypeAmbiguous))
		default:
			e.warn(vmierr.Wrap(vmierr.KindRule, "ruleengine: rule "+r.Name+" source type "+r.Action.SourceTypeName+" ambiguous, falling back to id binding", vmierr.ErrRuleTypeAmbiguous))
		}
	}
	if r.Action.TargetTypeName != "" {
		candidates := e.graph.FindByName(r.Action.TargetTypeName)
		switch len(candidates) {
		case 1:
			r.Action.TargetType = candidates[0].ID
		case 0:
			e.warn(vmierr.Wrap(vmierr.KindRule, "ruleengine: rule "+r.Name+" target type "+r.Action.TargetTypeName+" not found", vmierr.ErrRuleTypeAmbiguous))
		default:
			e.warn(vmierr.Wrap(vmierr.KindRule, "ruleengine: rule "+r.Name+" target type "+r.Action.TargetTypeName+" ambiguous, falling back to id binding", vmierr.ErrRuleTypeAmbiguous))
		}
	}
}

// index keys ar under every type identifier its filter can match: the
// fast path when the filter names a literal type-id or type-name, else the
// wildcard bucket that every dispatch iterates (§4.4 "Build the
// rules_per_type index").
func (e *Engine) index(ar *ActiveRule) {
	f := ar.Rule.Filter
	switch {
	case f.TypeID != 0:
		e.rulesPerType[f.TypeID] = append(e.rulesPerType[f.TypeID], ar)
	case f.TypeName.Kind == NameLiteral:
		for _, t := range e.graph.FindByName(f.TypeName.Pattern) {
			e.rulesPerType[t.ID] = append(e.rulesPerType[t.ID], ar)
		}
	default:
		e.wildcard = append(e.wildcard, ar)
	}
}

func (e *Engine) warn(err error) {
	e.warnings = append(e.warnings, err.Error())
}

// Warnings returns every warning accumulated by the last Check call.
func (e *Engine) Warnings() []string { return e.warnings }

// Dispatch evaluates every candidate rule for inst (looked up by its
// resolved type id, plus every wildcard rule) against accessedPath and
// sourceFile, implementing §4.4 "Match dispatch": candidates whose
// member-path is longer than accessedPath never match; shorter defers;
// equal-length candidates are filtered and the highest-priority match wins,
// with tied priorities reported as match-ambiguous.
func (e *Engine) Dispatch(inst types.Instance, accessedPath []string, sourceFile string) (Result, *ActiveRule) {
	t, ok := e.graph.FindByID(inst.Type)
	if !ok {
		return NoMatch, nil
	}

	rootName := inst.Name
	if idx := strings.IndexByte(rootName, '.'); idx >= 0 {
		rootName = rootName[:idx]
	}

	var best *ActiveRule
	bestPriority := 0
	ambiguous := false
	sawDefer := false

	visit := func(ar *ActiveRule) {
		f := ar.Rule.Filter
		if f.VariableName.Kind != NameAny && rootName != "" && !f.VariableName.Match(rootName) {
			return
		}
		atomic.AddInt64(&ar.Stats.Evaluations, 1)
		switch f.MatchAgainst(e.graph, t, sourceFile, accessedPath) {
		case Defer:
			sawDefer = true
		case Match:
			atomic.AddInt64(&ar.Stats.Matches, 1)
			switch {
			case best == nil || ar.Rule.Priority > bestPriority:
				best, bestPriority, ambiguous = ar, ar.Rule.Priority, false
			case ar.Rule.Priority == bestPriority:
				ambiguous = true
			}
		}
	}

	for _, ar := range e.rulesPerType[t.ID] {
		visit(ar)
	}
	for _, ar := range e.wildcard {
		visit(ar)
	}

	switch {
	case best != nil && ambiguous:
		return MatchAmbiguous, best
	case best != nil:
		return Match, best
	case sawDefer:
		return Defer, nil
	default:
		return NoMatch, nil
	}
}

// Stats returns accumulated hit counters for every checked rule, in
// catalogue order, for forensic audit trails (SPEC_FULL.md §12 supplemented
// feature).
func (e *Engine) Stats() []RuleStat {
	seen := make(map[*ActiveRule]bool)
	var active []*ActiveRule
	collect := func(ars []*ActiveRule) {
		for _, ar := range ars {
			if seen[ar] {
				continue
			}
			seen[ar] = true
			active = append(active, ar)
		}
	}
	for _, ars := range e.rulesPerType {
		collect(ars)
	}
	collect(e.wildcard)
	sort.Slice(active, func(i, j int) bool { return active[i].Index < active[j].Index })
	out := make([]RuleStat, 0, len(active))
	for _, ar := range active {
		out = append(out, RuleStat{Name: ar.Rule.Name, Stats: Stats{
			Evaluations: atomic.LoadInt64(&ar.Stats.Evaluations),
			Matches:     atomic.LoadInt64(&ar.Stats.Matches),
		}})
	}
	return out
}
