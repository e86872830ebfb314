package ruleexport

import (
	"fmt"
	"sort"

	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/vmi/ruleengine"
	"github.com/chrschn/insightgo/vmi/typegraph"
)

// DerivedFile groups the rules derived from a single symbol (a global
// variable, or a struct type) — §4.7's "a rule file per symbol".
type DerivedFile struct {
	Symbol string
	Rules  []*ruleengine.TypeRule
}

// DeriveFiles implements §4.7's derived XML-rule-emission walk: it visits
// every variable and every struct/union type in g, and for each
// alternative-reference-type expression found on that symbol (a variable's
// own AltReferents, or one of its members') emits a candidate TypeRule. Two
// checks from the spec text are applied before a candidate is accepted:
//   - the expression's root variable reference must resolve against the
//     symbol itself ("self", or the variable's own name) — a candidate whose
//     source type doesn't match the symbol it was found on is dropped;
//   - a transformation chain containing a pointer dereference *after* a
//     field access (the `s->member->other` shape) is rejected, since the
//     expected access pattern this derivation models is `s.member`.
//
// Anonymous structs are deduplicated by structural hash: the first one seen
// is routed through a synthesized name (as if a typedef had been found
// naming it) and every later occurrence of the identical anonymous shape is
// skipped rather than re-emitted.
func DeriveFiles(g *typegraph.Graph) []DerivedFile {
	var files []DerivedFile

	for _, v := range orderedVariables(g) {
		var rules []*ruleengine.TypeRule
		for i, alt := range v.AltReferents {
			r := deriveVariableRule(g, v, alt, i)
			if r != nil {
				rules = append(rules, r)
			}
		}
		if len(rules) > 0 {
			files = append(files, DerivedFile{Symbol: v.Name, Rules: rules})
		}
	}

	seenAnon := make(map[types.Hash]bool)
	for _, t := range orderedTypes(g) {
		if !t.Kind.IsAggregate() {
			continue
		}
		name := t.Name
		if name == "" {
			h, _ := t.CachedHash()
			if seenAnon[h] {
				continue // identical anonymous shape already routed to a file
			}
			seenAnon[h] = true
			name = syntheticTypedefName(t)
		}

		var rules []*ruleengine.TypeRule
		for _, m := range t.Members {
			for i, alt := range m.AltReferents {
				r := deriveMemberRule(g, name, m, alt, i)
				if r != nil {
					rules = append(rules, r)
				}
			}
		}
		if len(rules) > 0 {
			files = append(files, DerivedFile{Symbol: name, Rules: rules})
		}
	}

	return files
}

// Derive is DeriveFiles flattened into a single rule set, e.g. for a caller
// that wants one combined catalogue rather than one file per symbol.
func Derive(g *typegraph.Graph) []*ruleengine.TypeRule {
	var out []*ruleengine.TypeRule
	for _, f := range DeriveFiles(g) {
		out = append(out, f.Rules...)
	}
	return out
}

func deriveVariableRule(g *typegraph.Graph, v *types.Variable, alt *types.AltReferentType, idx int) *ruleengine.TypeRule {
	if alt == nil || alt.Expr == nil || rejectsTransformChain(alt.Expr) {
		return nil
	}
	if !sourceMatchesSymbol(alt.Expr, v.Name) {
		return nil
	}
	target, ok := g.FindByID(alt.TargetType)
	if !ok {
		return nil
	}
	return &ruleengine.TypeRule{
		Name:        fmt.Sprintf("%s.altref.%d", v.Name, idx),
		Description: fmt.Sprintf("derived from %s's alternative referent types", v.Name),
		Priority:    nonTrivialTransformCount(alt.Expr) + 10,
		Filter: &ruleengine.Filter{
			VariableName: ruleengine.Literal(v.Name),
		},
		Action: &ruleengine.Action{
			Kind:           ruleengine.ActionExpression,
			SourceTypeName: resolvedName(g, v.Referent),
			TargetTypeName: target.Name,
			TargetType:     target.ID,
			Expr:           alt.Expr,
		},
	}
}

func deriveMemberRule(g *typegraph.Graph, ownerName string, m *types.Member, alt *types.AltReferentType, idx int) *ruleengine.TypeRule {
	if alt == nil || alt.Expr == nil || rejectsTransformChain(alt.Expr) {
		return nil
	}
	if !sourceMatchesSymbol(alt.Expr, "") {
		return nil
	}
	target, ok := g.FindByID(alt.TargetType)
	if !ok {
		return nil
	}
	return &ruleengine.TypeRule{
		Name:        fmt.Sprintf("%s.%s.altref.%d", ownerName, m.Name, idx),
		Description: fmt.Sprintf("derived from %s.%s's alternative referent types", ownerName, m.Name),
		Priority:    nonTrivialTransformCount(alt.Expr),
		Filter: &ruleengine.Filter{
			TypeName:   ruleengine.Literal(ownerName),
			MemberPath: []ruleengine.PathStep{{FieldPattern: ruleengine.Literal(m.Name)}},
		},
		Action: &ruleengine.Action{
			Kind:           ruleengine.ActionExpression,
			SourceTypeName: ownerName,
			TargetTypeName: target.Name,
			TargetType:     target.ID,
			Expr:           alt.Expr,
		},
	}
}

// sourceMatchesSymbol verifies a candidate expression's source type matches
// the symbol it was found on: every variable reference inside it must
// either be "self" (empty VarName) or name the symbol itself.
func sourceMatchesSymbol(e *types.Expr, symbolName string) bool {
	if e == nil {
		return true
	}
	switch e.Op {
	case types.ExprVariableRef:
		return e.VarName == "" || e.VarName == symbolName
	case types.ExprUnary:
		return sourceMatchesSymbol(e.Operand, symbolName)
	case types.ExprBinary:
		return sourceMatchesSymbol(e.Left, symbolName) && sourceMatchesSymbol(e.Right, symbolName)
	default:
		return true
	}
}

// rejectsTransformChain reports whether e contains a field access followed
// later by a pointer dereference anywhere in its variable-reference
// transform lists — the `s->member->other` shape this derivation refuses to
// emit a rule for, since the access pattern it models is `s.member`.
func rejectsTransformChain(e *types.Expr) bool {
	if e == nil {
		return false
	}
	switch e.Op {
	case types.ExprVariableRef:
		sawField := false
		for _, tr := range e.Transforms {
			switch tr.Kind {
			case types.TransformField:
				sawField = true
			case types.TransformDeref:
				if sawField {
					return true
				}
			}
		}
		return false
	case types.ExprUnary:
		return rejectsTransformChain(e.Operand)
	case types.ExprBinary:
		return rejectsTransformChain(e.Left) || rejectsTransformChain(e.Right)
	default:
		return false
	}
}

// nonTrivialTransformCount counts the transformation steps an expression
// applies, excluding a call-coercion step (which has no surface syntax of
// its own and contributes nothing observable to the access pattern). Used by
// the priority formula in §4.7.
func nonTrivialTransformCount(e *types.Expr) int {
	if e == nil {
		return 0
	}
	switch e.Op {
	case types.ExprVariableRef:
		n := 0
		for _, tr := range e.Transforms {
			if tr.Kind != types.TransformCallCoercion {
				n++
			}
		}
		return n
	case types.ExprUnary:
		return nonTrivialTransformCount(e.Operand)
	case types.ExprBinary:
		return nonTrivialTransformCount(e.Left) + nonTrivialTransformCount(e.Right)
	default:
		return 0
	}
}

// syntheticTypedefName fabricates the name an anonymous struct/union is
// routed through, as if a typedef naming it had been found — the same
// "dedupe anonymous structs via a synthesized typedef" behaviour §4.7
// describes.
func syntheticTypedefName(t *types.Type) string {
	return fmt.Sprintf("anon_%s_%d", t.Kind, -int64(t.ID))
}

func resolvedName(g *typegraph.Graph, id types.TypeID) string {
	if id == 0 {
		return ""
	}
	if t, ok := g.FindByID(id); ok {
		return t.Name
	}
	return ""
}

// orderedVariables and orderedTypes give the walk a deterministic visitation
// order (Graph.Variables/AllTypes make no ordering guarantee, but a rule
// catalogue generated twice from the same graph should come out identical).
func orderedVariables(g *typegraph.Graph) []*types.Variable {
	vars := g.Variables()
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	return vars
}

func orderedTypes(g *typegraph.Graph) []*types.Type {
	all := g.AllTypes()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}
