// Package ruleengine implements §4.4: a priority-ordered set of TypeRules
// that rewrite an instance's interpretation with expert knowledge the type
// graph alone cannot express — most visibly, disambiguating a generic
// `list_head` anchor into its real container type.
package ruleengine

import (
	"path"
	"regexp"

	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/vmi/typegraph"
)

// NameMatchKind selects how a NamePattern compares against a candidate
// string (§4.4 "type-name (literal / glob / regex / any)").
type NameMatchKind uint8

const (
	NameAny NameMatchKind = iota
	NameLiteral
	NameGlob
	NameRegex
)

// NamePattern is one of the four type-name matching modes a filter
// predicate can use.
type NamePattern struct {
	Kind    NameMatchKind
	Pattern string
	re      *regexp.Regexp
}

// Literal builds a NamePattern that matches name exactly.
func Literal(name string) NamePattern { return NamePattern{Kind: NameLiteral, Pattern: name} }

// Glob builds a shell-glob NamePattern (path.Match syntax: *, ?, [...]).
func Glob(pattern string) NamePattern { return NamePattern{Kind: NameGlob, Pattern: pattern} }

// Regex compiles a regular-expression NamePattern. Panics on malformed
// input since rule catalogues are checked once at load time, never per
// dispatch — a bad pattern is a rule-authoring bug, not a runtime condition.
func Regex(expr string) NamePattern {
	return NamePattern{Kind: NameRegex, Pattern: expr, re: regexp.MustCompile(expr)}
}

func (p NamePattern) Match(name string) bool {
	switch p.Kind {
	case NameAny:
		return true
	case NameLiteral:
		return p.Pattern == name
	case NameGlob:
		ok, err := path.Match(p.Pattern, name)
		return err == nil && ok
	case NameRegex:
		if p.re == nil {
			p.re = regexp.MustCompile(p.Pattern)
		}
		return p.re.MatchString(name)
	default:
		return false
	}
}

// KindMask is a bitmask over Type.Kind categories, used by the filter's
// data-type predicate (§4.4 "data-type (a mask over the variant tags)").
type KindMask uint32

const (
	MaskNumeric KindMask = 1 << iota
	MaskPointer
	MaskArray
	MaskAggregate
	MaskLexical
	MaskEnum
	MaskFuncPointer
	MaskVoid

	MaskAny KindMask = 0
)

// MaskFor returns the bit a concrete Kind contributes to a KindMask.
func MaskFor(k types.Kind) KindMask {
	switch {
	case k == types.KindPointer:
		return MaskPointer
	case k == types.KindArray:
		return MaskArray
	case k == types.KindFuncPointer:
		return MaskFuncPointer
	case k == types.KindVoid:
		return MaskVoid
	case k == types.KindEnum:
		return MaskEnum
	case k.IsLexical():
		return MaskLexical
	case k.IsAggregate():
		return MaskAggregate
	case k.IsNumeric():
		return MaskNumeric
	default:
		return 0
	}
}

// PathStep is one hop of a filter's ordered member path: a field-name
// pattern plus an optional inner filter narrowing that field's own type
// (§4.4 "an ordered member path (each step: field-name pattern + inner
// filter)").
type PathStep struct {
	FieldPattern NamePattern
	Inner        *Filter
}

// Filter is the combinable predicate set a TypeRule matches an instance
// against. Every enabled predicate (non-zero-value) must match for the
// filter as a whole to match (§4.4 "Filter").
type Filter struct {
	VariableName NamePattern // matched against the instance's root variable name
	TypeName     NamePattern
	TypeID       types.TypeID // 0 = not enabled
	DataMask     KindMask     // MaskAny = not enabled
	Size         uint64       // 0 = not enabled
	SourceFile   NamePattern
	MemberPath   []PathStep
}

// Result is the outcome of comparing a filter's member path against the
// path actually walked so far during live traversal (§4.4 "Match
// dispatch").
type Result uint8

const (
	NoMatch Result = iota
	Match
	Defer
	MatchAmbiguous
	DefaultHandlerRequested
)

// MatchAgainst evaluates the filter against t (the instance's resolved
// type), sourceFile (the compile-unit the instance's symbol came from, may
// be empty), and accessedPath (the member-name path walked so far from the
// rule's bound variable or struct). A path shorter than the filter's own
// MemberPath defers; longer never matches; equal length compares every
// step's field pattern and inner filter before falling through to the
// top-level predicates.
func (f *Filter) MatchAgainst(g *typegraph.Graph, t *types.Type, sourceFile string, accessedPath []string) Result {
	switch {
	case len(accessedPath) < len(f.MemberPath):
		return Defer
	case len(accessedPath) > len(f.MemberPath):
		return NoMatch
	}
	cur := t
	for i, step := range f.MemberPath {
		if !step.FieldPattern.Match(accessedPath[i]) {
			return NoMatch
		}
		cur = stripLexical(g, cur)
		if cur == nil || !cur.Kind.IsAggregate() {
			return NoMatch
		}
		m := findMember(cur, accessedPath[i])
		if m == nil {
			return NoMatch
		}
		next, ok := g.FindByID(m.Referent)
		if !ok {
			return NoMatch
		}
		if step.Inner != nil && step.Inner.matchType(g, next, sourceFile) == NoMatch {
			return NoMatch
		}
		cur = next
	}
	if f.matchType(g, t, sourceFile) == NoMatch {
		return NoMatch
	}
	return Match
}

// matchType evaluates only the non-path predicates, walking the lexical
// referent chain so a filter on `struct inode` still fires on `const
// inode` (§4.4 "Lexical types ... are transparent").
func (f *Filter) matchType(g *typegraph.Graph, t *types.Type, sourceFile string) Result {
	target := stripLexical(g, t)
	if target == nil {
		return NoMatch
	}
	if f.TypeName.Kind != NameAny && !f.TypeName.Match(target.Name) {
		return NoMatch
	}
	if f.TypeID != 0 && f.TypeID != target.ID {
		return NoMatch
	}
	if f.DataMask != MaskAny && f.DataMask&MaskFor(target.Kind) == 0 {
		return NoMatch
	}
	if f.Size != 0 && f.Size != target.Size {
		return NoMatch
	}
	if f.SourceFile.Kind != NameAny && !f.SourceFile.Match(sourceFile) {
		return NoMatch
	}
	return Match
}

func stripLexical(g *typegraph.Graph, t *types.Type) *types.Type {
	for t != nil && t.Kind.IsLexical() {
		next, ok := g.FindByID(t.Referent)
		if !ok {
			return t
		}
		t = next
	}
	return t
}

func findMember(t *types.Type, name string) *types.Member {
	for _, m := range t.Members {
		if m.Name == name {
			return m
		}
	}
	return nil
}
