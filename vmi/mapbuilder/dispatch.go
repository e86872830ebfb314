package mapbuilder

import (
	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/vmi/instance"
	"github.com/chrschn/insightgo/vmi/ruleengine"
	"github.com/chrschn/insightgo/vmi/script"
)

// isPointerSizedInteger reports whether m decodes as a plain integer exactly
// as wide as a pointer on this dump's architecture — kernel code routinely
// stashes an address in a bare `unsigned long`/`uintptr_t` field rather than
// a declared pointer type, and §4.6 step 4 requires following it the same as
// a typed pointer member.
func (b *Builder) isPointerSizedInteger(t *types.Type) bool {
	switch t.Kind {
	case types.KindInt8, types.KindInt16, types.KindInt32, types.KindInt64,
		types.KindUint8, types.KindUint16, types.KindUint32, types.KindUint64:
	default:
		return false
	}
	return t.Size == uint64(b.Mem.Specs().SizeofPointer)
}

// dispatch expands a freshly-accepted node by its concrete kind (§4.6
// "Pointer / Array / Struct-union"). Lexical wrappers (typedef, const,
// volatile) are stripped transparently first so the switch only ever sees
// a concrete kind.
func (b *Builder) dispatch(s *shared, selfIdx int, view instance.View, item pendingItem) error {
	t, err := view.Type()
	if err != nil {
		return err
	}
	concrete := b.stripLexical(t)
	switch {
	case concrete.Kind == types.KindPointer, concrete.Kind == types.KindFuncPointer:
		return b.followPointer(s, selfIdx, view, item)
	case concrete.Kind == types.KindArray:
		return b.walkArray(s, selfIdx, view, concrete, item, item.path)
	case concrete.Kind.IsAggregate():
		return b.walkMembers(s, selfIdx, view, concrete, item)
	default:
		return nil
	}
}

// followPointer reads the target address, records it in the pointer-target
// index regardless of well-formedness (§4.6 "pointer-target index"), and
// enqueues the dereferenced instance when it passes the well-formedness
// filter. An unreadable source address is recovered silently (§7): the
// node it belongs to still stands, it just gains no child here.
func (b *Builder) followPointer(s *shared, selfIdx int, view instance.View, item pendingItem) error {
	child, err := view.Dereference(instance.DerefOptions{Transparent: true})
	if err != nil {
		return nil
	}
	s.recordPointer(child.Address(), selfIdx)
	if !b.wellFormed(child.Address()) {
		return nil
	}
	b.enqueueView(s, selfIdx, child, item, item.path, 1.0)
	return nil
}

// walkArray enqueues each element within the static bound as its own node
// (§4.6 "Array: for each valid index within the static bound, materialise
// the element and enqueue"). Pointer-based arrays (ArrayLength <= 0, no
// known bound) are left untouched; elements of a purely scalar leaf type
// (plain integers, floats, enums) are skipped since they carry no further
// object-graph structure and would otherwise blow up the node count for
// something as common as a byte buffer.
func (b *Builder) walkArray(s *shared, selfIdx int, view instance.View, t *types.Type, item pendingItem, path []string) error {
	elemType, ok := b.Graph.FindByID(t.Referent)
	if !ok || t.ArrayLength <= 0 {
		return nil
	}
	concreteElem := b.stripLexical(elemType)
	if !(concreteElem.Kind.IsAggregate() || concreteElem.Kind == types.KindPointer ||
		concreteElem.Kind == types.KindFuncPointer || concreteElem.Kind == types.KindArray) {
		return nil
	}
	for i := int64(0); i < t.ArrayLength; i++ {
		ev, err := view.ArrayElem(i)
		if err != nil {
			continue
		}
		if !b.wellFormed(ev.Address()) {
			continue
		}
		b.enqueueView(s, selfIdx, ev, item, path, 1.0)
	}
	return nil
}

// walkMembers iterates a struct/union's fields. A specialised list_head
// anchor is followed along its "next" pointer only (§9, §4.6); everything
// else is first offered to the rule engine, and falls through to the
// generic pointer/array/aggregate handling when no rule claims it.
func (b *Builder) walkMembers(s *shared, selfIdx int, view instance.View, t *types.Type, item pendingItem) error {
	for idx, m := range t.Members {
		mv, err := view.MemberAt(idx)
		if err != nil {
			continue
		}
		path := appendPath(item.path, m.Name)
		mitem := item
		mitem.path = path

		mt, err := mv.Type()
		if err != nil {
			continue
		}
		concrete := b.stripLexical(mt)

		if concrete.Kind == types.KindStruct && concrete.ListHead != nil {
			b.followListHead(s, selfIdx, mv, mitem, path)
			continue
		}

		if b.Rules != nil && b.tryRule(s, selfIdx, mv, mitem, path) {
			continue
		}

		switch {
		case concrete.Kind == types.KindPointer, concrete.Kind == types.KindFuncPointer:
			_ = b.followPointer(s, selfIdx, mv, mitem)
		case b.isPointerSizedInteger(concrete):
			_ = b.followIntegerPointer(s, selfIdx, mv, mitem)
		case concrete.Kind == types.KindArray:
			_ = b.walkArray(s, selfIdx, mv, concrete, mitem, path)
		case concrete.Kind.IsAggregate():
			// Nested struct/union member inherits the enclosing node rather
			// than becoming a new one (§4.6): it shares the same address
			// range, so it recurses inline instead of going through the
			// queue.
			_ = b.walkMembers(s, selfIdx, mv, concrete, mitem)
		}
	}
	return nil
}

// followIntegerPointer treats a pointer-sized plain-integer member as a
// candidate address (§4.6 "for each pointer or pointer-sized integer
// member, read, validate, and enqueue") — kernel code routinely stores an
// address in a bare `unsigned long`/`uintptr_t` field. The declared integer
// type has no referent to dereference into, so unlike followPointer the
// child node keeps the member's own (numeric) type rather than adopting a
// pointee type; it still earns a slot in the pointer-target index and, if
// well-formed, a place in the queue, where it is dispatched again and this
// time falls through to a plain leaf with no further children.
func (b *Builder) followIntegerPointer(s *shared, selfIdx int, mv instance.View, item pendingItem) error {
	addr, err := mv.ToUint64()
	if err != nil {
		return nil
	}
	s.recordPointer(addr, selfIdx)
	if !b.wellFormed(addr) {
		return nil
	}
	child := instance.New(b.Graph, b.Mem, types.Instance{
		Address: addr, Type: mv.Instance().Type, Origin: types.OriginDereference,
	}.WithName(mv.Name()))
	b.enqueueView(s, selfIdx, child, item, item.path, 1.0)
	return nil
}

// followListHead chases the synthesised anchor's "next" member only — the
// "prev" member would just walk the list the other direction and is never
// used to discover new nodes (§9).
func (b *Builder) followListHead(s *shared, selfIdx int, mv instance.View, item pendingItem, path []string) {
	next, err := mv.MemberAt(0)
	if err != nil {
		return
	}
	container, err := next.Dereference(instance.DerefOptions{})
	if err != nil {
		return
	}
	if !b.wellFormed(container.Address()) {
		return
	}
	b.enqueueView(s, selfIdx, container, item, path, 1.0)
}

// tryRule offers a member to the rule engine (§4.4). A Match or
// MatchAmbiguous result enqueues the rule-resolved interpretation as a
// child of selfIdx; MatchAmbiguous additionally leaves the generic
// interpretation to be tried by the caller, so both become sibling
// candidates under the same parent (§4.6 "Candidates"). Returns true when
// the caller should skip its own generic handling of this member.
func (b *Builder) tryRule(s *shared, selfIdx int, mv instance.View, item pendingItem, path []string) bool {
	res, ar := b.Rules.Dispatch(mv.Instance(), path, item.sourceFile)
	if res != ruleengine.Match && res != ruleengine.MatchAmbiguous {
		return false
	}
	rewritten, ok := ruleengine.ResolveAction(b.Graph, b.Mem, b.host(), b.eval(), ar, mv.Instance())
	if !ok {
		return false
	}
	if b.wellFormed(rewritten.Address) {
		rv := instance.New(b.Graph, b.Mem, rewritten)
		penalty := 1.0
		if rt, err := rv.Type(); err == nil && b.listHeadPenalty(rv.Address(), rt) < 1 {
			penalty = 0.9 // §4.6 "apply the rule-engine penalty ... for a candidate whose list-head offset check fails"
		}
		b.enqueueView(s, selfIdx, rv, item, path, penalty)
	}
	return res == ruleengine.Match
}

// enqueueView scores and pushes view onto the shared queue as a child of
// parentIdx, applying an extra multiplier on top of the ordinary score for
// rule-derived candidates (§4.6).
func (b *Builder) enqueueView(s *shared, parentIdx int, view instance.View, item pendingItem, path []string, extraPenalty float64) {
	t, err := view.Type()
	if err != nil {
		return
	}
	prob := b.computeProbability(view.Address(), t) * extraPenalty
	s.push(pendingItem{
		addr:        view.Address(),
		typ:         view.Instance().Type,
		name:        view.Name(),
		parent:      parentIdx,
		probability: prob,
		path:        path,
		sourceFile:  item.sourceFile,
		variable:    item.variable,
	})
}

// stripLexical walks const/volatile/typedef wrappers down to a concrete
// kind, mirroring instance.View's own transparent skip but operating on a
// bare *types.Type (scoring and dispatch both need this before an
// instance.View even exists).
func (b *Builder) stripLexical(t *types.Type) *types.Type {
	for t != nil && t.Kind.IsLexical() {
		next, ok := b.Graph.FindByID(t.Referent)
		if !ok {
			return t
		}
		t = next
	}
	return t
}

func (b *Builder) host() script.Host {
	if b.Host != nil {
		return b.Host
	}
	return script.NullHost{}
}

func (b *Builder) eval() ruleengine.Evaluator {
	if b.Eval != nil {
		return b.Eval
	}
	return &ruleengine.ExprEvaluator{Graph: b.Graph, Mem: b.Mem}
}

func appendPath(base []string, next string) []string {
	out := make([]string, len(base), len(base)+1)
	copy(out, base)
	return append(out, next)
}
