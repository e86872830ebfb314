package typegraph

import "github.com/chrschn/insightgo/pkg/types"

// maybeSynthesizeListHeadMembers scans t's members for an embedded generic
// list_head anchor and, for each one found, fabricates a specialised
// list_head type whose next/prev pointers target t itself rather than
// another list_head (§4.1 "Synthetic list_head"). It is safe to call more
// than once; an already-specialised member (Referent already a synthetic
// negative id) is skipped.
func (g *Graph) maybeSynthesizeListHeadMembers(t *types.Type) {
	if !t.Kind.IsAggregate() {
		return
	}
	for i, m := range t.Members {
		if m.Referent < 0 {
			continue // already specialised
		}
		ref, ok := g.byID[m.Referent]
		if !ok || !isGenericListHead(g, ref) {
			continue
		}
		offset := m.Offset
		if m.Name == "children" {
			if sib := siblingOffset(t, "sibling"); sib != nil {
				offset = *sib
			}
		}
		synthetic := g.specializeListHead(t.ID, m.Name, offset)
		t.Members[i].Referent = synthetic.ID
	}
}

func siblingOffset(t *types.Type, name string) *uint64 {
	for _, m := range t.Members {
		if m.Name == name {
			off := m.Offset
			return &off
		}
	}
	return nil
}

// isGenericListHead recognises the well-known two-pointer anchor by exact
// layout: two same-sized pointer members named "next" and "prev" pointing at
// the same referent type.
func isGenericListHead(g *Graph, t *types.Type) bool {
	if t == nil || t.Kind != types.KindStruct || len(t.Members) != 2 {
		return false
	}
	next, prev := t.Members[0], t.Members[1]
	if next.Name != "next" || prev.Name != "prev" {
		return false
	}
	nextTy, ok1 := g.byID[next.Referent]
	prevTy, ok2 := g.byID[prev.Referent]
	if !ok1 || !ok2 {
		return false
	}
	return nextTy.Kind == types.KindPointer && prevTy.Kind == types.KindPointer &&
		nextTy.Size == prevTy.Size && nextTy.Referent == prevTy.Referent
}

// specializeListHead fabricates a new synthetic list_head
// type for the anchor member named memberName at the given offset inside
// container. The synthetic type's pointers reference a synthetic
// pointer-to-container type so dereferencing next/prev yields a container
// instance directly, without the caller chasing an intermediate list_head.
func (g *Graph) specializeListHead(container types.TypeID, memberName string, offset uint64) *types.Type {
	ptrToContainer := &types.Type{
		ID:            g.allocSyntheticID(),
		Kind:          types.KindPointer,
		Size:          8,
		Referent:      container,
		PointerOffset: -int64(offset),
	}
	g.install(ptrToContainer)

	lh := &types.Type{
		ID:   g.allocSyntheticID(),
		Kind: types.KindStruct,
		Name: "list_head",
		Size: 16,
		Members: []*types.Member{
			{Name: "next", Offset: 0, Referent: ptrToContainer.ID},
			{Name: "prev", Offset: 8, Referent: ptrToContainer.ID},
		},
		ListHead: &types.ListHeadInfo{
			ContainerType: container,
			MacroOffset:   -int64(offset),
			MemberName:    memberName,
		},
	}
	for _, m := range lh.Members {
		m.Enclosing = lh.ID
	}
	g.install(lh)
	return lh
}
