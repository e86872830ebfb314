package typegraph

import (
	"hash/fnv"
	"sort"

	"github.com/chrschn/insightgo/pkg/types"
)

// StructuralHash computes the name-independent hash over the referenced-
// through graph rooted at t, visiting referent edges with a visited set so
// cycles terminate on a cycle marker rather than recursing forever (§3
// "structural hash", §9 "Cyclic graphs"). Two types whose bodies are
// identical modulo names hash equal; member order does not affect the hash
// (§8 "Hash stability"): every struct/union, named or anonymous, hashes its
// members as a canonical sorted multiset rather than in declaration order.
func StructuralHash(g *Graph, t *types.Type) types.Hash {
	h := fnv.New64a()
	visited := make(map[types.TypeID]bool)
	hashType(g, t, h, visited)
	return types.Hash(h.Sum64())
}

const cycleMarker = 0xC7C7

func hashType(g *Graph, t *types.Type, h interface{ Write([]byte) (int, error) }, visited map[types.TypeID]bool) {
	if t == nil {
		writeU64(h, 0)
		return
	}
	if visited[t.ID] {
		writeU64(h, cycleMarker)
		return
	}
	visited[t.ID] = true
	defer delete(visited, t.ID)

	writeU64(h, uint64(t.Kind))
	writeU64(h, t.Size)

	switch {
	case t.Kind.IsAggregate():
		hashMembers(g, t, h, visited)
	case t.Kind.IsReferencing() || t.Kind == types.KindFuncPointer:
		writeU64(h, uint64(t.ArrayLength))
		writeU64(h, uint64(t.PointerOffset))
		if ref, ok := g.FindByID(t.Referent); ok {
			hashType(g, ref, h, visited)
		} else {
			writeU64(h, 0) // unresolved referent hashes as "none", rehashed once bound
		}
	case t.Kind == types.KindEnum:
		for _, e := range t.Enumerators {
			writeU64(h, uint64(e.Value))
		}
	}
}

func hashMembers(g *Graph, t *types.Type, h interface{ Write([]byte) (int, error) }, visited map[types.TypeID]bool) {
	// Anonymous aggregates referenced only through a typedef may have their
	// declaration order vary across compile units without a semantic
	// difference; hash a canonical ordering keyed on (offset, name) so that
	// permutation of the member catalogue does not change the hash.
	idx := make([]int, len(t.Members))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		ma, mb := t.Members[idx[a]], t.Members[idx[b]]
		if ma.Offset != mb.Offset {
			return ma.Offset < mb.Offset
		}
		return ma.Name < mb.Name
	})
	for _, i := range idx {
		m := t.Members[i]
		writeU64(h, m.Offset)
		writeU64(h, uint64(m.BitSize))
		writeU64(h, uint64(m.BitOffset))
		if ref, ok := g.FindByID(m.Referent); ok {
			hashType(g, ref, h, visited)
		} else {
			writeU64(h, 0)
		}
	}
}

func writeU64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	h.Write(b[:])
}
