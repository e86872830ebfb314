// Package typegraph implements the factory described in §4.1: it ingests the
// debug-record stream and yields a fully resolved, structurally-hashed type
// graph. The graph is cyclic (a struct can reference itself through a
// pointer), so ownership is arena-style: types and members live in maps
// keyed by stable identifiers, and edges are identifiers, never raw pointers
// -- the same "no owning references in a cyclic graph" discipline §9
// prescribes.
package typegraph

import (
	"fmt"

	"github.com/chrschn/insightgo/internal/symstream"
	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/pkg/vmierr"
	"github.com/chrschn/insightgo/vmi/vmilog"
)

// Graph is the process-lifetime type graph. The only mutable state after a
// symbol set is fully loaded is the postponed-resolution table (§9 "Global
// mutable state"); everything else becomes read-shared.
type Graph struct {
	byID   map[types.TypeID]*types.Type
	byName map[string][]types.TypeID
	byHash map[types.Hash][]types.TypeID

	vars     map[string]*types.Variable
	varsByID map[types.TypeID]*types.Variable

	// postponed maps an unresolved referent id to every (ownerID) that needs
	// to be revisited once that id is observed. A referencing type is its
	// own owner; a struct/union owner is recorded per member index.
	postponed map[int64][]postponedEdge

	nextSynthetic types.TypeID

	warnings []string
}

type postponedEdge struct {
	ownerID   types.TypeID
	memberIdx int // -1 for the owner's own Referent edge, else Members[memberIdx]
}

// New returns an empty Graph ready to ingest records.
func New() *Graph {
	return &Graph{
		byID:          make(map[types.TypeID]*types.Type),
		byName:        make(map[string][]types.TypeID),
		byHash:        make(map[types.Hash][]types.TypeID),
		vars:          make(map[string]*types.Variable),
		varsByID:      make(map[types.TypeID]*types.Variable),
		postponed:     make(map[int64][]postponedEdge),
		nextSynthetic: types.FirstSyntheticID,
	}
}

// Add ingests a single debug record, creating or updating a type or
// variable. It is the Graph method backing §4.1's `add(record)` operation.
func (g *Graph) Add(rec symstream.Record) error {
	switch rec.Kind {
	case symstream.RecordVariable:
		return g.addVariable(rec)
	default:
		return g.addType(rec)
	}
}

func (g *Graph) addVariable(rec symstream.Record) error {
	if rec.Name == "" {
		return vmierr.Wrap(vmierr.KindFormat, "typegraph: variable record missing name", vmierr.ErrMalformedSymbol)
	}
	v := &types.Variable{
		ID:         types.TypeID(rec.ID),
		Name:       rec.Name,
		Address:    rec.Address,
		Referent:   types.TypeID(rec.Referent),
		SourceFile: rec.SourceFile,
	}
	g.vars[rec.Name] = v
	g.varsByID[v.ID] = v
	if rec.Referent != 0 {
		if _, ok := g.byID[types.TypeID(rec.Referent)]; !ok {
			g.postponed[rec.Referent] = append(g.postponed[rec.Referent], postponedEdge{ownerID: v.ID, memberIdx: -2})
		}
	}
	return nil
}

func (g *Graph) addType(rec symstream.Record) error {
	if rec.ID == 0 {
		return vmierr.Wrap(vmierr.KindFormat, "typegraph: type record missing id", vmierr.ErrMalformedSymbol)
	}
	kind, err := kindOf(rec)
	if err != nil {
		return err
	}

	t := &types.Type{
		ID:          types.TypeID(rec.ID),
		Kind:        kind,
		Name:        rec.Name,
		Size:        rec.Size,
		Referent:    types.TypeID(rec.Referent),
		ArrayLength: rec.ArrayLen,
	}

	if kind.IsAggregate() {
		t.Members = make([]*types.Member, 0, len(rec.Sub))
		for i, sr := range rec.Sub {
			m := &types.Member{
				Name:      sr.Name,
				Offset:    sr.Offset,
				Referent:  types.TypeID(sr.Referent),
				BitSize:   sr.BitSize,
				BitOffset: sr.BitOffset,
				Enclosing: t.ID,
			}
			t.Members = append(t.Members, m)
			if sr.Referent != 0 {
				if _, ok := g.byID[types.TypeID(sr.Referent)]; !ok {
					g.postponed[sr.Referent] = append(g.postponed[sr.Referent], postponedEdge{ownerID: t.ID, memberIdx: i})
				}
			}
		}
	} else if kind.IsReferencing() && rec.Referent != 0 {
		if _, ok := g.byID[types.TypeID(rec.Referent)]; !ok {
			g.postponed[rec.Referent] = append(g.postponed[rec.Referent], postponedEdge{ownerID: t.ID, memberIdx: -1})
		}
	}

	g.install(t)
	return g.resolveArrivalsFor(t.ID)
}

func kindOf(rec symstream.Record) (types.Kind, error) {
	switch rec.Kind {
	case symstream.RecordBaseType:
		if rec.Size == 0 {
			return 0, vmierr.Wrap(vmierr.KindFormat, "typegraph: base type missing size", vmierr.ErrMalformedSymbol)
		}
		return types.ByteSizeForEncoding(rec.Encoding, int(rec.Size)), nil
	case symstream.RecordPointer:
		return types.KindPointer, nil
	case symstream.RecordArray:
		return types.KindArray, nil
	case symstream.RecordStruct:
		return types.KindStruct, nil
	case symstream.RecordUnion:
		return types.KindUnion, nil
	case symstream.RecordTypedef:
		return types.KindTypedef, nil
	case symstream.RecordConst:
		return types.KindConst, nil
	case symstream.RecordVolatile:
		return types.KindVolatile, nil
	case symstream.RecordEnum:
		return types.KindEnum, nil
	case symstream.RecordFuncPointer:
		return types.KindFuncPointer, nil
	default:
		return 0, vmierr.Wrap(vmierr.KindFormat, fmt.Sprintf("typegraph: unknown record kind %d", rec.Kind), vmierr.ErrMalformedSymbol)
	}
}

// install registers t in the id/name indexes and computes its structural
// hash, special-casing the synthetic list_head fabrication (§4.1).
func (g *Graph) install(t *types.Type) {
	g.byID[t.ID] = t
	if t.Name != "" {
		g.byName[t.Name] = append(g.byName[t.Name], t.ID)
	}
	if t.Kind.IsAggregate() {
		g.maybeSynthesizeListHeadMembers(t)
	}
	g.rehash(t)
}

// resolveArrivalsFor binds every postponed edge waiting on id, recomputes
// affected hashes, and re-buckets them under their new hash (§4.1
// "resolve()"). It is called every time a new type with that id is
// installed, so incremental ingestion and batch ingestion behave the same.
func (g *Graph) resolveArrivalsFor(id types.TypeID) error {
	waiters, ok := g.postponed[int64(id)]
	if !ok {
		return nil
	}
	delete(g.postponed, int64(id))
	for _, w := range waiters {
		if w.memberIdx == -2 {
			// Variable referent; nothing further to recompute on the
			// variable itself (variables are not structurally hashed).
			continue
		}
		owner, ok := g.byID[w.ownerID]
		if !ok {
			continue // owner itself never arrived; a later Resolve() pass will warn.
		}
		if w.memberIdx == -1 {
			owner.Referent = id
		} else if w.memberIdx >= 0 && w.memberIdx < len(owner.Members) {
			owner.Members[w.memberIdx].Referent = id
		}
		if owner.Kind.IsAggregate() {
			g.maybeSynthesizeListHeadMembers(owner)
		}
		g.rehash(owner)
	}
	return nil
}

// Resolve is the explicit, end-of-batch counterpart to the per-arrival
// resolution done incrementally by Add: any identifier still postponed after
// a full batch is a warning, not a fatal error (§4.1 "Errors"); the edge
// stays null and later traversal produces ErrUnresolvedType.
func (g *Graph) Resolve() {
	for target, waiters := range g.postponed {
		if _, ok := g.byID[types.TypeID(target)]; ok {
			continue // will be cleaned up by resolveArrivalsFor already
		}
		for range waiters {
			g.warnings = append(g.warnings, fmt.Sprintf("typegraph: referent id %d never observed", target))
		}
	}
	for _, w := range g.warnings {
		vmilog.Warn(w)
	}
}

// Warnings returns the unresolved-referent warnings accumulated by Resolve.
func (g *Graph) Warnings() []string { return g.warnings }

// PostponedCount reports how many distinct ids are still awaiting
// resolution, used by the "resolution completeness" property in §8.
func (g *Graph) PostponedCount() int { return len(g.postponed) }

// FindByID is the O(1) identifier lookup.
func (g *Graph) FindByID(id types.TypeID) (*types.Type, bool) {
	t, ok := g.byID[id]
	return t, ok
}

// FindByName returns every type installed under the given source name
// (distinct ids can share a name across compile units before hashing proves
// them identical).
func (g *Graph) FindByName(name string) []*types.Type {
	ids := g.byName[name]
	out := make([]*types.Type, 0, len(ids))
	for _, id := range ids {
		if t, ok := g.byID[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// AllTypes returns every installed type, in no particular order, for callers
// that need to scan the whole universe (e.g. the slab catalog's glob-name
// binding fallback).
func (g *Graph) AllTypes() []*types.Type {
	out := make([]*types.Type, 0, len(g.byID))
	for _, t := range g.byID {
		out = append(out, t)
	}
	return out
}

// FindByHash returns every type sharing the given structural hash; per §3
// these are interchangeable for address-based identity.
func (g *Graph) FindByHash(h types.Hash) []*types.Type {
	ids := g.byHash[h]
	out := make([]*types.Type, 0, len(ids))
	for _, id := range ids {
		if t, ok := g.byID[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Variable looks a global up by name.
func (g *Graph) Variable(name string) (*types.Variable, bool) {
	v, ok := g.vars[name]
	return v, ok
}

// VariableByID looks a global up by its stable identifier.
func (g *Graph) VariableByID(id types.TypeID) (*types.Variable, bool) {
	v, ok := g.varsByID[id]
	return v, ok
}

// Variables returns every global variable, for root-set construction.
func (g *Graph) Variables() []*types.Variable {
	out := make([]*types.Variable, 0, len(g.vars))
	for _, v := range g.vars {
		out = append(out, v)
	}
	return out
}

// rehash recomputes t's structural hash and moves it into the right hash
// bucket. Safe to call repeatedly as edges resolve.
func (g *Graph) rehash(t *types.Type) {
	if old, had := t.CachedHash(); had {
		g.byHash[old] = removeID(g.byHash[old], t.ID)
	}
	h := StructuralHash(g, t)
	t.SetHash(h)
	g.byHash[h] = append(g.byHash[h], t.ID)
}

func removeID(ids []types.TypeID, id types.TypeID) []types.TypeID {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func (g *Graph) allocSyntheticID() types.TypeID {
	id := g.nextSynthetic
	g.nextSynthetic--
	return id
}
