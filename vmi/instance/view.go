// Package instance implements §4.3: typed, address-bound views over the
// dump. A View pairs a types.Instance with the type graph and virtual-memory
// translator needed to actually decode it, the way hivekit's values package
// pairs a raw VK reference with the hive it was read from.
package instance

import (
	"strconv"

	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/pkg/vmierr"
	"github.com/chrschn/insightgo/vmi/typegraph"
	"github.com/chrschn/insightgo/vmi/vmem"
)

// View is a lightweight, address-bound decoder over a types.Instance. It
// never owns the dump or the graph; both are expected to outlive every View
// built from them.
type View struct {
	inst  types.Instance
	graph *typegraph.Graph
	mem   *vmem.Translator
}

// New builds a View over inst, resolved against graph and translated through
// mem.
func New(graph *typegraph.Graph, mem *vmem.Translator, inst types.Instance) View {
	return View{inst: inst, graph: graph, mem: mem}
}

// Root builds the manual-origin View for a named global variable, the usual
// entry point into the root set (§3 "Instance" origin=manual).
func Root(graph *typegraph.Graph, mem *vmem.Translator, name string) (View, error) {
	v, ok := graph.Variable(name)
	if !ok {
		return View{}, vmierr.Newf(vmierr.KindType, "instance: no such variable %q", name)
	}
	return New(graph, mem, types.Instance{Address: v.Address, Type: v.Referent, Name: name, Origin: types.OriginManual}), nil
}

// Instance returns the underlying value, for callers (the map builder, rule
// engine) that need to store or re-wrap it without the graph/mem pair.
func (v View) Instance() types.Instance { return v.inst }

// Address returns the instance's virtual address.
func (v View) Address() uint64 { return v.inst.Address }

// Name returns the dotted name path, if any.
func (v View) Name() string { return v.inst.Name }

// Origin returns how this instance came to exist.
func (v View) Origin() types.Origin { return v.inst.Origin }

// Type resolves the instance's type handle against the graph.
func (v View) Type() (*types.Type, error) {
	t, ok := v.graph.FindByID(v.inst.Type)
	if !ok {
		return nil, vmierr.Wrap(vmierr.KindType, "instance: type unresolved", vmierr.ErrUnresolvedType)
	}
	return t, nil
}

// Size returns the instance's byte size, or the bit-field's containing word
// size when this view is a bit-field slice.
func (v View) Size() (uint64, error) {
	t, err := v.Type()
	if err != nil {
		return 0, err
	}
	return t.Size, nil
}

// IsNull reports whether the instance's address is the canonical null
// pointer value; a null instance is never dereferenceable.
func (v View) IsNull() bool { return v.inst.Address == 0 }

// IsAccessible reports whether the instance's address safely translates and
// lands inside the backing dump (§4.2 "Safe read" / §4.3 "is_accessible").
func (v View) IsAccessible() bool {
	if v.IsNull() {
		return false
	}
	return v.mem.SafeSeek(v.inst.Address)
}

// Member returns the instance for the named field: address is
// self.address+field.offset, with the field's bit-field width/offset
// propagated onto the child view (§4.3 "member").
func (v View) Member(name string) (View, error) {
	t, err := v.Type()
	if err != nil {
		return View{}, err
	}
	if !t.Kind.IsAggregate() {
		return View{}, vmierr.Wrap(vmierr.KindType, "instance: member() on non-aggregate kind "+t.Kind.String(), vmierr.ErrKindMismatch)
	}
	for _, m := range t.Members {
		if m.Name == name {
			return v.memberView(m), nil
		}
	}
	return View{}, vmierr.Newf(vmierr.KindType, "instance: no member %q on %s", name, t.Name)
}

// MemberAt is Member's index-based counterpart, used for anonymous members
// and by find_member_by_offset.
func (v View) MemberAt(index int) (View, error) {
	t, err := v.Type()
	if err != nil {
		return View{}, err
	}
	if !t.Kind.IsAggregate() {
		return View{}, vmierr.Wrap(vmierr.KindType, "instance: member() on non-aggregate kind "+t.Kind.String(), vmierr.ErrKindMismatch)
	}
	if index < 0 || index >= len(t.Members) {
		return View{}, vmierr.Wrap(vmierr.KindType, "instance: member index out of range", vmierr.ErrIndexOutOfBounds)
	}
	return v.memberView(t.Members[index]), nil
}

func (v View) memberView(m *types.Member) View {
	child := types.Instance{
		Address: v.inst.Address + m.Offset,
		Type:    m.Referent,
		Origin:  types.OriginMember,
	}
	if m.IsBitField() {
		child.BitField = &types.BitFieldSlice{BitOffset: uint8(m.BitOffset), BitSize: uint8(m.BitSize)}
	}
	if v.inst.Name != "" {
		child = child.WithName(v.inst.Name + "." + m.Name)
	} else {
		child = child.WithName(m.Name)
	}
	return New(v.graph, v.mem, child)
}

// DerefOptions controls how Dereference unwraps the referent chain (§4.3
// "dereference(mode, depth)"): Transparent lets typedef/const/volatile
// wrappers pass through without counting against Depth, and Depth is the
// number of actual pointer hops to perform (defaults to 1).
type DerefOptions struct {
	Transparent bool
	Depth       int
}

// Dereference follows the instance's referent one (or Depth) step(s),
// returning an instance at the decoded address. For a pointer, the pointer
// value itself is read from the dump and becomes the child's address; for
// an array, element 0 is returned, matching array_elem(0) (§4.3).
func (v View) Dereference(opts DerefOptions) (View, error) {
	if opts.Depth <= 0 {
		opts.Depth = 1
	}
	cur := v
	for hop := 0; hop < opts.Depth; hop++ {
		t, err := cur.Type()
		if err != nil {
			return View{}, err
		}
		t, err = cur.skipTransparent(t, opts.Transparent)
		if err != nil {
			return View{}, err
		}
		switch t.Kind {
		case types.KindPointer, types.KindFuncPointer:
			addr, err := cur.mem.ReadU64(cur.inst.Address)
			if err != nil {
				return View{}, err
			}
			addr = uint64(int64(addr) + t.PointerOffset)
			cur = New(cur.graph, cur.mem, types.Instance{
				Address: addr, Type: t.Referent, Origin: types.OriginDereference,
			}.WithName(cur.inst.Name))
		case types.KindArray:
			elem, err := cur.ArrayElem(0)
			if err != nil {
				return View{}, err
			}
			cur = elem
		default:
			return View{}, vmierr.Wrap(vmierr.KindType, "instance: dereference() on non-referencing kind "+t.Kind.String(), vmierr.ErrKindMismatch)
		}
	}
	return cur, nil
}

// skipTransparent walks const/volatile/typedef wrappers (and, if
// transparent, does so repeatedly) until it reaches a concrete kind.
func (v View) skipTransparent(t *types.Type, transparent bool) (*types.Type, error) {
	for {
		switch t.Kind {
		case types.KindConst, types.KindVolatile, types.KindTypedef:
			if !transparent {
				return t, nil
			}
			next, ok := v.graph.FindByID(t.Referent)
			if !ok {
				return nil, vmierr.Wrap(vmierr.KindType, "instance: wrapped type unresolved", vmierr.ErrUnresolvedType)
			}
			t = next
		default:
			return t, nil
		}
	}
}

// ArrayElem returns the i'th element instance for an array or
// pointer-to-array referent. Array bounds are advisory: a pointer-based
// "array" has no known length, so i is never range-checked against it
// (§4.3 "array_elem").
func (v View) ArrayElem(i int64) (View, error) {
	t, err := v.Type()
	if err != nil {
		return View{}, err
	}
	switch t.Kind {
	case types.KindArray:
		elemType, ok := v.graph.FindByID(t.Referent)
		if !ok {
			return View{}, vmierr.Wrap(vmierr.KindType, "instance: array element type unresolved", vmierr.ErrUnresolvedType)
		}
		if t.ArrayLength > 0 && i >= t.ArrayLength {
			return View{}, vmierr.Wrap(vmierr.KindType, "instance: array index out of bounds", vmierr.ErrIndexOutOfBounds)
		}
		child := types.Instance{
			Address: v.inst.Address + uint64(i)*elemType.Size,
			Type:    t.Referent,
			Origin:  types.OriginArrayElem,
		}.WithName(indexedName(v.inst.Name, i))
		return New(v.graph, v.mem, child), nil
	case types.KindPointer:
		elemType, ok := v.graph.FindByID(t.Referent)
		if !ok {
			return View{}, vmierr.Wrap(vmierr.KindType, "instance: array element type unresolved", vmierr.ErrUnresolvedType)
		}
		base, err := v.mem.ReadU64(v.inst.Address)
		if err != nil {
			return View{}, err
		}
		child := types.Instance{
			Address: base + uint64(i)*elemType.Size,
			Type:    t.Referent,
			Origin:  types.OriginArrayElem,
		}.WithName(indexedName(v.inst.Name, i))
		return New(v.graph, v.mem, child), nil
	default:
		return View{}, vmierr.Wrap(vmierr.KindType, "instance: array_elem() on non-array kind "+t.Kind.String(), vmierr.ErrKindMismatch)
	}
}

func indexedName(base string, i int64) string {
	if base == "" {
		return ""
	}
	return base + "[" + strconv.FormatInt(i, 10) + "]"
}

// Overlaps reports whether v and other's [address, address+size) ranges
// intersect, used by the rule engine to detect self-pointers that are
// actually list anchors (§4.3 "overlaps").
func (v View) Overlaps(other View) bool {
	aSize, err := v.Size()
	if err != nil {
		aSize = 0
	}
	bSize, err := other.Size()
	if err != nil {
		bSize = 0
	}
	aStart, aEnd := v.inst.Address, v.inst.Address+aSize
	bStart, bEnd := other.inst.Address, other.inst.Address+bSize
	if aSize == 0 {
		aEnd = aStart + 1
	}
	if bSize == 0 {
		bEnd = bStart + 1
	}
	return aStart < bEnd && bStart < aEnd
}

// FindMemberByOffset answers "which field contains delta bytes past my
// address", the reverse lookup the rule engine uses when a raw pointer value
// lands inside a struct rather than at its start (§4.3
// "find_member_by_offset"). It returns the view rebased onto the containing
// member, or ok=false if delta falls in padding or outside the struct.
func (v View) FindMemberByOffset(delta uint64) (View, bool) {
	t, err := v.Type()
	if err != nil || !t.Kind.IsAggregate() {
		return View{}, false
	}
	for idx, m := range t.Members {
		memberEnd := m.Offset + referentSizeOrZero(v.graph, m.Referent)
		if delta >= m.Offset && delta < memberEnd {
			mv, err := v.MemberAt(idx)
			if err != nil {
				return View{}, false
			}
			return mv, true
		}
	}
	return View{}, false
}

func referentSizeOrZero(g *typegraph.Graph, id types.TypeID) uint64 {
	t, ok := g.FindByID(id)
	if !ok {
		return 0
	}
	return t.Size
}
