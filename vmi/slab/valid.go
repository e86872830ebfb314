package slab

import "github.com/chrschn/insightgo/pkg/types"

// Validity is the outcome of checking an instance's address against the
// slab catalog (§4.5 "Validity judgement").
type Validity uint8

const (
	Invalid Validity = iota
	NotFound
	NoSlabType
	MaybeValid
	Valid
	Embedded
	Conflict
)

func (v Validity) String() string {
	switch v {
	case Invalid:
		return "invalid"
	case NotFound:
		return "not-found"
	case NoSlabType:
		return "no-slab-type"
	case MaybeValid:
		return "maybe-valid"
	case Valid:
		return "valid"
	case Embedded:
		return "embedded"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// ObjectValid judges an instance of type candidate sitting at addr against
// the catalog (§4.5 "Validity judgement"). A cache-owned address whose type
// matches the bound type at the object's start is valid; one that is the
// bound type at an interior address, or whose type is the type of the bound
// type's member at that offset, is embedded; otherwise the address is a
// slab object but the instance's type conflicts with it. An address
// that belongs to no known cache falls back to the variable table the
// caller supplies via isGlobal, mirroring "global variables not in any
// slab match against the variable table".
func (c *Catalog) ObjectValid(addr uint64, candidate types.TypeID, isGlobal func(uint64) bool) Validity {
	if addr == 0 {
		return Invalid
	}
	obj, ok := c.ObjectAt(addr)
	if !ok {
		if isGlobal != nil && isGlobal(addr) {
			return MaybeValid
		}
		return NotFound
	}
	if obj.Cache.Type == 0 {
		return NoSlabType
	}
	if obj.Cache.Type == candidate {
		if obj.Address == addr {
			return Valid
		}
		return Embedded
	}
	// The candidate may be the type of a direct member of the bound type at
	// exactly this offset inside the owning object.
	if bound, ok := c.graph.FindByID(obj.Cache.Type); ok && bound.Kind.IsAggregate() {
		delta := addr - obj.Address
		for _, m := range bound.Members {
			if m.Offset == delta && m.Referent == candidate {
				return Embedded
			}
		}
	}
	return Conflict
}
