package types

// TypeID is a stable integer identifier for a Type. Positive values are
// parsed from the symbol stream; negative values are synthesised by the
// factory (e.g. a specialised list_head per anchor member) and are drawn
// from a reserved range so they survive round-trip serialization.
type TypeID int64

// FirstSyntheticID is the start of the reserved negative range the factory
// draws synthesised type identifiers from.
const FirstSyntheticID TypeID = -1

// Hash is the structural hash of a Type: deterministic, name-independent,
// and equal for any two types whose bodies are identical modulo names.
type Hash uint64

// Type is the tagged variant described in §3. Payload fields not applicable
// to the current Kind are zero. Struct/Union own Members; the referencing
// kinds (pointer/array/typedef/const/volatile) own a single Referent edge,
// which may be TypeID(0) ("unresolved") while a symbol batch is mid-ingest.
type Type struct {
	ID   TypeID
	Kind Kind
	Name string // optional source name; absent for anonymous aggregates
	Size uint64 // byte size

	Referent TypeID // valid when Kind.IsReferencing() or Kind == KindFuncPointer

	// PointerOffset is a byte adjustment applied, once, when a KindPointer
	// type is dereferenced: child address = raw pointer value + PointerOffset.
	// Zero for every ordinary pointer; non-zero only for the synthetic
	// container-pointer a specialised list_head anchor's next/prev members
	// reference, where it carries the anchoring member's negative offset so
	// a pointer chase lands on the container's own start address instead of
	// the sibling's embedded list_head (§9 "macro extra offset").
	PointerOffset int64

	// Struct/Union payload.
	Members []*Member

	// Array payload.
	ArrayLength int64 // -1 when unknown ("pointer-based array")

	// Enum payload.
	Enumerators []Enumerator

	// ListHead specialisation payload; nil for ordinary types. Populated by
	// vmi/typegraph when this type is a synthesised container-typed
	// list_head anchor (see §4.1 "Synthetic list_head").
	ListHead *ListHeadInfo

	hash    Hash
	hashSet bool
}

// Enumerator is a single named constant of an enum type.
type Enumerator struct {
	Name  string
	Value int64
}

// ListHeadInfo records the container-hop adjustment a synthesised list_head
// type carries: its pointers target the enclosing container type rather
// than another list_head, with a macro extra offset applied once per
// dereference (§9 open question (a)).
type ListHeadInfo struct {
	ContainerType TypeID
	MacroOffset   int64 // negative byte offset of the anchoring member
	MemberName    string
}

// CachedHash returns the structural hash last stamped onto this Type by
// vmi/typegraph, and whether one has been computed yet.
func (t *Type) CachedHash() (Hash, bool) { return t.hash, t.hashSet }

// SetHash stamps a freshly computed structural hash onto this Type. Callers
// outside vmi/typegraph should not call this; it exists so the factory (which
// lives in a different package to avoid a pkg/types -> vmi import cycle) can
// cache the result it computes.
func (t *Type) SetHash(h Hash) {
	t.hash = h
	t.hashSet = true
}

// IsUnresolved reports whether a referencing type's edge has not yet been
// bound to a live type.
func (t *Type) IsUnresolved() bool {
	return t.Kind.IsReferencing() && t.Referent == 0
}
