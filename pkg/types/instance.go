package types

// Origin tags how an Instance came to exist, used for diagnostics and by the
// map builder to decide whether a node should be re-scored after a rule
// rewrite.
type Origin uint8

const (
	OriginManual Origin = iota
	OriginMember
	OriginArrayElem
	OriginDereference
	OriginRuleEngine
)

// Instance is a lightweight, address-bound view into the dump (§3
// "Instance"). It never owns the dump; decoding and traversal operations
// live in vmi/instance, which pairs an Instance with a *vmi/vmem.Translator
// and a type graph. Multiple Instances may share the same Address with
// different Type values — a union member, or a rule-rewritten view.
type Instance struct {
	Address uint64
	Type    TypeID
	Name    string // optional dotted name path, e.g. "init_task.comm"
	Origin  Origin

	// BitField is non-nil when this instance is a slice of a containing
	// integer rather than the whole value.
	BitField *BitFieldSlice
}

// BitFieldSlice describes a sub-integer view into an Instance's backing word.
type BitFieldSlice struct {
	BitOffset uint8
	BitSize   uint8
}

// WithName returns a copy of the instance with Name set, used when
// member()/dereference() build a dotted path for the child instance.
func (i Instance) WithName(name string) Instance {
	i.Name = name
	return i
}
