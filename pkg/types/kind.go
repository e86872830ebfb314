// Package types is the canonical in-memory representation of a kernel's type
// universe: Type, Member, Variable, and Expression. These are pure data —
// structural hashing and graph resolution live in vmi/typegraph; decoding a
// live dump value against a Type lives in vmi/instance. Keeping the data
// model free of those concerns lets both layers share it without an import
// cycle, the same separation the teacher draws between pkg/types (record
// shapes) and hive/values (decode behaviour).
package types

// Kind is the tagged-variant discriminator over the closed set of kinds the
// source language's type universe can produce. It is intentionally small and
// closed: prefer a kind switch over virtual dispatch for kind-specific
// operations (size, hash, decode, dereference).
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindBool8
	KindBool16
	KindBool32
	KindBool64
	KindFloat
	KindDouble
	KindEnum
	KindPointer
	KindArray
	KindStruct
	KindUnion
	KindTypedef
	KindConst
	KindVolatile
	KindFuncPointer
	KindVoid
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindInt8:
		return "int8"
	case KindInt16:
		return "int16"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindUint8:
		return "uint8"
	case KindUint16:
		return "uint16"
	case KindUint32:
		return "uint32"
	case KindUint64:
		return "uint64"
	case KindBool8:
		return "bool8"
	case KindBool16:
		return "bool16"
	case KindBool32:
		return "bool32"
	case KindBool64:
		return "bool64"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindEnum:
		return "enum"
	case KindPointer:
		return "pointer"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	case KindUnion:
		return "union"
	case KindTypedef:
		return "typedef"
	case KindConst:
		return "const"
	case KindVolatile:
		return "volatile"
	case KindFuncPointer:
		return "function-pointer"
	case KindVoid:
		return "void"
	default:
		return "unknown"
	}
}

// IsNumeric reports whether the kind decodes via a plain integer/float read.
func (k Kind) IsNumeric() bool {
	switch k {
	case KindInt8, KindInt16, KindInt32, KindInt64,
		KindUint8, KindUint16, KindUint32, KindUint64,
		KindBool8, KindBool16, KindBool32, KindBool64,
		KindFloat, KindDouble, KindEnum:
		return true
	default:
		return false
	}
}

// IsReferencing reports whether the kind owns exactly one referent type edge
// (pointer/array/typedef/const/volatile), per the data model in §3.
func (k Kind) IsReferencing() bool {
	switch k {
	case KindPointer, KindArray, KindTypedef, KindConst, KindVolatile:
		return true
	default:
		return false
	}
}

// IsLexical reports whether the kind is transparent for rule-filter matching
// purposes: a filter on the referent chain's real kind should still fire.
func (k Kind) IsLexical() bool {
	switch k {
	case KindTypedef, KindConst, KindVolatile:
		return true
	default:
		return false
	}
}

// IsAggregate reports whether the kind owns an ordered member sequence.
func (k Kind) IsAggregate() bool {
	return k == KindStruct || k == KindUnion
}

// ByteSizeForEncoding maps an (encoding name, byte size) pair from the debug
// record stream onto the concrete numeric Kind. Unknown encodings default to
// the signed-integer family of the given size, mirroring insightd's factory
// fallback when a DWARF base-type encoding is absent.
func ByteSizeForEncoding(encoding string, size int) Kind {
	switch encoding {
	case "unsigned":
		switch size {
		case 1:
			return KindUint8
		case 2:
			return KindUint16
		case 4:
			return KindUint32
		default:
			return KindUint64
		}
	case "boolean":
		switch size {
		case 1:
			return KindBool8
		case 2:
			return KindBool16
		case 4:
			return KindBool32
		default:
			return KindBool64
		}
	case "float":
		if size == 4 {
			return KindFloat
		}
		return KindDouble
	default: // "signed" and anything unrecognised
		switch size {
		case 1:
			return KindInt8
		case 2:
			return KindInt16
		case 4:
			return KindInt32
		default:
			return KindInt64
		}
	}
}
