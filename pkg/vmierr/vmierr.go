// Package vmierr defines the typed-error vocabulary shared by every layer of
// the introspection engine, so callers can branch on intent (retry, lower a
// probability score, abort a command) instead of matching error strings.
package vmierr

import "fmt"

// Kind classifies an error into one of the four outward-facing categories
// plus the always-recovered expression-evaluation category.
type Kind int

const (
	// KindMemoryAccess covers a failed page-table walk or a read beyond the
	// backing dump. Recovered locally by the scorer and the builder's
	// well-formedness check; surfaced when the caller is a scripted query.
	KindMemoryAccess Kind = iota
	// KindType covers an operation inapplicable to an instance's kind, e.g.
	// member() on an int, array_elem() on a struct, or an unresolved referent.
	KindType
	// KindRule covers a rule that failed its static check (bad XML,
	// non-existent referenced type, an expression that does not type-check
	// against its declared source type).
	KindRule
	// KindFormat covers a malformed symbol record or an incomplete memory
	// specification.
	KindFormat
	// KindExpressionEval marks an undecidable expression. Always recovered:
	// it lowers a probability score but never aborts a traversal.
	KindExpressionEval
)

func (k Kind) String() string {
	switch k {
	case KindMemoryAccess:
		return "memory_access"
	case KindType:
		return "type_error"
	case KindRule:
		return "rule_error"
	case KindFormat:
		return "malformed_symbol"
	case KindExpressionEval:
		return "expression_eval"
	default:
		return fmt.Sprintf("vmierr.Kind(%d)", int(k))
	}
}

// Error is a typed error with an optional underlying cause, mirroring the
// teacher repo's pkg/types.Error shape so call sites can type-switch on Kind
// rather than parsing messages.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(k Kind, msg string) *Error { return &Error{Kind: k, Msg: msg} }

// Newf builds an *Error of the given kind with a formatted message.
func Newf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind with an underlying cause.
func Wrap(k Kind, msg string, cause error) *Error { return &Error{Kind: k, Msg: msg, Err: cause} }

// Sentinels commonly returned by implementations across the engine.
var (
	ErrUnresolvedType    = New(KindType, "referent type is unresolved")
	ErrNotAddressable    = New(KindType, "instance has no decodable address")
	ErrKindMismatch      = New(KindType, "operation not applicable to this type kind")
	ErrIndexOutOfBounds  = New(KindType, "array index out of bounds")
	ErrNotSafeSeekable   = New(KindMemoryAccess, "address is not safe-seekable")
	ErrPageNotPresent    = New(KindMemoryAccess, "page table entry not present")
	ErrOutsideSplit      = New(KindMemoryAccess, "address outside requested user/kernel split")
	ErrIncompleteSpecs   = New(KindFormat, "memory specification missing required keys")
	ErrMalformedSymbol   = New(KindFormat, "debug record missing required fixed attributes")
	ErrIncompatibleMajor = New(KindFormat, "symbol stream major version unsupported")
	ErrRuleFilterMissing = New(KindRule, "rule has no instance filter")
	ErrRuleTypeAmbiguous = New(KindRule, "rule action source/target type ambiguous")
)

// IsKind reports whether err (or something it wraps) is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == k {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
