package instance

import (
	"math"

	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/pkg/vmierr"
)

// ToPointer reads the instance as a raw pointer value, validating the kind
// first (§4.3 "to_pointer").
func (v View) ToPointer() (uint64, error) {
	t, err := v.Type()
	if err != nil {
		return 0, err
	}
	if t.Kind != types.KindPointer && t.Kind != types.KindFuncPointer {
		return 0, vmierr.Wrap(vmierr.KindType, "instance: to_pointer() on non-pointer kind "+t.Kind.String(), vmierr.ErrKindMismatch)
	}
	return v.mem.ReadU64(v.inst.Address)
}

// ToInt64 decodes the instance as a signed integer, honouring a bit-field
// slice if present (§4.3 "to_integer<T>").
func (v View) ToInt64() (int64, error) {
	raw, t, err := v.readRawWord()
	if err != nil {
		return 0, err
	}
	if !t.Kind.IsNumeric() {
		return 0, vmierr.Wrap(vmierr.KindType, "instance: to_integer() on non-numeric kind "+t.Kind.String(), vmierr.ErrKindMismatch)
	}
	switch t.Kind {
	case types.KindFloat, types.KindDouble:
		return 0, vmierr.Wrap(vmierr.KindType, "instance: to_integer() on floating-point kind", vmierr.ErrKindMismatch)
	}
	bits := t.Size * 8
	if v.inst.BitField != nil {
		bits = uint64(v.inst.BitField.BitSize)
	}
	signed := int64(raw)
	if bits < 64 && bits > 0 {
		shift := 64 - bits
		signed = (signed << shift) >> shift // sign-extend from the narrower width
	}
	return signed, nil
}

// ToUint64 is ToInt64's unsigned counterpart.
func (v View) ToUint64() (uint64, error) {
	raw, t, err := v.readRawWord()
	if err != nil {
		return 0, err
	}
	if !t.Kind.IsNumeric() {
		return 0, vmierr.Wrap(vmierr.KindType, "instance: to_integer() on non-numeric kind "+t.Kind.String(), vmierr.ErrKindMismatch)
	}
	return raw, nil
}

// ToFloat decodes the instance as a float32/float64 (§4.3 "to_float").
func (v View) ToFloat() (float64, error) {
	t, err := v.Type()
	if err != nil {
		return 0, err
	}
	switch t.Kind {
	case types.KindFloat:
		raw, err := v.mem.ReadU32(v.inst.Address)
		if err != nil {
			return 0, err
		}
		return float64(math.Float32frombits(raw)), nil
	case types.KindDouble:
		raw, err := v.mem.ReadU64(v.inst.Address)
		if err != nil {
			return 0, err
		}
		return math.Float64frombits(raw), nil
	default:
		return 0, vmierr.Wrap(vmierr.KindType, "instance: to_float() on non-float kind "+t.Kind.String(), vmierr.ErrKindMismatch)
	}
}

// ToString decodes the instance as a NUL-terminated byte string, reading up
// to maxLen bytes (§4.3 "to_string"). The instance must be a char array or a
// pointer to one; maxLen bounds the worst case where the terminator is
// missing or corrupted.
func (v View) ToString(maxLen int) (string, error) {
	t, err := v.Type()
	if err != nil {
		return "", err
	}
	addr := v.inst.Address
	if t.Kind == types.KindPointer {
		addr, err = v.mem.ReadU64(v.inst.Address)
		if err != nil {
			return "", err
		}
	} else if t.Kind != types.KindArray {
		return "", vmierr.Wrap(vmierr.KindType, "instance: to_string() on non-string kind "+t.Kind.String(), vmierr.ErrKindMismatch)
	}

	buf := make([]byte, 0, maxLen)
	for i := 0; i < maxLen; i++ {
		b, err := v.mem.ReadU8(addr + uint64(i))
		if err != nil {
			return string(buf), err
		}
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
	return string(buf), nil
}

// readRawWord reads the instance's backing integer word, masking out a
// bit-field slice if the instance carries one.
func (v View) readRawWord() (uint64, *types.Type, error) {
	t, err := v.Type()
	if err != nil {
		return 0, nil, err
	}
	var raw uint64
	switch t.Size {
	case 1:
		b, err := v.mem.ReadU8(v.inst.Address)
		if err != nil {
			return 0, nil, err
		}
		raw = uint64(b)
	case 2:
		w, err := v.mem.ReadU16(v.inst.Address)
		if err != nil {
			return 0, nil, err
		}
		raw = uint64(w)
	case 4:
		w, err := v.mem.ReadU32(v.inst.Address)
		if err != nil {
			return 0, nil, err
		}
		raw = uint64(w)
	default:
		w, err := v.mem.ReadU64(v.inst.Address)
		if err != nil {
			return 0, nil, err
		}
		raw = w
	}
	if v.inst.BitField != nil {
		mask := uint64(1)<<v.inst.BitField.BitSize - 1
		raw = (raw >> v.inst.BitField.BitOffset) & mask
	}
	return raw, t, nil
}
