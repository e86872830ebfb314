// Package symstream decodes the versioned binary debug-record stream
// produced by the external symbol-extraction tool (§6 "Symbol stream").
// Records are length-prefixed, little-endian, and tolerant of older minor
// versions: readers supply defaults for fields a version upgrade added at
// the tail, the same forward-compatible posture the teacher's internal/format
// package takes with hive cell headers.
package symstream

import (
	"encoding/binary"
	"fmt"

	"github.com/chrschn/insightgo/pkg/vmierr"
	"golang.org/x/text/encoding/charmap"
)

// sourceCharset tags how a record's trailing SourceFile bytes are encoded.
// Older symbol-extraction toolchains run on Windows hosts and occasionally
// emit compile-unit paths in the host's OEM code page rather than UTF-8.
const (
	sourceCharsetUTF8  byte = 0
	sourceCharsetCP437 byte = 1
)

// RecordKind mirrors the symbol-stream wire tag for a single debug record.
type RecordKind uint8

const (
	RecordBaseType RecordKind = iota
	RecordPointer
	RecordArray
	RecordStruct
	RecordUnion
	RecordTypedef
	RecordConst
	RecordVolatile
	RecordEnum
	RecordFuncPointer
	RecordVariable
	RecordCompileUnit
)

// SubRecord is one member of an aggregate record's ordered sub-record list.
type SubRecord struct {
	Name      string
	Offset    uint64
	Referent  int64
	BitSize   int8
	BitOffset int8
}

// Record is one fully-decoded entry from the stream: a type or a variable,
// depending on Kind. Fields not meaningful for the current Kind are zero.
type Record struct {
	ID         int64
	Kind       RecordKind
	Name       string
	Size       uint64
	Encoding   string // "signed" | "unsigned" | "boolean" | "float" | ""
	Referent   int64  // 0 means "none" for this record's single referent edge
	ArrayLen   int64  // -1 when unknown
	Address    uint64 // RecordVariable only
	SourceFile string
	Sub        []SubRecord
}

// Header is the stream's leading major/minor version pair.
type Header struct {
	Major uint16
	Minor uint16
}

const maxSupportedMajor = 1

// ReadHeader reads the 4-byte version header from the front of the stream.
func ReadHeader(p []byte) (Header, int, error) {
	if len(p) < 4 {
		return Header{}, 0, vmierr.Wrap(vmierr.KindFormat, "symstream: truncated header", errShort)
	}
	h := Header{
		Major: binary.LittleEndian.Uint16(p[0:2]),
		Minor: binary.LittleEndian.Uint16(p[2:4]),
	}
	if h.Major > maxSupportedMajor {
		return h, 4, vmierr.ErrIncompatibleMajor
	}
	return h, 4, nil
}

var errShort = fmt.Errorf("symstream: buffer shorter than required")

// Decoder reads a sequence of length-prefixed Records from a byte slice. It
// does not own the slice; callers typically hand it a dump.Bytes() view or
// a loaded file's contents.
type Decoder struct {
	buf []byte
	off int
	hdr Header
}

// NewDecoder builds a Decoder over buf, consuming the version header.
func NewDecoder(buf []byte) (*Decoder, error) {
	hdr, n, err := ReadHeader(buf)
	if err != nil {
		return nil, err
	}
	return &Decoder{buf: buf, off: n, hdr: hdr}, nil
}

// Header returns the stream's version header.
func (d *Decoder) Header() Header { return d.hdr }

// Next decodes the next record, or returns (Record{}, false, nil) at end of
// stream. A record whose fixed attributes are incomplete fails with
// ErrMalformedSymbol (§4.1 "Errors").
func (d *Decoder) Next() (Record, bool, error) {
	if d.off >= len(d.buf) {
		return Record{}, false, nil
	}
	if d.off+4 > len(d.buf) {
		return Record{}, false, vmierr.Wrap(vmierr.KindFormat, "symstream: truncated length prefix", errShort)
	}
	length := int(binary.LittleEndian.Uint32(d.buf[d.off:]))
	start := d.off + 4
	if length < minRecordFixedSize || start+length > len(d.buf) {
		return Record{}, false, vmierr.Wrap(vmierr.KindFormat, "symstream: record length out of bounds", vmierr.ErrMalformedSymbol)
	}
	rec, err := decodeRecordBody(d.buf[start : start+length])
	if err != nil {
		return Record{}, false, err
	}
	d.off = start + length
	return rec, true, nil
}

// minRecordFixedSize is the byte count of every record's fixed prefix
// (id, kind, size, referent, encoding-tag, name-length) before any
// version-specific tail fields or sub-records.
const minRecordFixedSize = 8 + 1 + 8 + 8 + 1 + 2

func decodeRecordBody(b []byte) (Record, error) {
	if len(b) < minRecordFixedSize {
		return Record{}, vmierr.Wrap(vmierr.KindFormat, "symstream: record shorter than fixed prefix", vmierr.ErrMalformedSymbol)
	}
	r := Record{}
	r.ID = int64(binary.LittleEndian.Uint64(b[0:8]))
	r.Kind = RecordKind(b[8])
	r.Size = binary.LittleEndian.Uint64(b[9:17])
	r.Referent = int64(binary.LittleEndian.Uint64(b[17:25]))
	encTag := b[25]
	r.Encoding = decodeEncodingTag(encTag)
	nameLen := int(binary.LittleEndian.Uint16(b[26:28]))
	off := 28
	if off+nameLen > len(b) {
		return Record{}, vmierr.Wrap(vmierr.KindFormat, "symstream: name length exceeds record", vmierr.ErrMalformedSymbol)
	}
	r.Name = string(b[off : off+nameLen])
	off += nameLen

	switch r.Kind {
	case RecordVariable:
		if off+8 > len(b) {
			return Record{}, vmierr.Wrap(vmierr.KindFormat, "symstream: variable missing address", vmierr.ErrMalformedSymbol)
		}
		r.Address = binary.LittleEndian.Uint64(b[off : off+8])
		off += 8
	case RecordArray:
		r.ArrayLen = -1
		if off+8 <= len(b) {
			r.ArrayLen = int64(binary.LittleEndian.Uint64(b[off : off+8]))
			off += 8
		}
	}

	if off+2 <= len(b) {
		subCount := int(binary.LittleEndian.Uint16(b[off : off+2]))
		off += 2
		subs := make([]SubRecord, 0, subCount)
		for i := 0; i < subCount; i++ {
			sr, consumed, err := decodeSubRecord(b[off:])
			if err != nil {
				return Record{}, err
			}
			subs = append(subs, sr)
			off += consumed
		}
		r.Sub = subs
	}

	// SourceFile is a tail field: a 1-byte charset tag plus a length-prefixed
	// byte string. Streams from before this field existed simply end here,
	// so a short remainder just leaves r.SourceFile empty rather than erroring.
	if off+1+2 <= len(b) {
		charset := b[off]
		off++
		srcLen := int(binary.LittleEndian.Uint16(b[off : off+2]))
		off += 2
		if off+srcLen <= len(b) {
			raw := b[off : off+srcLen]
			off += srcLen
			switch charset {
			case sourceCharsetCP437:
				decoded, err := charmap.CodePage437.NewDecoder().Bytes(raw)
				if err != nil {
					return Record{}, vmierr.Wrap(vmierr.KindFormat, "symstream: invalid legacy-encoded source file", err)
				}
				r.SourceFile = string(decoded)
			default:
				r.SourceFile = string(raw)
			}
		}
	}
	// Any bytes beyond this point belong to a newer minor version's tail
	// fields; readers on an older version simply stop here and use zero
	// values for anything they don't recognise.
	return r, nil
}

func decodeSubRecord(b []byte) (SubRecord, int, error) {
	const fixed = 8 + 8 + 1 + 1 + 2
	if len(b) < fixed {
		return SubRecord{}, 0, vmierr.Wrap(vmierr.KindFormat, "symstream: truncated sub-record", vmierr.ErrMalformedSymbol)
	}
	offset := binary.LittleEndian.Uint64(b[0:8])
	referent := int64(binary.LittleEndian.Uint64(b[8:16]))
	bitSize := int8(b[16])
	bitOffset := int8(b[17])
	nameLen := int(binary.LittleEndian.Uint16(b[18:20]))
	if fixed+nameLen > len(b) {
		return SubRecord{}, 0, vmierr.Wrap(vmierr.KindFormat, "symstream: sub-record name exceeds buffer", vmierr.ErrMalformedSymbol)
	}
	name := string(b[fixed : fixed+nameLen])
	return SubRecord{
		Name:      name,
		Offset:    offset,
		Referent:  referent,
		BitSize:   bitSize,
		BitOffset: bitOffset,
	}, fixed + nameLen, nil
}

func decodeEncodingTag(tag byte) string {
	switch tag {
	case 1:
		return "signed"
	case 2:
		return "unsigned"
	case 3:
		return "boolean"
	case 4:
		return "float"
	default:
		return ""
	}
}
