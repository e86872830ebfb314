package symstream

import "encoding/binary"

// Encoder builds a symbol stream buffer. It exists primarily to construct
// test fixtures and to support round-tripping a type graph back to the wire
// format the invariants in §3 require ("a round-trip of a type graph").
type Encoder struct {
	buf []byte
}

// NewEncoder starts a fresh stream with the given version header.
func NewEncoder(hdr Header) *Encoder {
	e := &Encoder{buf: make([]byte, 4)}
	binary.LittleEndian.PutUint16(e.buf[0:2], hdr.Major)
	binary.LittleEndian.PutUint16(e.buf[2:4], hdr.Minor)
	return e
}

// Bytes returns the encoded stream so far.
func (e *Encoder) Bytes() []byte { return e.buf }

// Put appends rec as a length-prefixed record.
func (e *Encoder) Put(rec Record) {
	body := encodeRecordBody(rec)
	lenPrefix := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenPrefix, uint32(len(body)))
	e.buf = append(e.buf, lenPrefix...)
	e.buf = append(e.buf, body...)
}

func encodeRecordBody(r Record) []byte {
	b := make([]byte, 0, minRecordFixedSize+len(r.Name)+32)
	var tmp [8]byte

	binary.LittleEndian.PutUint64(tmp[:], uint64(r.ID))
	b = append(b, tmp[:]...)
	b = append(b, byte(r.Kind))
	binary.LittleEndian.PutUint64(tmp[:], r.Size)
	b = append(b, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], uint64(r.Referent))
	b = append(b, tmp[:]...)
	b = append(b, encodeEncodingTag(r.Encoding))
	var tmp2 [2]byte
	binary.LittleEndian.PutUint16(tmp2[:], uint16(len(r.Name)))
	b = append(b, tmp2[:]...)
	b = append(b, []byte(r.Name)...)

	switch r.Kind {
	case RecordVariable:
		binary.LittleEndian.PutUint64(tmp[:], r.Address)
		b = append(b, tmp[:]...)
	case RecordArray:
		binary.LittleEndian.PutUint64(tmp[:], uint64(r.ArrayLen))
		b = append(b, tmp[:]...)
	}

	binary.LittleEndian.PutUint16(tmp2[:], uint16(len(r.Sub)))
	b = append(b, tmp2[:]...)
	for _, sr := range r.Sub {
		binary.LittleEndian.PutUint64(tmp[:], sr.Offset)
		b = append(b, tmp[:]...)
		binary.LittleEndian.PutUint64(tmp[:], uint64(sr.Referent))
		b = append(b, tmp[:]...)
		b = append(b, byte(sr.BitSize), byte(sr.BitOffset))
		binary.LittleEndian.PutUint16(tmp2[:], uint16(len(sr.Name)))
		b = append(b, tmp2[:]...)
		b = append(b, []byte(sr.Name)...)
	}

	// Encoder always writes SourceFile as UTF-8; the CP437 charset tag is
	// only ever produced by the external symbol-extraction tool.
	b = append(b, sourceCharsetUTF8)
	binary.LittleEndian.PutUint16(tmp2[:], uint16(len(r.SourceFile)))
	b = append(b, tmp2[:]...)
	b = append(b, []byte(r.SourceFile)...)
	return b
}

func encodeEncodingTag(enc string) byte {
	switch enc {
	case "signed":
		return 1
	case "unsigned":
		return 2
	case "boolean":
		return 3
	case "float":
		return 4
	default:
		return 0
	}
}
