package symstream

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := NewEncoder(Header{Major: 1, Minor: 2})
	enc.Put(Record{ID: 10, Kind: RecordBaseType, Name: "long unsigned int", Size: 8, Encoding: "unsigned"})
	enc.Put(Record{ID: 11, Kind: RecordPointer, Size: 8, Referent: 10})
	enc.Put(Record{
		ID: 12, Kind: RecordStruct, Name: "list_head", Size: 16,
		Sub: []SubRecord{
			{Name: "next", Offset: 0, Referent: 11},
			{Name: "prev", Offset: 8, Referent: 11},
		},
	})
	enc.Put(Record{ID: 20, Kind: RecordVariable, Name: "init_task", Referent: 12, Address: 0xffffffff81c18440})

	dec, err := NewDecoder(enc.Bytes())
	require.NoError(t, err)
	require.Equal(t, Header{Major: 1, Minor: 2}, dec.Header())

	var got []Record
	for {
		rec, ok, err := dec.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, rec)
	}
	require.Len(t, got, 4)
	require.Equal(t, "long unsigned int", got[0].Name)
	require.Equal(t, "unsigned", got[0].Encoding)
	require.EqualValues(t, 10, got[1].Referent)
	require.Len(t, got[2].Sub, 2)
	require.Equal(t, "next", got[2].Sub[0].Name)
	require.EqualValues(t, 0xffffffff81c18440, got[3].Address)
}

func TestEncodeDecodeRoundTrip_SourceFile(t *testing.T) {
	enc := NewEncoder(Header{Major: 1, Minor: 2})
	enc.Put(Record{ID: 30, Kind: RecordCompileUnit, Name: "mm/slab.c", SourceFile: "/build/kernel/mm/slab.c"})

	dec, err := NewDecoder(enc.Bytes())
	require.NoError(t, err)
	rec, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/build/kernel/mm/slab.c", rec.SourceFile)
}

func TestDecode_LegacySourceFileCharset(t *testing.T) {
	body := encodeRecordBody(Record{ID: 30, Kind: RecordCompileUnit, Name: "mm/slab.c", SourceFile: "ignored"})

	// Flip the trailing record's charset tag to CP437 and replace its
	// SourceFile bytes with 0x81, which CP437 maps to 'ü' but is not valid
	// standalone UTF-8.
	tagOff := len(body) - 2 - len("ignored") - 1
	body[tagOff] = sourceCharsetCP437
	binary.LittleEndian.PutUint16(body[tagOff+1:tagOff+3], 1)
	body = append(body[:tagOff+3], 0x81)

	rec, err := decodeRecordBody(body)
	require.NoError(t, err)
	require.Equal(t, "ü", rec.SourceFile)
}

func TestReadHeader_IncompatibleMajor(t *testing.T) {
	enc := NewEncoder(Header{Major: 99, Minor: 0})
	_, err := NewDecoder(enc.Bytes())
	require.Error(t, err)
}

func TestNext_MalformedLength(t *testing.T) {
	dec, err := NewDecoder(NewEncoder(Header{Major: 1}).Bytes())
	require.NoError(t, err)
	dec.buf = append(dec.buf, 0xFF, 0xFF, 0xFF, 0xFF) // huge length prefix, no body
	_, _, err = dec.Next()
	require.Error(t, err)
}
