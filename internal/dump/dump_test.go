package dump

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAndReadPrimitives(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "phys.img")
	data := []byte{
		0xef, 0xbe, 0xad, 0xde, // U32 @0 little-endian 0xdeadbeef
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, // U64 @4
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	d, err := Open(path)
	require.NoError(t, err)
	defer d.Close()

	require.EqualValues(t, len(data), d.Size())

	v32, err := d.U32(0)
	require.NoError(t, err)
	require.EqualValues(t, 0xdeadbeef, v32)

	v64, err := d.U64(4)
	require.NoError(t, err)
	require.EqualValues(t, 0x0807060504030201, v64)

	_, err = d.U64(5) // would overrun
	require.Error(t, err)

	require.True(t, d.SafeReadAt(make([]byte, 4), 0))
	require.False(t, d.SafeReadAt(make([]byte, 4), int64(len(data))+100))
}

func TestBytesAliasesMapping(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "phys.img")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3, 4}, 0o644))

	d, err := Open(path)
	require.NoError(t, err)
	defer d.Close()

	b, err := d.Bytes(1, 2)
	require.NoError(t, err)
	require.Equal(t, []byte{2, 3}, b)

	_, err = d.Bytes(3, 5)
	require.Error(t, err)
}
