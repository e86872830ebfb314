package instance

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/chrschn/insightgo/internal/dump"
	"github.com/chrschn/insightgo/internal/memspecs"
	"github.com/chrschn/insightgo/internal/symstream"
	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/vmi/typegraph"
	"github.com/chrschn/insightgo/vmi/vmem"
	"github.com/stretchr/testify/require"
)

// fixture builds a small type graph (int, pointer-to-int, a 2-field struct,
// an int array, and a char array) plus a dump whose linear mapping makes
// every virtual address equal to its physical offset, so test data can be
// written at whatever address is convenient. It returns the graph, the
// translator, and the backing file's path for direct fixture writes.
func fixture(t *testing.T) (*typegraph.Graph, *vmem.Translator, string) {
	t.Helper()
	g := typegraph.New()
	require.NoError(t, g.Add(symstream.Record{ID: 1, Kind: symstream.RecordBaseType, Name: "int", Size: 4, Encoding: "signed"}))
	require.NoError(t, g.Add(symstream.Record{ID: 2, Kind: symstream.RecordPointer, Size: 8, Referent: 1}))
	require.NoError(t, g.Add(symstream.Record{ID: 10, Kind: symstream.RecordStruct, Name: "point", Size: 8, Sub: []symstream.SubRecord{
		{Name: "x", Offset: 0, Referent: 1},
		{Name: "y", Offset: 4, Referent: 1},
	}}))
	require.NoError(t, g.Add(symstream.Record{ID: 20, Kind: symstream.RecordArray, Size: 12, Referent: 1, ArrayLen: 3}))
	require.NoError(t, g.Add(symstream.Record{ID: 30, Kind: symstream.RecordBaseType, Name: "char", Size: 1, Encoding: "signed"}))
	require.NoError(t, g.Add(symstream.Record{ID: 31, Kind: symstream.RecordArray, Size: 8, Referent: 30, ArrayLen: 8}))
	g.Resolve()

	f, err := os.CreateTemp(t.TempDir(), "dump-*.img")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(0x10000))
	require.NoError(t, f.Close())
	d, err := dump.Open(f.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	tr := vmem.New(d, &memspecs.Specs{PageOffset: 0, HighMemory: 0, Arch: memspecs.ArchX86_64})
	return g, tr, f.Name()
}

func instanceOf(typeID int64, addr uint64) types.Instance {
	return types.Instance{Address: addr, Type: types.TypeID(typeID), Origin: types.OriginManual}
}

func writeU32At(t *testing.T, path string, off int64, v uint32) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	defer f.Close()
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	_, err = f.WriteAt(buf, off)
	require.NoError(t, err)
}

func writeU64At(t *testing.T, path string, off int64, v uint64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	defer f.Close()
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	_, err = f.WriteAt(buf, off)
	require.NoError(t, err)
}

func writeBytesAt(t *testing.T, path string, off int64, b []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt(b, off)
	require.NoError(t, err)
}

func TestMemberAndDereference(t *testing.T) {
	g, tr, path := fixture(t)
	writeU32At(t, path, 0x1000, 7)
	writeU32At(t, path, 0x1004, 9)

	point := New(g, tr, instanceOf(10, 0x1000))
	x, err := point.Member("x")
	require.NoError(t, err)
	require.EqualValues(t, 0x1000, x.Address())
	xv, err := x.ToInt64()
	require.NoError(t, err)
	require.EqualValues(t, 7, xv)

	y, err := point.Member("y")
	require.NoError(t, err)
	yv, err := y.ToInt64()
	require.NoError(t, err)
	require.EqualValues(t, 9, yv)
	require.Equal(t, "y", y.Name())

	_, err = point.Member("z")
	require.Error(t, err)
}

func TestDereferencePointer(t *testing.T) {
	g, tr, path := fixture(t)
	writeU32At(t, path, 0x1000, 42)
	writeU64At(t, path, 0x2000, 0x1000)

	ptr := New(g, tr, instanceOf(2, 0x2000))
	target, err := ptr.Dereference(DerefOptions{})
	require.NoError(t, err)
	v, err := target.ToInt64()
	require.NoError(t, err)
	require.EqualValues(t, 42, v)
}

func TestArrayElem(t *testing.T) {
	g, tr, path := fixture(t)
	writeU32At(t, path, 0x3000, 10)
	writeU32At(t, path, 0x3004, 20)
	writeU32At(t, path, 0x3008, 30)

	arr := New(g, tr, instanceOf(20, 0x3000))
	e1, err := arr.ArrayElem(1)
	require.NoError(t, err)
	v, err := e1.ToInt64()
	require.NoError(t, err)
	require.EqualValues(t, 20, v)

	_, err = arr.ArrayElem(5)
	require.Error(t, err)
}

func TestToString(t *testing.T) {
	g, tr, path := fixture(t)
	writeBytesAt(t, path, 0x4000, []byte("hi\x00garbage"))

	s := New(g, tr, instanceOf(31, 0x4000))
	str, err := s.ToString(8)
	require.NoError(t, err)
	require.Equal(t, "hi", str)
}

func TestOverlapsAndFindMemberByOffset(t *testing.T) {
	g, tr, _ := fixture(t)
	point := New(g, tr, instanceOf(10, 0x5000))
	adjacent := New(g, tr, instanceOf(1, 0x5004))
	require.True(t, point.Overlaps(adjacent))

	far := New(g, tr, instanceOf(1, 0x6000))
	require.False(t, point.Overlaps(far))

	member, ok := point.FindMemberByOffset(4)
	require.True(t, ok)
	require.EqualValues(t, 0x5004, member.Address())
}

func TestIsNullAndIsAccessible(t *testing.T) {
	g, tr, _ := fixture(t)
	null := New(g, tr, instanceOf(1, 0))
	require.True(t, null.IsNull())
	require.False(t, null.IsAccessible())

	live := New(g, tr, instanceOf(1, 0x1000))
	require.True(t, live.IsAccessible())
}
