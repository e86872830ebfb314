package mapbuilder

import (
	"context"
	"encoding/binary"
	"os"
	"sort"
	"testing"

	"github.com/chrschn/insightgo/internal/dump"
	"github.com/chrschn/insightgo/internal/memspecs"
	"github.com/chrschn/insightgo/internal/symstream"
	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/vmi/rangemap"
	"github.com/chrschn/insightgo/vmi/typegraph"
	"github.com/chrschn/insightgo/vmi/vmem"
	"github.com/stretchr/testify/require"
)

// fixture builds a minimal task_struct{pid int; next *task_struct} graph and
// a backing dump file the caller can write linked-list nodes into directly.
func fixture(t *testing.T) (*typegraph.Graph, *vmem.Translator, string) {
	t.Helper()
	g := typegraph.New()
	require.NoError(t, g.Add(symstream.Record{ID: 1, Kind: symstream.RecordBaseType, Name: "int", Size: 4, Encoding: "signed"}))
	require.NoError(t, g.Add(symstream.Record{ID: 2, Kind: symstream.RecordPointer, Size: 8, Referent: 10}))
	require.NoError(t, g.Add(symstream.Record{ID: 10, Kind: symstream.RecordStruct, Name: "task_struct", Size: 16, Sub: []symstream.SubRecord{
		{Name: "pid", Offset: 0, Referent: 1},
		{Name: "next", Offset: 8, Referent: 2},
	}}))
	g.Resolve()

	f, err := os.CreateTemp(t.TempDir(), "dump-*.img")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(0x10000))
	require.NoError(t, f.Close())
	d, err := dump.Open(f.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	tr := vmem.New(d, &memspecs.Specs{Arch: memspecs.ArchX86_64, SizeofPointer: 8, SizeofLong: 8})
	return g, tr, f.Name()
}

func writeNext(t *testing.T, path string, taskAddr uint64, next uint64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	defer f.Close()
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, next)
	_, err = f.WriteAt(buf, int64(taskAddr+8))
	require.NoError(t, err)
}

func newBuilder(g *typegraph.Graph, mem *vmem.Translator, workers int) *Builder {
	return &Builder{
		Graph: g,
		Mem:   mem,
		Opts:  Options{Cutoff: 0.01, Workers: workers},
	}
}

// TestRun_FollowsLinkedList covers §8's basic traversal scenario: a root
// task_struct whose next pointer chases to a second, terminated by null.
func TestRun_FollowsLinkedList(t *testing.T) {
	g, mem, path := fixture(t)
	writeNext(t, path, 0x1000, 0x2000)
	writeNext(t, path, 0x2000, 0)

	b := newBuilder(g, mem, 1)
	m, err := b.Run(context.Background(), []RootInstance{{Name: "init_task", Address: 0x1000, Type: 10}})
	require.NoError(t, err)
	require.EqualValues(t, 2, m.Processed)
	require.Equal(t, 2, m.Virtual.Len())

	addrs := nodeAddrs(m.Virtual)
	require.ElementsMatch(t, []uint64{0x1000, 0x2000}, addrs)
	require.False(t, m.Virtual.Incomplete())
}

// TestRun_DeduplicatesSharedNode covers §8 end-to-end scenario 6: two roots
// whose next pointers both land on the same node attach as two parents of
// one node rather than allocating a duplicate.
func TestRun_DeduplicatesSharedNode(t *testing.T) {
	g, mem, path := fixture(t)
	writeNext(t, path, 0x1000, 0x3000)
	writeNext(t, path, 0x2000, 0x3000)
	writeNext(t, path, 0x3000, 0)

	b := newBuilder(g, mem, 1)
	m, err := b.Run(context.Background(), []RootInstance{
		{Name: "a", Address: 0x1000, Type: 10},
		{Name: "b", Address: 0x2000, Type: 10},
	})
	require.NoError(t, err)
	require.Equal(t, 3, m.Virtual.Len(), "only one node should exist at 0x3000 despite two inbound edges")

	shared, ok := m.Virtual.FindDuplicate(0x3000, hashOf(t, g, 10))
	require.True(t, ok)
	node, ok := m.Virtual.Node(shared)
	require.True(t, ok)
	require.Len(t, node.Parents, 2, "second parent should attach rather than duplicate the node")
}

// TestRun_WellFormednessRejectsNull covers the well-formedness filter: a
// null next pointer terminates the chase without producing a node or
// panicking.
func TestRun_WellFormednessRejectsNull(t *testing.T) {
	g, mem, path := fixture(t)
	writeNext(t, path, 0x1000, 0)

	b := newBuilder(g, mem, 1)
	m, err := b.Run(context.Background(), []RootInstance{{Name: "init_task", Address: 0x1000, Type: 10}})
	require.NoError(t, err)
	require.EqualValues(t, 1, m.Processed)
	require.Equal(t, 1, m.Virtual.Len())
}

// TestRun_WellFormednessRejectsMisaligned checks an unaligned pointer value
// is dropped by the well-formedness filter instead of being chased.
func TestRun_WellFormednessRejectsMisaligned(t *testing.T) {
	g, mem, path := fixture(t)
	writeNext(t, path, 0x1000, 0x2003)

	b := newBuilder(g, mem, 1)
	m, err := b.Run(context.Background(), []RootInstance{{Name: "init_task", Address: 0x1000, Type: 10}})
	require.NoError(t, err)
	require.Equal(t, 1, m.Virtual.Len())
}

// TestRun_DeterministicNodeSetAcrossWorkerCounts covers §5's ordering
// guarantee: the reachable node set does not depend on how many workers
// raced to build it, since probability is a pure function of a node's own
// content.
func TestRun_DeterministicNodeSetAcrossWorkerCounts(t *testing.T) {
	g, mem, path := fixture(t)
	writeNext(t, path, 0x1000, 0x2000)
	writeNext(t, path, 0x2000, 0x3000)
	writeNext(t, path, 0x3000, 0x4000)
	writeNext(t, path, 0x4000, 0)

	root := []RootInstance{{Name: "init_task", Address: 0x1000, Type: 10}}

	b1 := newBuilder(g, mem, 1)
	m1, err := b1.Run(context.Background(), root)
	require.NoError(t, err)

	b4 := newBuilder(g, mem, 4)
	m4, err := b4.Run(context.Background(), root)
	require.NoError(t, err)

	require.ElementsMatch(t, nodeAddrs(m1.Virtual), nodeAddrs(m4.Virtual))
}

// TestRun_FollowsPointerSizedIntegerMember covers §4.6 step 4: a struct
// member declared as a plain pointer-width integer (kernel code routinely
// stores an address in an `unsigned long` field) is still read, validated,
// and chased as a candidate address, the same as a typed pointer member.
func TestRun_FollowsPointerSizedIntegerMember(t *testing.T) {
	g := typegraph.New()
	require.NoError(t, g.Add(symstream.Record{ID: 1, Kind: symstream.RecordBaseType, Name: "int", Size: 4, Encoding: "signed"}))
	require.NoError(t, g.Add(symstream.Record{ID: 2, Kind: symstream.RecordBaseType, Name: "unsigned long", Size: 8, Encoding: "unsigned"}))
	require.NoError(t, g.Add(symstream.Record{ID: 10, Kind: symstream.RecordStruct, Name: "raw_link", Size: 16, Sub: []symstream.SubRecord{
		{Name: "pid", Offset: 0, Referent: 1},
		{Name: "next", Offset: 8, Referent: 2},
	}}))
	g.Resolve()

	f, err := os.CreateTemp(t.TempDir(), "dump-*.img")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(0x10000))
	require.NoError(t, f.Close())
	d, err := dump.Open(f.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	mem := vmem.New(d, &memspecs.Specs{Arch: memspecs.ArchX86_64, SizeofPointer: 8, SizeofLong: 8})
	writeNext(t, f.Name(), 0x1000, 0x2000)
	writeNext(t, f.Name(), 0x2000, 0)

	b := newBuilder(g, mem, 1)
	m, err := b.Run(context.Background(), []RootInstance{{Name: "init_task", Address: 0x1000, Type: 10}})
	require.NoError(t, err)
	require.EqualValues(t, 2, m.Processed)
	require.ElementsMatch(t, []uint64{0x1000, 0x2000}, nodeAddrs(m.Virtual))
}

// TestInterrupt_MarksMapIncomplete checks that an interrupted run still
// returns a usable, but flagged, partial map.
func TestInterrupt_MarksMapIncomplete(t *testing.T) {
	g, mem, path := fixture(t)
	writeNext(t, path, 0x1000, 0x2000)
	writeNext(t, path, 0x2000, 0)

	b := newBuilder(g, mem, 1)
	b.Interrupt()
	m, err := b.Run(context.Background(), []RootInstance{{Name: "init_task", Address: 0x1000, Type: 10}})
	require.NoError(t, err)
	require.True(t, m.Virtual.Incomplete())
}

func nodeAddrs(m *rangemap.Map) []uint64 {
	nodes := m.All()
	out := make([]uint64, len(nodes))
	for i, n := range nodes {
		out[i] = n.Address
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func hashOf(t *testing.T, g *typegraph.Graph, id types.TypeID) types.Hash {
	t.Helper()
	ty, ok := g.FindByID(id)
	require.True(t, ok)
	h, ok := ty.CachedHash()
	require.True(t, ok)
	return h
}
