package typegraph

import (
	"testing"

	"github.com/chrschn/insightgo/internal/symstream"
	"github.com/chrschn/insightgo/pkg/types"
	"github.com/stretchr/testify/require"
)

func mustAdd(t *testing.T, g *Graph, rec symstream.Record) {
	t.Helper()
	require.NoError(t, g.Add(rec))
}

func TestAdd_BaseTypeAndResolve(t *testing.T) {
	g := New()
	mustAdd(t, g, symstream.Record{ID: 1, Kind: symstream.RecordBaseType, Name: "long unsigned int", Size: 8, Encoding: "unsigned"})
	mustAdd(t, g, symstream.Record{ID: 2, Kind: symstream.RecordPointer, Size: 8, Referent: 1})

	ptr, ok := g.FindByID(2)
	require.True(t, ok)
	require.Equal(t, types.KindPointer, ptr.Kind)
	require.EqualValues(t, 1, ptr.Referent)
	require.False(t, ptr.IsUnresolved())

	g.Resolve()
	require.Empty(t, g.Warnings())
	require.Zero(t, g.PostponedCount())
}

func TestResolve_WarnsOnUnobservedReferent(t *testing.T) {
	g := New()
	mustAdd(t, g, symstream.Record{ID: 2, Kind: symstream.RecordPointer, Size: 8, Referent: 99})
	g.Resolve()
	require.NotEmpty(t, g.Warnings())

	ptr, _ := g.FindByID(2)
	require.True(t, ptr.IsUnresolved())
}

func TestHash_EqualForStructurallyIdenticalTypes(t *testing.T) {
	g := New()
	mustAdd(t, g, symstream.Record{ID: 1, Kind: symstream.RecordBaseType, Name: "int", Size: 4, Encoding: "signed"})
	mustAdd(t, g, symstream.Record{
		ID: 10, Kind: symstream.RecordStruct, Name: "point_a", Size: 8,
		Sub: []symstream.SubRecord{
			{Name: "x", Offset: 0, Referent: 1},
			{Name: "y", Offset: 4, Referent: 1},
		},
	})
	// Same body, permuted declaration order, different name: should hash equal.
	mustAdd(t, g, symstream.Record{
		ID: 11, Kind: symstream.RecordStruct, Name: "point_b", Size: 8,
		Sub: []symstream.SubRecord{
			{Name: "y", Offset: 4, Referent: 1},
			{Name: "x", Offset: 0, Referent: 1},
		},
	})

	a, _ := g.FindByID(10)
	b, _ := g.FindByID(11)
	ha, _ := a.CachedHash()
	hb, _ := b.CachedHash()
	require.Equal(t, ha, hb)
}

func TestHash_DiffersForDifferentBodies(t *testing.T) {
	g := New()
	mustAdd(t, g, symstream.Record{ID: 1, Kind: symstream.RecordBaseType, Name: "int", Size: 4, Encoding: "signed"})
	mustAdd(t, g, symstream.Record{ID: 2, Kind: symstream.RecordBaseType, Name: "long", Size: 8, Encoding: "signed"})
	mustAdd(t, g, symstream.Record{ID: 10, Kind: symstream.RecordStruct, Name: "a", Size: 4, Sub: []symstream.SubRecord{{Name: "x", Offset: 0, Referent: 1}}})
	mustAdd(t, g, symstream.Record{ID: 11, Kind: symstream.RecordStruct, Name: "b", Size: 8, Sub: []symstream.SubRecord{{Name: "x", Offset: 0, Referent: 2}}})

	a, _ := g.FindByID(10)
	b, _ := g.FindByID(11)
	ha, _ := a.CachedHash()
	hb, _ := b.CachedHash()
	require.NotEqual(t, ha, hb)
}

func TestHash_CyclicStructTerminates(t *testing.T) {
	g := New()
	// struct node { struct node *next; };
	mustAdd(t, g, symstream.Record{ID: 1, Kind: symstream.RecordStruct, Name: "node", Size: 8, Sub: []symstream.SubRecord{{Name: "next", Offset: 0, Referent: 2}}})
	mustAdd(t, g, symstream.Record{ID: 2, Kind: symstream.RecordPointer, Size: 8, Referent: 1})

	n, ok := g.FindByID(1)
	require.True(t, ok)
	h, ok := n.CachedHash()
	require.True(t, ok)
	require.NotZero(t, h)
}

func TestListHeadSpecialisation(t *testing.T) {
	g := New()
	mustAdd(t, g, symstream.Record{ID: 1, Kind: symstream.RecordStruct, Name: "list_head", Size: 16, Sub: []symstream.SubRecord{
		{Name: "next", Offset: 0, Referent: 2},
		{Name: "prev", Offset: 8, Referent: 2},
	}})
	mustAdd(t, g, symstream.Record{ID: 2, Kind: symstream.RecordPointer, Size: 8, Referent: 1})
	mustAdd(t, g, symstream.Record{ID: 10, Kind: symstream.RecordStruct, Name: "task_struct", Size: 24, Sub: []symstream.SubRecord{
		{Name: "pid", Offset: 0, Referent: 0},
		{Name: "tasks", Offset: 8, Referent: 1},
	}})

	task, ok := g.FindByID(10)
	require.True(t, ok)
	tasksMember := task.Members[1]
	require.Less(t, int64(tasksMember.Referent), int64(0), "tasks member should be rebound to a synthetic type")

	lh, ok := g.FindByID(tasksMember.Referent)
	require.True(t, ok)
	require.NotNil(t, lh.ListHead)
	require.EqualValues(t, 10, lh.ListHead.ContainerType)
	require.EqualValues(t, -8, lh.ListHead.MacroOffset)

	nextPtr, ok := g.FindByID(lh.Members[0].Referent)
	require.True(t, ok)
	require.Equal(t, types.KindPointer, nextPtr.Kind)
	require.EqualValues(t, 10, nextPtr.Referent, "synthetic next pointer should target the container type")

	prevPtr, ok := g.FindByID(lh.Members[1].Referent)
	require.True(t, ok)
	require.Equal(t, nextPtr.Referent, prevPtr.Referent, "prev must be structurally identical to next")
}

func TestListHead_ChildrenInheritsSiblingOffset(t *testing.T) {
	g := New()
	mustAdd(t, g, symstream.Record{ID: 1, Kind: symstream.RecordStruct, Name: "list_head", Size: 16, Sub: []symstream.SubRecord{
		{Name: "next", Offset: 0, Referent: 2},
		{Name: "prev", Offset: 8, Referent: 2},
	}})
	mustAdd(t, g, symstream.Record{ID: 2, Kind: symstream.RecordPointer, Size: 8, Referent: 1})
	mustAdd(t, g, symstream.Record{ID: 10, Kind: symstream.RecordStruct, Name: "task_struct", Size: 40, Sub: []symstream.SubRecord{
		{Name: "sibling", Offset: 16, Referent: 1},
		{Name: "children", Offset: 32, Referent: 1},
	}})

	task, _ := g.FindByID(10)
	childrenMember := task.Members[1]
	lh, ok := g.FindByID(childrenMember.Referent)
	require.True(t, ok)
	require.EqualValues(t, -16, lh.ListHead.MacroOffset, "children should inherit sibling's offset")
}

func TestMalformedRecordFailsAdd(t *testing.T) {
	g := New()
	err := g.Add(symstream.Record{Kind: symstream.RecordBaseType, Name: "bad", Size: 0})
	require.Error(t, err)
}

func TestVariableRootSet(t *testing.T) {
	g := New()
	mustAdd(t, g, symstream.Record{ID: 1, Kind: symstream.RecordStruct, Name: "task_struct", Size: 8})
	mustAdd(t, g, symstream.Record{ID: 100, Kind: symstream.RecordVariable, Name: "init_task", Referent: 1, Address: 0xffffffff81c18440})

	v, ok := g.Variable("init_task")
	require.True(t, ok)
	require.EqualValues(t, 0xffffffff81c18440, v.Address)
	require.Len(t, g.Variables(), 1)
}
