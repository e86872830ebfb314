package rangemap

import (
	"testing"

	"github.com/chrschn/insightgo/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestInsertAndLookup(t *testing.T) {
	m := New()
	a := m.Insert(Node{Address: 0x1000, Size: 16, Hash: 1, Parent: NoParent})
	b := m.Insert(Node{Address: 0x2000, Size: 16, Hash: 2, Parent: NoParent})
	c := m.Insert(Node{Address: 0x1800, Size: 16, Hash: 3, Parent: NoParent})

	require.Equal(t, 3, m.Len())
	require.ElementsMatch(t, []int{a}, m.NodesAt(0x1000))
	require.ElementsMatch(t, []int{b}, m.NodesAt(0x2000))

	lo, ok := m.LowerBound(0x1500)
	require.True(t, ok)
	require.Equal(t, c, lo)

	in := m.ObjectsInRange(0x1000, 0x2000)
	require.ElementsMatch(t, []int{a, c}, in)
}

func TestFindDuplicateAndConflict(t *testing.T) {
	m := New()
	idx := m.Insert(Node{Address: 0x1000, Hash: types.Hash(42), Parent: NoParent})

	dup, ok := m.FindDuplicate(0x1000, types.Hash(42))
	require.True(t, ok)
	require.Equal(t, idx, dup)

	_, ok = m.FindDuplicate(0x1000, types.Hash(99))
	require.False(t, ok)
	require.True(t, m.HasConflict(0x1000, types.Hash(99)))
	require.False(t, m.HasConflict(0x1000, types.Hash(42)))
}

func TestAddChildAndIncomplete(t *testing.T) {
	m := New()
	p := m.Insert(Node{Address: 0x1000, Parent: NoParent})
	c := m.Insert(Node{Address: 0x2000, Parent: p})
	m.AddChild(p, c)

	parent, ok := m.Node(p)
	require.True(t, ok)
	require.Equal(t, []int{c}, parent.Children)

	require.False(t, m.Incomplete())
	m.MarkIncomplete()
	require.True(t, m.Incomplete())
}

func TestUpperBoundAndAll(t *testing.T) {
	m := New()
	m.Insert(Node{Address: 0x1000})
	m.Insert(Node{Address: 0x2000})

	idx, ok := m.UpperBound(0x1000)
	require.True(t, ok)
	n, ok := m.Node(idx)
	require.True(t, ok)
	require.EqualValues(t, 0x2000, n.Address)

	require.Len(t, m.All(), 2)
}
