package mapdiff

import (
	"testing"

	"github.com/chrschn/insightgo/vmi/rangemap"
	"github.com/stretchr/testify/require"
)

func TestDiff_DetectsAddedRemovedAndChanged(t *testing.T) {
	a := rangemap.New()
	a.Insert(rangemap.Node{Address: 0x1000, Size: 16, Type: 10, Hash: 111, Parent: rangemap.NoParent})
	a.Insert(rangemap.Node{Address: 0x2000, Size: 16, Type: 10, Hash: 222, Parent: rangemap.NoParent})

	b := rangemap.New()
	b.Insert(rangemap.Node{Address: 0x1000, Size: 16, Type: 10, Hash: 111, Parent: rangemap.NoParent}) // unchanged
	b.Insert(rangemap.Node{Address: 0x2000, Size: 16, Type: 11, Hash: 333, Parent: rangemap.NoParent}) // changed
	b.Insert(rangemap.Node{Address: 0x3000, Size: 16, Type: 12, Hash: 444, Parent: rangemap.NoParent}) // added

	divs := Diff(a, b)
	require.Len(t, divs, 2)

	require.Equal(t, uint64(0x2000), divs[0].Address)
	require.Equal(t, Changed, divs[0].Kind)
	require.EqualValues(t, 10, divs[0].Before.Type)
	require.EqualValues(t, 11, divs[0].After.Type)

	require.Equal(t, uint64(0x3000), divs[1].Address)
	require.Equal(t, Added, divs[1].Kind)
	require.EqualValues(t, 12, divs[1].After.Type)
}

func TestDiff_RemovedNodeMissingFromComparisonMap(t *testing.T) {
	a := rangemap.New()
	a.Insert(rangemap.Node{Address: 0x1000, Size: 16, Type: 10, Hash: 111, Parent: rangemap.NoParent})
	b := rangemap.New()

	divs := Diff(a, b)
	require.Len(t, divs, 1)
	require.Equal(t, Removed, divs[0].Kind)
	require.Equal(t, uint64(0x1000), divs[0].Address)
}

func TestDiff_CoalescesAdjacentSameKindRuns(t *testing.T) {
	a := rangemap.New()
	b := rangemap.New()
	b.Insert(rangemap.Node{Address: 0x1000, Size: 8, Type: 1, Hash: 1, Parent: rangemap.NoParent})
	b.Insert(rangemap.Node{Address: 0x1008, Size: 8, Type: 1, Hash: 2, Parent: rangemap.NoParent})

	divs := Diff(a, b)
	require.Len(t, divs, 1, "two adjacent Added runs should merge into one")
	require.Equal(t, uint64(0x1000), divs[0].Address)
	require.EqualValues(t, 16, divs[0].RunLength)
}

func TestDiff_IdenticalMapsProduceNoDivergence(t *testing.T) {
	a := rangemap.New()
	a.Insert(rangemap.Node{Address: 0x1000, Size: 16, Type: 10, Hash: 111, Parent: rangemap.NoParent})
	b := rangemap.New()
	b.Insert(rangemap.Node{Address: 0x1000, Size: 16, Type: 10, Hash: 111, Parent: rangemap.NoParent})

	require.Empty(t, Diff(a, b))
}

func TestSummarize_TracksMinMaxAndCount(t *testing.T) {
	divs := []Divergence{
		{Address: 0x1000, RunLength: 8, Kind: Added},
		{Address: 0x2000, RunLength: 32, Kind: Removed},
	}
	s := Summarize(divs)
	require.Equal(t, 2, s.Count)
	require.EqualValues(t, 8, s.MinRunLength)
	require.EqualValues(t, 32, s.MaxRunLength)
}
