// Package rangemap implements the range-indexed map described in §3: a
// virtual-address-interval index over arena-owned map nodes. Children and
// parents are stored as indices into the arena, never raw aliases, the same
// "no owning references in a cyclic graph" discipline vmi/typegraph applies
// to the type graph (§9 "Cyclic graphs"). The map builder maintains one
// instance of this keyed on virtual addresses and a second mirroring it
// through physical addresses (the "per-cell overlay", §2).
package rangemap

import (
	"sort"
	"sync"

	"github.com/chrschn/insightgo/pkg/types"
)

// NoParent marks a node with no parent back-edge (a root of the traversal).
const NoParent = -1

// Node is a single memory-map node (§3 "Memory-map node"): an address-bound,
// typed, probability-scored entry. Children/Parent are indices into the
// owning Map's arena. A deduplicated node (§4.6 "Deduplication") can end up
// reachable from more than one parent; Parent holds the first parent seen
// (NoParent for a root) and Parents accumulates every back-edge, including
// the first, so a node that later acquires a second parent does not need to
// reshape its primary edge (§8 end-to-end scenario 6).
type Node struct {
	Address     uint64
	Size        uint64
	Type        types.TypeID
	Hash        types.Hash
	Probability float64
	Parent      int
	Parents     []int
	Children    []int
	Candidates  []int // sibling interpretations contributed by rule-engine candidates
}

// entry is one slot in the sorted address index.
type entry struct {
	addr uint64
	idx  int
}

// Map is the range-indexed map: a sorted interval index over an arena of
// Nodes, safe for many concurrent readers and a single writer at a time
// (§5 "VMem map" / "PMem map" locks — many concurrent readers, one writer).
type Map struct {
	mu      sync.RWMutex
	nodes   []Node
	entries []entry // sorted ascending by addr; parallel to no particular node order

	incomplete bool // set once if the builder was cancelled mid-traversal (§5 "Cancellation")
}

// New returns an empty Map.
func New() *Map { return &Map{} }

// Insert arena-allocates node and indexes it by its start address, returning
// the new node's stable index. Held across a single insert, per §5's lock
// table.
func (m *Map) Insert(node Node) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(node)
}

func (m *Map) insertLocked(node Node) int {
	if node.Parent != NoParent {
		node.Parents = append(node.Parents, node.Parent)
	}
	idx := len(m.nodes)
	m.nodes = append(m.nodes, node)
	m.insertEntry(entry{addr: node.Address, idx: idx})
	return idx
}

// AddParent records an additional parent back-edge on the node at idx,
// used when a deduplicated node is reached a second time through a
// different pointer chase (§8 end-to-end scenario 6: "attaches a second
// parent back-edge rather than allocating").
func (m *Map) AddParent(idx, parentIdx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx < 0 || idx >= len(m.nodes) {
		return
	}
	m.nodes[idx].Parents = append(m.nodes[idx].Parents, parentIdx)
}

// InsertOrAttach implements §4.6's deduplication rule atomically: if a live
// node already occupies node.Address with the same structural hash, it wins
// — the new parent acquires it as a child (AddParent is the caller's
// responsibility once it also updates the parent's Children list) and no
// new node is allocated; InsertOrAttach reports isNew=false and the
// existing index. A node at the same address with a different hash is a
// conflict (overlapping extent, different interpretation): the new node is
// still added, isNew=true, and conflict=true so the caller can flag it for
// the verifier. Otherwise a fresh node is allocated.
func (m *Map) InsertOrAttach(node Node) (idx int, isNew bool, conflict bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lo := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].addr >= node.Address })
	for i := lo; i < len(m.entries) && m.entries[i].addr == node.Address; i++ {
		existing := m.entries[i].idx
		if m.nodes[existing].Hash == node.Hash {
			return existing, false, false
		}
		conflict = true
	}
	idx = m.insertLocked(node)
	return idx, true, conflict
}

func (m *Map) insertEntry(e entry) {
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].addr >= e.addr })
	m.entries = append(m.entries, entry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = e
}

// Node returns a copy of the node at idx.
func (m *Map) Node(idx int) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx < 0 || idx >= len(m.nodes) {
		return Node{}, false
	}
	return m.nodes[idx], true
}

// Update replaces the node at idx with n, used e.g. when a new parent
// attaches to an existing deduplicated node.
func (m *Map) Update(idx int, n Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx >= 0 && idx < len(m.nodes) {
		m.nodes[idx] = n
	}
}

// AddChild appends childIdx to parentIdx's children list.
func (m *Map) AddChild(parentIdx, childIdx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if parentIdx >= 0 && parentIdx < len(m.nodes) {
		m.nodes[parentIdx].Children = append(m.nodes[parentIdx].Children, childIdx)
	}
}

// NodesAt returns the indices of every live node whose address equals addr
// exactly (§3 "value: set of node indices whose addresses fall in" the
// singleton interval [addr, addr+1)).
func (m *Map) NodesAt(addr uint64) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lo := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].addr >= addr })
	var out []int
	for i := lo; i < len(m.entries) && m.entries[i].addr == addr; i++ {
		out = append(out, m.entries[i].idx)
	}
	return out
}

// LowerBound returns the index (into the arena) of the first node whose
// address is >= addr, and whether one exists.
func (m *Map) LowerBound(addr uint64) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].addr >= addr })
	if i == len(m.entries) {
		return 0, false
	}
	return m.entries[i].idx, true
}

// UpperBound returns the index of the first node whose address is > addr,
// and whether one exists.
func (m *Map) UpperBound(addr uint64) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].addr > addr })
	if i == len(m.entries) {
		return 0, false
	}
	return m.entries[i].idx, true
}

// ObjectsInRange returns every node index whose address falls in
// [lo, hi) (§3 "objectsInRange").
func (m *Map) ObjectsInRange(lo, hi uint64) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].addr >= lo })
	var out []int
	for i := start; i < len(m.entries) && m.entries[i].addr < hi; i++ {
		out = append(out, m.entries[i].idx)
	}
	return out
}

// FindDuplicate reports whether a live node already occupies addr with the
// given structural hash (§4.6 "Deduplication": "existing node with the same
// structural hash wins"), returning its index if so.
func (m *Map) FindDuplicate(addr uint64, hash types.Hash) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lo := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].addr >= addr })
	for i := lo; i < len(m.entries) && m.entries[i].addr == addr; i++ {
		if m.nodes[m.entries[i].idx].Hash == hash {
			return m.entries[i].idx, true
		}
	}
	return 0, false
}

// HasConflict reports whether addr is already occupied by a live node whose
// hash differs from hash — the overlapping-extent conflict case §4.6 flags
// for the verifier rather than rejecting outright.
func (m *Map) HasConflict(addr uint64, hash types.Hash) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lo := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].addr >= addr })
	for i := lo; i < len(m.entries) && m.entries[i].addr == addr; i++ {
		if m.nodes[m.entries[i].idx].Hash != hash {
			return true
		}
	}
	return false
}

// Len returns the number of live nodes.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

// MarkIncomplete flags the map as built from a cancelled traversal (§5
// "Partial maps are usable after cancellation; a flag on the map marks it
// incomplete").
func (m *Map) MarkIncomplete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incomplete = true
}

// Incomplete reports whether MarkIncomplete was ever called on this map.
func (m *Map) Incomplete() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.incomplete
}

// All returns a snapshot copy of every live node, for diffing and export.
func (m *Map) All() []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Node, len(m.nodes))
	copy(out, m.nodes)
	return out
}
