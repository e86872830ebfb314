package mapbuilder

import (
	"container/heap"
	"sync"
	"sync/atomic"

	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/vmi/rangemap"
)

// shared is the single shared-state object every worker mutates through a
// small number of coarse locks (§5's lock table): the queue lock guards the
// priority queue and lastPopped together; the virtual/physical range maps
// guard themselves internally (vmi/rangemap.Map's own RWMutex); typeIdx and
// ptrIdx each get their own single-purpose mutex.
type shared struct {
	queueMu    sync.Mutex
	queue      priorityQueue
	seq        int64
	done       bool
	processed  int64
	lastPopped pendingItem
	hasLast    bool

	vmap *rangemap.Map
	pmap *rangemap.Map

	typeIdxMu sync.Mutex
	typeIdx   map[types.TypeID][]int

	ptrIdxMu sync.Mutex
	ptrIdx   map[uint64][]int // inverted pointer index: target addr -> node indices that point there

	maxObjMu   sync.Mutex
	maxObjSize uint64

	cutoff float64
}

func newShared(cutoff float64) *shared {
	return &shared{
		vmap:    rangemap.New(),
		pmap:    rangemap.New(),
		typeIdx: make(map[types.TypeID][]int),
		ptrIdx:  make(map[uint64][]int),
		cutoff:  cutoff,
	}
}

func (s *shared) push(item pendingItem) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.seq++
	heap.Push(&s.queue, pqEntry{item: item, seq: s.seq})
}

// pop implements the worker loop's step 1 (§4.6): pop the largest-
// probability node, holding the queue lock only across the pop itself and
// the cutoff/emptiness readback (§5's lock table: "pop + readback, and
// insertion"). Once any pop observes an empty queue, a sub-cutoff
// probability, or interruption, `done` latches so every other worker stops
// on its next attempt without needing to race to independently notice the
// same condition.
func (s *shared) pop(interrupted *atomic.Bool) (pendingItem, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if s.done || interrupted.Load() {
		s.done = true
		return pendingItem{}, false
	}
	if len(s.queue) == 0 {
		s.done = true
		return pendingItem{}, false
	}
	top := heap.Pop(&s.queue).(pqEntry).item
	if top.probability < s.cutoff {
		s.done = true
		return pendingItem{}, false
	}
	s.lastPopped = top
	s.hasLast = true
	s.processed++
	return top, true
}

func (s *shared) publishType(id types.TypeID, idx int) {
	s.typeIdxMu.Lock()
	defer s.typeIdxMu.Unlock()
	s.typeIdx[id] = append(s.typeIdx[id], idx)
}

// typeIndex returns every live node index recorded for id, the per-type
// instance index §4.6's shared state names.
func (s *shared) typeIndex(id types.TypeID) []int {
	s.typeIdxMu.Lock()
	defer s.typeIdxMu.Unlock()
	out := make([]int, len(s.typeIdx[id]))
	copy(out, s.typeIdx[id])
	return out
}

func (s *shared) recordPointer(target uint64, nodeIdx int) {
	s.ptrIdxMu.Lock()
	defer s.ptrIdxMu.Unlock()
	s.ptrIdx[target] = append(s.ptrIdx[target], nodeIdx)
}

func (s *shared) pointersTo(target uint64) []int {
	s.ptrIdxMu.Lock()
	defer s.ptrIdxMu.Unlock()
	out := make([]int, len(s.ptrIdx[target]))
	copy(out, s.ptrIdx[target])
	return out
}

func (s *shared) updateMaxSize(size uint64) {
	s.maxObjMu.Lock()
	defer s.maxObjMu.Unlock()
	if size > s.maxObjSize {
		s.maxObjSize = size
	}
}
