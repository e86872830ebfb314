package mapbuilder

import "github.com/chrschn/insightgo/pkg/types"

// pendingItem is a not-yet-materialised queue entry: the address/type the
// builder wants to visit next, the parent node it was discovered from, the
// probability it was scored at when enqueued (§4.6 "Probability score" is
// computed once, at discovery time, so the queue can always serve the
// globally largest-probability candidate next), and enough context
// (accessed member path, source file) for the rule engine's dispatch.
type pendingItem struct {
	addr        uint64
	typ         types.TypeID
	name        string
	parent      int
	probability float64
	path        []string
	sourceFile  string
	variable    string // the root variable/struct this item descends from, for rule VariableName matching
}

// pqEntry wraps a pendingItem with an insertion sequence number so two
// equal-probability items compare deterministically (oldest first) instead
// of depending on container/heap's unspecified tie-breaking, matching §5's
// "no order between nodes of equal probability" for the *reachable set*
// while still making the worker loop itself deterministic to step through
// in tests.
type pqEntry struct {
	item pendingItem
	seq  int64
}

// priorityQueue is a max-heap over pqEntry, ordered by probability (ties
// broken by sequence number), implementing §4.6's "priority queue of pending
// nodes (key = current best probability, value = node)".
type priorityQueue []pqEntry

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].item.probability != pq[j].item.probability {
		return pq[i].item.probability > pq[j].item.probability
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x any) { *pq = append(*pq, x.(pqEntry)) }

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	e := old[n-1]
	*pq = old[:n-1]
	return e
}
