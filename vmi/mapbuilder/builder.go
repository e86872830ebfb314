// Package mapbuilder implements §4.6: the parallel worker pool that walks
// the live object graph outward from the root set (global variables),
// scoring each discovered candidate's plausibility, deduplicating by
// (address, structural hash), and inserting accepted nodes into a pair of
// range-indexed maps (virtual and physical). It is the most intricate
// component named in §2 and the one every other package above it (type
// graph, virtual memory, instance layer, rule engine, slab catalog) exists
// to feed.
package mapbuilder

import (
	"context"
	"sync/atomic"

	"github.com/chrschn/insightgo/internal/memspecs"
	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/pkg/vmierr"
	"github.com/chrschn/insightgo/vmi/instance"
	"github.com/chrschn/insightgo/vmi/rangemap"
	"github.com/chrschn/insightgo/vmi/ruleengine"
	"github.com/chrschn/insightgo/vmi/script"
	"github.com/chrschn/insightgo/vmi/slab"
	"github.com/chrschn/insightgo/vmi/typegraph"
	"github.com/chrschn/insightgo/vmi/vmem"
	"github.com/chrschn/insightgo/vmi/vmilog"
	"golang.org/x/sync/errgroup"
)

// Options configures a Builder run, the shape SPEC_FULL.md names
// vmi.EngineOptions.
type Options struct {
	Cutoff             float64 // minimum probability a node must clear to be accepted (§4.6)
	Workers            int     // fixed pool size; defaults to 1 if <= 0 (§5 "bounded ~8")
	KernelOnly         bool    // reject user-space addresses during well-formedness checks
	CollectDiagnostics bool    // log dropped/unreadable nodes at Warn instead of silently skipping
	Propagation        bool    // reserved, off by default (§9 open question (b)); the builder does not read it and never back-propagates a child's score to its ancestors
}

// RootInstance is one entry of the root set the builder starts from — a
// named global variable resolved to its virtual address and declared type
// (§2 "Root set ... Instance root set (globals)").
type RootInstance struct {
	Name       string
	Address    uint64
	Type       types.TypeID
	SourceFile string // symbol-file-of-origin, threaded into rule dispatch (§4.4 "SourceFile" filter)
}

// Map is the result of a completed (or cancelled) build: the virtual and
// physical range-indexed maps (§2 "per-cell overlay"), plus summary
// statistics.
type Map struct {
	Virtual       *rangemap.Map
	Physical      *rangemap.Map
	Processed     int64
	MaxObjectSize uint64
}

// Builder ties the type graph, virtual-memory translator, and the optional
// rule engine / slab catalog / script host together into a single
// traversal. Every field but Opts is read-shared for the run's duration,
// matching §5's "read-shared after symbol load" model; only the shared
// state allocated fresh in Run is mutated.
type Builder struct {
	Graph *typegraph.Graph
	Mem   *vmem.Translator
	Slab  *slab.Catalog        // optional; nil disables slab-backed scoring
	Rules *ruleengine.Engine   // optional; nil disables rule-engine dispatch
	Host  script.Host          // optional; defaults to script.NullHost{}
	Eval  ruleengine.Evaluator // optional; defaults to a fresh ExprEvaluator
	Opts  Options

	interrupted atomic.Bool
}

// Interrupt sets the single boolean observed by the queue-pop loop (§5
// "Cancellation"): every worker exits at its next pop, and the resulting
// Map is flagged incomplete. The driver is expected to wait for Run to
// return afterwards; partial maps remain usable.
func (b *Builder) Interrupt() { b.interrupted.Store(true) }

// Run performs the full traversal described in §4.6, starting from roots,
// using a fixed-size pool of b.Opts.Workers goroutines supervised by an
// errgroup (SPEC_FULL.md §11: "supervises the fixed worker pool and
// propagates the first hard failure without losing in-flight partial
// results"). A worker's own per-node errors (unresolved types, unreadable
// memory) are logged and recovered locally per §7, never returned from
// Run; only a context cancellation or a caller-visible hard failure
// surfaces as Run's error, and even then the partial maps are returned
// alongside it, flagged incomplete.
func (b *Builder) Run(ctx context.Context, roots []RootInstance) (*Map, error) {
	s := newShared(b.Opts.Cutoff)
	for _, r := range roots {
		t, _ := b.Graph.FindByID(r.Type)
		s.push(pendingItem{
			addr:        r.Address,
			typ:         r.Type,
			name:        r.Name,
			parent:      rangemap.NoParent,
			probability: b.computeProbability(r.Address, t),
			variable:    r.Name,
			sourceFile:  r.SourceFile,
		})
	}

	workers := b.Opts.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error { return b.worker(gctx, s) })
	}
	err := g.Wait()

	result := &Map{
		Virtual:       s.vmap,
		Physical:      s.pmap,
		Processed:     s.processed,
		MaxObjectSize: s.maxObjSize,
	}
	if err != nil || b.interrupted.Load() {
		s.vmap.MarkIncomplete()
		s.pmap.MarkIncomplete()
	}
	return result, err
}

// worker is the loop described in §4.6: pop the largest-probability node
// (terminating on an empty queue, a sub-cutoff pop, or interruption),
// publish and translate it, then dispatch by type variant.
func (b *Builder) worker(ctx context.Context, s *shared) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		item, ok := s.pop(&b.interrupted)
		if !ok {
			return nil
		}
		if err := b.process(s, item); err != nil && b.Opts.CollectDiagnostics {
			vmilog.Warn("mapbuilder: dropping node", "addr", item.addr, "type", item.typ, "err", err)
		}
	}
}

// process materialises a popped pendingItem: dedup-or-insert into the
// virtual map, publish into the per-type index, translate its extent into
// the physical map, and dispatch by type variant to discover its children.
func (b *Builder) process(s *shared, item pendingItem) error {
	t, ok := b.Graph.FindByID(item.typ)
	if !ok {
		return vmierr.Wrap(vmierr.KindType, "mapbuilder: unresolved type for node", vmierr.ErrUnresolvedType)
	}

	hash, _ := t.CachedHash()
	idx, isNew, _ := s.vmap.InsertOrAttach(rangemap.Node{
		Address:     item.addr,
		Size:        t.Size,
		Type:        item.typ,
		Hash:        hash,
		Probability: item.probability,
		Parent:      item.parent,
	})
	if item.parent != rangemap.NoParent {
		s.vmap.AddChild(item.parent, idx)
		if !isNew {
			s.vmap.AddParent(idx, item.parent)
		}
	}
	if !isNew {
		// §4.6 "Deduplication": an existing node with the same structural
		// hash wins; the new parent acquires it as a child but no new node
		// is allocated, and it is not re-expanded a second time.
		return nil
	}

	s.publishType(item.typ, idx)
	s.updateMaxSize(t.Size)
	b.insertPhysicalRanges(s, item.addr, t.Size)

	origin := types.OriginDereference
	if item.parent == rangemap.NoParent {
		origin = types.OriginManual
	}
	view := instance.New(b.Graph, b.Mem, types.Instance{
		Address: item.addr, Type: item.typ, Name: item.name, Origin: origin,
	})
	return b.dispatch(s, idx, view, item)
}

// insertPhysicalRanges translates [vaddr, vaddr+size) into one or more
// physical ranges and inserts each into the physical map, mirroring §2's
// "per-cell overlay": a node's extent may span more than one page.
func (b *Builder) insertPhysicalRanges(s *shared, vaddr, size uint64) {
	if size == 0 {
		size = 1
	}
	end := vaddr + size
	for cur := vaddr; cur < end; {
		paddr, pageSize, err := b.Mem.Translate(cur)
		if err != nil {
			return
		}
		var chunk uint64
		if pageSize == memspecs.PageSizeSentinel {
			chunk = end - cur
		} else {
			offInPage := cur % pageSize
			chunk = pageSize - offInPage
			if remain := end - cur; chunk > remain {
				chunk = remain
			}
		}
		s.pmap.Insert(rangemap.Node{Address: paddr, Size: chunk, Parent: rangemap.NoParent})
		cur += chunk
	}
}

// wellFormed implements §4.6's well-formedness filter: a target address is
// accepted when it is non-null, not all-ones, aligned to the platform's
// pointer size, safe-seekable, and (in kernel-only mode) inside the kernel
// half of the address space.
func (b *Builder) wellFormed(addr uint64) bool {
	if addr == 0 || addr == ^uint64(0) {
		return false
	}
	align := uint64(8)
	if b.Mem.Specs().SizeofPointer == 4 {
		align = 4
	}
	if addr%align != 0 {
		return false
	}
	if !b.Mem.SafeSeek(addr) {
		return false
	}
	if b.Opts.KernelOnly && !b.Mem.InKernelHalf(addr) {
		return false
	}
	return true
}

// computeProbability scores a freshly discovered candidate exactly once,
// at discovery time, so the priority queue can always serve the globally
// largest-probability item next (§4.6 "Probability score"). The score
// depends only on the candidate's own address and type (never on its
// parent's score or on traversal order), which is what makes the resulting
// node set deterministic regardless of worker count (§5 "Ordering
// guarantees").
func (b *Builder) computeProbability(addr uint64, t *types.Type) float64 {
	p := 1.0
	if !b.Mem.InKernelHalf(addr) {
		p *= 0.95
	}
	if !b.Mem.SafeSeek(addr) {
		p *= 0.1
	}
	if t != nil && t.Kind.IsAggregate() {
		p *= b.listHeadPenalty(addr, t)
		p *= b.slabPenalty(addr, t)
	}
	return p
}

// listHeadPenalty verifies, for every embedded list_head member of t sitting
// at addr, the back-pointer invariant next.prev == self (§4.6, §8 "List-head
// verification"). It reads raw pointer words directly rather than building
// an instance.View, since scoring happens before the candidate is ever
// accepted into the map. A struct with no list_head members scores 1.0; one
// where every check fails scores exactly 0.8, matching the testable
// property "a broken one is multiplied by ≤0.8".
func (b *Builder) listHeadPenalty(addr uint64, t *types.Type) float64 {
	total, failed := 0, 0
	for _, m := range t.Members {
		ref, ok := b.Graph.FindByID(m.Referent)
		if !ok || ref.Kind != types.KindStruct || ref.ListHead == nil {
			continue
		}
		total++
		selfAddr := addr + m.Offset
		rawNext, err := b.Mem.ReadU64(selfAddr)
		if err != nil {
			failed++
			continue
		}
		prevOfNext, err := b.Mem.ReadU64(rawNext + 8)
		if err != nil || prevOfNext != selfAddr {
			failed++
		}
	}
	if total == 0 {
		return 1.0
	}
	frac := float64(failed) / float64(total)
	return 1 - frac*0.2
}

// slabPenalty folds the slab catalog's validity judgement into the score
// (§2's dataflow: the builder "consults ... the slab catalog" while
// scoring). A conflicting cache binding is the only outcome strong enough
// to move the score on its own — not-found/no-slab-type/maybe-valid are
// left neutral since most live objects are never slab-backed (stack
// allocations, static data) and lack of catalog coverage carries no
// evidence either way.
func (b *Builder) slabPenalty(addr uint64, t *types.Type) float64 {
	if b.Slab == nil {
		return 1.0
	}
	switch b.Slab.ObjectValid(addr, t.ID, nil) {
	case slab.Conflict:
		return 0.5
	default:
		return 1.0
	}
}
