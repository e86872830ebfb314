// Package vmi wires the type graph, virtual-memory translator, rule engine,
// slab catalog, and map builder into the single Engine a driver (cmd/vmictl
// or a test) actually talks to, mirroring the way hivekit's hive.Hive type
// is the one object a caller opens and holds rather than wiring each
// sub-package by hand (§5 "Composition").
package vmi

import (
	"context"
	"io"

	"github.com/chrschn/insightgo/internal/dump"
	"github.com/chrschn/insightgo/internal/memspecs"
	"github.com/chrschn/insightgo/internal/rulexml"
	"github.com/chrschn/insightgo/internal/symstream"
	"github.com/chrschn/insightgo/pkg/vmierr"
	"github.com/chrschn/insightgo/vmi/mapbuilder"
	"github.com/chrschn/insightgo/vmi/ruleengine"
	"github.com/chrschn/insightgo/vmi/script"
	"github.com/chrschn/insightgo/vmi/slab"
	"github.com/chrschn/insightgo/vmi/typegraph"
	"github.com/chrschn/insightgo/vmi/vmem"
)

// EngineOptions configures a built Engine's map-building behaviour; it is
// the one piece of ambient configuration a driver sets before calling
// BuildMap (§5 "Configuration").
type EngineOptions struct {
	Cutoff             float64
	Workers            int
	KernelOnly         bool
	CollectDiagnostics bool
	Propagation        bool
}

// Engine owns every loaded collaborator: the type graph and its resolved
// symbols, the virtual-memory translator bound to an open dump, and the
// optional rule engine and slab catalog. A zero Engine is not usable;
// build one with Open.
type Engine struct {
	Graph *typegraph.Graph
	Mem   *vmem.Translator
	Specs *memspecs.Specs
	Rules *ruleengine.Engine
	Slab  *slab.Catalog
	Host  script.Host

	dump *dump.Dump
	Opts EngineOptions
}

// Open loads a memory dump, its symbol stream, and its memory specification
// key-value record into a ready-to-query Engine (§2's dataflow: "Symbol
// stream -> Type graph", "Memory dump -> Virtual memory"). The rule engine
// is constructed but empty; call LoadRules to populate it, and
// LoadSlabCatalog for slab-backed scoring.
func Open(dumpPath string, symbolStream []byte, specKV map[string]string, opts EngineOptions) (*Engine, error) {
	g := typegraph.New()
	dec, err := symstream.NewDecoder(symbolStream)
	if err != nil {
		return nil, err
	}
	for {
		rec, ok, err := dec.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if err := g.Add(rec); err != nil {
			return nil, err
		}
	}
	g.Resolve()

	symbols := make(map[string]uint64)
	for _, v := range g.Variables() {
		symbols[v.Name] = v.Address
	}
	specs, err := memspecs.Parse(specKV, symbols)
	if err != nil {
		return nil, err
	}

	d, err := dump.Open(dumpPath)
	if err != nil {
		return nil, err
	}

	mem := vmem.New(d, specs)
	mem.KernelOnly = opts.KernelOnly

	return &Engine{
		Graph: g,
		Mem:   mem,
		Specs: specs,
		Rules: ruleengine.New(g),
		Host:  script.NullHost{},
		dump:  d,
		Opts:  opts,
	}, nil
}

// Close releases the underlying dump's memory mapping.
func (e *Engine) Close() error {
	if e.dump == nil {
		return nil
	}
	return e.dump.Close()
}

// LoadRules decodes one XML rule catalogue and checks it against the
// engine's loaded specs (§4.4), returning any non-fatal warnings Check
// produced (e.g. a rule dropped for lacking an instance filter).
func (e *Engine) LoadRules(r io.Reader, sourceFile string) ([]string, error) {
	cat, err := rulexml.Decode(r, sourceFile)
	if err != nil {
		return nil, err
	}
	if cat.OsFilter != nil && !cat.OsFilter.Match(e.Specs) {
		return nil, vmierr.Newf(vmierr.KindRule, "vmi: catalogue %s excluded by its own os filter for this dump's kernel version", sourceFile)
	}
	return e.Rules.Check(cat.Rules, e.Specs), nil
}

// LoadSlabCatalog parses a slab cache listing (§4.5) and resolves each
// cache's base type against the graph.
func (e *Engine) LoadSlabCatalog(r io.Reader) error {
	cat := slab.New(e.Graph)
	if _, err := cat.ParseFile(r); err != nil {
		return err
	}
	cat.ResolveBaseType(e.Graph)
	e.Slab = cat
	return nil
}

// Roots returns one RootInstance per named global variable in the type
// graph, the usual full root set for BuildMap (§2 "Instance root set
// (globals)").
func (e *Engine) Roots() []mapbuilder.RootInstance {
	vars := e.Graph.Variables()
	out := make([]mapbuilder.RootInstance, 0, len(vars))
	for _, v := range vars {
		out = append(out, mapbuilder.RootInstance{Name: v.Name, Address: v.Address, Type: v.Referent, SourceFile: v.SourceFile})
	}
	return out
}

// BuildMap runs the map builder (§4.6) over roots using the engine's loaded
// graph, translator, rule engine, and slab catalog, and the options Open
// was given.
func (e *Engine) BuildMap(ctx context.Context, roots []mapbuilder.RootInstance) (*mapbuilder.Map, error) {
	b := &mapbuilder.Builder{
		Graph: e.Graph,
		Mem:   e.Mem,
		Slab:  e.Slab,
		Rules: e.Rules,
		Host:  e.Host,
		Opts: mapbuilder.Options{
			Cutoff:             e.Opts.Cutoff,
			Workers:            e.Opts.Workers,
			KernelOnly:         e.Opts.KernelOnly,
			CollectDiagnostics: e.Opts.CollectDiagnostics,
			Propagation:        e.Opts.Propagation,
		},
	}
	return b.Run(ctx, roots)
}
