// Package slab implements §4.5's slab catalog: a preprocessor-produced
// address-to-cache table, heuristic binding of caches to struct types, and
// the validity judgement an instance's address is checked against before
// it is trusted as a real object.
package slab

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/pkg/vmierr"
	"github.com/chrschn/insightgo/vmi/typegraph"
)

// Cache is a single slab-cache: its name, recovered object size (0 until
// post-processing resolves it), and bound type, if any.
type Cache struct {
	Name    string
	ObjSize uint64
	Type    types.TypeID // 0 until ResolveBaseType binds one
}

// Catalog is the address-indexed slab table described in §4.5: a sorted map
// `address -> cache index`, the cache vector, and a name-to-index lookup.
type Catalog struct {
	graph *typegraph.Graph

	caches  []Cache
	byName  map[string]int
	addrs   []uint64 // sorted ascending, parallel to cacheOf
	cacheOf []int
}

// New returns an empty catalog bound to graph, used to resolve cache names
// to struct types.
func New(graph *typegraph.Graph) *Catalog {
	return &Catalog{graph: graph, byName: make(map[string]int)}
}

// ParseFile reads the plain-text slab input (§4.5 "Slab input"): lines
// starting with '#' are comments, other lines are `cache-name WS
// hex-address`. Malformed lines are skipped, matching the original's
// "ignoring line N" tolerance rather than aborting the whole load.
func (c *Catalog) ParseFile(r io.Reader) ([]string, error) {
	var warnings []string
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			warnings = append(warnings, "slab: ignoring malformed line "+strconv.Itoa(lineNo))
			continue
		}
		addr, err := parseHexAddr(fields[1])
		if err != nil {
			warnings = append(warnings, "slab: bad address on line "+strconv.Itoa(lineNo)+": "+err.Error())
			continue
		}
		c.addObject(fields[0], addr)
	}
	if err := sc.Err(); err != nil {
		return warnings, vmierr.Wrap(vmierr.KindFormat, "slab: reading catalogue input", err)
	}
	c.reindex()
	return warnings, nil
}

func parseHexAddr(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	return strconv.ParseUint(s, 16, 64)
}

func (c *Catalog) addObject(name string, addr uint64) {
	idx, ok := c.byName[name]
	if !ok {
		idx = len(c.caches)
		c.caches = append(c.caches, Cache{Name: name})
		c.byName[name] = idx
	}
	c.addrs = append(c.addrs, addr)
	c.cacheOf = append(c.cacheOf, idx)
}

// reindex sorts the address table once all lines are read, so objectAt can
// binary-search it.
func (c *Catalog) reindex() {
	idx := make([]int, len(c.addrs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return c.addrs[idx[i]] < c.addrs[idx[j]] })
	addrs := make([]uint64, len(idx))
	cacheOf := make([]int, len(idx))
	for i, j := range idx {
		addrs[i] = c.addrs[j]
		cacheOf[i] = c.cacheOf[j]
	}
	c.addrs, c.cacheOf = addrs, cacheOf
}

// Caches returns every cache this catalog knows about, for CLI listing and
// tests.
func (c *Catalog) Caches() []Cache { return c.caches }

// CacheByName looks a cache up by its exact preprocessor-supplied name.
func (c *Catalog) CacheByName(name string) (Cache, bool) {
	idx, ok := c.byName[name]
	if !ok {
		return Cache{}, false
	}
	return c.caches[idx], true
}

// SetObjSize stamps a cache's recovered object size, used by the
// objsize-recovery walk in resolve.go.
func (c *Catalog) SetObjSize(name string, size uint64) {
	if idx, ok := c.byName[name]; ok {
		c.caches[idx].ObjSize = size
	}
}

// SetType binds a cache to a struct/union type directly; ResolveBaseType
// sets its bindings itself.
func (c *Catalog) SetType(name string, t types.TypeID) {
	if idx, ok := c.byName[name]; ok {
		c.caches[idx].Type = t
	}
}

// Object is a slab-owned object found at or below a queried address.
type Object struct {
	Address uint64
	Cache   Cache
}

// ObjectAt returns the slab object whose range [address, address+objSize)
// contains addr, the same "first object with an address less or equal"
// scan the original performs (§4.5). ok is false when addr falls outside
// every known cache's object range, or the catalog has no entries.
func (c *Catalog) ObjectAt(addr uint64) (Object, bool) {
	if len(c.addrs) == 0 {
		return Object{}, false
	}
	// First index with addrs[i] > addr; the candidate is one before it.
	i := sort.Search(len(c.addrs), func(i int) bool { return c.addrs[i] > addr })
	if i == 0 {
		return Object{}, false
	}
	i--
	base := c.addrs[i]
	cache := c.caches[c.cacheOf[i]]
	if cache.ObjSize == 0 {
		if base == addr {
			return Object{Address: base, Cache: cache}, true
		}
		return Object{}, false
	}
	if addr < base+cache.ObjSize {
		return Object{Address: base, Cache: cache}, true
	}
	return Object{}, false
}
