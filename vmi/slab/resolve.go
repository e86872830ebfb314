package slab

import (
	"path"
	"strings"

	"github.com/chrschn/insightgo/pkg/types"
	"github.com/chrschn/insightgo/pkg/vmierr"
	"github.com/chrschn/insightgo/vmi/instance"
	"github.com/chrschn/insightgo/vmi/typegraph"
	"github.com/chrschn/insightgo/vmi/vmem"
)

// maxCacheListWalk bounds the intrusive-list walk in ResolveObjSize: a
// corrupted or misidentified anchor variable would otherwise spin forever
// chasing a "next" pointer that never returns to the start.
const maxCacheListWalk = 4096

// ResolveObjSize recovers each cache's true object size by walking the
// kernel's own slab-cache intrusive list starting at rootVar (§4.5
// "walk the kernel's own slab-cache intrusive list to recover the
// per-cache objsize"), reading each node's "name" and "objsize" members and
// matching the name against this catalog's caches.
func (c *Catalog) ResolveObjSize(mem *vmem.Translator, rootVar string) error {
	start, err := instance.Root(c.graph, mem, rootVar)
	if err != nil {
		return err
	}
	if !start.IsAccessible() {
		return vmierr.Wrap(vmierr.KindMemoryAccess, "slab: cannot access "+rootVar, vmierr.ErrNotSafeSeekable)
	}

	cur := start
	for i := 0; i < maxCacheListWalk; i++ {
		name, err := cur.Member("name")
		if err == nil {
			if s, err := name.ToString(64); err == nil {
				if objsize, err := cur.Member("objsize"); err == nil {
					if n, err := objsize.ToInt64(); err == nil && n > 0 {
						c.SetObjSize(strings.Trim(s, "\""), uint64(n))
					}
				}
			}
		}

		list, err := cur.Member("list")
		if err != nil {
			return nil // not every symbol set exposes the intrusive list; size stays text-file-only
		}
		next, err := list.Member("next")
		if err != nil {
			return nil
		}
		nextInst, err := next.Dereference(instance.DerefOptions{})
		if err != nil {
			return nil
		}
		if nextInst.Address() == start.Address() || nextInst.IsNull() {
			break
		}
		cur = nextInst
	}
	return nil
}

// cacheAlias is the built-in name table §4.5 names as step (b)'s first
// fallback after an exact match fails.
var cacheAlias = map[string]string{
	"blkdev_queue":        "request_queue",
	"blkdev_ioc":          "io_context",
	"blkdev_requests":     "request",
	"cred_jar":            "cred",
	"eventpoll_epi":       "epitem",
	"eventpoll_pwq":       "eppoll_entry",
	"ext3_inode_cache":    "ext3_inode_info",
	"filp":                "file",
	"ip6_dst_cache":       "rt6_info",
	"ip_fib_hash":         "fib_node",
	"mnt_cache":           "vfsmount",
	"skbuff_head_cache":   "sk_buff",
	"sock_inode_cache":    "socket_alloc",
	"task_xstate":         "thread_xstate",
	"tcp_bind_bucket":     "inet_bind_bucket",
	"uid_cache":           "user_struct",
}

// ResolveBaseType binds every cache in the catalog to a struct/union type by
// name, following §4.5 step (b): exact name, then alias table, then
// `_cache`/plural-`s` stripping, then a glob search; candidates must match
// the cache's recovered objSize exactly, and the shortest-named candidate
// wins a tie.
func (c *Catalog) ResolveBaseType(g *typegraph.Graph) {
	for i := range c.caches {
		cache := &c.caches[i]
		if bound := bestMatch(g, g.FindByName(cache.Name), cache.ObjSize); bound != 0 {
			cache.Type = bound
			continue
		}
		name := cacheGuessName(cache.Name)

		if bound := bestMatch(g, g.FindByName(name), cache.ObjSize); bound != 0 {
			cache.Type = bound
			continue
		}

		glob := "*" + strings.NewReplacer("-", "*", "_", "*").Replace(name) + "*"
		if bound := bestMatch(g, findByGlob(g, glob), cache.ObjSize); bound != 0 {
			cache.Type = bound
		}
	}
}

func cacheGuessName(name string) string {
	if alias, ok := cacheAlias[name]; ok {
		return alias
	}
	if stripped := strings.TrimSuffix(name, "_cache"); stripped != name {
		return stripped
	}
	if stripped := strings.TrimSuffix(name, "s"); stripped != name {
		return stripped
	}
	return name
}

// bestMatch picks the struct/union candidate whose size equals objSize,
// preferring the one whose name is shortest (closest to the cache's own
// name) when more than one qualifies.
func bestMatch(g *typegraph.Graph, candidates []*types.Type, objSize uint64) types.TypeID {
	if objSize == 0 {
		return 0
	}
	var best *types.Type
	for _, t := range candidates {
		if !t.Kind.IsAggregate() || t.Size != objSize {
			continue
		}
		if best == nil || len(t.Name) < len(best.Name) {
			best = t
		}
	}
	if best == nil {
		return 0
	}
	return best.ID
}

func findByGlob(g *typegraph.Graph, pattern string) []*types.Type {
	var out []*types.Type
	for _, t := range g.AllTypes() {
		if t.Name == "" {
			continue
		}
		if ok, err := path.Match(strings.ToLower(pattern), strings.ToLower(t.Name)); err == nil && ok {
			out = append(out, t)
		}
	}
	return out
}
