package urlgraph

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Resolver turns an unresolved reference into a resolved one (possibly a
// redirect chain) and the target node. The kitchen installs itself here so
// that reference resolution goes through the plugin hooks.
type Resolver interface {
	ResolveReference(ctx context.Context, ref *Reference) (*Reference, *URLInfo, error)
}

const parseCacheSize = 512

// Graph is the registry of URLInfo nodes keyed by canonical URL, plus a
// distinguished root node representing the project directory. The root is
// always considered used.
type Graph struct {
	mu    sync.Mutex
	infos map[string]*URLInfo

	Root             *URLInfo
	RootDirectoryURL string

	resolver Resolver

	createdHooks []func(*URLInfo)
	prunedHooks  []func(*URLInfo, *Reference)

	parseCache *lru.Cache[string, any]

	pendingNotifs []prunedNotif

	now func() int64
}

// New creates an empty graph whose root node represents rootDirectoryURL.
func New(rootDirectoryURL string) *Graph {
	cache, _ := lru.New[string, any](parseCacheSize)
	g := &Graph{
		infos:            map[string]*URLInfo{},
		RootDirectoryURL: rootDirectoryURL,
		parseCache:       cache,
		now:              func() int64 { return time.Now().UnixNano() },
	}
	root := &URLInfo{
		URL:          rootDirectoryURL,
		Type:         TypeDirectory,
		IsRoot:       true,
		ImplicitURLs: map[string]struct{}{},
		Data:         map[string]any{},
		graph:        g,
	}
	g.Root = root
	g.infos[rootDirectoryURL] = root
	return g
}

// SetResolver installs the reference resolver (the kitchen).
func (g *Graph) SetResolver(r Resolver) { g.resolver = r }

// OnURLInfoCreated registers a callback fired whenever a node is created.
func (g *Graph) OnURLInfoCreated(fn func(*URLInfo)) {
	g.createdHooks = append(g.createdHooks, fn)
}

// OnPruned registers a callback fired when a non-inline node is removed,
// with the last reference that pointed at it.
func (g *Graph) OnPruned(fn func(*URLInfo, *Reference)) {
	g.prunedHooks = append(g.prunedHooks, fn)
}

// URLInfo looks up a node by exact canonical URL.
func (g *Graph) URLInfo(url string) (*URLInfo, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	info, ok := g.infos[url]
	return info, ok
}

// ReuseOrCreateURLInfo is an idempotent get-or-create. Creation fires the
// urlInfoCreated callbacks.
func (g *Graph) ReuseOrCreateURLInfo(url string) *URLInfo {
	g.mu.Lock()
	info, ok := g.infos[url]
	if ok {
		g.mu.Unlock()
		return info
	}
	info = &URLInfo{
		URL:               url,
		Type:              TypeOther,
		ImplicitURLs:      map[string]struct{}{},
		Data:              map[string]any{},
		ModifiedTimestamp: g.now(),
		graph:             g,
	}
	g.infos[url] = info
	hooks := g.createdHooks
	g.mu.Unlock()
	for _, fn := range hooks {
		fn(info)
	}
	return info
}

// DeleteURLInfo removes a node explicitly, then prunes everything that
// became unreachable. lastRef documents which reference caused the removal
// for the pruned notification.
func (g *Graph) DeleteURLInfo(url string, lastRef *Reference) {
	g.mu.Lock()
	info, ok := g.infos[url]
	if !ok {
		g.mu.Unlock()
		return
	}
	g.deleteLocked(info, lastRef)
	notifs := g.pruneLocked()
	g.mu.Unlock()
	g.notifyPruned(notifs)
}

// EntryPoints returns all nodes flagged as entry points.
func (g *Graph) EntryPoints() []*URLInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*URLInfo
	for _, info := range g.infos {
		if info.IsEntryPoint {
			out = append(out, info)
		}
	}
	return out
}

// URLInfos returns a snapshot of every node.
func (g *Graph) URLInfos() []*URLInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*URLInfo, 0, len(g.infos))
	for _, info := range g.infos {
		out = append(out, info)
	}
	return out
}

// Len returns the number of nodes, root included.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.infos)
}

// OnFileChange invalidates the node matching a changed file URL (and every
// node holding it as an implicit dependency), bumping modification
// timestamps so in-flight cooks get superseded. Returns true when a node
// was affected.
func (g *Graph) OnFileChange(url string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	stamp := g.now()
	affected := false
	if info, ok := g.infos[url]; ok {
		g.invalidateLocked(info, stamp)
		affected = true
	}
	for _, info := range g.infos {
		if _, ok := info.ImplicitURLs[url]; ok {
			g.invalidateLocked(info, stamp)
			affected = true
		}
	}
	return affected
}

// invalidateLocked resets a node and its inline descendants (their content
// is embedded in the parent and must be re-extracted).
func (g *Graph) invalidateLocked(info *URLInfo, stamp int64) {
	info.Invalidate()
	info.ModifiedTimestamp = stamp
	for _, ref := range info.ReferenceToOthers {
		if !ref.IsInline {
			continue
		}
		if child, ok := g.infos[ref.URL()]; ok && child.IsInline {
			g.invalidateLocked(child, stamp)
		}
	}
}

type prunedNotif struct {
	info    *URLInfo
	lastRef *Reference
}

// deleteLocked removes a node from the map and detaches its edges. Callers
// must run pruneLocked afterwards to collect newly-unreachable descendants.
func (g *Graph) deleteLocked(info *URLInfo, lastRef *Reference) {
	delete(g.infos, info.URL)
	for _, ref := range info.ReferenceToOthers {
		if target, ok := g.infos[ref.URL()]; ok {
			target.removeIncoming(ref)
		}
	}
	info.ReferenceToOthers = nil
	if !info.IsInline {
		g.pendingNotifs = append(g.pendingNotifs, prunedNotif{info: info, lastRef: lastRef})
	}
}

// pruneLocked removes every node not reachable from the root set (the graph
// root plus entry points) through strong references. Reachability analysis
// rather than refcounting keeps unreferenced cycles collectible.
func (g *Graph) pruneLocked() []prunedNotif {
	marked := map[string]struct{}{}
	var stack []*URLInfo
	if _, ok := g.infos[g.Root.URL]; ok {
		stack = append(stack, g.Root)
	}
	for _, info := range g.infos {
		if info.IsEntryPoint {
			stack = append(stack, info)
		}
	}
	for len(stack) > 0 {
		info := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := marked[info.URL]; seen {
			continue
		}
		marked[info.URL] = struct{}{}
		for _, ref := range info.ReferenceToOthers {
			if !ref.IsStrong() {
				continue
			}
			if target, ok := g.infos[ref.URL()]; ok {
				stack = append(stack, target)
			}
		}
	}

	var doomed []*URLInfo
	for url, info := range g.infos {
		if _, ok := marked[url]; !ok {
			doomed = append(doomed, info)
		}
	}
	for _, info := range doomed {
		var lastRef *Reference
		if n := len(info.ReferenceFromOthers); n > 0 {
			lastRef = info.ReferenceFromOthers[n-1]
		} else {
			lastRef = info.FirstReference
		}
		g.deleteLocked(info, lastRef)
	}
	notifs := g.pendingNotifs
	g.pendingNotifs = nil
	return notifs
}

func (g *Graph) notifyPruned(notifs []prunedNotif) {
	for _, n := range notifs {
		for _, fn := range g.prunedHooks {
			fn(n.info, n.lastRef)
		}
	}
}

// Prune runs a reachability pass explicitly. Exposed for collaborators that
// mutate entry-point flags outside a cook.
func (g *Graph) Prune() {
	g.mu.Lock()
	notifs := g.pruneLocked()
	g.mu.Unlock()
	g.notifyPruned(notifs)
}

func (u *URLInfo) removeIncoming(ref *Reference) {
	for i, candidate := range u.ReferenceFromOthers {
		if candidate == ref {
			u.ReferenceFromOthers = append(u.ReferenceFromOthers[:i], u.ReferenceFromOthers[i+1:]...)
			break
		}
	}
	if u.FirstReference == ref {
		u.FirstReference = nil
		for _, candidate := range u.ReferenceFromOthers {
			if candidate.IsStrong() && !candidate.IsImplicit {
				u.FirstReference = candidate
				break
			}
		}
	}
}

func (g *Graph) getParse(u *URLInfo) (any, bool) {
	return g.parseCache.Get(u.URL + "\x00" + u.ContentEtag())
}

func (g *Graph) storeParse(u *URLInfo, v any) {
	g.parseCache.Add(u.URL+"\x00"+u.ContentEtag(), v)
}
