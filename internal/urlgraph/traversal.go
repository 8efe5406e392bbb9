package urlgraph

import "net/url"

// ForEachReachable walks every node strongly reachable from start,
// depth-first and cycle-safe. The callback returning false stops the walk.
func (g *Graph) ForEachReachable(start *URLInfo, fn func(*URLInfo) bool) {
	visited := map[string]struct{}{}
	var walk func(*URLInfo) bool
	walk = func(info *URLInfo) bool {
		if _, seen := visited[info.URL]; seen {
			return true
		}
		visited[info.URL] = struct{}{}
		if !fn(info) {
			return false
		}
		for _, ref := range info.ReferenceToOthers {
			if !ref.IsStrong() || ref.IsImplicit {
				continue
			}
			if target, ok := g.URLInfo(ref.URL()); ok {
				if !walk(target) {
					return false
				}
			}
		}
		return true
	}
	walk(start)
}

// FindDependent returns the nearest node referencing u (breadth-first
// through incoming references) satisfying pred.
func (u *URLInfo) FindDependent(pred func(*URLInfo) bool) *URLInfo {
	visited := map[string]struct{}{u.URL: {}}
	queue := []*URLInfo{u}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, ref := range cur.ReferenceFromOthers {
			owner := ref.Owner
			if owner == nil {
				continue
			}
			if _, seen := visited[owner.URL]; seen {
				continue
			}
			visited[owner.URL] = struct{}{}
			if pred(owner) {
				return owner
			}
			queue = append(queue, owner)
		}
	}
	return nil
}

// FindDependency returns the nearest node referenced by u (breadth-first
// through outgoing strong references) satisfying pred.
func (u *URLInfo) FindDependency(pred func(*URLInfo) bool) *URLInfo {
	visited := map[string]struct{}{u.URL: {}}
	queue := []*URLInfo{u}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, ref := range cur.ReferenceToOthers {
			if !ref.IsStrong() || ref.IsImplicit {
				continue
			}
			target, ok := cur.graph.URLInfo(ref.URL())
			if !ok {
				continue
			}
			if _, seen := visited[target.URL]; seen {
				continue
			}
			visited[target.URL] = struct{}{}
			if pred(target) {
				return target
			}
			queue = append(queue, target)
		}
	}
	return nil
}

// HasDependencyOn reports whether u strongly reaches url.
func (u *URLInfo) HasDependencyOn(url string) bool {
	return u.FindDependency(func(info *URLInfo) bool { return info.URL == url }) != nil
}

// InferReference recovers the reference matching a raw specifier as written
// in parentURL's content. A dev server receives requests by path and must
// map them back onto the graph's edges; specifiers inside inline descendant
// nodes count as being inside the parent file.
func (g *Graph) InferReference(specifier, parentURL string) *Reference {
	parent, ok := g.URLInfo(parentURL)
	if !ok {
		return nil
	}
	visited := map[string]struct{}{}
	return g.inferReferenceIn(parent, specifier, visited)
}

func (g *Graph) inferReferenceIn(info *URLInfo, specifier string, visited map[string]struct{}) *Reference {
	if _, seen := visited[info.URL]; seen {
		return nil
	}
	visited[info.URL] = struct{}{}

	for _, ref := range info.ReferenceToOthers {
		if specifierMatches(ref, specifier) {
			return ref
		}
	}
	// search inline descendants: their specifiers are logically inside the
	// parent file
	for _, ref := range info.ReferenceToOthers {
		if !ref.IsInline {
			continue
		}
		child, ok := g.URLInfo(ref.URL())
		if !ok {
			continue
		}
		if found := g.inferReferenceIn(child, specifier, visited); found != nil {
			return found
		}
	}
	return nil
}

func specifierMatches(ref *Reference, specifier string) bool {
	candidates := []string{ref.GeneratedSpecifier, ref.Specifier}
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if candidate == specifier {
			return true
		}
		if decoded, err := url.PathUnescape(candidate); err == nil && decoded == specifier {
			return true
		}
	}
	return false
}
