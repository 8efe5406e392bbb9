package urlgraph

import (
	"github.com/jsenv/core-sub005/internal/hashing"
	"github.com/jsenv/core-sub005/internal/sourcemap"
)

// URLSite is a position inside a resource, used for inline embedding sites
// and error traces.
type URLSite struct {
	URL    string
	Line   int
	Column int
}

// URLInfo is one graph node: a resource identified by its canonical URL.
type URLInfo struct {
	URL     string
	Type    ResourceType
	Subtype string // worker, service_worker, shared_worker, ...

	ContentType     string
	OriginalContent string
	Content         string
	Fetched         bool // content fields populated by a fetch

	Sourcemap          *sourcemap.SourceMap
	SourcemapIsWrong   bool
	SourcemapReference *Reference

	IsInline      bool
	InlineURLSite *URLSite
	IsEntryPoint  bool
	IsRoot        bool

	FirstReference      *Reference
	ReferenceToOthers   []*Reference
	ReferenceFromOthers []*Reference
	ImplicitURLs        map[string]struct{}

	ContentFinalized  bool
	ModifiedTimestamp int64
	Error             error

	Filename string
	Data     map[string]any

	graph *Graph

	contentEtag         string
	originalContentEtag string

	collecting   bool
	previousRefs []*Reference
}

// Graph returns the graph owning this node.
func (u *URLInfo) Graph() *Graph { return u.graph }

// Deps returns the dependency-management facade of this node.
func (u *URLInfo) Deps() *DependencySet { return &DependencySet{owner: u} }

// ContentEtag lazily computes and memoizes the hash of the current content.
func (u *URLInfo) ContentEtag() string {
	if u.contentEtag == "" {
		u.contentEtag = hashing.Sum([]byte(u.Content))
	}
	return u.contentEtag
}

// OriginalContentEtag lazily computes the hash of the pre-transform content.
func (u *URLInfo) OriginalContentEtag() string {
	if u.originalContentEtag == "" {
		u.originalContentEtag = hashing.Sum([]byte(u.OriginalContent))
	}
	return u.originalContentEtag
}

// SetContent replaces the current content and invalidates derived caches.
// A no-op when the content is identical.
func (u *URLInfo) SetContent(content string) bool {
	if u.Fetched && content == u.Content {
		return false
	}
	// parse-cache keys embed the etag, so stale entries age out of the LRU
	u.Content = content
	u.contentEtag = ""
	return true
}

// SetOriginalContent establishes the pre-transform content, once per fetch.
func (u *URLInfo) SetOriginalContent(content string) {
	u.OriginalContent = content
	u.originalContentEtag = ""
}

// CachedParse returns the memoized parse result for the current content.
func (u *URLInfo) CachedParse() (any, bool) {
	return u.graph.getParse(u)
}

// StoreParse memoizes a parse result keyed by the current content etag.
func (u *URLInfo) StoreParse(v any) {
	u.graph.storeParse(u, v)
}

// Invalidate resets content fields so the node gets re-cooked. Timestamp
// bookkeeping is the caller's concern (see Graph.OnFileChange).
func (u *URLInfo) Invalidate() {
	u.Content = ""
	u.OriginalContent = ""
	u.Fetched = false
	u.ContentFinalized = false
	u.Sourcemap = nil
	u.SourcemapIsWrong = false
	u.Error = nil
	u.contentEtag = ""
	u.originalContentEtag = ""
}

// IsUsed reports whether the node must stay in the graph: the root, entry
// points, and nodes with at least one incoming strong reference.
func (u *URLInfo) IsUsed() bool {
	if u.IsRoot || u.IsEntryPoint {
		return true
	}
	for _, ref := range u.ReferenceFromOthers {
		if ref.IsStrong() {
			return true
		}
	}
	return false
}

// DependencyURLs returns the unique URLs of strong outgoing references.
func (u *URLInfo) DependencyURLs() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, ref := range u.ReferenceToOthers {
		if !ref.IsStrong() || ref.IsImplicit {
			continue
		}
		target := ref.URL()
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// DependentURLs returns the unique URLs of owners referencing this node.
func (u *URLInfo) DependentURLs() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, ref := range u.ReferenceFromOthers {
		if ref.Owner == nil {
			continue
		}
		if _, dup := seen[ref.Owner.URL]; dup {
			continue
		}
		seen[ref.Owner.URL] = struct{}{}
		out = append(out, ref.Owner.URL)
	}
	return out
}

// InlineAncestor returns the nearest non-inline ancestor of an inline node,
// following embedding sites transitively. Returns u itself when not inline.
func (u *URLInfo) InlineAncestor() *URLInfo {
	cur := u
	for cur.IsInline && cur.InlineURLSite != nil {
		parent, ok := cur.graph.URLInfo(cur.InlineURLSite.URL)
		if !ok {
			break
		}
		cur = parent
	}
	return cur
}

// Trace walks back through inline embedding sites, producing the
// human-readable chain used by error messages.
func (u *URLInfo) Trace() []URLSite {
	trace := []URLSite{{URL: u.URL}}
	cur := u
	for cur.IsInline && cur.InlineURLSite != nil {
		site := *cur.InlineURLSite
		trace = append(trace, site)
		parent, ok := cur.graph.URLInfo(site.URL)
		if !ok {
			break
		}
		cur = parent
	}
	return trace
}
