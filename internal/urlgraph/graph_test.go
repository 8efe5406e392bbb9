package urlgraph

import (
	"context"
	"net/url"
	"testing"
)

const testRoot = "file:///proj/"

// stubResolver resolves specifiers against the owner URL without plugins.
type stubResolver struct{ g *Graph }

func (r *stubResolver) ResolveReference(ctx context.Context, ref *Reference) (*Reference, *URLInfo, error) {
	base := r.g.RootDirectoryURL
	if ref.Owner != nil && ref.Owner.URL != "" {
		base = ref.Owner.URL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, nil, err
	}
	rel, err := url.Parse(ref.Specifier)
	if err != nil {
		return nil, nil, err
	}
	resolved := baseURL.ResolveReference(rel).String()
	if err := ref.Resolve(resolved); err != nil {
		return nil, nil, err
	}
	ref.GeneratedSpecifier = resolved
	return ref, r.g.ReuseOrCreateURLInfo(resolved), nil
}

func newTestGraph() *Graph {
	g := New(testRoot)
	g.SetResolver(&stubResolver{g: g})
	return g
}

func TestReuseOrCreateURLInfoIsIdempotent(t *testing.T) {
	g := newTestGraph()
	created := 0
	g.OnURLInfoCreated(func(*URLInfo) { created++ })

	a := g.ReuseOrCreateURLInfo(testRoot + "a.js")
	b := g.ReuseOrCreateURLInfo(testRoot + "a.js")
	if a != b {
		t.Fatalf("expected the same node for the same url")
	}
	if created != 1 {
		t.Fatalf("created hook calls: got=%d want=1", created)
	}
	if got := g.Len(); got != 2 {
		t.Fatalf("graph size: got=%d want=2 (root + node)", got)
	}
}

func TestReferenceRedirectChain(t *testing.T) {
	g := newTestGraph()
	ctx := context.Background()

	ref, _, err := g.Root.Deps().Found(ctx, ReferenceProps{Type: "entry_point", Specifier: "./a.js"})
	if err != nil {
		t.Fatalf("found: %v", err)
	}
	second := ref.Redirect(testRoot + "a.js?v=1")
	third := second.Redirect(testRoot + "b.js")

	if got := third.Original(); got != ref {
		t.Fatalf("original: got=%v want first reference", got)
	}
	if got := ref.Latest(); got != third {
		t.Fatalf("latest: got=%v want third reference", got)
	}
	chain := third.History()
	if len(chain) != 3 {
		t.Fatalf("history length: got=%d want=3", len(chain))
	}
	if chain[0] != ref || chain[2] != third {
		t.Fatalf("history order wrong")
	}
	if err := ref.Resolve(testRoot + "other.js"); err == nil {
		t.Fatalf("expected second resolution of the same reference to fail")
	}
}

func TestCollectingDiffDetachesStaleEdges(t *testing.T) {
	g := newTestGraph()
	ctx := context.Background()

	a := g.ReuseOrCreateURLInfo(testRoot + "a.js")
	a.IsEntryPoint = true
	if _, _, err := a.Deps().Found(ctx, ReferenceProps{Type: "js_import", Specifier: "./b.js"}); err != nil {
		t.Fatalf("found b: %v", err)
	}
	if _, _, err := a.Deps().Found(ctx, ReferenceProps{Type: "js_import", Specifier: "./c.js"}); err != nil {
		t.Fatalf("found c: %v", err)
	}

	deps := a.Deps()
	deps.StartCollecting()
	if _, _, err := deps.Found(ctx, ReferenceProps{Type: "js_import", Specifier: "./b.js"}); err != nil {
		t.Fatalf("re-found b: %v", err)
	}
	deps.StopCollecting()

	if _, ok := g.URLInfo(testRoot + "b.js"); !ok {
		t.Fatalf("b should survive the re-collection")
	}
	if _, ok := g.URLInfo(testRoot + "c.js"); ok {
		t.Fatalf("c should be pruned after it was not re-reported")
	}
	if len(a.ReferenceToOthers) != 1 {
		t.Fatalf("outgoing edges: got=%d want=1", len(a.ReferenceToOthers))
	}
}

func TestPruneCollectsUnreferencedCycle(t *testing.T) {
	g := newTestGraph()
	ctx := context.Background()

	a := g.ReuseOrCreateURLInfo(testRoot + "a.js")
	a.IsEntryPoint = true
	_, b, err := a.Deps().Found(ctx, ReferenceProps{Type: "js_import", Specifier: "./b.js"})
	if err != nil {
		t.Fatalf("found b: %v", err)
	}
	_, c, err := b.Deps().Found(ctx, ReferenceProps{Type: "js_import", Specifier: "./c.js"})
	if err != nil {
		t.Fatalf("found c: %v", err)
	}
	if _, _, err := c.Deps().Found(ctx, ReferenceProps{Type: "js_import", Specifier: "./b.js"}); err != nil {
		t.Fatalf("found cycle edge: %v", err)
	}

	pruned := map[string]bool{}
	g.OnPruned(func(info *URLInfo, _ *Reference) { pruned[info.URL] = true })

	// drop a -> b; b and c keep each other alive only through the cycle
	deps := a.Deps()
	deps.StartCollecting()
	deps.StopCollecting()

	if _, ok := g.URLInfo(testRoot + "b.js"); ok {
		t.Fatalf("b should be pruned despite the cycle")
	}
	if _, ok := g.URLInfo(testRoot + "c.js"); ok {
		t.Fatalf("c should be pruned despite the cycle")
	}
	if !pruned[testRoot+"b.js"] || !pruned[testRoot+"c.js"] {
		t.Fatalf("pruned notifications missing: %v", pruned)
	}
}

func TestWeakReferenceDoesNotRetain(t *testing.T) {
	g := newTestGraph()
	ctx := context.Background()

	a := g.ReuseOrCreateURLInfo(testRoot + "page.html")
	a.IsEntryPoint = true
	ref, other, err := a.Deps().Found(ctx, ReferenceProps{Type: "a_href", Specifier: "./other.html", IsWeak: true})
	if err != nil {
		t.Fatalf("found: %v", err)
	}
	if ref.IsStrong() {
		t.Fatalf("weak reference reported strong")
	}
	if other.IsUsed() {
		t.Fatalf("weakly referenced node should not count as used")
	}
	g.Prune()
	if _, ok := g.URLInfo(testRoot + "other.html"); ok {
		t.Fatalf("weakly referenced node should be pruned")
	}
}

func TestInlineContentRefreshOnRecollect(t *testing.T) {
	g := newTestGraph()
	ctx := context.Background()

	page := g.ReuseOrCreateURLInfo(testRoot + "index.html")
	page.IsEntryPoint = true
	page.Type = TypeHTML

	props := ReferenceProps{
		Type:         "script",
		ExpectedType: TypeJSClassic,
		Line:         3,
		Column:       1,
		Content:      "console.log(1)",
	}
	_, child, err := page.Deps().FoundInline(ctx, props)
	if err != nil {
		t.Fatalf("found inline: %v", err)
	}
	if !child.IsInline || child.InlineURLSite == nil {
		t.Fatalf("inline node not marked inline")
	}
	if child.Content != "console.log(1)" {
		t.Fatalf("inline content: got=%q", child.Content)
	}
	child.ContentFinalized = true

	deps := page.Deps()
	deps.StartCollecting()
	props.Content = "console.log(2)"
	_, child2, err := deps.FoundInline(ctx, props)
	if err != nil {
		t.Fatalf("re-found inline: %v", err)
	}
	deps.StopCollecting()

	if child2 != child {
		t.Fatalf("same position should reuse the inline node")
	}
	if child.Content != "console.log(2)" {
		t.Fatalf("inline content not refreshed: got=%q", child.Content)
	}
	if child.ContentFinalized {
		t.Fatalf("refreshed inline node should need a re-cook")
	}
}

func TestOnFileChangeInvalidatesImplicitDependents(t *testing.T) {
	g := newTestGraph()
	ctx := context.Background()

	a := g.ReuseOrCreateURLInfo(testRoot + "a.js")
	a.IsEntryPoint = true
	a.SetContent("cooked")
	a.Fetched = true
	a.ContentFinalized = true
	if _, _, err := a.Deps().FoundImplicit(ctx, ReferenceProps{Type: "config", Specifier: "./tool.config.json"}); err != nil {
		t.Fatalf("found implicit: %v", err)
	}

	before := a.ModifiedTimestamp
	if !g.OnFileChange(testRoot + "tool.config.json") {
		t.Fatalf("change of an implicit dependency should affect the graph")
	}
	if a.ContentFinalized || a.Fetched {
		t.Fatalf("dependent node should be invalidated")
	}
	if a.ModifiedTimestamp == before {
		t.Fatalf("modified timestamp should be bumped")
	}
	if g.OnFileChange(testRoot + "unknown.js") {
		t.Fatalf("change of an unknown file should not affect the graph")
	}
}

func TestInferReference(t *testing.T) {
	g := newTestGraph()
	ctx := context.Background()

	page := g.ReuseOrCreateURLInfo(testRoot + "index.html")
	page.IsEntryPoint = true
	page.Type = TypeHTML
	if _, _, err := page.Deps().Found(ctx, ReferenceProps{Type: "script", Specifier: "./app.js"}); err != nil {
		t.Fatalf("found: %v", err)
	}
	_, child, err := page.Deps().FoundInline(ctx, ReferenceProps{
		Type: "script", ExpectedType: TypeJSClassic, Line: 5, Column: 1, Content: "x",
	})
	if err != nil {
		t.Fatalf("found inline: %v", err)
	}
	if _, _, err := child.Deps().Found(ctx, ReferenceProps{Type: "js_import", Specifier: "./nested.js"}); err != nil {
		t.Fatalf("found nested: %v", err)
	}

	if ref := g.InferReference("./app.js", page.URL); ref == nil {
		t.Fatalf("direct specifier not inferred")
	}
	// a specifier written inside an inline script counts as inside the page
	if ref := g.InferReference("./nested.js", page.URL); ref == nil {
		t.Fatalf("inline descendant specifier not inferred")
	}
	if ref := g.InferReference("./ghost.js", page.URL); ref != nil {
		t.Fatalf("unknown specifier inferred: %v", ref)
	}
}

func TestTraversalHelpers(t *testing.T) {
	g := newTestGraph()
	ctx := context.Background()

	page := g.ReuseOrCreateURLInfo(testRoot + "index.html")
	page.IsEntryPoint = true
	page.Type = TypeHTML
	_, app, err := page.Deps().Found(ctx, ReferenceProps{Type: "script", Specifier: "./app.js"})
	if err != nil {
		t.Fatalf("found app: %v", err)
	}
	_, dep, err := app.Deps().Found(ctx, ReferenceProps{Type: "js_import", Specifier: "./dep.js"})
	if err != nil {
		t.Fatalf("found dep: %v", err)
	}

	if !page.HasDependencyOn(dep.URL) {
		t.Fatalf("transitive dependency not found")
	}
	host := dep.FindDependent(func(info *URLInfo) bool { return info.Type == TypeHTML })
	if host != page {
		t.Fatalf("find dependent: got=%v want page", host)
	}
	var walked []string
	g.ForEachReachable(page, func(info *URLInfo) bool {
		walked = append(walked, info.URL)
		return true
	})
	if len(walked) != 3 {
		t.Fatalf("reachable nodes: got=%d want=3", len(walked))
	}
}

func TestTypeFromContentType(t *testing.T) {
	cases := map[string]ResourceType{
		"text/html; charset=utf-8":  TypeHTML,
		"application/javascript":    TypeJSModule,
		"application/geo+json":      TypeJSON,
		"text/x-unknown":            TypeText,
		"application/octet-stream":  TypeAsset,
		"application/manifest+json": TypeWebmanifest,
	}
	for contentType, want := range cases {
		if got := TypeFromContentType(contentType); got != want {
			t.Fatalf("%s: got=%s want=%s", contentType, got, want)
		}
	}
}
