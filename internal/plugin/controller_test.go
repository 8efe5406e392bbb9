package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/jsenv/core-sub005/internal/urlgraph"
)

func resolvedRef(t *testing.T, url string) *urlgraph.Reference {
	t.Helper()
	ref := &urlgraph.Reference{Specifier: url}
	if err := ref.Resolve(url); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return ref
}

func TestControllerScenarioFiltering(t *testing.T) {
	devOnly := &Plugin{Name: "dev-only", AppliesDuring: Scenarios{Dev: true}}
	everywhere := &Plugin{Name: "everywhere"}
	starred := &Plugin{Name: "starred", AppliesDuring: All()}

	c := NewController(ScenarioBuild, []*Plugin{devOnly, everywhere, starred})
	if len(c.Plugins()) != 2 {
		t.Fatalf("active plugins: got=%d want=2", len(c.Plugins()))
	}
	for _, p := range c.Plugins() {
		if p.Name == "dev-only" {
			t.Fatalf("dev-only plugin active during build")
		}
	}

	c = NewController(ScenarioDev, []*Plugin{devOnly, everywhere, starred})
	if len(c.Plugins()) != 3 {
		t.Fatalf("active dev plugins: got=%d want=3", len(c.Plugins()))
	}
}

func TestResolveReferenceStopsAtFirstHandler(t *testing.T) {
	var order []string
	first := &Plugin{
		Name: "first",
		ResolveReference: func(ctx context.Context, ref *urlgraph.Reference) (string, error) {
			order = append(order, "first")
			return "", nil // not handled
		},
	}
	second := &Plugin{
		Name: "second",
		ResolveReference: func(ctx context.Context, ref *urlgraph.Reference) (string, error) {
			order = append(order, "second")
			cur, ok := CurrentFrom(ctx)
			if !ok || cur.Plugin != "second" || cur.Hook != "resolveReference" {
				t.Fatalf("current in hook context: got=%+v ok=%v", cur, ok)
			}
			return "file:///proj/a.js", nil
		},
	}
	third := &Plugin{
		Name: "third",
		ResolveReference: func(ctx context.Context, ref *urlgraph.Reference) (string, error) {
			order = append(order, "third")
			return "file:///proj/other.js", nil
		},
	}

	c := NewController(ScenarioDev, []*Plugin{first, second, third})
	resolved, p, err := c.ResolveReference(context.Background(), &urlgraph.Reference{Specifier: "./a.js"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved != "file:///proj/a.js" || p.Name != "second" {
		t.Fatalf("resolved=%q by=%q, want file:///proj/a.js by second", resolved, p.Name)
	}
	if len(order) != 2 {
		t.Fatalf("hook calls: got=%v, third should not run", order)
	}
}

func TestTransformBroadcastFeedsEveryResult(t *testing.T) {
	info := &urlgraph.URLInfo{URL: "file:///proj/a.js", Type: urlgraph.TypeJSModule}
	uppercase := &Plugin{
		Name: "a",
		TransformURLContent: TransformHook{
			Any: func(ctx context.Context, info *urlgraph.URLInfo) (*TransformResult, error) {
				return &TransformResult{Content: "one", ContentChanged: true}, nil
			},
		},
	}
	cssOnly := &Plugin{
		Name: "b",
		TransformURLContent: TransformHook{
			PerType: map[urlgraph.ResourceType]TransformFunc{
				urlgraph.TypeCSS: func(ctx context.Context, info *urlgraph.URLInfo) (*TransformResult, error) {
					t.Fatalf("css transform must not run for a js node")
					return nil, nil
				},
			},
		},
	}
	silent := &Plugin{
		Name: "c",
		TransformURLContent: TransformHook{
			Any: func(ctx context.Context, info *urlgraph.URLInfo) (*TransformResult, error) {
				return nil, nil
			},
		},
	}
	last := &Plugin{
		Name: "d",
		TransformURLContent: TransformHook{
			Any: func(ctx context.Context, info *urlgraph.URLInfo) (*TransformResult, error) {
				return &TransformResult{Content: "two", ContentChanged: true}, nil
			},
		},
	}

	c := NewController(ScenarioBuild, []*Plugin{uppercase, cssOnly, silent, last})
	var applied []string
	err := c.TransformURLContent(context.Background(), info, func(result *TransformResult, p *Plugin) error {
		applied = append(applied, p.Name+":"+result.Content)
		return nil
	})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(applied) != 2 || applied[0] != "a:one" || applied[1] != "d:two" {
		t.Fatalf("applied results: got=%v", applied)
	}
}

func TestSearchParamsMergeIntoSingleRedirect(t *testing.T) {
	ref := resolvedRef(t, "file:///proj/a.js")
	p1 := &Plugin{
		Name: "p1",
		TransformReferenceSearchParams: func(ctx context.Context, ref *urlgraph.Reference) (map[string]string, error) {
			return map[string]string{"hot": "1"}, nil
		},
	}
	p2 := &Plugin{
		Name: "p2",
		TransformReferenceSearchParams: func(ctx context.Context, ref *urlgraph.Reference) (map[string]string, error) {
			return map[string]string{"as_js_module": ""}, nil
		},
	}

	c := NewController(ScenarioDev, []*Plugin{p1, p2})
	redirected, err := c.TransformReferenceSearchParams(context.Background(), ref)
	if err != nil {
		t.Fatalf("search params: %v", err)
	}
	if redirected == ref {
		t.Fatalf("expected a redirected reference")
	}
	if redirected.Original() != ref {
		t.Fatalf("redirect chain lost the original")
	}
	if v, ok := redirected.SearchParam("hot"); !ok || v != "1" {
		t.Fatalf("hot param: got=%q ok=%v", v, ok)
	}
	if _, ok := redirected.SearchParam("as_js_module"); !ok {
		t.Fatalf("as_js_module param missing")
	}
}

func TestBundleContractRequiresEveryInput(t *testing.T) {
	a := &urlgraph.URLInfo{URL: "file:///proj/a.js", Type: urlgraph.TypeJSModule}
	b := &urlgraph.URLInfo{URL: "file:///proj/b.js", Type: urlgraph.TypeJSModule}
	bundler := &Plugin{
		Name: "bundler",
		Bundle: map[urlgraph.ResourceType]BundleFunc{
			urlgraph.TypeJSModule: func(ctx context.Context, infos []*urlgraph.URLInfo) (map[string]*BundleResult, error) {
				return map[string]*BundleResult{
					a.URL: {Content: "merged", MergedURLs: []string{a.URL, b.URL}},
					// entry for b deliberately missing
				}, nil
			},
		},
	}

	c := NewController(ScenarioBuild, []*Plugin{bundler})
	_, _, err := c.Bundle(context.Background(), urlgraph.TypeJSModule, []*urlgraph.URLInfo{a, b})
	var contractErr *ContractError
	if !errors.As(err, &contractErr) {
		t.Fatalf("expected a contract error, got %v", err)
	}
	if contractErr.Plugin != "bundler" || contractErr.Hook != "bundle" {
		t.Fatalf("contract error attribution: %+v", contractErr)
	}
}

func TestFetchRejectsUnknownResourceType(t *testing.T) {
	info := &urlgraph.URLInfo{URL: "file:///proj/a.js"}
	bad := &Plugin{
		Name: "bad-loader",
		FetchURLContent: func(ctx context.Context, info *urlgraph.URLInfo, ref *urlgraph.Reference) (*FetchResult, error) {
			return &FetchResult{Content: "x", Type: urlgraph.ResourceType("bogus")}, nil
		},
	}
	c := NewController(ScenarioBuild, []*Plugin{bad})
	_, _, err := c.FetchURLContent(context.Background(), info, nil)
	var contractErr *ContractError
	if !errors.As(err, &contractErr) {
		t.Fatalf("expected a contract error, got %v", err)
	}
}

func TestFinalizeStopsAtFirstResult(t *testing.T) {
	info := &urlgraph.URLInfo{URL: "file:///proj/a.css", Type: urlgraph.TypeCSS}
	skip := &Plugin{
		Name: "skip",
		FinalizeURLContent: TransformHook{
			PerType: map[urlgraph.ResourceType]TransformFunc{
				urlgraph.TypeHTML: func(ctx context.Context, info *urlgraph.URLInfo) (*TransformResult, error) {
					return &TransformResult{Content: "html", ContentChanged: true}, nil
				},
			},
		},
	}
	minify := &Plugin{
		Name: "minify",
		FinalizeURLContent: TransformHook{
			Any: func(ctx context.Context, info *urlgraph.URLInfo) (*TransformResult, error) {
				return &TransformResult{Content: "minified", ContentChanged: true}, nil
			},
		},
	}
	c := NewController(ScenarioBuild, []*Plugin{skip, minify})
	result, p, err := c.FinalizeURLContent(context.Background(), info)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if result == nil || result.Content != "minified" || p.Name != "minify" {
		t.Fatalf("finalize result: got=%+v by=%v", result, p)
	}
}
