// Package build runs the pipeline end to end for a set of entry points and
// produces a self-contained directory: every reachable resource cooked,
// optionally bundled, versioned by content hash with dependency cascade, and
// written with rewritten specifiers plus an asset manifest.
package build

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"sort"
	"strings"

	"github.com/jsenv/core-sub005/internal/hashing"
	"github.com/jsenv/core-sub005/internal/kitchen"
	"github.com/jsenv/core-sub005/internal/plugin"
	"github.com/jsenv/core-sub005/internal/safeio"
	"github.com/jsenv/core-sub005/internal/urlgraph"
)

// Versioning methods.
const (
	VersioningSearchParam = "search_param"
	VersioningFilename    = "filename"
)

// Options configures a build.
type Options struct {
	RootDirectoryURL string
	EntryPoints      []string
	Plugins          []*plugin.Plugin

	// BaseURL prefixes every build specifier, "/" by default.
	BaseURL string

	Versioning       bool
	VersioningMethod string // VersioningSearchParam (default) or VersioningFilename

	Sourcemaps    bool
	AssetManifest bool

	// OutFS receives the build files; nil produces an in-memory result only.
	OutFS *safeio.SafeFS

	Logger *log.Logger
}

// Result is the outcome of a build.
type Result struct {
	// FileContents maps build-relative paths to their content.
	FileContents map[string]string
	// InlineContents maps synthesized inline URLs to their final content,
	// useful to assert on what got embedded.
	InlineContents map[string]string
	// Manifest maps original relative paths to versioned ones.
	Manifest map[string]string
	// EntryURLs lists the canonical URLs of the cooked entry points.
	EntryURLs []string
}

// Build cooks every entry point and its dependencies, then assembles the
// output directory.
func Build(ctx context.Context, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if len(opts.EntryPoints) == 0 {
		return nil, fmt.Errorf("build: no entry points")
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "/"
	}
	method := opts.VersioningMethod
	if method == "" {
		method = VersioningSearchParam
	}

	graph := urlgraph.New(opts.RootDirectoryURL)
	k := kitchen.New(kitchen.Options{
		Scenario:          plugin.ScenarioBuild,
		Graph:             graph,
		Plugins:           opts.Plugins,
		RootDirectoryURL:  opts.RootDirectoryURL,
		SourcemapsEnabled: opts.Sourcemaps,
		Logger:            logger,
	})

	b := &builder{
		opts:    opts,
		baseURL: baseURL,
		method:  method,
		graph:   graph,
		kitchen: k,
		logger:  logger,
		aliases: map[string]string{},
	}
	return b.run(ctx)
}

type builder struct {
	opts    Options
	baseURL string
	method  string
	graph   *urlgraph.Graph
	kitchen *kitchen.Kitchen
	logger  *log.Logger

	// aliases maps a bundled-away node URL to the URL of the bundle that
	// absorbed it.
	aliases map[string]string
}

func (b *builder) run(ctx context.Context) (*Result, error) {
	var entries []*urlgraph.URLInfo
	for _, specifier := range b.opts.EntryPoints {
		_, info, err := b.graph.Root.Deps().Found(ctx, urlgraph.ReferenceProps{
			Type:         "entry_point",
			Specifier:    specifier,
			IsEntryPoint: true,
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, info)
	}
	for _, entry := range entries {
		if err := b.kitchen.Cook(ctx, entry); err != nil {
			return nil, err
		}
		if err := b.kitchen.CookDependencies(ctx, entry, kitchen.CookDependenciesOptions{}); err != nil {
			return nil, err
		}
	}

	if err := b.kitchen.InjectDeferredSideEffects(ctx); err != nil {
		return nil, err
	}
	if err := b.bundle(ctx); err != nil {
		return nil, err
	}

	writable := b.writableNodes()
	versions := map[string]string{}
	if b.opts.Versioning {
		versions = b.computeVersions(writable)
	}
	names := b.finalNames(writable, versions)
	specifiers := b.finalSpecifiers(writable, names, versions)
	extra := b.rewriteSpecifiers(writable, names, specifiers)
	writable = append(writable, extra...)

	result := &Result{
		FileContents:   map[string]string{},
		InlineContents: map[string]string{},
		Manifest:       map[string]string{},
	}
	for _, entry := range entries {
		result.EntryURLs = append(result.EntryURLs, entry.URL)
	}
	for _, info := range b.graph.URLInfos() {
		if info.IsInline {
			result.InlineContents[info.URL] = info.Content
		}
	}
	for _, info := range writable {
		finalPath := names[info.URL]
		result.FileContents[finalPath] = info.Content
		result.Manifest[b.relativePath(info.URL)] = finalPath
		if b.opts.OutFS != nil {
			if err := b.opts.OutFS.WriteFile(finalPath, []byte(info.Content)); err != nil {
				return nil, err
			}
		}
	}
	if b.opts.AssetManifest {
		manifest, err := marshalManifest(result.Manifest)
		if err != nil {
			return nil, err
		}
		result.FileContents["asset-manifest.json"] = string(manifest)
		if b.opts.OutFS != nil {
			if err := b.opts.OutFS.WriteFile("asset-manifest.json", manifest); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// bundle offers each resource type's node group to the bundle hooks. A node
// absorbed into another one is aliased so its references point at the
// bundle.
func (b *builder) bundle(ctx context.Context) error {
	byType := map[urlgraph.ResourceType][]*urlgraph.URLInfo{}
	for _, info := range b.graph.URLInfos() {
		if info.IsInline || info.IsRoot || !info.ContentFinalized {
			continue
		}
		byType[info.Type] = append(byType[info.Type], info)
	}
	types := make([]urlgraph.ResourceType, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	for _, t := range types {
		group := byType[t]
		sort.Slice(group, func(i, j int) bool { return group[i].URL < group[j].URL })
		results, _, err := b.kitchen.Controller().Bundle(ctx, t, group)
		if err != nil {
			return err
		}
		if results == nil {
			continue
		}
		for _, info := range group {
			res := results[info.URL]
			if len(res.MergedURLs) == 0 && res.Content == info.Content {
				continue
			}
			info.SetContent(res.Content)
			if res.ContentType != "" {
				info.ContentType = res.ContentType
			}
			info.Sourcemap = res.Sourcemap
			for _, merged := range res.MergedURLs {
				if merged != info.URL {
					b.aliases[merged] = info.URL
				}
			}
		}
	}
	return nil
}

// writableNodes lists the nodes that become files in the build directory:
// project files reachable in the graph, bundled-away and inline nodes
// excluded.
func (b *builder) writableNodes() []*urlgraph.URLInfo {
	var out []*urlgraph.URLInfo
	for _, info := range b.graph.URLInfos() {
		if info.IsRoot || info.IsInline || !info.Fetched {
			continue
		}
		if !strings.HasPrefix(info.URL, "file://") {
			continue
		}
		if _, merged := b.aliases[info.URL]; merged {
			continue
		}
		if info.Type == urlgraph.TypeSourcemap {
			// map files are named after their owner once final names exist
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// computeVersions walks the dependency graph computing a hash per node that
// folds in the hashes of its dependencies, so a change anywhere below a
// resource changes the resource's version. Cycles fall back to the content
// hash alone for the back edge.
func (b *builder) computeVersions(nodes []*urlgraph.URLInfo) map[string]string {
	const (
		stateInProgress = 1
		stateDone       = 2
	)
	states := map[string]int{}
	versions := map[string]string{}

	var visit func(info *urlgraph.URLInfo) string
	visit = func(info *urlgraph.URLInfo) string {
		switch states[info.URL] {
		case stateDone:
			return versions[info.URL]
		case stateInProgress:
			return info.ContentEtag()
		}
		states[info.URL] = stateInProgress
		var depHashes []string
		for _, depURL := range info.DependencyURLs() {
			depURL = b.resolveAlias(depURL)
			dep, ok := b.graph.URLInfo(depURL)
			if !ok || dep.IsInline {
				continue
			}
			depHashes = append(depHashes, visit(dep))
		}
		v := hashing.SumWithDependencies([]byte(info.Content), depHashes)
		states[info.URL] = stateDone
		versions[info.URL] = v
		return v
	}
	for _, info := range nodes {
		visit(info)
	}
	return versions
}

// finalNames assigns the build-relative file name of every writable node.
// Entry points keep a stable name; with filename versioning other nodes get
// the version folded into the name.
func (b *builder) finalNames(nodes []*urlgraph.URLInfo, versions map[string]string) map[string]string {
	names := map[string]string{}
	for _, info := range nodes {
		rel := b.relativePath(info.URL)
		if info.Filename != "" {
			rel = path.Join(path.Dir(rel), info.Filename)
		}
		if b.opts.Versioning && b.method == VersioningFilename && !info.IsEntryPoint {
			if v, ok := versions[info.URL]; ok {
				rel = versionedName(rel, v)
			}
		}
		names[info.URL] = rel
	}
	return names
}

// finalSpecifiers derives the specifier written into referencing content for
// every writable node.
func (b *builder) finalSpecifiers(nodes []*urlgraph.URLInfo, names, versions map[string]string) map[string]string {
	specifiers := map[string]string{}
	for _, info := range nodes {
		specifier := b.baseURL + names[info.URL]
		if b.opts.Versioning && b.method == VersioningSearchParam && !info.IsEntryPoint {
			if v, ok := versions[info.URL]; ok {
				specifier += "?v=" + v
			}
		}
		specifiers[info.URL] = specifier
	}
	return specifiers
}

// rewriteSpecifiers replaces the absolute URLs the cook pipeline wrote into
// content with final build specifiers, renames sourcemap files after their
// owner, and writes them out. Replacements run longest URL first so a URL
// that is a prefix of another (app.js / app.json) never splices into its
// sibling's occurrence.
func (b *builder) rewriteSpecifiers(nodes []*urlgraph.URLInfo, names, specifiers map[string]string) []*urlgraph.URLInfo {
	type replacement struct {
		from string
		to   string
	}
	reps := make([]replacement, 0, len(specifiers)+len(b.aliases))
	for url, specifier := range specifiers {
		reps = append(reps, replacement{from: url, to: specifier})
	}
	for merged, target := range b.aliases {
		if spec, ok := specifiers[target]; ok {
			reps = append(reps, replacement{from: merged, to: spec})
		}
	}
	sort.Slice(reps, func(i, j int) bool {
		if len(reps[i].from) != len(reps[j].from) {
			return len(reps[i].from) > len(reps[j].from)
		}
		return reps[i].from < reps[j].from
	})

	for _, info := range nodes {
		if !isTextual(info.Type) {
			continue
		}
		content := info.Content
		for _, r := range reps {
			if r.from == info.URL {
				continue
			}
			content = strings.ReplaceAll(content, r.from, r.to)
		}
		info.SetContent(content)
	}

	// sourcemap nodes follow the final name of the file they describe
	var extra []*urlgraph.URLInfo
	for _, info := range nodes {
		if info.Sourcemap == nil || info.SourcemapReference == nil {
			continue
		}
		mapInfo, ok := b.graph.URLInfo(info.SourcemapReference.URL())
		if !ok {
			continue
		}
		oldName := path.Base(b.relativePath(info.URL)) + ".map"
		newName := path.Base(names[info.URL]) + ".map"
		if oldName != newName {
			info.SetContent(strings.ReplaceAll(info.Content, oldName, newName))
		}
		names[mapInfo.URL] = path.Join(path.Dir(names[info.URL]), newName)
		extra = append(extra, mapInfo)
	}
	return extra
}

func (b *builder) relativePath(url string) string {
	rel := strings.TrimPrefix(url, b.opts.RootDirectoryURL)
	rel = strings.TrimPrefix(rel, "/")
	if i := strings.IndexAny(rel, "?#"); i >= 0 {
		rel = rel[:i]
	}
	return rel
}

func (b *builder) resolveAlias(url string) string {
	if target, ok := b.aliases[url]; ok {
		return target
	}
	return url
}

// versionedName folds a version hash into a file name: app.js -> app-8f2a.js.
func versionedName(rel, version string) string {
	dir := path.Dir(rel)
	base := path.Base(rel)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	short := version
	if len(short) > 8 {
		short = short[:8]
	}
	name := stem + "-" + short + ext
	if dir == "." {
		return name
	}
	return path.Join(dir, name)
}

func marshalManifest(manifest map[string]string) ([]byte, error) {
	return json.MarshalIndent(manifest, "", "  ")
}

func isTextual(t urlgraph.ResourceType) bool {
	switch t {
	case urlgraph.TypeHTML, urlgraph.TypeCSS, urlgraph.TypeJSClassic,
		urlgraph.TypeJSModule, urlgraph.TypeJSON, urlgraph.TypeImportmap,
		urlgraph.TypeWebmanifest, urlgraph.TypeSVG, urlgraph.TypeText:
		return true
	}
	return false
}
