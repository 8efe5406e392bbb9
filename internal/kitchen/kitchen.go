// Package kitchen orchestrates the per-resource pipeline: a reference is
// resolved to a canonical URL, the node's content is fetched, transformed by
// every applicable plugin, then finalized. The kitchen owns cook coalescing,
// the error taxonomy, and sourcemap/content bookkeeping; the graph owns the
// nodes and edges.
package kitchen

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jsenv/core-sub005/internal/plugin"
	"github.com/jsenv/core-sub005/internal/safeio"
	"github.com/jsenv/core-sub005/internal/urlgraph"
)

// IgnoreProtocol prefixes URLs that were intentionally not processed; the
// node still exists so the graph remembers the decision, but it is never
// fetched.
const IgnoreProtocol = "ignore:"

var defaultProtocols = []string{"file", "http", "https", "data", "virtual", "ignore"}

// Options configures a Kitchen.
type Options struct {
	Scenario         plugin.Scenario
	Graph            *urlgraph.Graph
	Plugins          []*plugin.Plugin
	RootDirectoryURL string

	// Ignore marks URLs that should occupy a graph node without being
	// fetched (user-supplied patterns, package exclusions).
	Ignore func(url string) bool

	// SupportedProtocols is the dev-only allow-list. Empty means default.
	SupportedProtocols []string

	// SourcemapsEnabled turns on sourcemap composition and emission.
	SourcemapsEnabled bool

	// OutFS, when set, receives a debug mirror of every finalized content.
	OutFS *safeio.SafeFS

	Logger *log.Logger
}

// Kitchen runs the cook pipeline for one scenario (a dev runtime or a
// build).
type Kitchen struct {
	scenario   plugin.Scenario
	graph      *urlgraph.Graph
	controller *plugin.Controller
	rootURL    string
	ignore     func(string) bool
	protocols  map[string]bool
	sourcemaps bool
	outFS      *safeio.SafeFS
	logger     *log.Logger

	mu                sync.Mutex
	cooks             map[string]*cookTask
	finalizeCallbacks map[string][]func(*urlgraph.URLInfo) error
	injections        map[string]map[string]plugin.Injection
	pendingSourcemaps map[string]string // urlInfo url -> sourcemap comment url
	deferredEffects   []deferredSideEffect
}

type cookTask struct {
	timestamp int64
	done      chan struct{}
	err       error
}

// New builds a kitchen, wires the plugin controller, and installs the
// kitchen as the graph's reference resolver.
func New(opts Options) *Kitchen {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	protocols := map[string]bool{}
	list := opts.SupportedProtocols
	if len(list) == 0 {
		list = defaultProtocols
	}
	for _, p := range list {
		protocols[strings.TrimSuffix(p, ":")] = true
	}
	k := &Kitchen{
		scenario:          opts.Scenario,
		graph:             opts.Graph,
		controller:        plugin.NewController(opts.Scenario, opts.Plugins),
		rootURL:           opts.RootDirectoryURL,
		ignore:            opts.Ignore,
		protocols:         protocols,
		sourcemaps:        opts.SourcemapsEnabled,
		outFS:             opts.OutFS,
		logger:            logger,
		cooks:             map[string]*cookTask{},
		finalizeCallbacks: map[string][]func(*urlgraph.URLInfo) error{},
		injections:        map[string]map[string]plugin.Injection{},
		pendingSourcemaps: map[string]string{},
	}
	k.graph.SetResolver(k)
	k.graph.OnURLInfoCreated(k.controller.URLInfoCreated)
	return k
}

type ctxKey struct{}

// withKitchen makes the kitchen reachable from hook implementations, which
// receive only a context and the node they work on.
func (k *Kitchen) withKitchen(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, k)
}

// FromContext returns the kitchen running the current hook.
func FromContext(ctx context.Context) (*Kitchen, bool) {
	k, ok := ctx.Value(ctxKey{}).(*Kitchen)
	return k, ok
}

// Graph returns the url graph this kitchen mutates.
func (k *Kitchen) Graph() *urlgraph.Graph { return k.graph }

// Controller returns the plugin controller.
func (k *Kitchen) Controller() *plugin.Controller { return k.controller }

// Scenario returns the kitchen's scenario.
func (k *Kitchen) Scenario() plugin.Scenario { return k.scenario }

func (k *Kitchen) dev() bool { return k.scenario == plugin.ScenarioDev }

// Cook runs the fetch→transform→finalize pipeline for one node. Concurrent
// cooks of the same URL are coalesced: a second request arriving while a
// cook for the same content timestamp is in flight awaits the same result.
// A request for newer content waits out the stale cook, then re-runs.
func (k *Kitchen) Cook(ctx context.Context, info *urlgraph.URLInfo) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		k.mu.Lock()
		if info.ContentFinalized && info.Error == nil {
			k.mu.Unlock()
			return nil
		}
		if task, ok := k.cooks[info.URL]; ok {
			stale := task.timestamp != info.ModifiedTimestamp
			k.mu.Unlock()
			select {
			case <-task.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			if !stale {
				return task.err
			}
			continue
		}
		task := &cookTask{timestamp: info.ModifiedTimestamp, done: make(chan struct{})}
		k.cooks[info.URL] = task
		k.mu.Unlock()

		err := k.cook(ctx, info)
		task.err = err
		k.mu.Lock()
		if k.cooks[info.URL] == task {
			delete(k.cooks, info.URL)
		}
		k.mu.Unlock()
		close(task.done)
		return err
	}
}

// errInert marks a node that no fetch hook handled but whose reference is
// optional: the cook stops without failing.
var errInert = errors.New("url content not handled, node left inert")

func (k *Kitchen) cook(ctx context.Context, info *urlgraph.URLInfo) (err error) {
	ctx = k.withKitchen(ctx)
	defer func() {
		if err != nil && !errors.Is(err, context.Canceled) {
			k.attachError(info, err)
		}
	}()

	if strings.HasPrefix(info.URL, IgnoreProtocol) {
		info.Fetched = true
		info.ContentFinalized = true
		return nil
	}

	if err := k.fetchURLContent(ctx, info); err != nil {
		if errors.Is(err, errInert) {
			return nil
		}
		return err
	}
	if err := k.transformURLContent(ctx, info); err != nil {
		return err
	}
	if err := k.finalizeURLContent(ctx, info); err != nil {
		return err
	}
	if err := k.controller.Cooked(ctx, info); err != nil {
		return k.newCookError(CodeFinalize, err.Error(), info, plugin.Current{}, err)
	}
	return nil
}

// CookDependenciesOptions tunes the recursive graph walk.
type CookDependenciesOptions struct {
	// IgnoreDynamicImport restricts the walk to the static subgraph.
	IgnoreDynamicImport bool
}

// CookDependencies recursively cooks every strong, non-implicit dependency
// of info. Siblings cook concurrently; each node cooks at most once per
// walk.
func (k *Kitchen) CookDependencies(ctx context.Context, info *urlgraph.URLInfo, opts CookDependenciesOptions) error {
	seen := &seenSet{urls: map[string]struct{}{info.URL: {}}}
	return k.cookDependencies(ctx, info, opts, seen)
}

type seenSet struct {
	mu   sync.Mutex
	urls map[string]struct{}
}

func (s *seenSet) claim(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.urls[url]; ok {
		return false
	}
	s.urls[url] = struct{}{}
	return true
}

func (k *Kitchen) cookDependencies(ctx context.Context, info *urlgraph.URLInfo, opts CookDependenciesOptions, seen *seenSet) error {
	refs := make([]*urlgraph.Reference, len(info.ReferenceToOthers))
	copy(refs, info.ReferenceToOthers)

	group, gctx := errgroup.WithContext(ctx)
	for _, ref := range refs {
		if !ref.IsStrong() || ref.IsImplicit || ref.Type == "sourcemap_comment" {
			continue
		}
		if opts.IgnoreDynamicImport && ref.IsDynamic {
			continue
		}
		targetURL := ref.URL()
		if strings.HasPrefix(targetURL, IgnoreProtocol) {
			continue
		}
		if !seen.claim(targetURL) {
			continue
		}
		target, ok := k.graph.URLInfo(targetURL)
		if !ok {
			continue
		}
		group.Go(func() error {
			if err := k.Cook(gctx, target); err != nil {
				return err
			}
			return k.cookDependencies(gctx, target, opts, seen)
		})
	}
	return group.Wait()
}

// ResolveReference implements urlgraph.Resolver: resolve hooks pick the URL,
// ignore rules and the dev protocol allow-list are applied, search-param and
// redirect hooks may supersede the reference, then the target node is
// obtained and the written-back specifier formatted.
func (k *Kitchen) ResolveReference(ctx context.Context, ref *urlgraph.Reference) (*urlgraph.Reference, *urlgraph.URLInfo, error) {
	ctx = k.withKitchen(ctx)
	resolved, p, err := k.controller.ResolveReference(ctx, ref)
	if err != nil {
		cur := plugin.Current{Hook: "resolveReference"}
		if p != nil {
			cur.Plugin = p.Name
		}
		return nil, nil, k.newCookError(CodeResolve, err.Error(), ref.Owner, cur, err)
	}
	if resolved == "" {
		return nil, nil, k.newCookError(CodeResolve,
			"no plugin has handled the specifier during resolve hook",
			ref.Owner, plugin.Current{Hook: "resolveReference"},
			fmt.Errorf("specifier %q", ref.Specifier))
	}
	if err := ref.Resolve(normalizeURL(resolved)); err != nil {
		return nil, nil, err
	}

	scheme := urlScheme(ref.URL())
	switch {
	case k.ignore != nil && k.ignore(ref.URL()):
		ref = ref.Redirect(IgnoreProtocol + ref.URL())
	case k.dev() && !k.protocols[scheme]:
		return nil, nil, k.newCookError(CodeResolve,
			fmt.Sprintf("protocol %q is not supported", scheme),
			ref.Owner, plugin.Current{}, nil)
	}

	if !strings.HasPrefix(ref.URL(), IgnoreProtocol) {
		ref, err = k.controller.TransformReferenceSearchParams(ctx, ref)
		if err != nil {
			return nil, nil, k.newCookError(CodeResolve, err.Error(), ref.Owner, plugin.Current{Hook: "transformReferenceSearchParams"}, err)
		}
		ref, err = k.controller.RedirectReference(ctx, ref)
		if err != nil {
			return nil, nil, k.newCookError(CodeResolve, err.Error(), ref.Owner, plugin.Current{Hook: "redirectReference"}, err)
		}
	}

	target := k.graph.ReuseOrCreateURLInfo(ref.URL())

	formatted, err := k.controller.FormatReference(ctx, ref)
	if err != nil {
		return nil, nil, k.newCookError(CodeResolve, err.Error(), ref.Owner, plugin.Current{Hook: "formatReference"}, err)
	}
	if formatted == "" {
		formatted = ref.URL()
	}
	ref.GeneratedSpecifier = formatted
	return ref, target, nil
}

// fetchURLContent populates content, content type, and the inferred resource
// type, then verifies the fetched content against the expectations declared
// by the first reference.
func (k *Kitchen) fetchURLContent(ctx context.Context, info *urlgraph.URLInfo) error {
	ref := info.FirstReference

	var result *plugin.FetchResult
	if info.IsInline {
		// inline content was established by the embedding reference
		result = &plugin.FetchResult{
			Content:     info.OriginalContent,
			ContentType: info.ContentType,
			Type:        info.Type,
		}
	} else {
		fetched, p, err := k.controller.FetchURLContent(ctx, info, ref)
		if err != nil {
			cur := plugin.Current{Hook: "fetchUrlContent"}
			if p != nil {
				cur.Plugin = p.Name
			}
			return k.newCookError(CodeFetch, fetchReason(err), info, cur, err)
		}
		if fetched == nil {
			required := !k.dev() || ref == nil || ref.IsEntryPoint || ref.Type == "http_request"
			if required {
				return k.newCookError(CodeFetch,
					"no plugin has handled the url during fetchUrlContent hook",
					info, plugin.Current{Hook: "fetchUrlContent"}, nil)
			}
			// optional resource (missing favicon and friends): tolerated in dev
			k.logger.Printf("no plugin handled %s, leaving it inert", info.URL)
			info.Fetched = true
			info.ContentFinalized = true
			return errInert
		}
		result = fetched
	}

	contentType := result.ContentType
	if contentType == "" {
		contentType = urlgraph.ContentTypeFromURL(info.URL)
	}
	resourceType := result.Type
	if resourceType == "" && ref != nil && ref.ExpectedType != "" {
		resourceType = ref.ExpectedType
	}
	if resourceType == "" {
		resourceType = urlgraph.TypeFromContentType(contentType)
	}

	if ref != nil {
		if ref.ExpectedContentType != "" && ref.ExpectedContentType != contentType {
			return k.newCookError(CodeFetch,
				fmt.Sprintf("content-type mismatch: expected %q, got %q", ref.ExpectedContentType, contentType),
				info, plugin.Current{}, nil)
		}
		if ref.ExpectedType != "" && resourceType != ref.ExpectedType {
			return k.newCookError(CodeFetch,
				fmt.Sprintf("type mismatch: expected %q, got %q", ref.ExpectedType, resourceType),
				info, plugin.Current{}, nil)
		}
		if ref.Integrity != "" {
			if err := checkIntegrity(ref.Integrity, result.Content); err != nil {
				return k.newCookError(CodeFetch, err.Error(), info, plugin.Current{}, err)
			}
		}
	}

	info.Type = resourceType
	info.ContentType = contentType
	if result.Filename != "" && info.Filename == "" {
		info.Filename = result.Filename
	}
	for key, value := range result.Data {
		info.Data[key] = value
	}
	k.setContent(info, result)
	return nil
}

func (k *Kitchen) transformURLContent(ctx context.Context, info *urlgraph.URLInfo) error {
	// the collecting diff only makes sense when a scanner re-reports the
	// node's references; without one, edges declared by other collaborators
	// must survive the cook
	if k.controller.HasTransformFor(info.Type) {
		deps := info.Deps()
		deps.StartCollecting()
		defer deps.StopCollecting()
	}

	// an external sourcemap detected at fetch time becomes a graph node of
	// its own, cooked eagerly so the composed map starts from it
	if err := k.adoptPendingSourcemap(ctx, info); err != nil {
		k.logger.Printf("cannot load sourcemap of %s: %v", info.URL, err)
	}

	err := k.controller.TransformURLContent(ctx, info, func(result *plugin.TransformResult, p *plugin.Plugin) error {
		return k.applyTransformations(info, result)
	})
	if err != nil {
		var parseErr *plugin.ParseError
		if errors.As(err, &parseErr) {
			return k.newParseCookError(info, parseErr)
		}
		cur, _ := plugin.CurrentFrom(ctx)
		return k.newCookError(CodeTransform, err.Error(), info, cur, err)
	}
	return nil
}

func (k *Kitchen) finalizeURLContent(ctx context.Context, info *urlgraph.URLInfo) error {
	// callbacks queued for "after all transforms" (banner code, deferred
	// inlining) run first
	k.mu.Lock()
	callbacks := k.finalizeCallbacks[info.URL]
	delete(k.finalizeCallbacks, info.URL)
	k.mu.Unlock()
	for _, cb := range callbacks {
		if err := cb(info); err != nil {
			return k.newCookError(CodeFinalize, err.Error(), info, plugin.Current{}, err)
		}
	}

	result, p, err := k.controller.FinalizeURLContent(ctx, info)
	if err != nil {
		cur := plugin.Current{Hook: "finalizeUrlContent"}
		if p != nil {
			cur.Plugin = p.Name
		}
		return k.newCookError(CodeFinalize, err.Error(), info, cur, err)
	}
	if result != nil {
		if err := k.applyTransformations(info, result); err != nil {
			return k.newCookError(CodeFinalize, err.Error(), info, plugin.Current{}, err)
		}
	}

	if err := k.endTransformations(ctx, info); err != nil {
		return err
	}
	info.ContentFinalized = true
	return nil
}

// attachError records the failure on the node and propagates it to the
// nearest non-inline ancestor so a broken inline script marks its page.
func (k *Kitchen) attachError(info *urlgraph.URLInfo, err error) {
	info.Error = err
	if info.IsInline {
		if ancestor := info.InlineAncestor(); ancestor != nil && ancestor != info {
			if ancestor.Error == nil {
				ancestor.Error = err
			}
		}
	}
}

// AddFinalizeCallback queues a mutation applied once all transforms of the
// node completed, before the finalize hook runs.
func (k *Kitchen) AddFinalizeCallback(url string, cb func(*urlgraph.URLInfo) error) {
	k.mu.Lock()
	k.finalizeCallbacks[url] = append(k.finalizeCallbacks[url], cb)
	k.mu.Unlock()
}

func (k *Kitchen) newParseCookError(info *urlgraph.URLInfo, parseErr *plugin.ParseError) *CookError {
	line, column := parseErr.Line, parseErr.Column
	site := urlgraph.URLSite{URL: info.URL, Line: line, Column: column}
	// remap through the inline offset chain so the position points at the
	// authored file
	if info.IsInline && info.InlineURLSite != nil {
		site = urlgraph.URLSite{
			URL:    info.InlineURLSite.URL,
			Line:   info.InlineURLSite.Line + line - 1,
			Column: column,
		}
	}
	// and through the composed sourcemap when one exists
	if info.Sourcemap != nil {
		if src, srcLine, srcCol, ok := info.Sourcemap.OriginalPosition(line-1, column-1); ok {
			site = urlgraph.URLSite{URL: src, Line: srcLine + 1, Column: srcCol + 1}
		}
	}
	trace := append([]urlgraph.URLSite{site}, info.Trace()[1:]...)
	return &CookError{
		Code:   CodeTransform,
		Reason: parseErr.Error(),
		Trace:  trace,
		Cause:  parseErr,
	}
}

func fetchReason(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "NOT_FOUND"
	case errors.Is(err, fs.ErrPermission):
		return "NOT_ALLOWED"
	case errors.Is(err, plugin.ErrDirectoryReferenceNotAllowed):
		return "DIRECTORY_REFERENCE_NOT_ALLOWED"
	}
	return err.Error()
}

func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.String()
}

func urlScheme(raw string) string {
	if i := strings.Index(raw, ":"); i > 0 {
		return raw[:i]
	}
	return ""
}

func checkIntegrity(integrity, content string) error {
	parts := strings.SplitN(integrity, "-", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid integrity attribute %q", integrity)
	}
	var sum []byte
	switch parts[0] {
	case "sha256":
		digest := sha256.Sum256([]byte(content))
		sum = digest[:]
	case "sha384":
		digest := sha512.Sum384([]byte(content))
		sum = digest[:]
	case "sha512":
		digest := sha512.Sum512([]byte(content))
		sum = digest[:]
	default:
		return fmt.Errorf("unsupported integrity algorithm %q", parts[0])
	}
	if base64.StdEncoding.EncodeToString(sum) != parts[1] {
		return fmt.Errorf("integrity mismatch for %s digest", parts[0])
	}
	return nil
}
