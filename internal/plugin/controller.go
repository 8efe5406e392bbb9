package plugin

import (
	"context"
	"net/url"
	"sort"

	"github.com/jsenv/core-sub005/internal/urlgraph"
)

// Current identifies the plugin and hook running at a point of the call
// stack. It travels through the context so concurrent cooks do not trample
// each other's error context.
type Current struct {
	Plugin string
	Hook   string
}

type currentKey struct{}

func withCurrent(ctx context.Context, pluginName, hook string) context.Context {
	return context.WithValue(ctx, currentKey{}, Current{Plugin: pluginName, Hook: hook})
}

// CurrentFrom returns the plugin/hook executing in ctx, if any.
func CurrentFrom(ctx context.Context) (Current, bool) {
	cur, ok := ctx.Value(currentKey{}).(Current)
	return cur, ok
}

// Controller dispatches hooks across an ordered plugin list filtered by the
// active scenario. "Until" dispatch stops at the first plugin producing a
// value; broadcast dispatch feeds every produced value to a callback,
// sequentially, so plugin N sees the effects of plugin N-1.
type Controller struct {
	scenario Scenario
	plugins  []*Plugin
}

// NewController flattens the given plugin groups, keeping only plugins that
// apply during scenario.
func NewController(scenario Scenario, groups ...[]*Plugin) *Controller {
	c := &Controller{scenario: scenario}
	for _, group := range groups {
		for _, p := range group {
			if p == nil {
				continue
			}
			if p.AppliesDuring.AppliesTo(scenario) {
				c.plugins = append(c.plugins, p)
			}
		}
	}
	return c
}

// Scenario returns the scenario this controller was built for.
func (c *Controller) Scenario() Scenario { return c.scenario }

// Plugins returns the active ordered plugin list.
func (c *Controller) Plugins() []*Plugin { return c.plugins }

// ResolveReference runs resolve hooks until one returns a URL.
func (c *Controller) ResolveReference(ctx context.Context, ref *urlgraph.Reference) (string, *Plugin, error) {
	for _, p := range c.plugins {
		if p.ResolveReference == nil {
			continue
		}
		hctx := withCurrent(ctx, p.Name, "resolveReference")
		resolved, err := p.ResolveReference(hctx, ref)
		if err != nil {
			return "", p, err
		}
		if resolved == "" {
			continue
		}
		if _, err := url.Parse(resolved); err != nil {
			return "", p, &ContractError{
				Plugin: p.Name,
				Hook:   "resolveReference",
				Reason: "returned value is not a url: " + resolved,
			}
		}
		return resolved, p, nil
	}
	return "", nil, nil
}

// RedirectReference runs every redirect hook in order; each may supersede
// the reference with a new URL, producing a chained reference.
func (c *Controller) RedirectReference(ctx context.Context, ref *urlgraph.Reference) (*urlgraph.Reference, error) {
	for _, p := range c.plugins {
		if p.RedirectReference == nil {
			continue
		}
		hctx := withCurrent(ctx, p.Name, "redirectReference")
		redirected, err := p.RedirectReference(hctx, ref)
		if err != nil {
			return ref, err
		}
		if redirected == "" || redirected == ref.URL() {
			continue
		}
		if _, err := url.Parse(redirected); err != nil {
			return ref, &ContractError{
				Plugin: p.Name,
				Hook:   "redirectReference",
				Reason: "returned value is not a url: " + redirected,
			}
		}
		ref = ref.Redirect(redirected)
	}
	return ref, nil
}

// TransformReferenceSearchParams gathers query-parameter mutations from all
// hooks and applies them as a single redirect.
func (c *Controller) TransformReferenceSearchParams(ctx context.Context, ref *urlgraph.Reference) (*urlgraph.Reference, error) {
	merged := map[string]string{}
	for _, p := range c.plugins {
		if p.TransformReferenceSearchParams == nil {
			continue
		}
		hctx := withCurrent(ctx, p.Name, "transformReferenceSearchParams")
		params, err := p.TransformReferenceSearchParams(hctx, ref)
		if err != nil {
			return ref, err
		}
		for k, v := range params {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return ref, nil
	}
	u, err := url.Parse(ref.URL())
	if err != nil {
		return ref, err
	}
	q := u.Query()
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, merged[k])
	}
	u.RawQuery = q.Encode()
	newURL := u.String()
	if newURL == ref.URL() {
		return ref, nil
	}
	return ref.Redirect(newURL), nil
}

// FormatReference runs format hooks until one produces the specifier to
// write back into the owner content.
func (c *Controller) FormatReference(ctx context.Context, ref *urlgraph.Reference) (string, error) {
	for _, p := range c.plugins {
		if p.FormatReference == nil {
			continue
		}
		hctx := withCurrent(ctx, p.Name, "formatReference")
		formatted, err := p.FormatReference(hctx, ref)
		if err != nil {
			return "", err
		}
		if formatted != "" {
			return formatted, nil
		}
	}
	return "", nil
}

// FetchURLContent runs fetch hooks until one handles the URL.
func (c *Controller) FetchURLContent(ctx context.Context, info *urlgraph.URLInfo, ref *urlgraph.Reference) (*FetchResult, *Plugin, error) {
	for _, p := range c.plugins {
		if p.FetchURLContent == nil {
			continue
		}
		hctx := withCurrent(ctx, p.Name, "fetchUrlContent")
		result, err := p.FetchURLContent(hctx, info, ref)
		if err != nil {
			return nil, p, err
		}
		if result == nil {
			continue
		}
		if result.Type != "" && !result.Type.Valid() {
			return nil, p, &ContractError{
				Plugin: p.Name,
				Hook:   "fetchUrlContent",
				Reason: "returned an unknown resource type: " + string(result.Type),
			}
		}
		return result, p, nil
	}
	return nil, nil, nil
}

// HasTransformFor reports whether any active plugin transforms nodes of the
// given resource type.
func (c *Controller) HasTransformFor(t urlgraph.ResourceType) bool {
	for _, p := range c.plugins {
		if p.TransformURLContent.For(t) != nil {
			return true
		}
	}
	return false
}

// TransformURLContent broadcasts the transform hooks applying to the node's
// type, in plugin order, feeding each produced result to apply before the
// next hook runs.
func (c *Controller) TransformURLContent(ctx context.Context, info *urlgraph.URLInfo, apply func(*TransformResult, *Plugin) error) error {
	for _, p := range c.plugins {
		fn := p.TransformURLContent.For(info.Type)
		if fn == nil {
			continue
		}
		hctx := withCurrent(ctx, p.Name, "transformUrlContent")
		result, err := fn(hctx, info)
		if err != nil {
			return err
		}
		if result == nil {
			continue
		}
		if result.Type != "" && !result.Type.Valid() {
			return &ContractError{
				Plugin: p.Name,
				Hook:   "transformUrlContent",
				Reason: "returned an unknown resource type: " + string(result.Type),
			}
		}
		if err := apply(result, p); err != nil {
			return err
		}
	}
	return nil
}

// FinalizeURLContent runs finalize hooks for the node's type until one
// produces a last rewrite.
func (c *Controller) FinalizeURLContent(ctx context.Context, info *urlgraph.URLInfo) (*TransformResult, *Plugin, error) {
	for _, p := range c.plugins {
		fn := p.FinalizeURLContent.For(info.Type)
		if fn == nil {
			continue
		}
		hctx := withCurrent(ctx, p.Name, "finalizeUrlContent")
		result, err := fn(hctx, info)
		if err != nil {
			return nil, p, err
		}
		if result != nil {
			return result, p, nil
		}
	}
	return nil, nil, nil
}

// Cooked notifies every plugin that a node finished cooking.
func (c *Controller) Cooked(ctx context.Context, info *urlgraph.URLInfo) error {
	for _, p := range c.plugins {
		if p.Cooked == nil {
			continue
		}
		hctx := withCurrent(ctx, p.Name, "cooked")
		if err := p.Cooked(hctx, info); err != nil {
			return err
		}
	}
	return nil
}

// URLInfoCreated notifies every plugin of a new graph node.
func (c *Controller) URLInfoCreated(info *urlgraph.URLInfo) {
	for _, p := range c.plugins {
		if p.URLInfoCreated != nil {
			p.URLInfoCreated(info)
		}
	}
}

// Destroy tears down every plugin in order.
func (c *Controller) Destroy(ctx context.Context) error {
	var firstErr error
	for _, p := range c.plugins {
		if p.Destroy == nil {
			continue
		}
		hctx := withCurrent(ctx, p.Name, "destroy")
		if err := p.Destroy(hctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Bundle runs the bundle hook registered for a resource type until one
// handles the group. The result must cover every input URL.
func (c *Controller) Bundle(ctx context.Context, t urlgraph.ResourceType, infos []*urlgraph.URLInfo) (map[string]*BundleResult, *Plugin, error) {
	for _, p := range c.plugins {
		fn := p.Bundle[t]
		if fn == nil {
			continue
		}
		hctx := withCurrent(ctx, p.Name, "bundle")
		result, err := fn(hctx, infos)
		if err != nil {
			return nil, p, err
		}
		if result == nil {
			continue
		}
		for _, info := range infos {
			if _, ok := result[info.URL]; !ok {
				return nil, p, &ContractError{
					Plugin: p.Name,
					Hook:   "bundle",
					Reason: "result is missing an entry for " + info.URL,
				}
			}
		}
		return result, p, nil
	}
	return nil, nil, nil
}

// Serve offers a raw request to serve hooks before graph resolution.
func (c *Controller) Serve(ctx context.Context, req *ServeRequest) (*ServeResponse, *Plugin, error) {
	for _, p := range c.plugins {
		if p.Serve == nil {
			continue
		}
		hctx := withCurrent(ctx, p.Name, "serve")
		resp, err := p.Serve(hctx, req)
		if err != nil {
			return nil, p, err
		}
		if resp != nil {
			return resp, p, nil
		}
	}
	return nil, nil, nil
}
