package kitchen

import (
	"context"
	"strings"

	"github.com/jsenv/core-sub005/internal/plugin"
	"github.com/jsenv/core-sub005/internal/urlgraph"
)

// deferredSideEffect is a side-effect file waiting for the set of build
// entry points to be known.
type deferredSideEffect struct {
	props urlgraph.ReferenceProps
}

// FoundSideEffectFile records that cooking referrer requires a file executed
// for its side effects (a polyfill, a runtime helper). Where the injection
// lands depends on the situation:
//
//  1. a referrer that cannot host injected code delegates to its nearest
//     dependent that can;
//  2. during dev the file is referenced from the referrer itself, with a
//     banner added only when no already-delivered ancestor ships it (the
//     browser got that ancestor without the banner, so this file must carry
//     its own);
//  3. during build the injection is deferred until every entry point is
//     known, then applied to each of them, inlined.
func (k *Kitchen) FoundSideEffectFile(ctx context.Context, referrer *urlgraph.URLInfo, props urlgraph.ReferenceProps) (*urlgraph.Reference, *urlgraph.URLInfo, error) {
	props.IsSideEffect = true

	if !referrer.Type.CanHostBanner() {
		host := referrer.FindDependent(func(d *urlgraph.URLInfo) bool {
			return d.Type.CanHostBanner()
		})
		if host != nil {
			referrer = host
		}
	}

	if !k.dev() {
		k.mu.Lock()
		k.deferredEffects = append(k.deferredEffects, deferredSideEffect{props: props})
		k.mu.Unlock()
		return nil, nil, nil
	}

	ref, target, err := referrer.Deps().Inject(ctx, props)
	if err != nil {
		return nil, nil, err
	}

	deliveredAncestor := referrer.FindDependent(func(d *urlgraph.URLInfo) bool {
		return d.ContentFinalized && d.HasDependencyOn(target.URL)
	})
	if deliveredAncestor != nil {
		// the ancestor already shipped with the side effect, the edge alone
		// is enough
		return ref, target, nil
	}

	k.AddFinalizeCallback(referrer.URL, func(info *urlgraph.URLInfo) error {
		banner := sideEffectBanner(info.Type, ref.GeneratedSpecifier)
		if banner == "" {
			return nil
		}
		return k.applyTransformations(info, &plugin.TransformResult{
			Content:        prependBanner(info, banner),
			ContentChanged: true,
		})
	})
	return ref, target, nil
}

// InjectDeferredSideEffects applies the side-effect files collected during a
// build to every entry point, once, inlined so the output is self-contained.
func (k *Kitchen) InjectDeferredSideEffects(ctx context.Context) error {
	k.mu.Lock()
	effects := k.deferredEffects
	k.deferredEffects = nil
	k.mu.Unlock()
	if len(effects) == 0 {
		return nil
	}

	for _, entry := range k.graph.EntryPoints() {
		if !entry.Type.CanHostBanner() {
			continue
		}
		changed := false
		for _, effect := range effects {
			_, probed, err := entry.Deps().Prepare(ctx, effect.props)
			if err != nil {
				return err
			}
			if entry.HasDependencyOn(probed.URL) {
				continue
			}
			ref, target, err := entry.Deps().Inject(ctx, effect.props)
			if err != nil {
				return err
			}
			if err := k.Cook(ctx, target); err != nil {
				return err
			}
			_, inlineInfo, err := entry.Deps().BecomesInline(ctx, ref, 0, 0)
			if err != nil {
				return err
			}
			banner := inlineBanner(entry.Type, inlineInfo)
			if banner == "" {
				continue
			}
			// routed through the transform bookkeeping so the sourcemap chain
			// and the debug mirror stay in sync with the new content
			if err := k.applyTransformations(entry, &plugin.TransformResult{
				Content:        prependBanner(entry, banner),
				ContentChanged: true,
			}); err != nil {
				return err
			}
			changed = true
		}
		if changed {
			if err := k.endTransformations(ctx, entry); err != nil {
				return err
			}
		}
	}
	return nil
}

// sideEffectBanner is the snippet referencing a side-effect file from a
// hosting resource.
func sideEffectBanner(t urlgraph.ResourceType, specifier string) string {
	switch t {
	case urlgraph.TypeJSModule:
		return "import " + quoteJS(specifier) + ";\n"
	case urlgraph.TypeHTML:
		return `<script src="` + specifier + `"></script>` + "\n"
	}
	return ""
}

// inlineBanner embeds the side-effect content itself.
func inlineBanner(t urlgraph.ResourceType, effect *urlgraph.URLInfo) string {
	switch t {
	case urlgraph.TypeJSModule, urlgraph.TypeJSClassic:
		return effect.Content + "\n"
	case urlgraph.TypeHTML:
		return "<script>\n" + effect.Content + "\n</script>\n"
	}
	return ""
}

// prependBanner places banner code at the top of the resource; HTML gets it
// right after <head> when one exists.
func prependBanner(info *urlgraph.URLInfo, banner string) string {
	if banner == "" {
		return info.Content
	}
	if info.Type == urlgraph.TypeHTML {
		if idx := strings.Index(info.Content, "<head>"); idx >= 0 {
			at := idx + len("<head>")
			return info.Content[:at] + "\n" + banner + info.Content[at:]
		}
	}
	return banner + info.Content
}

func quoteJS(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
