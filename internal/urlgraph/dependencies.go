package urlgraph

import (
	"context"
	"fmt"
)

// ReferenceProps is the construction payload for a new reference.
type ReferenceProps struct {
	Type           string
	Subtype        string
	Specifier      string
	SpecifierStart int
	SpecifierEnd   int
	Line           int
	Column         int

	ExpectedType        ResourceType
	ExpectedContentType string
	Integrity           string
	Filename            string

	IsEntryPoint   bool
	IsInline       bool
	IsImplicit     bool
	IsWeak         bool
	IsResourceHint bool
	Injected       bool
	IsDynamic      bool
	IsSideEffect   bool

	Content     string
	ContentType string
}

// DependencySet manages the outgoing references of one node: creation,
// resolution, registration, and the collect/diff protocol used during
// transforms.
type DependencySet struct {
	owner *URLInfo
}

// StartCollecting begins a fresh collection pass: references found until
// StopCollecting become the node's new outgoing set, and the previous set is
// diffed against it.
func (d *DependencySet) StartCollecting() {
	owner := d.owner
	g := owner.graph
	g.mu.Lock()
	owner.collecting = true
	owner.previousRefs = owner.ReferenceToOthers
	owner.ReferenceToOthers = nil
	g.mu.Unlock()
}

// StopCollecting ends the pass: edges that were present before and were not
// re-reported are detached, then a single prune pass collects nodes that
// became unreachable. Diffing complete sets (rather than removing edges one
// by one mid-transform) avoids spuriously pruning a node that is removed and
// re-added within the same pass.
func (d *DependencySet) StopCollecting() {
	owner := d.owner
	g := owner.graph
	g.mu.Lock()
	owner.collecting = false
	previous := owner.previousRefs
	owner.previousRefs = nil
	for _, ref := range previous {
		if target, ok := g.infos[ref.URL()]; ok {
			target.removeIncoming(ref)
		}
	}
	notifs := g.pruneLocked()
	g.mu.Unlock()
	g.notifyPruned(notifs)
}

// Prepare creates and resolves a reference and obtains the target node,
// without registering the edge.
func (d *DependencySet) Prepare(ctx context.Context, props ReferenceProps) (*Reference, *URLInfo, error) {
	owner := d.owner
	g := owner.graph
	ref := newReference(owner, props)

	if props.IsInline {
		line, column := props.Line, props.Column
		inlineURL := InlineURL(ownerContentURL(owner), line, column, props.ExpectedType)
		if err := ref.setURL(inlineURL); err != nil {
			return nil, nil, err
		}
		ref.GeneratedSpecifier = inlineURL
		target := g.ReuseOrCreateURLInfo(inlineURL)
		return ref, target, nil
	}

	if g.resolver == nil {
		return nil, nil, fmt.Errorf("urlgraph: no resolver installed")
	}
	resolved, target, err := g.resolver.ResolveReference(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	return resolved, target, nil
}

// Found creates, resolves, and registers a reference discovered in the
// owner's content.
func (d *DependencySet) Found(ctx context.Context, props ReferenceProps) (*Reference, *URLInfo, error) {
	ref, target, err := d.Prepare(ctx, props)
	if err != nil {
		return nil, nil, err
	}
	d.register(ref, target)
	return ref, target, nil
}

// FoundInline registers a reference to inline content embedded in the owner
// (a <script> body, a <style> block). The inline node's content is
// established from the reference payload.
func (d *DependencySet) FoundInline(ctx context.Context, props ReferenceProps) (*Reference, *URLInfo, error) {
	props.IsInline = true
	ref, target, err := d.Prepare(ctx, props)
	if err != nil {
		return nil, nil, err
	}
	d.register(ref, target)
	return ref, target, nil
}

// Inject registers a reference that does not come from the authored content
// (side-effect files, generated helpers).
func (d *DependencySet) Inject(ctx context.Context, props ReferenceProps) (*Reference, *URLInfo, error) {
	props.Injected = true
	return d.Found(ctx, props)
}

// FoundImplicit records a dependency invisible in content (a config file
// affecting resolution) so it participates in invalidation without keeping
// the target alive on its own.
func (d *DependencySet) FoundImplicit(ctx context.Context, props ReferenceProps) (*Reference, *URLInfo, error) {
	props.IsImplicit = true
	props.IsWeak = true
	return d.Found(ctx, props)
}

// FoundSearchParamSibling links the owner to the same resource requested
// without one query parameter, modeling "the same file requested two ways"
// as an implicit dependency instead of two unrelated nodes.
func (d *DependencySet) FoundSearchParamSibling(ctx context.Context, ref *Reference, param string) (*Reference, *URLInfo, error) {
	siblingURL, ok := ref.URLWithoutSearchParam(param)
	if !ok {
		return nil, nil, fmt.Errorf("urlgraph: reference %s has no %q search param", ref, param)
	}
	return d.FoundImplicit(ctx, ReferenceProps{
		Type:      ref.Type,
		Subtype:   ref.Subtype,
		Specifier: siblingURL,
	})
}

// Remove detaches a reference from the owner's outgoing set and prunes.
func (d *DependencySet) Remove(ref *Reference) {
	owner := d.owner
	g := owner.graph
	g.mu.Lock()
	for i, candidate := range owner.ReferenceToOthers {
		if candidate == ref {
			owner.ReferenceToOthers = append(owner.ReferenceToOthers[:i], owner.ReferenceToOthers[i+1:]...)
			break
		}
	}
	if target, ok := g.infos[ref.URL()]; ok {
		target.removeIncoming(ref)
	}
	notifs := g.pruneLocked()
	g.mu.Unlock()
	g.notifyPruned(notifs)
}

// BecomesInline converts an existing external reference into one carrying
// the target's content inline. The previous target is pruned when nothing
// else references it; the new inline node is created and wired.
func (d *DependencySet) BecomesInline(ctx context.Context, ref *Reference, line, column int) (*Reference, *URLInfo, error) {
	owner := d.owner
	g := owner.graph
	oldTarget, ok := g.URLInfo(ref.URL())
	if !ok {
		return nil, nil, fmt.Errorf("urlgraph: reference %s has no target to inline", ref)
	}

	props := ReferenceProps{
		Type:         ref.Type,
		Subtype:      ref.Subtype,
		Specifier:    ref.Specifier,
		Line:         line,
		Column:       column,
		ExpectedType: oldTarget.Type,
		Content:      oldTarget.Content,
		ContentType:  oldTarget.ContentType,
		Injected:     ref.Injected,
		IsSideEffect: ref.IsSideEffect,
	}
	d.Remove(ref)
	return d.FoundInline(ctx, props)
}

// register wires the edge on both sides and applies first-reference
// metadata propagation exactly once per target.
func (d *DependencySet) register(ref *Reference, target *URLInfo) {
	owner := d.owner
	g := owner.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	owner.ReferenceToOthers = append(owner.ReferenceToOthers, ref)
	target.ReferenceFromOthers = append(target.ReferenceFromOthers, ref)

	if ref.IsImplicit {
		owner.ImplicitURLs[ref.URL()] = struct{}{}
	}

	// A re-collection of the owner registers a fresh inline reference while
	// the stale one is still attached (it is detached at StopCollecting).
	// Treat that as first-reference so the embedded content gets refreshed.
	refresh := ref.IsInline && target.FirstReference != nil &&
		target.FirstReference.IsInline && target.FirstReference.Owner == owner

	if (target.FirstReference == nil || refresh) && ref.IsStrong() && !ref.IsImplicit {
		target.FirstReference = ref
		if ref.IsEntryPoint {
			target.IsEntryPoint = true
		}
		if ref.Subtype != "" && target.Subtype == "" {
			target.Subtype = ref.Subtype
		}
		if ref.Filename != "" && target.Filename == "" {
			target.Filename = ref.Filename
		}
		if ref.IsInline {
			target.IsInline = true
			target.InlineURLSite = &URLSite{
				URL:    ownerContentURL(owner),
				Line:   ref.Line,
				Column: ref.Column,
			}
			if ref.ExpectedType != "" {
				target.Type = ref.ExpectedType
			}
			contentType := ref.ContentType
			if contentType == "" && ref.ExpectedType != "" {
				contentType = ref.ExpectedType.DefaultContentType()
			}
			target.ContentType = contentType
			target.SetOriginalContent(ref.Content)
			if target.SetContent(ref.Content) && refresh {
				target.ContentFinalized = false
				target.Error = nil
			}
		}
	}
}

// ownerContentURL is the URL inline sites point at: the owner itself, or for
// inline owners the nearest non-inline ancestor is still the owner node
// (inline specifiers are logically inside the parent file, but the graph
// keeps the direct parent so traces stay precise).
func ownerContentURL(owner *URLInfo) string {
	return owner.URL
}
