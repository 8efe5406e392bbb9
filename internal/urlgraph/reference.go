package urlgraph

import (
	"fmt"
	"net/url"
	"strings"
)

// Reference is a directed edge from an owning node to a specifier, eventually
// resolved to a target URL. Once the URL is set it never changes: a redirect
// produces a new Reference chained to this one.
type Reference struct {
	Owner *URLInfo

	// Type is the semantic kind of mention: "entry_point", "http_request",
	// "script", "link_href", "a_href", "js_import", "js_url", "css_url",
	// "css_import", "sourcemap_comment", "side_effect_file", ...
	Type    string
	Subtype string

	Specifier      string
	SpecifierStart int // byte span in the owner's content, for rewriting
	SpecifierEnd   int
	Line           int
	Column         int

	url string // one-shot, set during resolution

	// GeneratedSpecifier is what gets written back into the owner's content
	// in place of the original specifier (set by the format hook).
	GeneratedSpecifier string

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

	// Content carries the payload when the reference itself embeds inline
	// content (a <script> body, a generated snippet).
	Content     string
	ContentType string

	prev     *Reference
	next     *Reference
	original *Reference
}

// URL returns the resolved URL, or "" while unresolved.
func (r *Reference) URL() string { return r.url }

// setURL performs the one-shot resolution assignment.
func (r *Reference) setURL(u string) error {
	if r.url != "" {
		return fmt.Errorf("reference %q already resolved to %s", r.Specifier, r.url)
	}
	if u == "" {
		return fmt.Errorf("reference %q resolved to empty url", r.Specifier)
	}
	r.url = u
	return nil
}

// Resolve performs the one-shot resolution assignment. It is how the
// installed resolver writes the URL it picked; a second call fails.
func (r *Reference) Resolve(u string) error { return r.setURL(u) }

// Redirect supersedes this reference with one pointing at newURL, preserving
// traceability through the prev/next/original chain.
func (r *Reference) Redirect(newURL string) *Reference {
	clone := *r
	clone.url = newURL
	clone.prev = r
	clone.next = nil
	if r.original != nil {
		clone.original = r.original
	} else {
		clone.original = r
	}
	r.next = &clone
	return &clone
}

// Original returns the first reference of the redirect chain.
func (r *Reference) Original() *Reference {
	if r.original != nil {
		return r.original
	}
	return r
}

// History returns the redirect chain from the original reference to the
// latest one, read-only.
func (r *Reference) History() []*Reference {
	first := r.Original()
	var chain []*Reference
	for cur := first; cur != nil; cur = cur.next {
		chain = append(chain, cur)
	}
	return chain
}

// Latest returns the most recent reference of the chain.
func (r *Reference) Latest() *Reference {
	cur := r
	for cur.next != nil {
		cur = cur.next
	}
	return cur
}

// IsStrong reports whether this reference keeps its target alive. Resource
// hints (preload and friends) and weak references do not.
func (r *Reference) IsStrong() bool {
	return !r.IsWeak && !r.IsResourceHint
}

// Site returns the owner-side position of the reference for error traces.
func (r *Reference) Site() URLSite {
	site := URLSite{Line: r.Line, Column: r.Column}
	if r.Owner != nil {
		site.URL = r.Owner.URL
	}
	return site
}

// URLWithoutSearchParam derives the reference URL with one query parameter
// stripped. ok is false when the parameter is absent.
func (r *Reference) URLWithoutSearchParam(name string) (string, bool) {
	u, err := url.Parse(r.url)
	if err != nil {
		return "", false
	}
	q := u.Query()
	if !q.Has(name) {
		return "", false
	}
	q.Del(name)
	u.RawQuery = q.Encode()
	return u.String(), true
}

// SearchParam returns the value of a query parameter on the resolved URL.
func (r *Reference) SearchParam(name string) (string, bool) {
	u, err := url.Parse(r.url)
	if err != nil {
		return "", false
	}
	q := u.Query()
	if !q.Has(name) {
		return "", false
	}
	return q.Get(name), true
}

func (r *Reference) String() string {
	spec := r.Specifier
	if spec == "" {
		spec = r.url
	}
	return fmt.Sprintf("%s(%s)", r.Type, spec)
}

// newReference builds an unresolved reference from props. Pure construction,
// the graph is not touched.
func newReference(owner *URLInfo, props ReferenceProps) *Reference {
	return &Reference{
		Owner:               owner,
		Type:                props.Type,
		Subtype:             props.Subtype,
		Specifier:           props.Specifier,
		SpecifierStart:      props.SpecifierStart,
		SpecifierEnd:        props.SpecifierEnd,
		Line:                props.Line,
		Column:              props.Column,
		ExpectedType:        props.ExpectedType,
		ExpectedContentType: props.ExpectedContentType,
		Integrity:           props.Integrity,
		Filename:            props.Filename,
		IsEntryPoint:        props.IsEntryPoint,
		IsInline:            props.IsInline,
		IsImplicit:          props.IsImplicit,
		IsWeak:              props.IsWeak,
		IsResourceHint:      props.IsResourceHint,
		Injected:            props.Injected,
		IsDynamic:           props.IsDynamic,
		IsSideEffect:        props.IsSideEffect,
		Content:             props.Content,
		ContentType:         props.ContentType,
	}
}

// InlineURL synthesizes the canonical URL of an inline node embedded in
// ownerURL at the given position.
func InlineURL(ownerURL string, line, column int, resourceType ResourceType) string {
	ext := ".txt"
	switch resourceType {
	case TypeJSClassic, TypeJSModule:
		ext = ".js"
	case TypeCSS:
		ext = ".css"
	case TypeJSON, TypeImportmap, TypeSourcemap:
		ext = ".json"
	case TypeHTML:
		ext = ".html"
	case TypeSVG:
		ext = ".svg"
	}
	base := ownerURL
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	return fmt.Sprintf("%s@L%d,C%d%s", base, line, column, ext)
}
