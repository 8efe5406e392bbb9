// Package plugin defines the extensibility surface of the pipeline: a named
// bundle of optional lifecycle hooks, and the controller dispatching them in
// order across the plugin list.
package plugin

import (
	"context"
	"fmt"

	"github.com/jsenv/core-sub005/internal/sourcemap"
	"github.com/jsenv/core-sub005/internal/urlgraph"
)

// Scenario selects which plugins apply for a given kitchen.
type Scenario string

const (
	ScenarioDev   Scenario = "dev"
	ScenarioBuild Scenario = "build"
	ScenarioTest  Scenario = "test"
)

// Scenarios declares when a plugin applies. The zero value applies during
// every scenario.
type Scenarios struct {
	Dev   bool
	Build bool
	Test  bool
}

// All returns a Scenarios matching every scenario, the "*" of the contract.
func All() Scenarios { return Scenarios{Dev: true, Build: true, Test: true} }

// AppliesTo reports whether a plugin declaring s runs under scenario.
func (s Scenarios) AppliesTo(scenario Scenario) bool {
	if !s.Dev && !s.Build && !s.Test {
		return true
	}
	switch scenario {
	case ScenarioDev:
		return s.Dev
	case ScenarioBuild:
		return s.Build
	case ScenarioTest:
		return s.Test
	}
	return false
}

// FetchResult is what a fetch hook produces for a URL it handles.
type FetchResult struct {
	Content         string
	OriginalContent string // defaults to Content
	ContentType     string
	Type            urlgraph.ResourceType // explicit override of content-type inference
	Filename        string
	Sourcemap       *sourcemap.SourceMap // loader-provided sourcemap
	Data            map[string]any
}

// Injection is one placeholder-token replacement applied at the end of the
// transform pipeline. Optional injections silently no-op when the token is
// absent from content.
type Injection struct {
	Value    string
	Optional bool
}

// TransformResult carries the mutations a transform or finalize hook wants
// applied to a node.
type TransformResult struct {
	Content           string
	ContentChanged    bool // false means the hook only contributes metadata
	ContentType       string
	Type              urlgraph.ResourceType
	Sourcemap         *sourcemap.SourceMap
	SourcemapIsWrong  bool
	ContentInjections map[string]Injection
	Data              map[string]any
}

// BundleResult is one bundled output produced by a bundle hook.
type BundleResult struct {
	Content     string
	ContentType string
	Sourcemap   *sourcemap.SourceMap
	// MergedURLs lists the source nodes folded into this output.
	MergedURLs []string
}

// ServeRequest is a raw dev-server request offered to serve hooks before
// graph resolution.
type ServeRequest struct {
	Method  string
	Path    string
	Headers map[string]string
}

// ServeResponse short-circuits the dev server when a serve hook handles the
// request itself.
type ServeResponse struct {
	Status     int
	StatusText string
	Headers    map[string]string
	Body       []byte
}

// Hook function shapes. Returning the zero value ("" / nil) without an error
// means "not handled" for the short-circuiting hooks.
type (
	ResolveFunc      func(ctx context.Context, ref *urlgraph.Reference) (string, error)
	RedirectFunc     func(ctx context.Context, ref *urlgraph.Reference) (string, error)
	SearchParamsFunc func(ctx context.Context, ref *urlgraph.Reference) (map[string]string, error)
	FormatFunc       func(ctx context.Context, ref *urlgraph.Reference) (string, error)
	FetchFunc        func(ctx context.Context, info *urlgraph.URLInfo, ref *urlgraph.Reference) (*FetchResult, error)
	TransformFunc    func(ctx context.Context, info *urlgraph.URLInfo) (*TransformResult, error)
	CookedFunc       func(ctx context.Context, info *urlgraph.URLInfo) error
	CreatedFunc      func(info *urlgraph.URLInfo)
	DestroyFunc      func(ctx context.Context) error
	BundleFunc       func(ctx context.Context, infos []*urlgraph.URLInfo) (map[string]*BundleResult, error)
	ServeFunc        func(ctx context.Context, req *ServeRequest) (*ServeResponse, error)
)

// TransformHook is either a uniform function or a map keyed by resource
// type, resolved at dispatch time.
type TransformHook struct {
	Any     TransformFunc
	PerType map[urlgraph.ResourceType]TransformFunc
}

// For resolves the hook for a resource type; nil when the hook does not
// apply to it.
func (h TransformHook) For(t urlgraph.ResourceType) TransformFunc {
	if h.Any != nil {
		return h.Any
	}
	if h.PerType != nil {
		return h.PerType[t]
	}
	return nil
}

// Plugin is a named bundle of optional hooks. Name is required: it appears
// in every error raised while one of its hooks runs.
type Plugin struct {
	Name          string
	AppliesDuring Scenarios

	ResolveReference               ResolveFunc
	RedirectReference              RedirectFunc
	TransformReferenceSearchParams SearchParamsFunc
	FormatReference                FormatFunc
	FetchURLContent                FetchFunc
	TransformURLContent            TransformHook
	FinalizeURLContent             TransformHook
	Cooked                         CookedFunc
	URLInfoCreated                 CreatedFunc
	Destroy                        DestroyFunc
	Bundle                         map[urlgraph.ResourceType]BundleFunc
	Serve                          ServeFunc
}

// ParseError is raised by content parsers when the authored syntax is
// invalid. Positions are 1-based and relative to the content handed to the
// parser; the kitchen remaps them through inline offsets and sourcemaps so
// the reported location is the authored one.
type ParseError struct {
	Message string
	URL     string
	Line    int
	Column  int
	// ContentRecoverable means the parser could still produce usable
	// content; the dev server then serves it while surfacing the error.
	ContentRecoverable bool
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("PARSE_ERROR: %s (%s:%d:%d)", e.Message, e.URL, e.Line, e.Column)
}

// ErrDirectoryReferenceNotAllowed is returned by loaders when a reference
// resolves to a directory and directory references are disabled.
var ErrDirectoryReferenceNotAllowed = fmt.Errorf("DIRECTORY_REFERENCE_NOT_ALLOWED")

// ContractError signals a hook returned a shape violating its contract.
type ContractError struct {
	Plugin string
	Hook   string
	Reason string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("plugin contract violated by %q during %q: %s", e.Plugin, e.Hook, e.Reason)
}
