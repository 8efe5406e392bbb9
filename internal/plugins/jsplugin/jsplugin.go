// Package jsplugin scans JavaScript for references without a full parse: a
// lexical pass that understands comments, strings, and templates finds
// import statements, dynamic imports, new URL(specifier, import.meta.url)
// patterns, workers, and importScripts calls. Specifier strings are
// rewritten in place with the formatted value of each reference.
package jsplugin

import (
	"context"

	"github.com/jsenv/core-sub005/internal/plugin"
	"github.com/jsenv/core-sub005/internal/plugins/spanedit"
	"github.com/jsenv/core-sub005/internal/sourcemap"
	"github.com/jsenv/core-sub005/internal/urlgraph"
)

// New builds the JavaScript plugin.
func New() *plugin.Plugin {
	p := &jsPlugin{}
	return &plugin.Plugin{
		Name: "js",
		TransformURLContent: plugin.TransformHook{
			PerType: map[urlgraph.ResourceType]plugin.TransformFunc{
				urlgraph.TypeJSModule:  p.transformModule,
				urlgraph.TypeJSClassic: p.transformClassic,
			},
		},
	}
}

type jsPlugin struct{}

func (p *jsPlugin) transformModule(ctx context.Context, info *urlgraph.URLInfo) (*plugin.TransformResult, error) {
	return p.transform(ctx, info, true)
}

func (p *jsPlugin) transformClassic(ctx context.Context, info *urlgraph.URLInfo) (*plugin.TransformResult, error) {
	return p.transform(ctx, info, false)
}

// scanCache is the memoized lexical pass of one content version. The module
// flag is part of the cache identity: the same bytes scan differently as a
// module and as a classic script.
type scanCache struct {
	module   bool
	mentions []Mention
}

func (p *jsPlugin) transform(ctx context.Context, info *urlgraph.URLInfo, module bool) (*plugin.TransformResult, error) {
	content := info.Content
	var mentions []Mention
	cached, hit := info.CachedParse()
	if hit {
		c, ok := cached.(scanCache)
		hit = ok && c.module == module
		if hit {
			mentions = c.mentions
		}
	}
	if !hit {
		var err error
		mentions, err = Scan(content, module)
		if err != nil {
			var scanErr *scanError
			if asScanError(err, &scanErr) {
				lines := spanedit.NewLineIndex(content)
				line, column := lines.Position(scanErr.offset)
				return nil, &plugin.ParseError{
					Message: scanErr.message,
					URL:     info.URL,
					Line:    line,
					Column:  column,
				}
			}
			return nil, err
		}
		info.StoreParse(scanCache{module: module, mentions: mentions})
	}
	if len(mentions) == 0 {
		return nil, nil
	}

	lines := spanedit.NewLineIndex(content)
	deps := info.Deps()
	var edits []spanedit.Edit
	for _, m := range mentions {
		props := m.Props
		props.SpecifierStart = m.Start
		props.SpecifierEnd = m.End
		props.Line, props.Column = lines.Position(m.Start)
		ref, _, err := deps.Found(ctx, props)
		if err != nil {
			return nil, err
		}
		if ref.GeneratedSpecifier != "" && ref.GeneratedSpecifier != props.Specifier {
			edits = append(edits, spanedit.Edit{Start: m.Start, End: m.End, Text: ref.GeneratedSpecifier})
		}
	}

	newContent := spanedit.Apply(content, edits)
	if newContent == content {
		return nil, nil
	}
	return &plugin.TransformResult{
		Content:        newContent,
		ContentChanged: true,
		Sourcemap:      sourcemap.Identity(info.URL, newContent),
	}, nil
}
