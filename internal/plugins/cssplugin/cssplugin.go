// Package cssplugin scans stylesheets for url() functions and @import rules
// and rewrites their specifiers with the formatted value of each reference.
package cssplugin

import (
	"context"
	"strings"

	"github.com/jsenv/core-sub005/internal/plugin"
	"github.com/jsenv/core-sub005/internal/plugins/spanedit"
	"github.com/jsenv/core-sub005/internal/sourcemap"
	"github.com/jsenv/core-sub005/internal/urlgraph"
)

// New builds the CSS plugin.
func New() *plugin.Plugin {
	p := &cssPlugin{}
	return &plugin.Plugin{
		Name: "css",
		TransformURLContent: plugin.TransformHook{
			PerType: map[urlgraph.ResourceType]plugin.TransformFunc{
				urlgraph.TypeCSS: p.transform,
			},
		},
	}
}

type cssPlugin struct{}

func (p *cssPlugin) transform(ctx context.Context, info *urlgraph.URLInfo) (*plugin.TransformResult, error) {
	content := info.Content
	var mentions []Mention
	cached, hit := info.CachedParse()
	if hit {
		mentions, hit = cached.([]Mention)
	}
	if !hit {
		mentions = Scan(content)
		info.StoreParse(mentions)
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

// Mention is one specifier found in a stylesheet, Start/End delimiting the
// bare specifier (quotes excluded).
type Mention struct {
	Props urlgraph.ReferenceProps
	Start int
	End   int
}

// Scan finds url() and @import specifiers, skipping comments and strings
// used outside those constructs. Data URLs and empty specifiers are ignored.
func Scan(content string) []Mention {
	var mentions []Mention
	i := 0
	for i < len(content) {
		c := content[i]
		switch {
		case c == '/' && i+1 < len(content) && content[i+1] == '*':
			end := strings.Index(content[i+2:], "*/")
			if end < 0 {
				return mentions
			}
			i += 2 + end + 2
		case c == '"' || c == '\'':
			i = skipString(content, i)
		case c == '@' && hasWordAt(content, i+1, "import"):
			m, next := scanImport(content, i+len("@import"))
			i = next
			if m != nil {
				mentions = append(mentions, *m)
			}
		case (c == 'u' || c == 'U') && hasWordAt(content, i, "url") &&
			followedByParen(content, i+3) && (i == 0 || !isIdentChar(content[i-1])):
			m, next := scanURLFunc(content, i, "css_url")
			i = next
			if m != nil {
				mentions = append(mentions, *m)
			}
		default:
			i++
		}
	}
	return mentions
}

// scanImport handles both forms: @import "x.css" and @import url(x.css).
func scanImport(content string, i int) (*Mention, int) {
	i = skipSpaces(content, i)
	if i >= len(content) {
		return nil, i
	}
	if hasWordAt(content, i, "url") && followedByParen(content, i+3) {
		return scanURLFunc(content, i, "css_import")
	}
	if content[i] == '"' || content[i] == '\'' {
		quote := content[i]
		start := i + 1
		end := strings.IndexByte(content[start:], quote)
		if end < 0 {
			return nil, len(content)
		}
		return mentionAt(content, start, start+end, "css_import"), start + end + 1
	}
	return nil, i
}

// scanURLFunc parses url( ... ), quoted or bare.
func scanURLFunc(content string, i int, refType string) (*Mention, int) {
	open := strings.IndexByte(content[i:], '(')
	if open < 0 {
		return nil, len(content)
	}
	i += open + 1
	i = skipSpaces(content, i)
	if i >= len(content) {
		return nil, i
	}
	if content[i] == '"' || content[i] == '\'' {
		quote := content[i]
		start := i + 1
		end := strings.IndexByte(content[start:], quote)
		if end < 0 {
			return nil, len(content)
		}
		return mentionAt(content, start, start+end, refType), start + end + 1
	}
	start := i
	for i < len(content) && content[i] != ')' && !isSpace(content[i]) {
		i++
	}
	return mentionAt(content, start, i, refType), i
}

func mentionAt(content string, start, end int, refType string) *Mention {
	specifier := content[start:end]
	if specifier == "" || strings.HasPrefix(specifier, "data:") ||
		strings.HasPrefix(specifier, "#") {
		return nil
	}
	props := urlgraph.ReferenceProps{
		Type:      refType,
		Specifier: specifier,
	}
	if refType == "css_import" {
		props.ExpectedType = urlgraph.TypeCSS
	}
	return &Mention{Props: props, Start: start, End: end}
}

func skipString(content string, i int) int {
	quote := content[i]
	i++
	for i < len(content) {
		if content[i] == '\\' {
			i += 2
			continue
		}
		if content[i] == quote {
			return i + 1
		}
		i++
	}
	return i
}

func skipSpaces(content string, i int) int {
	for i < len(content) && isSpace(content[i]) {
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func hasWordAt(content string, i int, word string) bool {
	if i+len(word) > len(content) {
		return false
	}
	return strings.EqualFold(content[i:i+len(word)], word)
}

func followedByParen(content string, i int) bool {
	i = skipSpaces(content, i)
	return i < len(content) && content[i] == '('
}

func isIdentChar(c byte) bool {
	return c == '-' || c == '_' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
