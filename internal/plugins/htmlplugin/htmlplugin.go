// Package htmlplugin scans HTML for references: script/link/img mentions,
// inline scripts and styles, resource hints. Specifiers are rewritten with
// the formatted value of each reference, and inline content is cooked as a
// node of its own then spliced back.
package htmlplugin

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/jsenv/core-sub005/internal/kitchen"
	"github.com/jsenv/core-sub005/internal/plugin"
	"github.com/jsenv/core-sub005/internal/plugins/spanedit"
	"github.com/jsenv/core-sub005/internal/urlgraph"
)

// New builds the HTML plugin. Inline content is cooked eagerly through the
// kitchen found in the hook context: an inline script cannot be requested
// separately by a browser, so its cooked content must land back inside the
// page.
func New() *plugin.Plugin {
	p := &htmlPlugin{}
	return &plugin.Plugin{
		Name: "html",
		TransformURLContent: plugin.TransformHook{
			PerType: map[urlgraph.ResourceType]plugin.TransformFunc{
				urlgraph.TypeHTML: p.transform,
			},
		},
	}
}

type htmlPlugin struct{}

// mention is one reference discovered in the markup.
type mention struct {
	props urlgraph.ReferenceProps

	// external: byte span of the attribute value to rewrite
	specStart int
	specEnd   int

	// inline: byte span of the element body to replace with cooked content
	inline    bool
	bodyStart int
	bodyEnd   int
}

func (p *htmlPlugin) transform(ctx context.Context, info *urlgraph.URLInfo) (*plugin.TransformResult, error) {
	content := info.Content
	var mentions []mention
	cached, hit := info.CachedParse()
	if hit {
		mentions, hit = cached.([]mention)
	}
	if !hit {
		mentions = scan(content)
		info.StoreParse(mentions)
	}
	if len(mentions) == 0 {
		return nil, nil
	}
	k, ok := kitchen.FromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("html: no kitchen in context")
	}

	lines := spanedit.NewLineIndex(content)
	deps := info.Deps()
	var edits []spanedit.Edit

	for _, m := range mentions {
		props := m.props
		if m.inline {
			props.Line, props.Column = lines.Position(m.bodyStart)
			_, child, err := deps.FoundInline(ctx, props)
			if err != nil {
				return nil, err
			}
			if err := k.Cook(ctx, child); err != nil {
				return nil, err
			}
			if child.Content != content[m.bodyStart:m.bodyEnd] {
				edits = append(edits, spanedit.Edit{Start: m.bodyStart, End: m.bodyEnd, Text: child.Content})
			}
			continue
		}
		props.SpecifierStart = m.specStart
		props.SpecifierEnd = m.specEnd
		props.Line, props.Column = lines.Position(m.specStart)
		ref, _, err := deps.Found(ctx, props)
		if err != nil {
			return nil, err
		}
		if ref.GeneratedSpecifier != "" && ref.GeneratedSpecifier != props.Specifier {
			edits = append(edits, spanedit.Edit{Start: m.specStart, End: m.specEnd, Text: ref.GeneratedSpecifier})
		}
	}

	newContent := spanedit.Apply(content, edits)
	if newContent == content {
		return nil, nil
	}
	return &plugin.TransformResult{Content: newContent, ContentChanged: true}, nil
}

// scan tokenizes the document, recording mentions with their byte spans.
// x/net/html does not report positions, so offsets are accumulated from the
// raw bytes of each token.
func scan(content string) []mention {
	z := html.NewTokenizer(strings.NewReader(content))
	var mentions []mention
	offset := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return mentions
		}
		raw := string(z.Raw())
		start := offset
		offset += len(raw)
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		tok := z.Token()
		switch tok.Data {
		case "script":
			src := attrValue(tok, "src")
			scriptType := scriptResourceType(attrValue(tok, "type"))
			if scriptType == "" {
				continue
			}
			if src != "" {
				if s, e, ok := attrValueSpan(raw, "src"); ok {
					mentions = append(mentions, mention{
						props: urlgraph.ReferenceProps{
							Type:         "script",
							Specifier:    src,
							ExpectedType: scriptType,
							Integrity:    attrValue(tok, "integrity"),
						},
						specStart: start + s,
						specEnd:   start + e,
					})
				}
				continue
			}
			if tt == html.SelfClosingTagToken {
				continue
			}
			if m, newOffset, ok := scanRawText(z, offset, "script", scriptType); ok {
				mentions = append(mentions, m)
				offset = newOffset
			}
		case "style":
			if tt == html.SelfClosingTagToken {
				continue
			}
			if m, newOffset, ok := scanRawText(z, offset, "style", urlgraph.TypeCSS); ok {
				mentions = append(mentions, m)
				offset = newOffset
			}
		case "link":
			href := attrValue(tok, "href")
			if href == "" {
				continue
			}
			s, e, ok := attrValueSpan(raw, "href")
			if !ok {
				continue
			}
			props := urlgraph.ReferenceProps{
				Type:      "link_href",
				Specifier: href,
				Integrity: attrValue(tok, "integrity"),
			}
			switch attrValue(tok, "rel") {
			case "stylesheet":
				props.ExpectedType = urlgraph.TypeCSS
			case "manifest":
				props.ExpectedType = urlgraph.TypeWebmanifest
			case "preload", "modulepreload", "prefetch", "dns-prefetch", "preconnect":
				props.IsResourceHint = true
			default:
				props.ExpectedType = urlgraph.TypeAsset
			}
			mentions = append(mentions, mention{props: props, specStart: start + s, specEnd: start + e})
		case "img", "source", "iframe", "embed", "video", "audio":
			src := attrValue(tok, "src")
			if src == "" {
				continue
			}
			s, e, ok := attrValueSpan(raw, "src")
			if !ok {
				continue
			}
			props := urlgraph.ReferenceProps{
				Type:      tok.Data + "_src",
				Specifier: src,
			}
			if tok.Data == "iframe" {
				props.ExpectedType = urlgraph.TypeHTML
			} else {
				props.ExpectedType = urlgraph.TypeAsset
			}
			mentions = append(mentions, mention{props: props, specStart: start + s, specEnd: start + e})
		case "a":
			href := attrValue(tok, "href")
			if href == "" || strings.HasPrefix(href, "#") ||
				strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
				continue
			}
			s, e, ok := attrValueSpan(raw, "href")
			if !ok {
				continue
			}
			// navigation links stay weak so a page does not drag the whole
			// site into its own cook
			mentions = append(mentions, mention{
				props: urlgraph.ReferenceProps{
					Type:      "a_href",
					Specifier: href,
					IsWeak:    true,
				},
				specStart: start + s,
				specEnd:   start + e,
			})
		}
	}
}

// scanRawText consumes the text content of a raw-text element (script,
// style) and its closing tag, returning the inline mention.
func scanRawText(z *html.Tokenizer, offset int, refType string, expected urlgraph.ResourceType) (mention, int, bool) {
	bodyStart := offset
	var body strings.Builder
	for {
		tt := z.Next()
		raw := string(z.Raw())
		if tt == html.TextToken {
			body.WriteString(raw)
			offset += len(raw)
			continue
		}
		bodyEnd := offset
		offset += len(raw)
		if tt == html.ErrorToken {
			return mention{}, offset, false
		}
		text := body.String()
		if strings.TrimSpace(text) == "" {
			return mention{}, offset, false
		}
		return mention{
			props: urlgraph.ReferenceProps{
				Type:         refType,
				ExpectedType: expected,
				Content:      text,
			},
			inline:    true,
			bodyStart: bodyStart,
			bodyEnd:   bodyEnd,
		}, offset, true
	}
}

// scriptResourceType maps a script type attribute to a resource type; ""
// means the script kind is not processed (e.g. application/ld+json).
func scriptResourceType(typeAttr string) urlgraph.ResourceType {
	switch typeAttr {
	case "", "text/javascript", "application/javascript":
		return urlgraph.TypeJSClassic
	case "module":
		return urlgraph.TypeJSModule
	case "importmap":
		return urlgraph.TypeImportmap
	}
	return ""
}

func attrValue(tok html.Token, key string) string {
	for _, attr := range tok.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// attrValueSpan locates the byte span of an attribute's value inside the raw
// start-tag bytes. Only quoted values are rewritten; an unquoted value is
// left alone rather than risking a bad splice.
func attrValueSpan(raw, key string) (start, end int, ok bool) {
	lower := strings.ToLower(raw)
	search := 0
	for {
		idx := strings.Index(lower[search:], key)
		if idx < 0 {
			return 0, 0, false
		}
		idx += search
		search = idx + len(key)
		// must be a standalone attribute name
		if idx == 0 || !isAttrBoundary(raw[idx-1]) {
			continue
		}
		i := idx + len(key)
		for i < len(raw) && (raw[i] == ' ' || raw[i] == '\t' || raw[i] == '\n') {
			i++
		}
		if i >= len(raw) || raw[i] != '=' {
			continue
		}
		i++
		for i < len(raw) && (raw[i] == ' ' || raw[i] == '\t' || raw[i] == '\n') {
			i++
		}
		if i >= len(raw) || (raw[i] != '"' && raw[i] != '\'') {
			return 0, 0, false
		}
		quote := raw[i]
		i++
		valStart := i
		for i < len(raw) && raw[i] != quote {
			i++
		}
		if i >= len(raw) {
			return 0, 0, false
		}
		return valStart, i, true
	}
}

func isAttrBoundary(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '<' || c == '/'
}
