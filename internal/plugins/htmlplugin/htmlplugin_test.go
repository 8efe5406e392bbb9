package htmlplugin

import (
	"testing"

	"github.com/jsenv/core-sub005/internal/urlgraph"
)

func mentionSpecifiers(mentions []mention) []string {
	out := make([]string, 0, len(mentions))
	for _, m := range mentions {
		out = append(out, m.props.Specifier)
	}
	return out
}

func TestScanScripts(t *testing.T) {
	content := `<html><head>
<script type="module" src="./app.js"></script>
<script src="./legacy.js" integrity="sha256-abc"></script>
<script type="application/ld+json">{"@context": "https://schema.org"}</script>
</head></html>`
	mentions := scan(content)
	if len(mentions) != 2 {
		t.Fatalf("mentions: got=%v", mentionSpecifiers(mentions))
	}
	if mentions[0].props.ExpectedType != urlgraph.TypeJSModule {
		t.Fatalf("module script expected type: %s", mentions[0].props.ExpectedType)
	}
	if mentions[1].props.ExpectedType != urlgraph.TypeJSClassic {
		t.Fatalf("classic script expected type: %s", mentions[1].props.ExpectedType)
	}
	if mentions[1].props.Integrity != "sha256-abc" {
		t.Fatalf("integrity: %q", mentions[1].props.Integrity)
	}
	for i, m := range mentions {
		if got := content[m.specStart:m.specEnd]; got != m.props.Specifier {
			t.Fatalf("mention %d span: got=%q want=%q", i, got, m.props.Specifier)
		}
	}
}

func TestScanLinks(t *testing.T) {
	content := `<head>
<link rel="stylesheet" href="./style.css">
<link rel="manifest" href="./manifest.webmanifest">
<link rel="modulepreload" href="./app.js">
<link rel="icon" href="./favicon.ico">
</head>`
	mentions := scan(content)
	if len(mentions) != 4 {
		t.Fatalf("mentions: got=%v", mentionSpecifiers(mentions))
	}
	if mentions[0].props.ExpectedType != urlgraph.TypeCSS {
		t.Fatalf("stylesheet expected type: %s", mentions[0].props.ExpectedType)
	}
	if mentions[1].props.ExpectedType != urlgraph.TypeWebmanifest {
		t.Fatalf("manifest expected type: %s", mentions[1].props.ExpectedType)
	}
	if !mentions[2].props.IsResourceHint {
		t.Fatalf("modulepreload should be a resource hint")
	}
	if mentions[3].props.ExpectedType != urlgraph.TypeAsset {
		t.Fatalf("icon expected type: %s", mentions[3].props.ExpectedType)
	}
}

func TestScanMediaAndAnchors(t *testing.T) {
	content := `<body>
<img src="./logo.png" alt="logo">
<iframe src="./embed.html"></iframe>
<a href="./about.html">about</a>
<a href="#section">jump</a>
<a href="mailto:team@example.com">mail</a>
</body>`
	mentions := scan(content)
	if len(mentions) != 3 {
		t.Fatalf("mentions: got=%v", mentionSpecifiers(mentions))
	}
	if mentions[0].props.Type != "img_src" || mentions[0].props.ExpectedType != urlgraph.TypeAsset {
		t.Fatalf("img mention: %+v", mentions[0].props)
	}
	if mentions[1].props.ExpectedType != urlgraph.TypeHTML {
		t.Fatalf("iframe expected type: %s", mentions[1].props.ExpectedType)
	}
	if mentions[2].props.Type != "a_href" || !mentions[2].props.IsWeak {
		t.Fatalf("anchor mention: %+v", mentions[2].props)
	}
}

func TestScanInlineBodies(t *testing.T) {
	content := `<html><head>
<style>body { color: red; }</style>
<script>console.log("hi");</script>
<script>   </script>
</head></html>`
	mentions := scan(content)
	if len(mentions) != 2 {
		t.Fatalf("mentions: got=%d want=2 (blank script skipped)", len(mentions))
	}
	styleM, scriptM := mentions[0], mentions[1]
	if !styleM.inline || styleM.props.ExpectedType != urlgraph.TypeCSS {
		t.Fatalf("style mention: %+v", styleM.props)
	}
	if got := content[styleM.bodyStart:styleM.bodyEnd]; got != "body { color: red; }" {
		t.Fatalf("style body span: %q", got)
	}
	if !scriptM.inline || scriptM.props.ExpectedType != urlgraph.TypeJSClassic {
		t.Fatalf("script mention: %+v", scriptM.props)
	}
	if scriptM.props.Content != `console.log("hi");` {
		t.Fatalf("script body content: %q", scriptM.props.Content)
	}
	if got := content[scriptM.bodyStart:scriptM.bodyEnd]; got != scriptM.props.Content {
		t.Fatalf("script body span: %q", got)
	}
}

func TestScanUnquotedAttributeLeftAlone(t *testing.T) {
	mentions := scan(`<img src=./logo.png>`)
	if len(mentions) != 0 {
		t.Fatalf("unquoted value should not produce a rewritable mention: %v", mentionSpecifiers(mentions))
	}
}
