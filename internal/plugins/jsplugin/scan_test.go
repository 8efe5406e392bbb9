package jsplugin

import (
	"testing"

	"github.com/jsenv/core-sub005/internal/urlgraph"
)

func specifiers(mentions []Mention) []string {
	out := make([]string, 0, len(mentions))
	for _, m := range mentions {
		out = append(out, m.Props.Specifier)
	}
	return out
}

func TestScanStaticImports(t *testing.T) {
	src := `import "./side-effect.js";
import defaultExport from './a.js';
import { one, two } from "./b.js";
import * as ns from "./c.js";
export { three } from "./d.js";
`
	mentions, err := Scan(src, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []string{"./side-effect.js", "./a.js", "./b.js", "./c.js", "./d.js"}
	got := specifiers(mentions)
	if len(got) != len(want) {
		t.Fatalf("mentions: got=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("mention %d: got=%q want=%q", i, got[i], want[i])
		}
		if mentions[i].Props.Type != "js_import" || mentions[i].Props.ExpectedType != urlgraph.TypeJSModule {
			t.Fatalf("mention %d props: %+v", i, mentions[i].Props)
		}
	}
	// spans must delimit the bare specifier, quotes excluded
	first := mentions[0]
	if src[first.Start:first.End] != "./side-effect.js" {
		t.Fatalf("span content: got=%q", src[first.Start:first.End])
	}
}

func TestScanDynamicImport(t *testing.T) {
	mentions, err := Scan(`const mod = await import("./lazy.js");`, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(mentions) != 1 || !mentions[0].Props.IsDynamic {
		t.Fatalf("dynamic import: %+v", mentions)
	}
	if mentions[0].Props.Specifier != "./lazy.js" {
		t.Fatalf("specifier: %q", mentions[0].Props.Specifier)
	}
}

func TestScanNewURLAgainstImportMeta(t *testing.T) {
	src := `const asset = new URL("./logo.png", import.meta.url);
const runtime = new URL(dynamicName, location.href);
`
	mentions, err := Scan(src, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(mentions) != 1 {
		t.Fatalf("mentions: %v", specifiers(mentions))
	}
	if mentions[0].Props.Type != "js_url" || mentions[0].Props.Specifier != "./logo.png" {
		t.Fatalf("mention: %+v", mentions[0].Props)
	}
}

func TestScanWorkers(t *testing.T) {
	src := `const w = new Worker("./worker.js", { type: "module" });
const s = new SharedWorker("./shared.js");
navigator.serviceWorker.register(new URL("./sw.js", import.meta.url));
`
	mentions, err := Scan(src, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(mentions) != 3 {
		t.Fatalf("mentions: %v", specifiers(mentions))
	}
	if mentions[0].Props.Subtype != "worker" || mentions[0].Props.ExpectedType != urlgraph.TypeJSModule {
		t.Fatalf("worker mention: %+v", mentions[0].Props)
	}
	if mentions[1].Props.Subtype != "shared_worker" || mentions[1].Props.ExpectedType != urlgraph.TypeJSClassic {
		t.Fatalf("shared worker mention: %+v", mentions[1].Props)
	}
	if mentions[2].Props.Subtype != "service_worker" || mentions[2].Props.Specifier != "./sw.js" {
		t.Fatalf("service worker mention: %+v", mentions[2].Props)
	}
}

func TestScanImportScriptsClassicOnly(t *testing.T) {
	src := `importScripts("./a.js", "./b.js");`
	mentions, err := Scan(src, false)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(mentions) != 2 {
		t.Fatalf("mentions: %v", specifiers(mentions))
	}
	for _, m := range mentions {
		if m.Props.Type != "js_import_scripts" || m.Props.ExpectedType != urlgraph.TypeJSClassic {
			t.Fatalf("mention props: %+v", m.Props)
		}
	}

	// import syntax must not be recognized in classic scripts
	mentions, err = Scan(`const importThing = { from: "./x.js" };`, false)
	if err != nil {
		t.Fatalf("scan classic: %v", err)
	}
	if len(mentions) != 0 {
		t.Fatalf("classic script should yield no import mentions: %v", specifiers(mentions))
	}
}

func TestScanSkipsNonCode(t *testing.T) {
	src := "// import \"./in-comment.js\"\n" +
		"/* import \"./in-block.js\" */\n" +
		"const tpl = `import \"./in-template.js\"`;\n" +
		"const re = /import \"x\"/g;\n" +
		"const hole = `before ${import(\"./in-hole.js\")} after`;\n" +
		"import \"./real.js\";\n"
	mentions, err := Scan(src, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(mentions) != 1 || mentions[0].Props.Specifier != "./real.js" {
		t.Fatalf("mentions: %v", specifiers(mentions))
	}
}

func TestScanUnterminatedString(t *testing.T) {
	if _, err := Scan("import \"./broken", true); err == nil {
		t.Fatalf("expected an error for an unterminated string")
	}
}
