package build

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/jsenv/core-sub005/internal/plugin"
	"github.com/jsenv/core-sub005/internal/plugins/cssplugin"
	"github.com/jsenv/core-sub005/internal/plugins/fileplugin"
	"github.com/jsenv/core-sub005/internal/plugins/htmlplugin"
	"github.com/jsenv/core-sub005/internal/plugins/jsplugin"
	"github.com/jsenv/core-sub005/internal/safeio"
)

func writeFixture(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func siteFixture(t *testing.T) map[string]string {
	t.Helper()
	return map[string]string{
		"index.html": `<!doctype html>
<html><head>
<link rel="stylesheet" href="./style.css">
<script type="module" src="./app.js"></script>
</head><body></body></html>`,
		"app.js":    "import \"./dep.js\";\nconsole.log(\"app\");\n",
		"dep.js":    "console.log(\"dep\");\n",
		"style.css": "body { background: url(\"./bg.png\"); }\n",
		"bg.png":    "not really a png",
	}
}

func runBuild(t *testing.T, dir string, mutate func(*Options)) *Result {
	t.Helper()
	fsys, err := safeio.NewSafeFS(dir)
	if err != nil {
		t.Fatalf("safe fs: %v", err)
	}
	opts := Options{
		RootDirectoryURL: fsys.RootURL(),
		EntryPoints:      []string{"./index.html"},
		Plugins: []*plugin.Plugin{
			htmlplugin.New(),
			jsplugin.New(),
			cssplugin.New(),
			fileplugin.New(fsys, fileplugin.Options{}),
		},
		Versioning:    true,
		AssetManifest: true,
		Logger:        log.New(io.Discard, "", 0),
	}
	if mutate != nil {
		mutate(&opts)
	}
	result, err := Build(context.Background(), opts)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return result
}

func TestBuildVersionsWithSearchParams(t *testing.T) {
	dir := writeFixture(t, siteFixture(t))
	result := runBuild(t, dir, nil)

	for _, name := range []string{"index.html", "app.js", "dep.js", "style.css", "bg.png", "asset-manifest.json"} {
		if _, ok := result.FileContents[name]; !ok {
			t.Fatalf("missing build file %q, have %v", name, fileNames(result))
		}
	}

	html := result.FileContents["index.html"]
	if !regexp.MustCompile(`href="/style\.css\?v=[0-9a-f]+"`).MatchString(html) {
		t.Fatalf("stylesheet specifier not versioned:\n%s", html)
	}
	if !regexp.MustCompile(`src="/app\.js\?v=[0-9a-f]+"`).MatchString(html) {
		t.Fatalf("script specifier not versioned:\n%s", html)
	}
	if strings.Contains(html, "file://") {
		t.Fatalf("absolute file urls leaked into the build:\n%s", html)
	}
	appJS := result.FileContents["app.js"]
	if !regexp.MustCompile(`import "/dep\.js\?v=[0-9a-f]+";`).MatchString(appJS) {
		t.Fatalf("import specifier not versioned:\n%s", appJS)
	}
	if !regexp.MustCompile(`url\("/bg\.png\?v=[0-9a-f]+"\)`).MatchString(result.FileContents["style.css"]) {
		t.Fatalf("css url not versioned:\n%s", result.FileContents["style.css"])
	}

	// search-param versioning keeps file names stable
	if result.Manifest["index.html"] != "index.html" || result.Manifest["app.js"] != "app.js" {
		t.Fatalf("manifest: %v", result.Manifest)
	}

	var manifest map[string]string
	if err := json.Unmarshal([]byte(result.FileContents["asset-manifest.json"]), &manifest); err != nil {
		t.Fatalf("asset manifest: %v", err)
	}
	if manifest["style.css"] != result.Manifest["style.css"] {
		t.Fatalf("asset manifest disagrees with result: %v vs %v", manifest, result.Manifest)
	}
}

func TestBuildVersionsWithFilenames(t *testing.T) {
	dir := writeFixture(t, siteFixture(t))
	result := runBuild(t, dir, func(o *Options) {
		o.VersioningMethod = VersioningFilename
	})

	// the entry point keeps its name so it stays addressable
	if _, ok := result.FileContents["index.html"]; !ok {
		t.Fatalf("entry renamed: %v", fileNames(result))
	}
	appName := result.Manifest["app.js"]
	if !regexp.MustCompile(`^app-[0-9a-f]{8}\.js$`).MatchString(appName) {
		t.Fatalf("versioned name: %q", appName)
	}
	if _, ok := result.FileContents[appName]; !ok {
		t.Fatalf("versioned file missing: %q in %v", appName, fileNames(result))
	}
	html := result.FileContents["index.html"]
	if !strings.Contains(html, `src="/`+appName+`"`) {
		t.Fatalf("entry does not reference the versioned name %q:\n%s", appName, html)
	}
	if strings.Contains(html, "?v=") {
		t.Fatalf("filename versioning must not add search params:\n%s", html)
	}
}

func TestBuildVersionCascadesThroughDependencies(t *testing.T) {
	dir := writeFixture(t, siteFixture(t))
	first := runBuild(t, dir, nil)

	if err := os.WriteFile(filepath.Join(dir, "dep.js"), []byte("console.log(\"dep changed\");\n"), 0o644); err != nil {
		t.Fatalf("rewrite dep: %v", err)
	}
	second := runBuild(t, dir, nil)

	re := regexp.MustCompile(`src="/app\.js\?v=([0-9a-f]+)"`)
	v1 := re.FindStringSubmatch(first.FileContents["index.html"])
	v2 := re.FindStringSubmatch(second.FileContents["index.html"])
	if v1 == nil || v2 == nil {
		t.Fatalf("app version missing from entry html")
	}
	if v1[1] == v2[1] {
		t.Fatalf("a dependency change must cascade into the importer's version")
	}

	// files outside the changed subgraph keep their versions, or every
	// deployed client would re-download the whole site
	styleRe := regexp.MustCompile(`href="/style\.css\?v=([0-9a-f]+)"`)
	s1 := styleRe.FindStringSubmatch(first.FileContents["index.html"])
	s2 := styleRe.FindStringSubmatch(second.FileContents["index.html"])
	if s1 == nil || s2 == nil {
		t.Fatalf("style version missing from entry html")
	}
	if s1[1] != s2[1] {
		t.Fatalf("style version shifted without a change: %s vs %s", s1[1], s2[1])
	}
	bgRe := regexp.MustCompile(`url\("/bg\.png\?v=([0-9a-f]+)"\)`)
	b1 := bgRe.FindStringSubmatch(first.FileContents["style.css"])
	b2 := bgRe.FindStringSubmatch(second.FileContents["style.css"])
	if b1 == nil || b2 == nil {
		t.Fatalf("bg version missing from stylesheet")
	}
	if b1[1] != b2[1] {
		t.Fatalf("asset version shifted without a change: %s vs %s", b1[1], b2[1])
	}
}

func TestBuildRewriteKeepsPrefixSiblingsIntact(t *testing.T) {
	dir := writeFixture(t, map[string]string{
		"index.html": `<!doctype html>
<html><head>
<link rel="manifest" href="./app.json">
<script type="module" src="./app.js"></script>
</head><body></body></html>`,
		"app.js":   "console.log(\"app\");\n",
		"app.json": `{"name":"app"}`,
	})

	// app.js is a prefix of app.json inside the cooked content; the rewrite
	// must leave the longer sibling's occurrences whole on every build
	for i := 0; i < 5; i++ {
		result := runBuild(t, dir, nil)
		html := result.FileContents["index.html"]
		if !regexp.MustCompile(`href="/app\.json\?v=[0-9a-f]+"`).MatchString(html) {
			t.Fatalf("manifest specifier corrupted:\n%s", html)
		}
		if !regexp.MustCompile(`src="/app\.js\?v=[0-9a-f]+"`).MatchString(html) {
			t.Fatalf("script specifier corrupted:\n%s", html)
		}
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	dir := writeFixture(t, siteFixture(t))
	first := runBuild(t, dir, nil)
	second := runBuild(t, dir, nil)

	if len(first.FileContents) != len(second.FileContents) {
		t.Fatalf("file sets differ: %v vs %v", fileNames(first), fileNames(second))
	}
	for name, content := range first.FileContents {
		if second.FileContents[name] != content {
			t.Fatalf("content of %q differs between identical builds", name)
		}
	}
}

func TestBuildWritesOutputDirectory(t *testing.T) {
	dir := writeFixture(t, siteFixture(t))
	outDir := t.TempDir()
	outFS, err := safeio.NewSafeFS(outDir)
	if err != nil {
		t.Fatalf("out fs: %v", err)
	}
	result := runBuild(t, dir, func(o *Options) {
		o.OutFS = outFS
	})

	for name := range result.FileContents {
		written, err := os.ReadFile(filepath.Join(outDir, filepath.FromSlash(name)))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(written) != result.FileContents[name] {
			t.Fatalf("written content of %q differs from the result", name)
		}
	}
}

func fileNames(result *Result) []string {
	names := make([]string, 0, len(result.FileContents))
	for name := range result.FileContents {
		names = append(names, name)
	}
	return names
}
