package sourcemap

import (
	"testing"
)

func TestMappingsRoundTrip(t *testing.T) {
	mappings := []Mapping{
		{GenLine: 0, GenCol: 0, SrcIndex: 0, SrcLine: 0, SrcCol: 0, NameIndex: -1},
		{GenLine: 0, GenCol: 7, SrcIndex: 0, SrcLine: 0, SrcCol: 10, NameIndex: 0},
		{GenLine: 2, GenCol: 3, SrcIndex: 1, SrcLine: 4, SrcCol: 2, NameIndex: -1},
	}
	encoded := encodeMappings(mappings)
	decoded, err := decodeMappings(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != len(mappings) {
		t.Fatalf("expected %d mappings, got %d", len(mappings), len(decoded))
	}
	for i := range mappings {
		if decoded[i] != mappings[i] {
			t.Fatalf("mapping %d mismatch: %+v != %+v", i, decoded[i], mappings[i])
		}
	}
}

func TestDecodeKnownMappings(t *testing.T) {
	// "AAAA" is a single segment with all-zero deltas.
	decoded, err := decodeMappings("AAAA")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(decoded))
	}
	m := decoded[0]
	if m.GenLine != 0 || m.GenCol != 0 || m.SrcIndex != 0 || m.SrcLine != 0 || m.SrcCol != 0 {
		t.Fatalf("unexpected mapping: %+v", m)
	}
}

func TestComposeMapsThroughIntermediate(t *testing.T) {
	// original -> intermediate: line 0 col 0 comes from a.js line 5 col 2
	older := (&SourceMap{
		Version: 3,
		Sources: []string{"file:///a.js"},
		Names:   []string{},
	}).WithMappings([]Mapping{
		{GenLine: 0, GenCol: 0, SrcIndex: 0, SrcLine: 5, SrcCol: 2, NameIndex: -1},
		{GenLine: 0, GenCol: 10, SrcIndex: 0, SrcLine: 6, SrcCol: 0, NameIndex: -1},
	})
	// intermediate -> final: final line 1 col 4 comes from intermediate line 0 col 10
	newer := (&SourceMap{
		Version: 3,
		Sources: []string{"file:///intermediate.js"},
		Names:   []string{},
	}).WithMappings([]Mapping{
		{GenLine: 1, GenCol: 4, SrcIndex: 0, SrcLine: 0, SrcCol: 10, NameIndex: -1},
	})

	composed, err := Compose(older, newer)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	src, line, col, ok := composed.OriginalPosition(1, 4)
	if !ok {
		t.Fatalf("no original position found")
	}
	if src != "file:///a.js" || line != 6 || col != 0 {
		t.Fatalf("unexpected position: %s:%d:%d", src, line, col)
	}
}

func TestComposeMatchesManualComposition(t *testing.T) {
	a := (&SourceMap{Version: 3, Sources: []string{"file:///src.js"}}).WithMappings([]Mapping{
		{GenLine: 0, GenCol: 0, SrcIndex: 0, SrcLine: 0, SrcCol: 0, NameIndex: -1},
		{GenLine: 0, GenCol: 5, SrcIndex: 0, SrcLine: 1, SrcCol: 3, NameIndex: -1},
		{GenLine: 1, GenCol: 0, SrcIndex: 0, SrcLine: 2, SrcCol: 0, NameIndex: -1},
	})
	b := (&SourceMap{Version: 3, Sources: []string{"file:///mid.js"}}).WithMappings([]Mapping{
		{GenLine: 0, GenCol: 2, SrcIndex: 0, SrcLine: 0, SrcCol: 5, NameIndex: -1},
		{GenLine: 2, GenCol: 0, SrcIndex: 0, SrcLine: 1, SrcCol: 0, NameIndex: -1},
	})
	composed, err := Compose(a, b)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}

	// manual: final (0,2) -> mid (0,5) through b, mid (0,5) -> src (1,3) through a
	src, line, col, ok := composed.OriginalPosition(0, 2)
	if !ok || src != "file:///src.js" || line != 1 || col != 3 {
		t.Fatalf("final (0,2): got %s:%d:%d ok=%v", src, line, col, ok)
	}
	// manual: final (2,0) -> mid (1,0) -> src (2,0)
	src, line, col, ok = composed.OriginalPosition(2, 0)
	if !ok || src != "file:///src.js" || line != 2 || col != 0 {
		t.Fatalf("final (2,0): got %s:%d:%d ok=%v", src, line, col, ok)
	}
}

func TestComposeWithNilSides(t *testing.T) {
	m := &SourceMap{Version: 3, Sources: []string{"x"}}
	if got, _ := Compose(nil, m); got != m {
		t.Fatalf("Compose(nil, m) should return m")
	}
	if got, _ := Compose(m, nil); got != m {
		t.Fatalf("Compose(m, nil) should return m")
	}
}

func TestFindAndStripJSComment(t *testing.T) {
	content := "console.log(1);\n//# sourceMappingURL=app.js.map\n"
	c, ok := FindComment(content, true)
	if !ok {
		t.Fatalf("comment not found")
	}
	if c.URL != "app.js.map" {
		t.Fatalf("unexpected url: %q", c.URL)
	}
	stripped := StripComment(content, c)
	if stripped != "console.log(1);\n" {
		t.Fatalf("unexpected stripped content: %q", stripped)
	}
}

func TestFindCSSComment(t *testing.T) {
	content := "body { color: red }\n/*# sourceMappingURL=style.css.map */\n"
	c, ok := FindComment(content, false)
	if !ok {
		t.Fatalf("comment not found")
	}
	if c.URL != "style.css.map" {
		t.Fatalf("unexpected url: %q", c.URL)
	}
}

func TestAppendComment(t *testing.T) {
	out := AppendComment("let a = 1;", "a.js.map", true)
	if out != "let a = 1;\n//# sourceMappingURL=a.js.map\n" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestNormalizeSources(t *testing.T) {
	m := &SourceMap{
		Version: 3,
		Sources: []string{"./util.js", "/abs/path/main.js"},
	}
	m.Normalize("file:///project/app.js")
	if m.Sources[0] != "file:///project/util.js" {
		t.Fatalf("relative source: %q", m.Sources[0])
	}
	if m.Sources[1] != "file:///abs/path/main.js" {
		t.Fatalf("absolute path source: %q", m.Sources[1])
	}
}
