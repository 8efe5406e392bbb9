package spanedit

import "testing"

func TestApplyKeepsOffsetsValid(t *testing.T) {
	content := "aaa bbb ccc"
	got := Apply(content, []Edit{
		{Start: 0, End: 3, Text: "XXXXX"},
		{Start: 8, End: 11, Text: "Y"},
		{Start: 4, End: 7, Text: "zz"},
	})
	if got != "XXXXX zz Y" {
		t.Fatalf("apply: got=%q want=%q", got, "XXXXX zz Y")
	}
}

func TestApplyNoEdits(t *testing.T) {
	if got := Apply("untouched", nil); got != "untouched" {
		t.Fatalf("apply without edits: got=%q", got)
	}
}

func TestApplyDropsOutOfRangeEdit(t *testing.T) {
	got := Apply("abc", []Edit{{Start: 1, End: 99, Text: "x"}, {Start: 0, End: 1, Text: "Z"}})
	if got != "Zbc" {
		t.Fatalf("apply: got=%q want=%q", got, "Zbc")
	}
}

func TestLineIndexPositions(t *testing.T) {
	ix := NewLineIndex("one\ntwo\n\nfour")
	cases := []struct {
		offset, line, col int
	}{
		{0, 1, 1},
		{3, 1, 4},  // the newline itself belongs to line 1
		{4, 2, 1},  // "t" of two
		{8, 3, 1},  // empty line
		{9, 4, 1},  // "f" of four
		{12, 4, 4}, // "r"
	}
	for _, c := range cases {
		line, col := ix.Position(c.offset)
		if line != c.line || col != c.col {
			t.Fatalf("offset %d: got=%d:%d want=%d:%d", c.offset, line, col, c.line, c.col)
		}
	}
}
