// Package spanedit applies byte-span replacements to content and converts
// byte offsets to line/column positions. The content scanners (html, js,
// css) record mention spans during a pass over the source, then rewrite them
// all at once.
package spanedit

import "sort"

// Edit replaces content[Start:End] with Text.
type Edit struct {
	Start int
	End   int
	Text  string
}

// Apply performs every edit against content. Edits are applied back to
// front so recorded offsets stay valid; overlapping edits are a programmer
// error and the later-starting one wins.
func Apply(content string, edits []Edit) string {
	if len(edits) == 0 {
		return content
	}
	sorted := make([]Edit, len(edits))
	copy(sorted, edits)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })
	out := content
	for _, e := range sorted {
		if e.Start < 0 || e.End > len(out) || e.Start > e.End {
			continue
		}
		out = out[:e.Start] + e.Text + out[e.End:]
	}
	return out
}

// LineIndex precomputes line starts for offset-to-position conversion.
type LineIndex struct {
	starts []int
}

// NewLineIndex indexes content's line boundaries.
func NewLineIndex(content string) *LineIndex {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &LineIndex{starts: starts}
}

// Position converts a byte offset to a 1-based line and column.
func (ix *LineIndex) Position(offset int) (line, column int) {
	lo, hi := 0, len(ix.starts)
	for lo < hi {
		mid := (lo + hi) / 2
		if ix.starts[mid] <= offset {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	lineIdx := lo - 1
	return lineIdx + 1, offset - ix.starts[lineIdx] + 1
}
