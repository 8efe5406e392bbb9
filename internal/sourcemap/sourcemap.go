// Package sourcemap implements the subset of the source map v3 format the
// pipeline needs: parsing, serialization, mapping decode/encode, comment
// detection in transformed content, and composition of two maps so that
// chained transforms still point at the authored location.
package sourcemap

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// SourceMap is the JSON shape of a source map v3 document.
type SourceMap struct {
	Version        int       `json:"version"`
	File           string    `json:"file,omitempty"`
	SourceRoot     string    `json:"sourceRoot,omitempty"`
	Sources        []string  `json:"sources"`
	SourcesContent []*string `json:"sourcesContent,omitempty"`
	Names          []string  `json:"names"`
	Mappings       string    `json:"mappings"`
}

// Mapping is one decoded segment. Indices are -1 when the segment does not
// carry the corresponding field.
type Mapping struct {
	GenLine   int
	GenCol    int
	SrcIndex  int
	SrcLine   int
	SrcCol    int
	NameIndex int
}

// Parse decodes a source map JSON document.
func Parse(data []byte) (*SourceMap, error) {
	var m SourceMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("sourcemap: parse: %w", err)
	}
	if m.Version == 0 {
		m.Version = 3
	}
	return &m, nil
}

// Serialize encodes the map as compact JSON.
func (m *SourceMap) Serialize() ([]byte, error) {
	if m.Version == 0 {
		m.Version = 3
	}
	if m.Sources == nil {
		m.Sources = []string{}
	}
	if m.Names == nil {
		m.Names = []string{}
	}
	return json.Marshal(m)
}

// Decode expands the VLQ mappings string into explicit segments, ordered by
// generated position.
func (m *SourceMap) Decode() ([]Mapping, error) {
	return decodeMappings(m.Mappings)
}

// WithMappings returns a copy of m carrying the given decoded segments.
func (m *SourceMap) WithMappings(mappings []Mapping) *SourceMap {
	out := *m
	out.Mappings = encodeMappings(mappings)
	return &out
}

// Normalize resolves relative sources against baseURL and converts bare
// filesystem paths into file URLs, so composed maps always carry absolute
// source URLs.
func (m *SourceMap) Normalize(baseURL string) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return
	}
	for i, src := range m.Sources {
		if src == "" {
			continue
		}
		if m.SourceRoot != "" {
			src = strings.TrimSuffix(m.SourceRoot, "/") + "/" + strings.TrimPrefix(src, "/")
		}
		if filepath.IsAbs(src) && !strings.Contains(src, "://") {
			m.Sources[i] = "file://" + filepath.ToSlash(src)
			continue
		}
		ref, err := url.Parse(src)
		if err != nil {
			continue
		}
		m.Sources[i] = base.ResolveReference(ref).String()
	}
	m.SourceRoot = ""
}

// Identity returns a line-for-line map of content onto source. Transforms
// that only edit within lines (specifier rewriting) return it so the
// composition chain keeps line fidelity instead of being discarded.
func Identity(source, content string) *SourceMap {
	lines := strings.Count(content, "\n") + 1
	mappings := make([]Mapping, 0, lines)
	for i := 0; i < lines; i++ {
		mappings = append(mappings, Mapping{
			GenLine: i, GenCol: 0,
			SrcIndex: 0, SrcLine: i, SrcCol: 0,
			NameIndex: -1,
		})
	}
	return &SourceMap{
		Version:  3,
		Sources:  []string{source},
		Names:    []string{},
		Mappings: encodeMappings(mappings),
	}
}

// Compose merges two maps: older maps intermediate -> original, newer maps
// final -> intermediate. The result maps final -> original. Segments of the
// newer map that fall outside the older map keep only their generated
// position, which is the standard behavior of sourcemap remappers.
func Compose(older, newer *SourceMap) (*SourceMap, error) {
	if older == nil {
		return newer, nil
	}
	if newer == nil {
		return older, nil
	}
	oldMappings, err := older.Decode()
	if err != nil {
		return nil, err
	}
	newMappings, err := newer.Decode()
	if err != nil {
		return nil, err
	}

	out := &SourceMap{
		Version:        3,
		File:           newer.File,
		Sources:        older.Sources,
		SourcesContent: older.SourcesContent,
		Names:          older.Names,
	}
	composed := make([]Mapping, 0, len(newMappings))
	for _, nm := range newMappings {
		if nm.SrcIndex < 0 {
			composed = append(composed, Mapping{
				GenLine: nm.GenLine, GenCol: nm.GenCol,
				SrcIndex: -1, SrcLine: -1, SrcCol: -1, NameIndex: -1,
			})
			continue
		}
		om, ok := lookup(oldMappings, nm.SrcLine, nm.SrcCol)
		if !ok || om.SrcIndex < 0 {
			composed = append(composed, Mapping{
				GenLine: nm.GenLine, GenCol: nm.GenCol,
				SrcIndex: -1, SrcLine: -1, SrcCol: -1, NameIndex: -1,
			})
			continue
		}
		name := om.NameIndex
		composed = append(composed, Mapping{
			GenLine: nm.GenLine, GenCol: nm.GenCol,
			SrcIndex: om.SrcIndex, SrcLine: om.SrcLine, SrcCol: om.SrcCol,
			NameIndex: name,
		})
	}
	out.Mappings = encodeMappings(composed)
	return out, nil
}

// lookup finds the mapping whose generated position is the greatest one at or
// before (line, col). Mappings are ordered by generated position.
func lookup(mappings []Mapping, line, col int) (Mapping, bool) {
	lo, hi := 0, len(mappings)
	for lo < hi {
		mid := (lo + hi) / 2
		m := mappings[mid]
		if m.GenLine < line || (m.GenLine == line && m.GenCol <= col) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return Mapping{}, false
	}
	m := mappings[lo-1]
	if m.GenLine != line {
		// column positions only transfer within the same line
		return Mapping{}, false
	}
	return m, true
}

// OriginalPosition maps a generated position through the map. Returns the
// source URL (from Sources) and the 0-based original line/column.
func (m *SourceMap) OriginalPosition(line, col int) (source string, srcLine, srcCol int, ok bool) {
	mappings, err := m.Decode()
	if err != nil {
		return "", 0, 0, false
	}
	found, ok := lookup(mappings, line, col)
	if !ok || found.SrcIndex < 0 || found.SrcIndex >= len(m.Sources) {
		return "", 0, 0, false
	}
	return m.Sources[found.SrcIndex], found.SrcLine, found.SrcCol, true
}
