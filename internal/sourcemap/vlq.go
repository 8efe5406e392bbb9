package sourcemap

import (
	"fmt"
	"strings"
)

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var base64Index = func() [128]int8 {
	var idx [128]int8
	for i := range idx {
		idx[i] = -1
	}
	for i, c := range base64Chars {
		idx[c] = int8(i)
	}
	return idx
}()

// encodeVLQ appends the base64 VLQ encoding of value to b.
func encodeVLQ(b *strings.Builder, value int) {
	v := value << 1
	if value < 0 {
		v = (-value << 1) | 1
	}
	for {
		digit := v & 0x1f
		v >>= 5
		if v != 0 {
			digit |= 0x20
		}
		b.WriteByte(base64Chars[digit])
		if v == 0 {
			return
		}
	}
}

// decodeVLQ reads one VLQ value starting at s[pos], returning the value and
// the position after it.
func decodeVLQ(s string, pos int) (int, int, error) {
	result := 0
	shift := 0
	for {
		if pos >= len(s) {
			return 0, 0, fmt.Errorf("sourcemap: truncated vlq")
		}
		c := s[pos]
		if c >= 128 || base64Index[c] < 0 {
			return 0, 0, fmt.Errorf("sourcemap: invalid vlq char %q", c)
		}
		digit := int(base64Index[c])
		pos++
		result |= (digit & 0x1f) << shift
		if digit&0x20 == 0 {
			break
		}
		shift += 5
	}
	if result&1 != 0 {
		return -(result >> 1), pos, nil
	}
	return result >> 1, pos, nil
}

func decodeMappings(mappings string) ([]Mapping, error) {
	var out []Mapping
	genLine := 0
	genCol := 0
	srcIndex := 0
	srcLine := 0
	srcCol := 0
	nameIndex := 0

	pos := 0
	for pos <= len(mappings) {
		if pos == len(mappings) {
			break
		}
		switch mappings[pos] {
		case ';':
			genLine++
			genCol = 0
			pos++
			continue
		case ',':
			pos++
			continue
		}
		var err error
		var d int
		d, pos, err = decodeVLQ(mappings, pos)
		if err != nil {
			return nil, err
		}
		genCol += d
		m := Mapping{GenLine: genLine, GenCol: genCol, SrcIndex: -1, SrcLine: -1, SrcCol: -1, NameIndex: -1}
		if pos < len(mappings) && mappings[pos] != ',' && mappings[pos] != ';' {
			d, pos, err = decodeVLQ(mappings, pos)
			if err != nil {
				return nil, err
			}
			srcIndex += d
			d, pos, err = decodeVLQ(mappings, pos)
			if err != nil {
				return nil, err
			}
			srcLine += d
			d, pos, err = decodeVLQ(mappings, pos)
			if err != nil {
				return nil, err
			}
			srcCol += d
			m.SrcIndex = srcIndex
			m.SrcLine = srcLine
			m.SrcCol = srcCol
			if pos < len(mappings) && mappings[pos] != ',' && mappings[pos] != ';' {
				d, pos, err = decodeVLQ(mappings, pos)
				if err != nil {
					return nil, err
				}
				nameIndex += d
				m.NameIndex = nameIndex
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func encodeMappings(mappings []Mapping) string {
	var b strings.Builder
	line := 0
	genCol := 0
	srcIndex := 0
	srcLine := 0
	srcCol := 0
	nameIndex := 0
	firstOnLine := true

	for _, m := range mappings {
		for line < m.GenLine {
			b.WriteByte(';')
			line++
			genCol = 0
			firstOnLine = true
		}
		if !firstOnLine {
			b.WriteByte(',')
		}
		firstOnLine = false
		encodeVLQ(&b, m.GenCol-genCol)
		genCol = m.GenCol
		if m.SrcIndex >= 0 {
			encodeVLQ(&b, m.SrcIndex-srcIndex)
			srcIndex = m.SrcIndex
			encodeVLQ(&b, m.SrcLine-srcLine)
			srcLine = m.SrcLine
			encodeVLQ(&b, m.SrcCol-srcCol)
			srcCol = m.SrcCol
			if m.NameIndex >= 0 {
				encodeVLQ(&b, m.NameIndex-nameIndex)
				nameIndex = m.NameIndex
			}
		}
	}
	return b.String()
}
