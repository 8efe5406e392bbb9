package sourcemap

import (
	"strings"
)

// Comment describes a sourceMappingURL comment found in content.
type Comment struct {
	URL   string
	Start int // byte offset of the comment itself
	End   int // byte offset just past the comment
}

// FindComment locates the last sourceMappingURL comment in content.
// jsLike selects the line-comment form; otherwise the CSS block form.
func FindComment(content string, jsLike bool) (Comment, bool) {
	if jsLike {
		marker := "//# sourceMappingURL="
		idx := strings.LastIndex(content, marker)
		if idx < 0 {
			// older tools emit //@
			marker = "//@ sourceMappingURL="
			idx = strings.LastIndex(content, marker)
			if idx < 0 {
				return Comment{}, false
			}
		}
		urlStart := idx + len(marker)
		end := strings.IndexByte(content[urlStart:], '\n')
		if end < 0 {
			end = len(content)
		} else {
			end += urlStart
		}
		return Comment{
			URL:   strings.TrimSpace(content[urlStart:end]),
			Start: idx,
			End:   end,
		}, true
	}

	marker := "/*# sourceMappingURL="
	idx := strings.LastIndex(content, marker)
	if idx < 0 {
		return Comment{}, false
	}
	urlStart := idx + len(marker)
	close := strings.Index(content[urlStart:], "*/")
	if close < 0 {
		return Comment{}, false
	}
	end := urlStart + close + len("*/")
	return Comment{
		URL:   strings.TrimSpace(content[urlStart : urlStart+close]),
		Start: idx,
		End:   end,
	}, true
}

// StripComment removes a previously found comment from content, including a
// trailing newline left dangling before it.
func StripComment(content string, c Comment) string {
	start := c.Start
	for start > 0 && (content[start-1] == ' ' || content[start-1] == '\t') {
		start--
	}
	if start > 0 && content[start-1] == '\n' {
		start--
	}
	return content[:start] + content[c.End:]
}

// AppendComment appends a sourceMappingURL comment referencing url.
func AppendComment(content, url string, jsLike bool) string {
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if jsLike {
		return content + "//# sourceMappingURL=" + url + "\n"
	}
	return content + "/*# sourceMappingURL=" + url + " */\n"
}
