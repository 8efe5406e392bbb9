package jsplugin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jsenv/core-sub005/internal/urlgraph"
)

// Mention is one specifier found in JavaScript source. Start/End delimit the
// string contents, quotes excluded.
type Mention struct {
	Props urlgraph.ReferenceProps
	Start int
	End   int
}

type scanError struct {
	message string
	offset  int
}

func (e *scanError) Error() string {
	return fmt.Sprintf("%s (offset %d)", e.message, e.offset)
}

func asScanError(err error, target **scanError) bool {
	return errors.As(err, target)
}

// Scan performs the lexical pass. module selects ES module syntax (import /
// export) versus classic script syntax (importScripts).
func Scan(src string, module bool) ([]Mention, error) {
	s := &scanner{src: src, module: module}
	if err := s.run(); err != nil {
		return nil, err
	}
	return s.mentions, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokWord
	tokString
	tokPunct
	tokTemplate
	tokRegex
	tokNumber
)

type token struct {
	kind  tokKind
	text  string // word text or punct char; for strings the raw contents
	start int    // for strings: contents start
	end   int    // for strings: contents end
}

type scanner struct {
	src      string
	i        int
	module   bool
	mentions []Mention

	prevKind tokKind
	prevText string
}

func (s *scanner) run() error {
	var prev, prev2 string
	for {
		tok, err := s.next()
		if err != nil {
			return err
		}
		if tok.kind == tokEOF {
			return nil
		}
		if tok.kind == tokWord {
			switch {
			case tok.text == "import" && s.module:
				if err := s.scanImport(); err != nil {
					return err
				}
			case tok.text == "export" && s.module:
				if err := s.scanExportFrom(); err != nil {
					return err
				}
			case tok.text == "URL" && prev == "new":
				if err := s.scanNewURL(); err != nil {
					return err
				}
			case (tok.text == "Worker" || tok.text == "SharedWorker") && prev == "new":
				subtype := "worker"
				if tok.text == "SharedWorker" {
					subtype = "shared_worker"
				}
				if err := s.scanWorkerCall(subtype); err != nil {
					return err
				}
			case tok.text == "register" && prev == "." && prev2 == "serviceWorker":
				if err := s.scanWorkerCall("service_worker"); err != nil {
					return err
				}
			case tok.text == "importScripts" && !s.module:
				if err := s.scanImportScripts(); err != nil {
					return err
				}
			}
		}
		prev2, prev = prev, tok.text
	}
}

// scanImport handles the token stream right after an "import" word:
// a bare string (side-effect import), a call (dynamic import), or a binding
// list followed by "from".
func (s *scanner) scanImport() error {
	tok, err := s.next()
	if err != nil {
		return err
	}
	switch {
	case tok.kind == tokString:
		s.addMention(tok, urlgraph.ReferenceProps{
			Type:         "js_import",
			ExpectedType: urlgraph.TypeJSModule,
		})
		return nil
	case tok.kind == tokPunct && tok.text == "(":
		inner, err := s.next()
		if err != nil {
			return err
		}
		if inner.kind == tokString {
			s.addMention(inner, urlgraph.ReferenceProps{
				Type:         "js_import",
				ExpectedType: urlgraph.TypeJSModule,
				IsDynamic:    true,
			})
		}
		return nil
	case tok.kind == tokPunct && tok.text == ".":
		// import.meta
		return nil
	}
	return s.scanUntilFrom()
}

func (s *scanner) scanExportFrom() error {
	return s.scanUntilFrom()
}

// scanUntilFrom consumes tokens until a top-level "from" word, then records
// the following string. Stops at ";" or end of input.
func (s *scanner) scanUntilFrom() error {
	depth := 0
	for {
		tok, err := s.next()
		if err != nil {
			return err
		}
		switch {
		case tok.kind == tokEOF:
			return nil
		case tok.kind == tokPunct && (tok.text == "{" || tok.text == "(" || tok.text == "["):
			depth++
		case tok.kind == tokPunct && (tok.text == "}" || tok.text == ")" || tok.text == "]"):
			depth--
		case tok.kind == tokPunct && tok.text == ";" && depth <= 0:
			return nil
		case tok.kind == tokWord && tok.text == "from" && depth <= 0:
			next, err := s.next()
			if err != nil {
				return err
			}
			if next.kind == tokString {
				s.addMention(next, urlgraph.ReferenceProps{
					Type:         "js_import",
					ExpectedType: urlgraph.TypeJSModule,
				})
			}
			return nil
		}
	}
}

// scanNewURL records new URL("specifier", import.meta.url) patterns. A URL
// built against anything else is runtime data, not a graph reference.
func (s *scanner) scanNewURL() error {
	tok, err := s.next()
	if err != nil {
		return err
	}
	if tok.kind != tokPunct || tok.text != "(" {
		return nil
	}
	arg, err := s.next()
	if err != nil {
		return err
	}
	if arg.kind != tokString {
		return s.skipCall(1)
	}
	rest, err := s.collectCall(1)
	if err != nil {
		return err
	}
	if strings.Contains(rest, "import.meta.url") {
		s.addMention(arg, urlgraph.ReferenceProps{Type: "js_url"})
	}
	return nil
}

// scanWorkerCall handles new Worker(...), new SharedWorker(...) and
// serviceWorker.register(...). The worker type option selects the expected
// resource type.
func (s *scanner) scanWorkerCall(subtype string) error {
	tok, err := s.next()
	if err != nil {
		return err
	}
	if tok.kind != tokPunct || tok.text != "(" {
		return nil
	}
	arg, err := s.next()
	if err != nil {
		return err
	}
	var spec *token
	if arg.kind == tokString {
		spec = &arg
	} else if arg.kind == tokWord && arg.text == "new" {
		urlWord, err := s.next()
		if err != nil {
			return err
		}
		if urlWord.kind == tokWord && urlWord.text == "URL" {
			open, err := s.next()
			if err != nil {
				return err
			}
			if open.kind == tokPunct && open.text == "(" {
				inner, err := s.next()
				if err != nil {
					return err
				}
				if inner.kind == tokString {
					spec = &inner
				}
			}
		}
	}
	rest, err := s.collectCall(1)
	if err != nil {
		return err
	}
	if spec == nil {
		return nil
	}
	expected := urlgraph.TypeJSClassic
	if strings.Contains(rest, "module") {
		expected = urlgraph.TypeJSModule
	}
	s.addMention(*spec, urlgraph.ReferenceProps{
		Type:         "js_url",
		Subtype:      subtype,
		ExpectedType: expected,
	})
	return nil
}

func (s *scanner) scanImportScripts() error {
	tok, err := s.next()
	if err != nil {
		return err
	}
	if tok.kind != tokPunct || tok.text != "(" {
		return nil
	}
	for {
		arg, err := s.next()
		if err != nil {
			return err
		}
		switch {
		case arg.kind == tokString:
			s.addMention(arg, urlgraph.ReferenceProps{
				Type:         "js_import_scripts",
				ExpectedType: urlgraph.TypeJSClassic,
			})
		case arg.kind == tokPunct && arg.text == ",":
			continue
		case arg.kind == tokEOF, arg.kind == tokPunct && arg.text == ")":
			return nil
		default:
			return s.skipCall(1)
		}
	}
}

// collectCall consumes tokens until the call's parentheses balance, returning
// the raw text consumed (used to sniff import.meta.url and worker options).
func (s *scanner) collectCall(depth int) (string, error) {
	start := s.i
	for depth > 0 {
		tok, err := s.next()
		if err != nil {
			return "", err
		}
		switch {
		case tok.kind == tokEOF:
			return s.src[start:s.i], nil
		case tok.kind == tokPunct && tok.text == "(":
			depth++
		case tok.kind == tokPunct && tok.text == ")":
			depth--
		}
	}
	return s.src[start:s.i], nil
}

func (s *scanner) skipCall(depth int) error {
	_, err := s.collectCall(depth)
	return err
}

func (s *scanner) addMention(tok token, props urlgraph.ReferenceProps) {
	props.Specifier = tok.text
	s.mentions = append(s.mentions, Mention{Props: props, Start: tok.start, End: tok.end})
}

// next returns the next significant token, skipping whitespace and comments.
func (s *scanner) next() (token, error) {
	tok, err := s.lex()
	if err != nil {
		return token{}, err
	}
	s.prevKind = tok.kind
	s.prevText = tok.text
	return tok, nil
}

func (s *scanner) lex() (token, error) {
	src := s.src
	for s.i < len(src) {
		c := src[s.i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			s.i++
		case c == '/' && s.i+1 < len(src) && src[s.i+1] == '/':
			for s.i < len(src) && src[s.i] != '\n' {
				s.i++
			}
		case c == '/' && s.i+1 < len(src) && src[s.i+1] == '*':
			end := strings.Index(src[s.i+2:], "*/")
			if end < 0 {
				return token{}, &scanError{message: "unterminated comment", offset: s.i}
			}
			s.i += 2 + end + 2
		case c == '"' || c == '\'':
			return s.lexString(c)
		case c == '`':
			return s.lexTemplate()
		case c == '/':
			if s.regexAllowed() {
				return s.lexRegex()
			}
			s.i++
			return token{kind: tokPunct, text: "/"}, nil
		case isIdentStart(c):
			start := s.i
			for s.i < len(src) && isIdentPart(src[s.i]) {
				s.i++
			}
			return token{kind: tokWord, text: src[start:s.i], start: start, end: s.i}, nil
		case c >= '0' && c <= '9':
			start := s.i
			for s.i < len(src) && (isIdentPart(src[s.i]) || src[s.i] == '.') {
				s.i++
			}
			return token{kind: tokNumber, text: src[start:s.i]}, nil
		default:
			s.i++
			return token{kind: tokPunct, text: string(c)}, nil
		}
	}
	return token{kind: tokEOF}, nil
}

func (s *scanner) lexString(quote byte) (token, error) {
	src := s.src
	start := s.i
	s.i++
	contentStart := s.i
	for s.i < len(src) {
		c := src[s.i]
		if c == '\\' {
			s.i += 2
			continue
		}
		if c == '\n' {
			return token{}, &scanError{message: "unterminated string", offset: start}
		}
		if c == quote {
			contentEnd := s.i
			s.i++
			return token{
				kind:  tokString,
				text:  src[contentStart:contentEnd],
				start: contentStart,
				end:   contentEnd,
			}, nil
		}
		s.i++
	}
	return token{}, &scanError{message: "unterminated string", offset: start}
}

// lexTemplate skips a template literal including ${} holes; specifiers in
// templates are dynamic and never graph references.
func (s *scanner) lexTemplate() (token, error) {
	src := s.src
	start := s.i
	s.i++
	for s.i < len(src) {
		c := src[s.i]
		switch {
		case c == '\\':
			s.i += 2
		case c == '`':
			s.i++
			return token{kind: tokTemplate}, nil
		case c == '$' && s.i+1 < len(src) && src[s.i+1] == '{':
			s.i += 2
			depth := 1
			for depth > 0 {
				tok, err := s.lex()
				if err != nil {
					return token{}, err
				}
				switch {
				case tok.kind == tokEOF:
					return token{}, &scanError{message: "unterminated template", offset: start}
				case tok.kind == tokPunct && tok.text == "{":
					depth++
				case tok.kind == tokPunct && tok.text == "}":
					depth--
				}
			}
		default:
			s.i++
		}
	}
	return token{}, &scanError{message: "unterminated template", offset: start}
}

func (s *scanner) lexRegex() (token, error) {
	src := s.src
	start := s.i
	s.i++
	inClass := false
	for s.i < len(src) {
		c := src[s.i]
		switch {
		case c == '\\':
			s.i += 2
			continue
		case c == '\n':
			return token{}, &scanError{message: "unterminated regexp", offset: start}
		case c == '[':
			inClass = true
		case c == ']':
			inClass = false
		case c == '/' && !inClass:
			s.i++
			for s.i < len(src) && isIdentPart(src[s.i]) {
				s.i++
			}
			return token{kind: tokRegex}, nil
		}
		s.i++
	}
	return token{}, &scanError{message: "unterminated regexp", offset: start}
}

// regexAllowed decides whether a "/" starts a regex literal based on the
// previous token, the usual heuristic of lexers without a parse tree.
func (s *scanner) regexAllowed() bool {
	switch s.prevKind {
	case tokWord:
		switch s.prevText {
		case "return", "typeof", "instanceof", "in", "of", "new", "delete",
			"void", "case", "do", "else", "yield", "await":
			return true
		}
		return false
	case tokString, tokNumber, tokTemplate, tokRegex:
		return false
	case tokPunct:
		switch s.prevText {
		case ")", "]", "}":
			return false
		}
		return true
	}
	return true
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
