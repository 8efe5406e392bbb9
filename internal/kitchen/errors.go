package kitchen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jsenv/core-sub005/internal/plugin"
	"github.com/jsenv/core-sub005/internal/urlgraph"
)

// Code discriminates pipeline failures.
type Code string

const (
	CodeResolve        Code = "RESOLVE_URL_ERROR"
	CodeFetch          Code = "FETCH_URL_CONTENT_ERROR"
	CodeTransform      Code = "TRANSFORM_URL_CONTENT_ERROR"
	CodeFinalize       Code = "FINALIZE_URL_CONTENT_ERROR"
	CodePluginContract Code = "PLUGIN_CONTRACT_ERROR"
)

// CookError is the normalized shape of every pipeline failure, whatever hook
// or goroutine produced it: a code, a human-readable reason, the offending
// plugin and hook when known, and the reference trace back through inline
// ancestors.
type CookError struct {
	Code   Code
	Reason string
	Plugin string
	Hook   string
	Trace  []urlgraph.URLSite
	Cause  error
}

func (e *CookError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Plugin != "" {
		fmt.Fprintf(&b, " (plugin %q, hook %q)", e.Plugin, e.Hook)
	}
	for _, site := range e.Trace {
		b.WriteString("\n  at ")
		b.WriteString(site.URL)
		if site.Line > 0 || site.Column > 0 {
			fmt.Fprintf(&b, ":%d:%d", site.Line, site.Column)
		}
	}
	return b.String()
}

func (e *CookError) Unwrap() error { return e.Cause }

// IsParseError reports whether the failure wraps a syntax error raised by a
// content parser.
func (e *CookError) IsParseError() bool {
	var parseErr *plugin.ParseError
	return errors.As(e.Cause, &parseErr)
}

// AsCookError extracts a CookError from an error chain.
func AsCookError(err error) (*CookError, bool) {
	var cookErr *CookError
	ok := errors.As(err, &cookErr)
	return cookErr, ok
}

// newCookError builds a CookError enriched with the current plugin/hook from
// ctx (when the failure happened inside a hook) and the node's trace.
func (k *Kitchen) newCookError(code Code, reason string, info *urlgraph.URLInfo, cur plugin.Current, cause error) *CookError {
	var trace []urlgraph.URLSite
	if info != nil {
		trace = info.Trace()
	}
	cookErr := &CookError{
		Code:   code,
		Reason: reason,
		Plugin: cur.Plugin,
		Hook:   cur.Hook,
		Trace:  trace,
		Cause:  cause,
	}
	var contractErr *plugin.ContractError
	if errors.As(cause, &contractErr) {
		cookErr.Code = CodePluginContract
		cookErr.Plugin = contractErr.Plugin
		cookErr.Hook = contractErr.Hook
	}
	return cookErr
}
