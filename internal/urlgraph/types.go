// Package urlgraph models every resource of a project as a node keyed by
// canonical URL, with typed references between nodes. The graph supports
// lazy node creation, reference-set diffing during re-cooks, and pruning of
// nodes no longer reachable from the root set.
package urlgraph

import "strings"

// ResourceType classifies a node's content.
type ResourceType string

const (
	TypeHTML        ResourceType = "html"
	TypeCSS         ResourceType = "css"
	TypeJSClassic   ResourceType = "js_classic"
	TypeJSModule    ResourceType = "js_module"
	TypeJSON        ResourceType = "json"
	TypeImportmap   ResourceType = "importmap"
	TypeWebmanifest ResourceType = "webmanifest"
	TypeSVG         ResourceType = "svg"
	TypeText        ResourceType = "text"
	TypeSourcemap   ResourceType = "sourcemap"
	TypeAsset       ResourceType = "asset"
	TypeDirectory   ResourceType = "directory"
	TypeOther       ResourceType = "other"
)

// ResourceTypes lists every valid type.
var ResourceTypes = []ResourceType{
	TypeHTML, TypeCSS, TypeJSClassic, TypeJSModule, TypeJSON, TypeImportmap,
	TypeWebmanifest, TypeSVG, TypeText, TypeSourcemap, TypeAsset,
	TypeDirectory, TypeOther,
}

// Valid reports whether t is a member of the type enum.
func (t ResourceType) Valid() bool {
	for _, candidate := range ResourceTypes {
		if t == candidate {
			return true
		}
	}
	return false
}

// SupportsSourcemap reports whether content of this type can carry a
// sourcemap comment.
func (t ResourceType) SupportsSourcemap() bool {
	switch t {
	case TypeJSClassic, TypeJSModule, TypeCSS:
		return true
	}
	return false
}

// JSLike reports whether the type uses line comments (for sourcemap comment
// syntax selection).
func (t ResourceType) JSLike() bool {
	return t == TypeJSClassic || t == TypeJSModule
}

// CanHostBanner reports whether prepended glue code can be inlined into
// content of this type.
func (t ResourceType) CanHostBanner() bool {
	switch t {
	case TypeHTML, TypeCSS, TypeJSClassic, TypeJSModule:
		return true
	}
	return false
}

// DefaultContentType returns the MIME type conventionally associated with t.
func (t ResourceType) DefaultContentType() string {
	switch t {
	case TypeHTML:
		return "text/html"
	case TypeCSS:
		return "text/css"
	case TypeJSClassic, TypeJSModule:
		return "text/javascript"
	case TypeJSON:
		return "application/json"
	case TypeImportmap:
		return "application/importmap+json"
	case TypeWebmanifest:
		return "application/manifest+json"
	case TypeSVG:
		return "image/svg+xml"
	case TypeText:
		return "text/plain"
	case TypeSourcemap:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// TypeFromContentType infers the resource type from a MIME type. The result
// can be overridden by an explicit type from a fetch hook or by the
// referencing edge's expected type.
func TypeFromContentType(contentType string) ResourceType {
	mediaType := contentType
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	switch mediaType {
	case "text/html":
		return TypeHTML
	case "text/css":
		return TypeCSS
	case "text/javascript", "application/javascript", "application/x-javascript":
		return TypeJSModule
	case "application/json":
		return TypeJSON
	case "application/importmap+json":
		return TypeImportmap
	case "application/manifest+json":
		return TypeWebmanifest
	case "image/svg+xml":
		return TypeSVG
	case "text/plain":
		return TypeText
	case "":
		return TypeOther
	}
	if strings.HasSuffix(mediaType, "+json") {
		return TypeJSON
	}
	if strings.HasPrefix(mediaType, "text/") {
		return TypeText
	}
	return TypeAsset
}

// ContentTypeFromURL guesses a MIME type from a URL's extension. Used by
// loaders that read raw bytes from disk.
func ContentTypeFromURL(u string) string {
	path := u
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	switch {
	case strings.HasSuffix(path, ".html"), strings.HasSuffix(path, ".htm"):
		return "text/html"
	case strings.HasSuffix(path, ".css"):
		return "text/css"
	case strings.HasSuffix(path, ".js"), strings.HasSuffix(path, ".mjs"):
		return "text/javascript"
	case strings.HasSuffix(path, ".importmap"):
		return "application/importmap+json"
	case strings.HasSuffix(path, ".webmanifest"):
		return "application/manifest+json"
	case strings.HasSuffix(path, ".map"):
		return "application/json"
	case strings.HasSuffix(path, ".json"):
		return "application/json"
	case strings.HasSuffix(path, ".svg"):
		return "image/svg+xml"
	case strings.HasSuffix(path, ".txt"):
		return "text/plain"
	case strings.HasSuffix(path, ".png"):
		return "image/png"
	case strings.HasSuffix(path, ".jpg"), strings.HasSuffix(path, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(path, ".webp"):
		return "image/webp"
	case strings.HasSuffix(path, ".ico"):
		return "image/x-icon"
	case strings.HasSuffix(path, ".woff2"):
		return "font/woff2"
	default:
		return "application/octet-stream"
	}
}
