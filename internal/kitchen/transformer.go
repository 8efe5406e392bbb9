package kitchen

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/jsenv/core-sub005/internal/plugin"
	"github.com/jsenv/core-sub005/internal/sourcemap"
	"github.com/jsenv/core-sub005/internal/urlgraph"
)

// setContent installs fetched content on a node. When sourcemaps are active
// and the content can carry one, an existing sourceMappingURL comment is
// detected and stripped; the referenced map is loaded later, inside the
// transform's collecting window, so its graph edge survives the reference
// diff.
func (k *Kitchen) setContent(info *urlgraph.URLInfo, result *plugin.FetchResult) {
	original := result.OriginalContent
	if original == "" {
		original = result.Content
	}
	content := result.Content

	if k.sourcemaps && info.Type.SupportsSourcemap() {
		if comment, ok := sourcemap.FindComment(content, info.Type.JSLike()); ok {
			content = sourcemap.StripComment(content, comment)
			if !strings.HasPrefix(comment.URL, "data:") {
				k.mu.Lock()
				k.pendingSourcemaps[info.URL] = comment.URL
				k.mu.Unlock()
			} else if m, err := parseDataURLSourcemap(comment.URL); err == nil {
				m.Normalize(info.URL)
				info.Sourcemap = m
			}
		}
		if result.Sourcemap != nil {
			result.Sourcemap.Normalize(info.URL)
			info.Sourcemap = result.Sourcemap
		}
	}

	info.SetOriginalContent(original)
	info.SetContent(content)
	info.Fetched = true
}

// adoptPendingSourcemap loads the external map referenced by the stripped
// comment. The sourcemap file becomes a graph node of its own so the watcher
// invalidates us when it changes.
func (k *Kitchen) adoptPendingSourcemap(ctx context.Context, info *urlgraph.URLInfo) error {
	k.mu.Lock()
	specifier, ok := k.pendingSourcemaps[info.URL]
	delete(k.pendingSourcemaps, info.URL)
	k.mu.Unlock()
	if !ok {
		return nil
	}

	ref, target, err := info.Deps().Found(ctx, urlgraph.ReferenceProps{
		Type:         "sourcemap_comment",
		Specifier:    specifier,
		ExpectedType: urlgraph.TypeSourcemap,
	})
	if err != nil {
		info.SourcemapIsWrong = true
		return err
	}
	info.SourcemapReference = ref
	if err := k.Cook(ctx, target); err != nil {
		info.SourcemapIsWrong = true
		return err
	}
	m, err := sourcemap.Parse([]byte(target.Content))
	if err != nil {
		info.SourcemapIsWrong = true
		return err
	}
	m.Normalize(target.URL)
	info.Sourcemap = m
	return nil
}

// applyTransformations folds one hook result into the node: metadata first,
// then content and the sourcemap composition. A result whose content did not
// actually change leaves the existing sourcemap chain untouched.
func (k *Kitchen) applyTransformations(info *urlgraph.URLInfo, result *plugin.TransformResult) error {
	if result.Type != "" {
		info.Type = result.Type
	}
	if result.ContentType != "" {
		info.ContentType = result.ContentType
	}
	for key, value := range result.Data {
		info.Data[key] = value
	}
	if len(result.ContentInjections) > 0 {
		k.mu.Lock()
		pending := k.injections[info.URL]
		if pending == nil {
			pending = map[string]plugin.Injection{}
			k.injections[info.URL] = pending
		}
		for token, injection := range result.ContentInjections {
			pending[token] = injection
		}
		k.mu.Unlock()
	}
	if result.SourcemapIsWrong {
		info.SourcemapIsWrong = true
	}

	if !result.ContentChanged || result.Content == info.Content {
		return nil
	}

	if k.sourcemaps && info.Type.SupportsSourcemap() && !info.SourcemapIsWrong {
		if result.Sourcemap != nil {
			result.Sourcemap.Normalize(info.URL)
			composed, err := sourcemap.Compose(info.Sourcemap, result.Sourcemap)
			if err != nil {
				// a wrong map is worse than none
				info.Sourcemap = nil
				info.SourcemapIsWrong = true
			} else {
				info.Sourcemap = composed
			}
		} else if info.Sourcemap != nil {
			// content moved underneath the map without a new map to compose:
			// the chain can no longer be trusted
			info.Sourcemap = nil
			info.SourcemapIsWrong = true
		}
	}
	info.SetContent(result.Content)
	return nil
}

// endTransformations seals the node's content: pending injections are
// applied, the composed sourcemap is materialized as its own node with a
// comment appended, and the debug mirror receives a copy.
func (k *Kitchen) endTransformations(ctx context.Context, info *urlgraph.URLInfo) error {
	k.mu.Lock()
	pending := k.injections[info.URL]
	delete(k.injections, info.URL)
	k.mu.Unlock()
	if len(pending) > 0 {
		content := info.Content
		for token, injection := range pending {
			if !strings.Contains(content, token) {
				if !injection.Optional {
					k.logger.Printf("injection token %q not found in %s", token, info.URL)
				}
				continue
			}
			content = strings.ReplaceAll(content, token, injection.Value)
		}
		info.SetContent(content)
	}

	if k.sourcemaps && info.Type.SupportsSourcemap() &&
		info.Sourcemap != nil && !info.SourcemapIsWrong {
		if err := k.materializeSourcemap(ctx, info); err != nil {
			k.logger.Printf("cannot emit sourcemap for %s: %v", info.URL, err)
		}
	}

	if k.outFS != nil {
		k.mirrorContent(info)
	}
	return nil
}

func (k *Kitchen) materializeSourcemap(ctx context.Context, info *urlgraph.URLInfo) error {
	mapURL := sourcemapURLFor(info.URL)
	filename := path.Base(mapURL)
	info.Sourcemap.File = path.Base(info.URL)

	serialized, err := info.Sourcemap.Serialize()
	if err != nil {
		return err
	}

	ref, target, err := info.Deps().Found(ctx, urlgraph.ReferenceProps{
		Type:         "sourcemap_comment",
		Specifier:    mapURL,
		ExpectedType: urlgraph.TypeSourcemap,
		Filename:     filename,
	})
	if err != nil {
		return err
	}
	info.SourcemapReference = ref
	target.Type = urlgraph.TypeSourcemap
	target.ContentType = "application/json"
	target.SetOriginalContent(string(serialized))
	target.SetContent(string(serialized))
	target.Fetched = true
	target.ContentFinalized = true

	info.SetContent(sourcemap.AppendComment(info.Content, filename, info.Type.JSLike()))
	return nil
}

// sourcemapURLFor derives the map URL next to the generated file, dropping
// any query so the .map suffix lands on the path.
func sourcemapURLFor(rawURL string) string {
	base := rawURL
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	return base + ".map"
}

// mirrorContent writes the finalized content under the debug output root,
// best effort.
func (k *Kitchen) mirrorContent(info *urlgraph.URLInfo) {
	rel := strings.TrimPrefix(info.URL, k.rootURL)
	rel = sanitizeFilePath(rel)
	if rel == "" {
		return
	}
	if err := k.outFS.WriteFile(rel, []byte(info.Content)); err != nil {
		k.logger.Printf("cannot mirror %s: %v", info.URL, err)
	}
}

// sanitizeFilePath turns a URL tail into a path writable on every supported
// filesystem: query and fragment become part of the name, characters invalid
// on Windows are escaped, and reserved device names are prefixed.
func sanitizeFilePath(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return ""
	}
	segments := strings.Split(rel, "/")
	for i, seg := range segments {
		seg = url.PathEscape(seg)
		seg = strings.NewReplacer(
			"%2F", "_", "<", "_", ">", "_", ":", "_",
			"\"", "_", "|", "_", "?", "_", "*", "_",
		).Replace(seg)
		if isWindowsReservedName(seg) {
			seg = "_" + seg
		}
		segments[i] = seg
	}
	return strings.Join(segments, "/")
}

func isWindowsReservedName(name string) bool {
	base := name
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	base = strings.ToLower(base)
	switch base {
	case "con", "prn", "aux", "nul":
		return true
	}
	if len(base) == 4 && (strings.HasPrefix(base, "com") || strings.HasPrefix(base, "lpt")) {
		return base[3] >= '1' && base[3] <= '9'
	}
	return false
}

func parseDataURLSourcemap(dataURL string) (*sourcemap.SourceMap, error) {
	payload, err := decodeDataURL(dataURL)
	if err != nil {
		return nil, err
	}
	return sourcemap.Parse(payload)
}

func decodeDataURL(raw string) ([]byte, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data url: %s", raw)
	}
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, fmt.Errorf("malformed data url: %s", raw)
	}
	meta, payload := rest[:comma], rest[comma+1:]
	if strings.HasSuffix(meta, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return base64.RawStdEncoding.DecodeString(payload)
		}
		return decoded, nil
	}
	decoded, err := url.QueryUnescape(payload)
	if err != nil {
		return nil, err
	}
	return []byte(decoded), nil
}
