// Package fileplugin is the filesystem loader: it resolves specifiers
// against the project root, reads file content through a root-locked
// filesystem, and answers data: URLs. It is the last plugin of every kitchen
// so more specific resolvers and loaders run first.
package fileplugin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/jsenv/core-sub005/internal/kitchen"
	"github.com/jsenv/core-sub005/internal/plugin"
	"github.com/jsenv/core-sub005/internal/safeio"
	"github.com/jsenv/core-sub005/internal/urlgraph"
)

// Options tunes the loader.
type Options struct {
	// DirectoryReferenceAllowed makes a reference resolving to a directory
	// produce a JSON listing instead of an error.
	DirectoryReferenceAllowed bool
}

// New builds the filesystem plugin bound to fsys.
func New(fsys *safeio.SafeFS, opts Options) *plugin.Plugin {
	p := &filePlugin{fsys: fsys, opts: opts, rootURL: fsys.RootURL()}
	return &plugin.Plugin{
		Name:             "fs",
		ResolveReference: p.resolve,
		FormatReference:  p.format,
		FetchURLContent:  plugin.FetchFunc(p.fetch),
	}
}

type filePlugin struct {
	fsys    *safeio.SafeFS
	opts    Options
	rootURL string
}

func (p *filePlugin) resolve(ctx context.Context, ref *urlgraph.Reference) (string, error) {
	specifier := ref.Specifier
	switch {
	case specifier == "":
		return "", nil
	case strings.Contains(specifier, "://"),
		strings.HasPrefix(specifier, "data:"),
		strings.HasPrefix(specifier, "virtual:"),
		strings.HasPrefix(specifier, "ignore:"):
		return specifier, nil
	case strings.HasPrefix(specifier, "/"):
		return p.rootURL + strings.TrimPrefix(specifier, "/"), nil
	}
	base := p.rootURL
	if ref.Owner != nil && ref.Owner.URL != "" {
		base = ref.Owner.URL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	rel, err := url.Parse(specifier)
	if err != nil {
		return "", fmt.Errorf("invalid specifier %q: %w", specifier, err)
	}
	return baseURL.ResolveReference(rel).String(), nil
}

// format rewrites project-file URLs into root-relative specifiers during
// dev, so served content never exposes the machine's filesystem layout. A
// build keeps the absolute URLs: the writer replaces them with the final
// build specifiers once versioning is done.
func (p *filePlugin) format(ctx context.Context, ref *urlgraph.Reference) (string, error) {
	k, ok := kitchen.FromContext(ctx)
	if !ok || k.Scenario() != plugin.ScenarioDev {
		return "", nil
	}
	u := ref.URL()
	if u == p.rootURL || !strings.HasPrefix(u, p.rootURL) {
		return "", nil
	}
	return "/" + strings.TrimPrefix(u, p.rootURL), nil
}

func (p *filePlugin) fetch(ctx context.Context, info *urlgraph.URLInfo, ref *urlgraph.Reference) (*plugin.FetchResult, error) {
	if strings.HasPrefix(info.URL, "data:") {
		return p.fetchDataURL(info.URL)
	}
	if !strings.HasPrefix(info.URL, "file://") {
		return nil, nil
	}

	stat, err := p.fsys.StatURL(info.URL)
	if err != nil {
		return nil, err
	}
	if stat.IsDir() {
		if !p.opts.DirectoryReferenceAllowed {
			wantsDir := ref != nil && ref.ExpectedType == urlgraph.TypeDirectory
			if !wantsDir {
				return nil, fmt.Errorf("%w: %s", plugin.ErrDirectoryReferenceNotAllowed, info.URL)
			}
		}
		return p.fetchDirectory(info.URL)
	}

	content, err := p.fsys.ReadFileURL(info.URL)
	if err != nil {
		return nil, err
	}
	return &plugin.FetchResult{
		Content:     string(content),
		ContentType: urlgraph.ContentTypeFromURL(info.URL),
	}, nil
}

// fetchDirectory serves the directory as a JSON listing of entry names,
// directories suffixed with a slash.
func (p *filePlugin) fetchDirectory(dirURL string) (*plugin.FetchResult, error) {
	entries, err := p.fsys.ReadDir(mustPath(dirURL))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	listing, err := json.Marshal(names)
	if err != nil {
		return nil, err
	}
	return &plugin.FetchResult{
		Content:     string(listing),
		ContentType: "application/json",
		Type:        urlgraph.TypeDirectory,
	}, nil
}

func (p *filePlugin) fetchDataURL(dataURL string) (*plugin.FetchResult, error) {
	rest := strings.TrimPrefix(dataURL, "data:")
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, fmt.Errorf("malformed data url")
	}
	meta, payload := rest[:comma], rest[comma+1:]
	contentType := "text/plain"
	if meta != "" {
		contentType = strings.TrimSuffix(meta, ";base64")
		if contentType == "" {
			contentType = "text/plain"
		}
	}
	var content []byte
	if strings.HasSuffix(meta, ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("malformed data url payload: %w", err)
		}
		content = decoded
	} else {
		decoded, err := url.QueryUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("malformed data url payload: %w", err)
		}
		content = []byte(decoded)
	}
	return &plugin.FetchResult{
		Content:     string(content),
		ContentType: contentType,
	}, nil
}

func mustPath(fileURL string) string {
	p, err := safeio.FileURLToPath(fileURL)
	if err != nil {
		return fileURL
	}
	return p
}
