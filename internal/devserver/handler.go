package devserver

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/jsenv/core-sub005/internal/kitchen"
	"github.com/jsenv/core-sub005/internal/plugin"
	"github.com/jsenv/core-sub005/internal/urlgraph"
)

// EventsPath is the websocket endpoint browsers subscribe to for reload
// notifications.
const EventsPath = "/__events__"

// Handler maps requests onto graph nodes and cooks them on demand.
type Handler struct {
	kitchen *kitchen.Kitchen
	rootURL string
	hub     *EventHub
	logger  *log.Logger
}

// NewHandler builds the dev request handler.
func NewHandler(k *kitchen.Kitchen, hub *EventHub, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		kitchen: k,
		rootURL: strings.TrimSuffix(k.Graph().RootDirectoryURL, "/") + "/",
		hub:     hub,
		logger:  logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == EventsPath {
		h.hub.HandleWS(w, r)
		return
	}

	ctx := r.Context()

	// serve hooks may answer before graph resolution (virtual endpoints,
	// toolbars)
	req := &plugin.ServeRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: flattenHeaders(r.Header),
	}
	if resp, _, err := h.kitchen.Controller().Serve(ctx, req); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	} else if resp != nil {
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.Status)
		w.Write(resp.Body)
		return
	}

	urlPath := r.URL.Path
	if strings.HasSuffix(urlPath, "/") {
		urlPath += "index.html"
	}

	info, err := h.resolveRequest(ctx, urlPath, r.Header.Get("Referer"))
	if err != nil {
		h.writeError(w, r, nil, err)
		return
	}

	if err := h.kitchen.Cook(ctx, info); err != nil {
		h.writeError(w, r, info, err)
		return
	}

	h.writeContent(w, r, info)
}

// resolveRequest maps a request path back onto the graph: through the
// referer's references when the browser told us who asked, through
// previously-created entry references otherwise, creating a new entry point
// as a last resort.
func (h *Handler) resolveRequest(ctx context.Context, urlPath, referer string) (*urlgraph.URLInfo, error) {
	graph := h.kitchen.Graph()

	if referer != "" {
		if refererURL := h.requestURL(referer); refererURL != "" {
			if ref := graph.InferReference(urlPath, refererURL); ref != nil {
				if info, ok := graph.URLInfo(ref.Latest().URL()); ok {
					return info, nil
				}
			}
		}
	}
	if ref := graph.InferReference(urlPath, graph.RootDirectoryURL); ref != nil {
		if info, ok := graph.URLInfo(ref.Latest().URL()); ok {
			return info, nil
		}
	}

	_, info, err := graph.Root.Deps().Found(ctx, urlgraph.ReferenceProps{
		Type:         "http_request",
		Specifier:    urlPath,
		IsEntryPoint: true,
	})
	return info, err
}

// requestURL converts a Referer header into the project file URL it serves.
func (h *Handler) requestURL(referer string) string {
	u, err := url.Parse(referer)
	if err != nil {
		return ""
	}
	p := u.Path
	if strings.HasSuffix(p, "/") {
		p += "index.html"
	}
	return h.rootURL + strings.TrimPrefix(p, "/")
}

func (h *Handler) writeContent(w http.ResponseWriter, r *http.Request, info *urlgraph.URLInfo) {
	etag := `W/"` + info.OriginalContentEtag() + "_" + info.ContentEtag() + `"`
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=0, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(info.Content))
}

// writeError maps a cook failure onto an HTTP answer. A recoverable parse
// error still serves the content so the browser can display something while
// the error reaches the user through the event channel.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, info *urlgraph.URLInfo, err error) {
	cookErr, ok := kitchen.AsCookError(err)
	if !ok {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var parseErr *plugin.ParseError
	if errors.As(cookErr.Cause, &parseErr) && parseErr.ContentRecoverable && info != nil {
		w.Header().Set("X-Served-With-Error", string(cookErr.Code))
		h.hub.Broadcast(Event{Type: "error", Text: cookErr.Error()})
		h.writeContent(w, r, info)
		return
	}

	status := http.StatusInternalServerError
	switch cookErr.Reason {
	case "NOT_FOUND":
		status = http.StatusNotFound
	case "NOT_ALLOWED":
		status = http.StatusForbidden
	case "DIRECTORY_REFERENCE_NOT_ALLOWED":
		status = http.StatusForbidden
	}
	h.logger.Printf("%s %s -> %d: %v", r.Method, r.URL.Path, status, cookErr)
	h.hub.Broadcast(Event{Type: "error", Text: cookErr.Error()})
	http.Error(w, cookErr.Error(), status)
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for k, v := range header {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
