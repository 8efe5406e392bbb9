// Package watch monitors the project directory and feeds file changes into
// the url graph. Events are debounced so an editor's write-then-rename dance
// invalidates a node once, and ignored paths (VCS metadata, dependency
// caches) never reach the graph.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/jsenv/core-sub005/internal/safeio"
	"github.com/jsenv/core-sub005/internal/urlgraph"
)

const defaultDebounce = 100 * time.Millisecond

var defaultIgnores = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/.dist/**",
	"**/*.swp",
	"**/*~",
	"**/.DS_Store",
}

// Config holds the parameters for a Watcher.
type Config struct {
	// RootDir is the project directory to watch recursively.
	RootDir string

	// Ignore adds doublestar glob patterns to the built-in ignore list.
	Ignore []string

	// Debounce is the quiet period after the last event before changes are
	// applied. Zero falls back to the default.
	Debounce time.Duration

	// Graph receives OnFileChange for every changed file URL.
	Graph *urlgraph.Graph

	// OnChange, when set, is called after the graph was invalidated with the
	// list of changed file URLs (the dev server broadcasts a reload from it).
	OnChange func(changedURLs []string)

	Logger *log.Logger
}

// Watcher wires fsnotify into the graph. Run must be called exactly once.
type Watcher struct {
	cfg      Config
	fsw      *fsnotify.Watcher
	ignores  []string
	rootDir  string
	debounce time.Duration
	logger   *log.Logger
}

// New creates a Watcher and registers every non-ignored directory under the
// root.
func New(cfg Config) (*Watcher, error) {
	rootDir, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve root: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	ignores := append(append([]string{}, defaultIgnores...), cfg.Ignore...)

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		ignores:  ignores,
		rootDir:  rootDir,
		debounce: debounce,
		logger:   logger,
	}
	if err := w.addDirectories(); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run blocks until ctx is cancelled, coalescing events and applying them to
// the graph after the debounce window closes.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var mu sync.Mutex
	pending := map[string]struct{}{}
	var timer *time.Timer

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			return
		}
		changed := make([]string, 0, len(pending))
		for p := range pending {
			changed = append(changed, p)
		}
		pending = map[string]struct{}{}
		mu.Unlock()

		var urls []string
		for _, p := range changed {
			fileURL := safeio.PathToFileURL(p)
			if w.cfg.Graph != nil && !w.cfg.Graph.OnFileChange(fileURL) {
				continue
			}
			urls = append(urls, fileURL)
		}
		if len(urls) > 0 && w.cfg.OnChange != nil {
			w.cfg.OnChange(urls)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("watch: event channel closed")
			}
			rel, err := filepath.Rel(w.rootDir, evt.Name)
			if err != nil {
				rel = evt.Name
			}
			if w.isIgnored(rel) {
				continue
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(evt.Name)
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) &&
				!evt.Has(fsnotify.Remove) && !evt.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			pending[evt.Name] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("watch: error channel closed")
			}
			w.logger.Printf("watch: %v", err)
		}
	}
}

func (w *Watcher) addDirectories() error {
	return filepath.WalkDir(w.rootDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Printf("watch: skipping %q: %v", path, walkErr)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.rootDir, path)
		if err != nil {
			return nil
		}
		if rel != "." && (w.isIgnored(rel) || w.isIgnored(rel+"/")) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add %q: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) maybeAddDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	rel, err := filepath.Rel(w.rootDir, path)
	if err != nil {
		return
	}
	if w.isIgnored(rel) || w.isIgnored(rel+"/") {
		return
	}
	if err := w.fsw.Add(path); err != nil {
		w.logger.Printf("watch: add %q: %v", path, err)
	}
}

func (w *Watcher) isIgnored(rel string) bool {
	normalized := filepath.ToSlash(rel)
	for _, pat := range w.ignores {
		if ok, err := doublestar.Match(pat, normalized); err == nil && ok {
			return true
		}
	}
	return false
}
