// Package safeio restricts filesystem access to a project root directory.
// Every read performed by the file plugin and the build output writer goes
// through a SafeFS so that a crafted specifier (../../etc/passwd, symlink
// escapes) cannot reach outside the root.
package safeio

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// SafeFS provides helpers that resolve paths relative to a fixed root.
type SafeFS struct {
	absRoot string // absolute root with symlinks resolved
}

// ErrOutsideRoot is returned when a path resolves outside the root directory.
var ErrOutsideRoot = errors.New("safeio: resolved outside root")

// NewSafeFS locks all future operations to the given root directory.
// The root path is resolved to an absolute, symlink-free directory.
func NewSafeFS(root string) (*SafeFS, error) {
	if root == "" {
		return nil, errors.New("safeio: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("safeio: root is not a directory")
	}
	return &SafeFS{absRoot: abs}, nil
}

// Root returns the absolute root directory bound to this SafeFS.
func (s *SafeFS) Root() string {
	if s == nil {
		return ""
	}
	return s.absRoot
}

// RootURL returns the root directory as a file URL with a trailing slash.
func (s *SafeFS) RootURL() string {
	if s == nil {
		return ""
	}
	return PathToFileURL(s.absRoot) + "/"
}

// ReadFile reads a file relative to the root.
func (s *SafeFS) ReadFile(userPath string) ([]byte, error) {
	p, err := s.resolve(userPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("safeio: %s is a directory", userPath)
	}
	return os.ReadFile(p)
}

// ReadFileURL reads the file designated by a file:// URL under the root.
func (s *SafeFS) ReadFileURL(fileURL string) ([]byte, error) {
	p, err := FileURLToPath(fileURL)
	if err != nil {
		return nil, err
	}
	return s.ReadFile(p)
}

// Stat returns metadata for a file or directory under the root.
func (s *SafeFS) Stat(userPath string) (fs.FileInfo, error) {
	p, err := s.resolve(userPath)
	if err != nil {
		return nil, err
	}
	return os.Stat(p)
}

// StatURL stats the path designated by a file:// URL under the root.
func (s *SafeFS) StatURL(fileURL string) (fs.FileInfo, error) {
	p, err := FileURLToPath(fileURL)
	if err != nil {
		return nil, err
	}
	return s.Stat(p)
}

// ReadDir lists entries for a directory relative to the root.
func (s *SafeFS) ReadDir(userPath string) ([]fs.DirEntry, error) {
	dir, err := s.resolve(userPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("safeio: %s is not a directory", userPath)
	}
	return os.ReadDir(dir)
}

// WriteFile writes a file relative to the root, creating parent directories.
// Used by the build output writer and the debug mirror.
func (s *SafeFS) WriteFile(userPath string, content []byte) error {
	if s == nil {
		return errors.New("safeio: filesystem not configured")
	}
	clean := filepath.Clean(userPath)
	var joined string
	if filepath.IsAbs(clean) {
		joined = clean
	} else {
		if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return errors.New("safeio: path traversal not allowed")
		}
		joined = filepath.Join(s.absRoot, clean)
	}
	if !hasPathPrefix(joined, s.absRoot) {
		return fmt.Errorf("%w (root=%s, path=%s)", ErrOutsideRoot, s.absRoot, joined)
	}
	if err := os.MkdirAll(filepath.Dir(joined), 0o755); err != nil {
		return err
	}
	return os.WriteFile(joined, content, 0o644)
}

func (s *SafeFS) resolve(userPath string) (string, error) {
	if s == nil {
		return "", errors.New("safeio: filesystem not configured")
	}
	if userPath == "" {
		return "", errors.New("safeio: empty path")
	}
	clean := filepath.Clean(userPath)
	if clean == "." {
		return s.absRoot, nil
	}

	isAbs := filepath.IsAbs(clean) || (runtime.GOOS == "windows" && filepath.VolumeName(clean) != "")
	if !isAbs {
		if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return "", errors.New("safeio: path traversal not allowed")
		}
	}

	var joined string
	if isAbs {
		joined = clean
	} else {
		joined = filepath.Join(s.absRoot, clean)
	}

	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", err
	}
	if !hasPathPrefix(resolved, s.absRoot) {
		return "", fmt.Errorf("%w (root=%s, path=%s)", ErrOutsideRoot, s.absRoot, resolved)
	}
	return resolved, nil
}

// PathToFileURL converts an absolute filesystem path to a file:// URL.
func PathToFileURL(p string) string {
	p = filepath.ToSlash(p)
	if !strings.HasPrefix(p, "/") {
		// windows drive paths
		p = "/" + p
	}
	u := url.URL{Scheme: "file", Path: p}
	return u.String()
}

// FileURLToPath converts a file:// URL back to a filesystem path.
func FileURLToPath(fileURL string) (string, error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return "", err
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("safeio: not a file url: %s", fileURL)
	}
	p := u.Path
	if runtime.GOOS == "windows" && len(p) > 2 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p), nil
}

func hasPathPrefix(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
		root = strings.ToLower(root)
	}
	if len(root) == 0 {
		return true
	}
	if path == root {
		return true
	}
	sep := string(os.PathSeparator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	if !strings.HasSuffix(path, sep) {
		path += sep
	}
	return strings.HasPrefix(path, root)
}
